// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

// Package webhook renders the canvas to PNG and pushes it to the configured
// Discord-compatible webhook. The previously posted message is edited in
// place when possible; when the edit fails (message deleted, cache lost) a
// fresh message is posted and its id remembered.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tessera-app/tessera/internal/config"
	"github.com/tessera-app/tessera/internal/logging"
)

// MessageStore remembers the id of the last posted webhook message.
// *cache.Client implements it.
type MessageStore interface {
	LastWebhookMessage(ctx context.Context) (string, error)
	SetLastWebhookMessage(ctx context.Context, id string) error
}

// Client pushes canvas snapshots to the webhook.
type Client struct {
	url   string
	scale int
	store MessageStore
	http  *http.Client
}

// New returns a webhook client.
func New(cfg *config.WebhookConfig, store MessageStore) *Client {
	return &Client{
		url:   cfg.URL,
		scale: cfg.Scale,
		store: store,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

type embedImage struct {
	URL string `json:"url"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type embed struct {
	Title     string      `json:"title"`
	Image     embedImage  `json:"image"`
	Footer    embedFooter `json:"footer"`
	Timestamp string      `json:"timestamp"`
}

type payload struct {
	Content     string        `json:"content"`
	Embeds      []embed       `json:"embeds"`
	// Attachments is a pointer so an explicit empty list survives
	// omitempty; edits need it to drop the previous image.
	Attachments *[]interface{} `json:"attachments,omitempty"`
	Username    string        `json:"username,omitempty"`
}

// Push renders the flat RGB buffer and posts it. The image is upscaled with
// nearest-neighbour so individual pixels stay sharp in the embed.
func (c *Client) Push(ctx context.Context, pixels []byte, width, height int) error {
	if len(pixels) != width*height*3 {
		return fmt.Errorf("buffer length %d does not match %dx%d canvas", len(pixels), width, height)
	}

	img := c.render(pixels, width, height)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode canvas png: %w", err)
	}

	now := time.Now()
	filename := fmt.Sprintf("pixels_%d.png", now.Unix())
	body := payload{
		Embeds: []embed{{
			Title:     "Pixels State",
			Image:     embedImage{URL: "attachment://" + filename},
			Footer:    embedFooter{Text: "Last updated"},
			Timestamp: now.Format(time.RFC3339),
		}},
	}

	lastID, err := c.store.LastWebhookMessage(ctx)
	if err != nil {
		return err
	}

	if lastID != "" {
		// Editing requires an explicit empty attachments list, otherwise
		// the old image stays attached alongside the new one.
		body.Attachments = &[]interface{}{}
		status, _, err := c.send(ctx, http.MethodPatch,
			fmt.Sprintf("%s/messages/%s", c.url, lastID), body, filename, buf.Bytes())
		if err != nil {
			return err
		}
		if status == http.StatusOK {
			return nil
		}
		logging.Warn().Int("status", status).Str("message_id", lastID).
			Msg("Webhook edit rejected, posting a new message")
		body.Attachments = nil
	}

	body.Username = "Pixels"
	status, respBody, err := c.send(ctx, http.MethodPost, c.url+"?wait=true", body, filename, buf.Bytes())
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook post returned %d", status)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return fmt.Errorf("failed to decode webhook response: %w", err)
	}
	return c.store.SetLastWebhookMessage(ctx, created.ID)
}

// render converts the flat buffer to an upscaled RGBA image.
func (c *Client) render(pixels []byte, width, height int) *image.RGBA {
	scale := c.scale
	if scale < 1 {
		scale = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, width*scale, height*scale))
	for y := 0; y < height*scale; y++ {
		for x := 0; x < width*scale; x++ {
			src := ((y/scale)*width + x/scale) * 3
			dst := img.PixOffset(x, y)
			img.Pix[dst] = pixels[src]
			img.Pix[dst+1] = pixels[src+1]
			img.Pix[dst+2] = pixels[src+2]
			img.Pix[dst+3] = 0xFF
		}
	}
	return img
}

// send posts the multipart form: a payload_json field plus the PNG file.
func (c *Client) send(ctx context.Context, method, url string, body payload, filename string, file []byte) (int, []byte, error) {
	payloadJSON, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	if err := writer.WriteField("payload_json", string(payloadJSON)); err != nil {
		return 0, nil, fmt.Errorf("failed to write payload field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(file); err != nil {
		return 0, nil, fmt.Errorf("failed to write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, nil, fmt.Errorf("failed to finish multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &form)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read webhook response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
