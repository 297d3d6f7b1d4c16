// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package webhook

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-app/tessera/internal/config"
)

type fakeMessageStore struct {
	id string
}

func (s *fakeMessageStore) LastWebhookMessage(ctx context.Context) (string, error) {
	return s.id, nil
}

func (s *fakeMessageStore) SetLastWebhookMessage(ctx context.Context, id string) error {
	s.id = id
	return nil
}

// capturedRequest records one webhook delivery for assertions.
type capturedRequest struct {
	method  string
	path    string
	query   string
	payload payload
	png     []byte
}

func parseDelivery(t *testing.T, r *http.Request) capturedRequest {
	t.Helper()
	require.NoError(t, r.ParseMultipartForm(4<<20))

	var body payload
	require.NoError(t, json.Unmarshal([]byte(r.FormValue("payload_json")), &body))

	file, _, err := r.FormFile("file")
	require.NoError(t, err)
	defer file.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(file)
	require.NoError(t, err)

	return capturedRequest{
		method:  r.Method,
		path:    r.URL.Path,
		query:   r.URL.RawQuery,
		payload: body,
		png:     buf.Bytes(),
	}
}

func testClient(url string, store MessageStore) *Client {
	return New(&config.WebhookConfig{URL: url, Scale: 2}, store)
}

func testBuffer(width, height int) []byte {
	buf := make([]byte, width*height*3)
	for i := range buf {
		buf[i] = 0xFF
	}
	return buf
}

func TestPushPostsFirstMessage(t *testing.T) {
	var got capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = parseDelivery(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "111222333"}`))
	}))
	defer server.Close()

	store := &fakeMessageStore{}
	client := testClient(server.URL, store)

	require.NoError(t, client.Push(context.Background(), testBuffer(4, 2), 4, 2))

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "wait=true", got.query)
	assert.Equal(t, "Pixels", got.payload.Username)
	require.Len(t, got.payload.Embeds, 1)
	assert.Equal(t, "Pixels State", got.payload.Embeds[0].Title)
	assert.Contains(t, got.payload.Embeds[0].Image.URL, "attachment://pixels_")
	assert.Equal(t, "Last updated", got.payload.Embeds[0].Footer.Text)
	assert.NotEmpty(t, got.payload.Embeds[0].Timestamp)

	assert.Equal(t, "111222333", store.id, "posted message id must be remembered")

	img, err := png.Decode(bytes.NewReader(got.png))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx(), "4 wide at scale 2")
	assert.Equal(t, 4, img.Bounds().Dy())
}

func TestPushEditsKnownMessage(t *testing.T) {
	var got capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = parseDelivery(t, r)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store := &fakeMessageStore{id: "999"}
	client := testClient(server.URL, store)

	require.NoError(t, client.Push(context.Background(), testBuffer(4, 2), 4, 2))

	assert.Equal(t, http.MethodPatch, got.method)
	assert.Equal(t, "/messages/999", got.path)
	require.NotNil(t, got.payload.Attachments, "edits must clear the old attachment")
	assert.Empty(t, got.payload.Attachments)
	assert.Empty(t, got.payload.Username, "edits cannot carry a username")
	assert.Equal(t, "999", store.id)
}

func TestPushFallsBackToPostWhenEditRejected(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodPatch {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "444555"}`))
	}))
	defer server.Close()

	store := &fakeMessageStore{id: "deleted-message"}
	client := testClient(server.URL, store)

	require.NoError(t, client.Push(context.Background(), testBuffer(4, 2), 4, 2))

	assert.Equal(t, []string{http.MethodPatch, http.MethodPost}, methods)
	assert.Equal(t, "444555", store.id, "the fallback post replaces the stale id")
}

func TestPushRejectsMismatchedBuffer(t *testing.T) {
	client := testClient("http://webhook.invalid", &fakeMessageStore{})
	err := client.Push(context.Background(), make([]byte, 5), 4, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestPushPostFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := testClient(server.URL, &fakeMessageStore{})
	err := client.Push(context.Background(), testBuffer(4, 2), 4, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRenderNearestNeighbour(t *testing.T) {
	client := testClient("http://webhook.invalid", &fakeMessageStore{})

	// 2x1 canvas: red then blue.
	pixels := []byte{0xFF, 0x00, 0x00, 0x00, 0x00, 0xFF}
	img := client.render(pixels, 2, 1)

	require.Equal(t, 4, img.Bounds().Dx())
	require.Equal(t, 2, img.Bounds().Dy())

	// Every pixel of the top-left 2x2 block is the red source pixel.
	for _, pos := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		r, g, b, a := img.At(pos[0], pos[1]).RGBA()
		assert.Equal(t, uint32(0xFFFF), r)
		assert.Equal(t, uint32(0), g)
		assert.Equal(t, uint32(0), b)
		assert.Equal(t, uint32(0xFFFF), a)
	}

	_, _, b, _ := img.At(2, 0).RGBA()
	assert.Equal(t, uint32(0xFFFF), b)
}
