// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package models

import (
	"encoding/hex"
	"fmt"
	"regexp"
)

// rgbPattern matches a 6 character hexadecimal color, either case.
var rgbPattern = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

// RGB is a single 24-bit color in canvas byte order (R, G, B).
type RGB [3]byte

// ParseRGB parses a 6 character hexadecimal color string.
// Both cases are accepted; the canonical form emitted by Hex is lowercase.
func ParseRGB(s string) (RGB, error) {
	if !rgbPattern.MatchString(s) {
		return RGB{}, fmt.Errorf(
			"%q is not a valid color, use the hexadecimal format RRGGBB, for example FF00FF for purple", s)
	}

	var c RGB
	// Length is checked by the pattern, DecodeString cannot fail here.
	b, _ := hex.DecodeString(s)
	copy(c[:], b)
	return c, nil
}

// Hex returns the canonical lowercase hexadecimal form of the color.
func (c RGB) Hex() string {
	return hex.EncodeToString(c[:])
}

// White is the canvas background color.
var White = RGB{0xFF, 0xFF, 0xFF}
