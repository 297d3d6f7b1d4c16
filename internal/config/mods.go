// Tessera - Collaborative Pixel Canvas Service
// Copyright 2026 Tessera Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tessera-app/tessera

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadMods reads the moderator allow-list file: whitespace separated
// snowflake ids. A missing file yields an empty set rather than an error so
// development setups work without one.
func LoadMods(path string) (map[int64]bool, error) {
	mods := make(map[int64]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return mods, nil
		}
		return nil, fmt.Errorf("failed to read mods file %s: %w", path, err)
	}

	for _, field := range strings.Fields(string(data)) {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid moderator id %q in %s: %w", field, path, err)
		}
		mods[id] = true
	}

	return mods, nil
}
