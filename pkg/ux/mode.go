// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode selects how results are written.
type Mode string

const (
	// ModeRich renders colored boxes and tables for a terminal.
	ModeRich Mode = "rich"

	// ModePlain renders the same layout without color.
	ModePlain Mode = "plain"

	// ModeJSON writes machine-readable JSON only.
	ModeJSON Mode = "json"
)

// ParseMode converts a flag or environment value into a Mode. The empty
// string selects automatic detection and returns "".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", nil
	case "rich", "full":
		return ModeRich, nil
	case "plain", "text":
		return ModePlain, nil
	case "json", "machine":
		return ModeJSON, nil
	}
	return "", fmt.Errorf("unknown output mode %q", s)
}

// DetectMode picks a mode for f. ENACT_OUTPUT overrides detection; a
// terminal gets ModeRich and anything else ModeJSON.
func DetectMode(f *os.File) Mode {
	if m, err := ParseMode(os.Getenv("ENACT_OUTPUT")); err == nil && m != "" {
		return m
	}
	if IsTerminal(f) {
		return ModeRich
	}
	return ModeJSON
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
