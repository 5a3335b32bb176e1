// Copyright (C) 2025 Chatgate Labs (eng@chatgate.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

// Mode selects the memory strategy for a session.
type Mode string

const (
	// ModeClassic sends only the client-held message history. No server
	// memory state is created.
	ModeClassic Mode = "classic"

	// ModeTiered supplements the raw window with summarized facts and turn
	// summaries so a small context window can reference earlier turns.
	ModeTiered Mode = "tiered"
)

// ModeInfo is the client-facing description of a memory mode.
type ModeInfo struct {
	ID          Mode   `json:"id"`
	DisplayName string `json:"display_name"`
}

var modeCatalog = []struct {
	info           ModeInfo
	requiresTiered bool
}{
	{info: ModeInfo{ID: ModeClassic, DisplayName: "Speak Small"}},
	{info: ModeInfo{ID: ModeTiered, DisplayName: "Speak Long"}, requiresTiered: true},
}

// DefaultMode is the mode used when the client expresses no preference.
func DefaultMode() Mode { return ModeClassic }

// ParseMode validates a raw mode string.
func ParseMode(raw string) (Mode, bool) {
	switch Mode(raw) {
	case ModeClassic, ModeTiered:
		return Mode(raw), true
	}
	return "", false
}

// ModesForClient lists the modes the client may pick; tiered is hidden
// unless enabled in configuration.
func ModesForClient(tieredEnabled bool) []ModeInfo {
	modes := make([]ModeInfo, 0, len(modeCatalog))
	for _, entry := range modeCatalog {
		if entry.requiresTiered && !tieredEnabled {
			continue
		}
		modes = append(modes, entry.info)
	}
	return modes
}

// ModeAvailable reports whether a mode may be selected given the tiered
// feature flag.
func ModeAvailable(mode Mode, tieredEnabled bool) bool {
	for _, entry := range modeCatalog {
		if entry.info.ID == mode {
			return tieredEnabled || !entry.requiresTiered
		}
	}
	return false
}
