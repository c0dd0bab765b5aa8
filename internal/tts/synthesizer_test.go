/*
Copyright (C) 2026 Dusan Mitrovic

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package tts

import (
	"strings"
	"testing"
)

func TestParseVoiceList(t *testing.T) {
	out := `Name                               Gender    ContentCategories      VoicePersonalities
---------------------------------  --------  ---------------------  ---------------------
af-ZA-AdriNeural                   Female    General                Friendly, Positive
en-IN-PrabhatNeural                Male      General                Friendly, Positive
en-US-JennyNeural                  Female    General                Friendly, Considerate
`
	voices := parseVoiceList(strings.NewReader(out))
	if len(voices) != 3 {
		t.Fatalf("parsed %d voices, want 3", len(voices))
	}

	want := VoiceInfo{ShortName: "en-IN-PrabhatNeural", Locale: "en-IN", Gender: "Male"}
	if voices[1] != want {
		t.Errorf("voice[1] = %+v, want %+v", voices[1], want)
	}
}

func TestAlias(t *testing.T) {
	tests := []struct {
		short string
		want  string
	}{
		{"en-IN-PrabhatNeural", "prabhat"},
		{"en-US-JennyNeural", "jenny"},
		{"af-ZA-AdriNeural", "adri"},
	}
	for _, tc := range tests {
		if got := Alias(tc.short); got != tc.want {
			t.Errorf("Alias(%q) = %q, want %q", tc.short, got, tc.want)
		}
	}
}
