package main

import (
	"strings"
	"testing"
)

func TestMicFFmpegArgs(t *testing.T) {
	tests := []struct {
		goos   string
		device string
		want   []string
	}{
		{"darwin", "1", []string{"-f", "avfoundation", "-i", "none:1"}},
		{"linux", "default", []string{"-f", "pulse", "-i", "default"}},
	}
	for _, tt := range tests {
		got := strings.Join(micFFmpegArgs(tt.goos, tt.device), " ")
		if !strings.Contains(got, strings.Join(tt.want, " ")) {
			t.Errorf("micFFmpegArgs(%q, %q) = %q, missing %q", tt.goos, tt.device, got, strings.Join(tt.want, " "))
		}
		for _, fixed := range []string{"-ac 1", "-ar 16000", "-f s16le"} {
			if !strings.Contains(got, fixed) {
				t.Errorf("micFFmpegArgs(%q, %q) missing %q", tt.goos, tt.device, fixed)
			}
		}
	}
}

func TestLeadPatchFromFields(t *testing.T) {
	patch, ok := leadPatchFromFields(map[string]any{
		"phone":        " 555-0100 ",
		"interestedIn": "premium plan",
		"sentiment":    "",
		"status":       42,
		"unknownKey":   "ignored",
	})
	if !ok {
		t.Fatal("expected a non-empty patch")
	}
	if patch.Phone == nil || *patch.Phone != "555-0100" {
		t.Errorf("phone = %v, want 555-0100", patch.Phone)
	}
	if patch.InterestedIn == nil || *patch.InterestedIn != "premium plan" {
		t.Errorf("interestedIn = %v, want premium plan", patch.InterestedIn)
	}
	if patch.Sentiment != nil {
		t.Error("empty sentiment should be dropped")
	}
	if patch.Status != nil {
		t.Error("non-string status should be dropped")
	}
}

func TestLeadPatchFromFieldsEmpty(t *testing.T) {
	if _, ok := leadPatchFromFields(map[string]any{"bogus": true}); ok {
		t.Error("expected no patch for unknown fields")
	}
}

func TestPatchSummary(t *testing.T) {
	got := patchSummary(map[string]any{"phone": "555", "status": "interested", "bogus": "x"})
	if !strings.Contains(got, "phone=555") || !strings.Contains(got, "status=interested") {
		t.Errorf("patchSummary = %q", got)
	}
	if strings.Contains(got, "bogus") {
		t.Errorf("patchSummary leaked unknown field: %q", got)
	}
}
