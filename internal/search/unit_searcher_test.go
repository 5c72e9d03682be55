package search

import (
	"testing"
)

func TestSanitizeDocID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain ascii", "secondary-S001", "secondary-S001"},
		{"leading zeros preserved", "primary-000123", "primary-000123"},
		{"spaces replaced", "secondary-S 01", "secondary-S_01"},
		{"cjk replaced", "secondary-单位1", "secondary-__1"},
		{"punctuation replaced", "primary-P/7:2", "primary-P_7_2"},
		{"underscore and hyphen kept", "a_b-c", "a_b-c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeDocID(tt.in); got != tt.want {
				t.Errorf("SanitizeDocID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilterSource(t *testing.T) {
	if got := FilterSource("secondary"); got != `source = "secondary"` {
		t.Errorf("FilterSource = %q", got)
	}
	if got := FilterSource(""); got != "" {
		t.Errorf("FilterSource empty = %q, want empty", got)
	}
}
