package security

import (
	"strings"
	"testing"
)

func TestProfileSanitizer_Text(t *testing.T) {
	s := NewProfileSanitizer()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "Alice Example", "Alice Example"},
		{"empty", "", ""},
		{"strips tags", "<b>Alice</b>", "Alice"},
		{"drops script with content", "Alice<script>alert(1)</script>", "Alice"},
		{"drops event handlers", `<img src=x onerror="alert(1)">Bob`, "Bob"},
		{"keeps ampersand as text", "Tom & Jerry", "Tom & Jerry"},
		{"trims whitespace", "  Carol  ", "Carol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Text(tt.in); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestProfileSanitizer_Text_Truncates(t *testing.T) {
	s := NewProfileSanitizer()

	got := s.Text(strings.Repeat("あ", maxProfileTextLength+50))
	if n := len([]rune(got)); n != maxProfileTextLength {
		t.Errorf("rune length = %d, want %d", n, maxProfileTextLength)
	}
}

func TestProfileSanitizer_URL(t *testing.T) {
	s := NewProfileSanitizer()

	tests := []struct {
		in   string
		want string
	}{
		{"https://github.com/alice", "https://github.com/alice"},
		{"http://alice.example.com", "http://alice.example.com"},
		{"  https://twitter.com/alice  ", "https://twitter.com/alice"},
		{"javascript:alert(1)", ""},
		{"data:text/html,<script>alert(1)</script>", ""},
		{"alice.example.com", ""},
		{"/relative/path", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := s.URL(tt.in); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
