package utils

import (
	"testing"

	"github.com/pemistahl/lingua-go"
)

func TestDetectWith(t *testing.T) {
	detector := NewLanguageDetector(lingua.English, lingua.German, lingua.French)
	tests := []struct {
		text string
		want string
	}{
		{"The weather is lovely today and we are going for a walk in the park.", "English"},
		{"Das Wetter ist heute schön und wir gehen im Park spazieren.", "German"},
		{"Il fait beau aujourd'hui et nous allons nous promener dans le parc.", "French"},
	}
	for _, tt := range tests {
		if got := detectWith(detector, tt.text); got != tt.want {
			t.Errorf("detectWith(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestDetectWithUndetermined(t *testing.T) {
	detector := NewLanguageDetector(lingua.English, lingua.German)
	if got := detectWith(detector, "1234 5678"); got != "" {
		t.Errorf("expected no language for digits, got %q", got)
	}
}
