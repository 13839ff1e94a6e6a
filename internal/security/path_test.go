package security

import (
	"errors"
	"testing"
)

func TestValidateSavePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr error
	}{
		{"Gold ring (Studio Minimal).png", nil},
		{"shots/gold-ring.webp", nil},
		{"../gold-ring.png", ErrPathTraversal},
		{"shots/../../../etc/passwd", ErrPathTraversal},
		{"/etc/passwd", ErrAbsolutePath},
		{"CON.png", ErrReservedName},
		{"shots/lpt1.webp", ErrReservedName},
		{"nul", ErrReservedName},
		{"-rf.png", ErrLeadingHyphen},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if err := ValidateSavePath(tt.path); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSavePath(%q) error = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Gold ring (Dark Luxury).png", "Gold ring (Dark Luxury).png"},
		{"rings/gold.png", "rings-gold.png"},
		{`rings\gold.png`, "rings-gold.png"},
		{"..hidden.png", "hidden.png"},
		{"--keep.png", "keep.png"},
		{"ring.png...", "ring.png"},
		{`ring<1>:best*?"shot".png`, "ring1-bestshot.png"},
		{"Aux.webp", "Aux.webp_"},
		{"...", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := SanitizeFilename(tt.input); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Gold Ring", "gold-ring"},
		{"  Pearl   Necklace  ", "pearl-necklace"},
		{"ring/../../etc", "ringetc"},
		{"Küpe Seti", "küpe-seti"},
		{"a_b-c", "a_b-c"},
		{"???", "image"},
		{"", "image"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Slug(tt.input); got != tt.want {
				t.Errorf("Slug(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
