package studio

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"testing"
)

func TestValidateSource(t *testing.T) {
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, image.NewRGBA(image.Rect(0, 0, 2, 2)), nil); err != nil {
		t.Fatal(err)
	}
	png := makePNG(t, 2, 2)
	huge := append(append([]byte{}, png...), make([]byte, MaxSourceBytes)...)

	tests := []struct {
		name     string
		data     []byte
		wantMIME string
		wantErr  error
	}{
		{"png", png, "image/png", nil},
		{"jpeg", jpg.Bytes(), "image/jpeg", nil},
		{"empty", nil, "", ErrNoSourceImage},
		{"too large", huge, "", ErrSourceTooLarge},
		{"text", []byte("hello world"), "", ErrUnsupportedSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := ValidateSource(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateSource() error = %v, want %v", err, tt.wantErr)
			}
			if img.MIMEType != tt.wantMIME {
				t.Errorf("ValidateSource().MIMEType = %q, want %q", img.MIMEType, tt.wantMIME)
			}
		})
	}
}
