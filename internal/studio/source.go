package studio

import (
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	"github.com/manash/jewelshoot/pkg/models"
)

// MaxSourceBytes is the largest accepted source photo.
const MaxSourceBytes = 5 << 20

var (
	ErrNoSourceImage     = errors.New("no source image")
	ErrSourceTooLarge    = errors.New("source image exceeds 5 MB")
	ErrUnsupportedSource = errors.New("source must be a PNG, JPEG or WebP image")
)

var acceptedSourceTypes = []string{"image/png", "image/jpeg", "image/webp"}

// ValidateSource checks size and sniffed content type and returns the image
// with its detected MIME type.
func ValidateSource(data []byte) (models.Image, error) {
	if len(data) == 0 {
		return models.Image{}, ErrNoSourceImage
	}
	if len(data) > MaxSourceBytes {
		return models.Image{}, fmt.Errorf("%w: %d bytes", ErrSourceTooLarge, len(data))
	}

	mt := mimetype.Detect(data)
	for _, accepted := range acceptedSourceTypes {
		if mt.Is(accepted) {
			return models.NewImage(data, accepted), nil
		}
	}
	return models.Image{}, fmt.Errorf("%w: got %s", ErrUnsupportedSource, mt.String())
}
