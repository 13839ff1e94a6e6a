package gallery

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	_ "golang.org/x/image/webp"

	"github.com/manash/jewelshoot/pkg/models"
)

const DefaultWebPQuality float32 = 90

// EncodeWebP re-encodes img as lossy WebP.
func EncodeWebP(img models.Image, quality float32) (models.Image, error) {
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return models.Image{}, fmt.Errorf("failed to decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return models.Image{}, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, src, options); err != nil {
		return models.Image{}, fmt.Errorf("failed to encode WebP: %w", err)
	}
	return models.NewImage(buf.Bytes(), models.FormatWebP.MIMEType()), nil
}
