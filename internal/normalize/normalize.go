// Package normalize reshapes generated images to the selected sizing.
//
// Every operation is best effort: when an image cannot be decoded, the target
// is invalid, or encoding fails, the input is returned unchanged. An unchanged
// result shares the input's Data slice, so callers can detect a no-op by
// identity.
package normalize

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/manash/jewelshoot/pkg/models"
)

const (
	// ResampleThreshold is the pixel difference below which an image is
	// treated as already at target size.
	ResampleThreshold = 10
	// CropTolerance is the per-axis slack for the center-crop skip check.
	CropTolerance = 2
	// DefaultMaxPixels bounds the output surface. Larger outputs are skipped
	// and the input is kept; 8K reels (8192 x 14564) fit.
	DefaultMaxPixels = 150_000_000
)

type Policy string

const (
	PolicyCenterCrop Policy = "center-crop"
	PolicyCover      Policy = "cover"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyCenterCrop, "":
		return PolicyCenterCrop, nil
	case PolicyCover:
		return PolicyCover, nil
	}
	return "", fmt.Errorf("unknown normalize policy %q", s)
}

type Options struct {
	// Disabled turns every operation into a passthrough.
	Disabled     bool
	Policy       Policy
	NeverUpscale bool
	MaxPixels    int
	Logger       zerolog.Logger
}

type Normalizer struct {
	enabled      bool
	policy       Policy
	neverUpscale bool
	maxPixels    int
	log          zerolog.Logger
}

func New(opts Options) *Normalizer {
	policy := opts.Policy
	if policy == "" {
		policy = PolicyCenterCrop
	}
	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Normalizer{
		enabled:      !opts.Disabled,
		policy:       policy,
		neverUpscale: opts.NeverUpscale,
		maxPixels:    maxPixels,
		log:          opts.Logger,
	}
}

func (n *Normalizer) Policy() Policy {
	return n.policy
}

// Apply runs the resolution step and then the aspect ratio step. The image
// is decoded at most once and encoded at most once; when neither step would
// change it, only its header is read.
func (n *Normalizer) Apply(img models.Image, sizing models.Sizing) (out models.Image) {
	if !n.enabled {
		return img
	}
	defer n.guard("apply", img, &out)

	w, h, ok := n.size("apply", img)
	if !ok {
		return img
	}
	rw, rh, resize := n.resizeTarget(w, h, float64(sizing.Resolution.Width))
	if resize {
		w, h = rw, rh
	}
	ratio := sizing.AspectRatio.Ratio
	reshape := n.needsReshape(w, h, ratio)
	if !resize && !reshape {
		return img
	}

	src, ok := n.decode("apply", img)
	if !ok {
		return img
	}
	if resize {
		src = scale(src, rw, rh)
	}
	if reshape {
		src = n.reshape(src, ratio)
	}
	return n.encode("apply", img, src)
}

// Resolution proportionally resamples img to targetWidth pixels wide.
// Outputs larger than the pixel budget are skipped and img is returned.
func (n *Normalizer) Resolution(img models.Image, targetWidth float64) (out models.Image) {
	if !n.enabled {
		return img
	}
	defer n.guard("resolution", img, &out)

	w, h, ok := n.size("resolution", img)
	if !ok {
		return img
	}
	rw, rh, resize := n.resizeTarget(w, h, targetWidth)
	if !resize {
		return img
	}

	src, ok := n.decode("resolution", img)
	if !ok {
		return img
	}
	return n.encode("resolution", img, scale(src, rw, rh))
}

// AspectRatio reshapes img to ratio (width / height) using the configured
// policy.
func (n *Normalizer) AspectRatio(img models.Image, ratio float64) (out models.Image) {
	if !n.enabled {
		return img
	}
	defer n.guard("aspect", img, &out)

	w, h, ok := n.size("aspect", img)
	if !ok || !n.needsReshape(w, h, ratio) {
		return img
	}

	src, ok := n.decode("aspect", img)
	if !ok {
		return img
	}
	return n.encode("aspect", img, n.reshape(src, ratio))
}

// size reads the dimensions from the image header without decoding pixels.
func (n *Normalizer) size(op string, img models.Image) (int, int, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		n.log.Debug().Err(err).Str("op", op).Msg("cannot read image size")
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

func (n *Normalizer) decode(op string, img models.Image) (image.Image, bool) {
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		n.log.Debug().Err(err).Str("op", op).Msg("decode failed")
		return nil, false
	}
	return src, true
}

// resizeTarget returns the output size for a w x h image at targetWidth and
// whether resampling is needed.
func (n *Normalizer) resizeTarget(w, h int, targetWidth float64) (int, int, bool) {
	if !validTarget(targetWidth) {
		return 0, 0, false
	}
	if math.Abs(float64(w)-targetWidth) < ResampleThreshold {
		return 0, 0, false
	}
	if n.neverUpscale && float64(w) <= targetWidth {
		return 0, 0, false
	}

	rw := int(math.Round(targetWidth))
	rh := max(1, int(math.Round(float64(h)*targetWidth/float64(w))))
	if !n.fits(rw, rh) {
		n.log.Warn().Int("width", rw).Int("height", rh).Msg("resolution: output too large, skipping")
		return 0, 0, false
	}
	return rw, rh, true
}

// needsReshape reports whether a w x h image would change under the policy.
func (n *Normalizer) needsReshape(w, h int, ratio float64) bool {
	if !validTarget(ratio) {
		return false
	}
	if n.policy == PolicyCover {
		ch := coverHeight(w, ratio)
		if math.Abs(float64(h-ch)) < ResampleThreshold {
			return false
		}
		if !n.fits(w, ch) {
			n.log.Warn().Int("width", w).Int("height", ch).Msg("aspect: output too large, skipping")
			return false
		}
		return true
	}
	crop := CropRect(w, h, ratio)
	return w-crop.Dx() > CropTolerance || h-crop.Dy() > CropTolerance
}

func (n *Normalizer) reshape(src image.Image, ratio float64) image.Image {
	if n.policy == PolicyCover {
		return cover(src, ratio)
	}
	return centerCrop(src, ratio)
}

func scale(src image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// CropRect returns the largest rectangle with the given ratio that fits
// inside a w x h image, centered.
func CropRect(w, h int, ratio float64) image.Rectangle {
	cw, ch := w, h
	if float64(w)/float64(h) > ratio {
		cw = int(math.Round(float64(h) * ratio))
	} else {
		ch = int(math.Round(float64(w) / ratio))
	}
	cw = min(max(cw, 1), w)
	ch = min(max(ch, 1), h)

	x0 := (w - cw) / 2
	y0 := (h - ch) / 2
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

func centerCrop(src image.Image, ratio float64) image.Image {
	b := src.Bounds()
	crop := CropRect(b.Dx(), b.Dy(), ratio)

	dst := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min.Add(crop.Min), draw.Src)
	return dst
}

func coverHeight(w int, ratio float64) int {
	return max(1, int(math.Round(float64(w)/ratio)))
}

// cover keeps the width, sets the height from ratio and scales the source to
// fill the canvas, cropping the overflow.
func cover(src image.Image, ratio float64) image.Image {
	b := src.Bounds()
	w := b.Dx()
	h := coverHeight(w, ratio)

	s := math.Max(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
	sw := int(math.Round(float64(b.Dx()) * s))
	sh := int(math.Round(float64(b.Dy()) * s))
	dx := (w - sw) / 2
	dy := (h - sh) / 2

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, image.Rect(dx, dy, dx+sw, dy+sh), src, b, draw.Src, nil)
	return dst
}

func (n *Normalizer) encode(op string, orig models.Image, dst image.Image) models.Image {
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		n.log.Warn().Err(err).Str("op", op).Msg("encode failed, keeping original")
		return orig
	}
	return models.NewImage(buf.Bytes(), "image/png")
}

func (n *Normalizer) fits(w, h int) bool {
	return w > 0 && h > 0 && w*h <= n.maxPixels
}

func (n *Normalizer) guard(op string, orig models.Image, out *models.Image) {
	if r := recover(); r != nil {
		n.log.Warn().Str("op", op).Interface("panic", r).Msg("normalize failed, keeping original")
		*out = orig
	}
}

func validTarget(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
