// Package display previews images inline in terminals that speak the kitty
// graphics protocol.
package display

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/term"

	"github.com/manash/jewelshoot/pkg/models"
)

const (
	// DefaultMaxWidth bounds preview size; 8K renders are far larger than
	// any terminal cell grid.
	DefaultMaxWidth = 1024
	DefaultColumns  = 48
)

// Fetcher downloads a remote image, such as a gallery object.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Displayer struct {
	out      io.Writer
	fetcher  Fetcher
	maxWidth int
	columns  int
}

type Option func(*Displayer)

func WithFetcher(f Fetcher) Option {
	return func(d *Displayer) { d.fetcher = f }
}

func WithMaxWidth(px int) Option {
	return func(d *Displayer) { d.maxWidth = px }
}

func WithColumns(n int) Option {
	return func(d *Displayer) { d.columns = n }
}

func New(out io.Writer, opts ...Option) *Displayer {
	d := &Displayer{
		out:      out,
		maxWidth: DefaultMaxWidth,
		columns:  DefaultColumns,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Show renders one image followed by a newline.
func (d *Displayer) Show(img models.Image) error {
	if img.IsEmpty() {
		return fmt.Errorf("image has no data")
	}
	data, err := Preview(img, d.maxWidth)
	if err != nil {
		return err
	}

	if err := NewKittyEncoder(d.out, d.columns).Encode(data); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	fmt.Fprintln(d.out)
	return nil
}

// ShowConcepts renders every concept that has an image, each under a
// numbered style heading. Concepts still generating get a placeholder line.
func (d *Displayer) ShowConcepts(concepts []models.Concept) error {
	for i, c := range concepts {
		fmt.Fprintf(d.out, "[%d] %s\n", i+1, c.Style.Label())
		switch {
		case c.Image != nil:
			if err := d.Show(*c.Image); err != nil {
				return fmt.Errorf("failed to display concept %d: %w", i+1, err)
			}
		case c.IsLoadingImage:
			fmt.Fprintln(d.out, "    (generating...)")
		default:
			fmt.Fprintln(d.out, "    (no image)")
		}
	}
	return nil
}

// ShowURL downloads and renders a remote image.
func (d *Displayer) ShowURL(ctx context.Context, url string) error {
	if d.fetcher == nil {
		return fmt.Errorf("no fetcher configured for %s", url)
	}
	data, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	return d.Show(models.NewImage(data, mimetype.Detect(data).String()))
}

// Preview returns PNG bytes no wider than maxWidth. PNG input that already
// fits is returned unchanged.
func Preview(img models.Image, maxWidth int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	fits := maxWidth <= 0 || b.Dx() <= maxWidth
	if fits && img.Format() == models.FormatPNG {
		return img.Data, nil
	}

	dst := src
	if !fits {
		h := max(1, b.Dy()*maxWidth/b.Dx())
		scaled := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, b, draw.Src, nil)
		dst = scaled
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// Supported reports whether out is a terminal that can show inline images.
func Supported(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false
	}
	return IsTerminalSupported()
}

func IsTerminalSupported() bool {
	termProgram := strings.ToLower(os.Getenv("TERM_PROGRAM"))
	supportedPrograms := []string{"kitty", "ghostty", "wezterm"}

	for _, prog := range supportedPrograms {
		if termProgram == prog {
			return true
		}
	}

	if os.Getenv("KITTY_WINDOW_ID") != "" {
		return true
	}

	termEnv := strings.ToLower(os.Getenv("TERM"))
	return strings.Contains(termEnv, "kitty") || strings.Contains(termEnv, "ghostty")
}
