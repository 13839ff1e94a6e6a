package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/manash/jewelshoot/internal/security"
	"github.com/manash/jewelshoot/pkg/models"
)

// MaxDownloadBytes caps gallery downloads.
const MaxDownloadBytes = 64 << 20

type Saver struct {
	httpClient *http.Client
	validator  *security.URLValidator
}

func NewSaver(validator *security.URLValidator) *Saver {
	if validator == nil {
		validator = security.NewURLValidator(false)
	}
	return &Saver{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		validator: validator,
	}
}

// Save writes img to path, creating parent directories.
func (s *Saver) Save(img models.Image, path string) error {
	if img.IsEmpty() {
		return fmt.Errorf("no image data available")
	}

	if err := s.ensureDir(path); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, img.Data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// SaveConcepts writes every concept that has an image into dir and returns
// the written paths in concept order. Concepts without an image are skipped.
func (s *Saver) SaveConcepts(ctx context.Context, concepts []models.Concept, dir string) ([]string, error) {
	paths := make([]string, len(concepts))

	g, ctx := errgroup.WithContext(ctx)
	for i, c := range concepts {
		if c.Image == nil || c.Image.IsEmpty() {
			continue
		}
		path := filepath.Join(dir, ConceptFilename(i, c))
		img := *c.Image
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.Save(img, path); err != nil {
				return fmt.Errorf("failed to save concept %d: %w", i+1, err)
			}
			paths[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	written := paths[:0]
	for _, p := range paths {
		if p != "" {
			written = append(written, p)
		}
	}
	return written, nil
}

// Download fetches a published gallery image into path.
func (s *Saver) Download(ctx context.Context, url, path string) error {
	data, err := s.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to download image: %w", err)
	}
	if err := s.ensureDir(path); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (s *Saver) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := s.validator.Validate(url); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxDownloadBytes {
		return nil, fmt.Errorf("download exceeds %d bytes", MaxDownloadBytes)
	}
	return data, nil
}

func (s *Saver) ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// ConceptFilename names a concept image by position and style, e.g.
// "jewelshoot-2-luxury.png".
func ConceptFilename(index int, c models.Concept) string {
	ext := ".png"
	if c.Image != nil {
		ext = c.Image.Extension()
	}
	return fmt.Sprintf("jewelshoot-%d-%s%s", index+1, strings.ToLower(string(c.Style)), ext)
}

// GenerateFilenameWithTime names a standalone image, e.g. for the
// generate-image passthrough.
func GenerateFilenameWithTime(prefix string, img models.Image, t time.Time) string {
	if prefix == "" {
		prefix = "image"
	}
	return fmt.Sprintf("%s-%s%s", security.SanitizeFilename(prefix), t.Format("20060102-150405"), img.Extension())
}
