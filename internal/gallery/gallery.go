// Package gallery publishes kept concept images and the feedback thread.
// Images go to a blob store and a row describing them goes to a record
// store; Supabase backs both by default.
package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/manash/jewelshoot/internal/security"
	"github.com/manash/jewelshoot/pkg/models"
)

const DefaultBucket = "generated-images"

var (
	ErrEmptyName    = errors.New("image name is required")
	ErrNoImage      = errors.New("no image to save")
	ErrNotFound     = errors.New("gallery image not found")
	ErrEmptyMessage = errors.New("message is required")
)

// ID accepts both numeric and string primary keys.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Record is one row of saved_images.
type Record struct {
	ID        ID           `json:"id,omitempty"`
	Name      string       `json:"name"`
	ImageURL  string       `json:"image_url"`
	Style     models.Style `json:"style"`
	Prompt    string       `json:"prompt"`
	CreatedAt time.Time    `json:"created_at,omitzero"`
}

type BlobStore interface {
	// Put stores data under key, overwriting any existing object, and
	// returns its public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, key string) error
}

type RecordStore interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	// List returns records newest first.
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, id ID) error
}

type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithWebP re-encodes kept images as lossy WebP at quality before upload.
func WithWebP(quality float32) Option {
	return func(s *Service) {
		s.webp = true
		s.quality = quality
	}
}

type Service struct {
	blobs   BlobStore
	records RecordStore
	webp    bool
	quality float32
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(blobs BlobStore, records RecordStore, opts ...Option) *Service {
	s := &Service{
		blobs:   blobs,
		records: records,
		quality: DefaultWebPQuality,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ObjectKey names the blob for a kept image: "<unix-ms>-<slug><ext>".
func ObjectKey(name string, img models.Image, t time.Time) string {
	return fmt.Sprintf("%d-%s%s", t.UnixMilli(), security.Slug(name), img.Extension())
}

// Save uploads img and records it under name.
func (s *Service) Save(ctx context.Context, img models.Image, name string, style models.Style, prompt string) (Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Record{}, ErrEmptyName
	}
	if img.IsEmpty() {
		return Record{}, ErrNoImage
	}

	if s.webp && img.Format() != models.FormatWebP {
		converted, err := EncodeWebP(img, s.quality)
		if err != nil {
			s.log.Warn().Err(err).Msg("webp conversion failed, uploading original")
		} else {
			img = converted
		}
	}

	now := s.now()
	key := ObjectKey(name, img, now)
	publicURL, err := s.blobs.Put(ctx, key, img.Data, img.MIMEType)
	if err != nil {
		return Record{}, fmt.Errorf("upload image: %w", err)
	}

	rec, err := s.records.Insert(ctx, Record{
		Name:      name,
		ImageURL:  publicURL,
		Style:     style,
		Prompt:    prompt,
		CreatedAt: now,
	})
	if err != nil {
		if rmErr := s.blobs.Remove(ctx, key); rmErr != nil {
			s.log.Warn().Err(rmErr).Str("key", key).Msg("failed to remove orphaned upload")
		}
		return Record{}, fmt.Errorf("save image record: %w", err)
	}

	s.log.Info().Str("name", name).Str("key", key).Msg("image kept")
	return rec, nil
}

func (s *Service) List(ctx context.Context) ([]Record, error) {
	return s.records.List(ctx)
}

// Find returns the record with id.
func (s *Service) Find(ctx context.Context, id ID) (Record, error) {
	recs, err := s.records.List(ctx)
	if err != nil {
		return Record{}, err
	}
	for _, r := range recs {
		if r.ID == id {
			return r, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Delete removes the blob named by the last segment of imageURL, then the
// record. A failed blob removal is logged and does not stop the row delete.
func (s *Service) Delete(ctx context.Context, id ID, imageURL string) error {
	if key := KeyFromURL(imageURL); key != "" {
		if err := s.blobs.Remove(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to remove image blob")
		}
	}
	if err := s.records.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete image record: %w", err)
	}
	return nil
}

// KeyFromURL returns the final path segment of a public URL.
func KeyFromURL(imageURL string) string {
	if imageURL == "" {
		return ""
	}
	p := imageURL
	if u, err := url.Parse(imageURL); err == nil {
		p = u.Path
	}
	key := path.Base(p)
	if key == "." || key == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(key); err == nil {
		key = unescaped
	}
	return key
}
