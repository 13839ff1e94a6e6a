package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/manash/jewelshoot/internal/cost"
	"github.com/manash/jewelshoot/internal/gallery"
	"github.com/manash/jewelshoot/internal/image"
	"github.com/manash/jewelshoot/internal/normalize"
	"github.com/manash/jewelshoot/internal/provider/offline"
	"github.com/manash/jewelshoot/internal/studio"
	"github.com/manash/jewelshoot/internal/usage"
	"github.com/manash/jewelshoot/pkg/models"
)

func TestParseText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     int
		wantName string
		wantErr  bool
	}{
		{
			name:  "basic photos",
			input: "ring.jpg\nnecklace.png\nearrings.webp",
			want:  3,
		},
		{
			name:  "with empty lines",
			input: "ring.jpg\n\nnecklace.png\n\n",
			want:  2,
		},
		{
			name:  "with comments",
			input: "# spring catalogue\nring.jpg\n# another comment\nnecklace.png",
			want:  2,
		},
		{
			name:     "with gallery name",
			input:    "ring.jpg | Gold ring",
			want:     1,
			wantName: "Gold ring",
		},
		{
			name:    "name without image",
			input:   "| Gold ring",
			wantErr: true,
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: true,
		},
		{
			name:    "only comments",
			input:   "# comment\n# another",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := ParseText(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseText() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if len(items) != tt.want {
				t.Errorf("ParseText() got %d items, want %d", len(items), tt.want)
			}
			if items[0].Name != tt.wantName {
				t.Errorf("ParseText() name = %q, want %q", items[0].Name, tt.wantName)
			}
			for i, item := range items {
				if item.Index != i+1 {
					t.Errorf("items[%d].Index = %d, want %d", i, item.Index, i+1)
				}
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr error
	}{
		{
			name:  "basic array",
			input: `[{"image": "ring.jpg"}, {"image": "necklace.png"}]`,
			want:  2,
		},
		{
			name:  "with options",
			input: `[{"image": "ring.jpg", "name": "Gold ring", "resolution": "4K", "aspect_ratio": "reels"}]`,
			want:  1,
		},
		{
			name:    "unknown resolution",
			input:   `[{"image": "ring.jpg", "resolution": "16k"}]`,
			wantErr: models.ErrUnknownResolution,
		},
		{
			name:    "unknown aspect ratio",
			input:   `[{"image": "ring.jpg", "aspect_ratio": "panorama"}]`,
			wantErr: models.ErrUnknownAspectRatio,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := ParseJSON(strings.NewReader(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseJSON() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && len(items) != tt.want {
				t.Errorf("ParseJSON() got %d items, want %d", len(items), tt.want)
			}
		})
	}

	items, err := ParseJSON(strings.NewReader(`[{"image": "ring.jpg", "name": "Gold ring", "resolution": "4K", "aspect_ratio": "Reels"}]`))
	if err != nil {
		t.Fatalf("ParseJSON() error = %v", err)
	}
	want := Item{Index: 1, Image: "ring.jpg", Name: "Gold ring", Resolution: models.Resolution4K, AspectRatio: models.AspectReels}
	if items[0] != want {
		t.Errorf("ParseJSON() = %+v, want %+v", items[0], want)
	}

	invalid := []string{`[]`, `[{"image": ""}]`, `[{"image": "ring.jpg"`}
	for _, input := range invalid {
		if _, err := ParseJSON(strings.NewReader(input)); err == nil {
			t.Errorf("ParseJSON(%q) expected error", input)
		}
	}
}

func TestParseFile(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		want     int
		wantErr  bool
	}{
		{
			name:     "txt file",
			filename: "photos.txt",
			content:  "ring.jpg\nnecklace.png",
			want:     2,
		},
		{
			name:     "json file",
			filename: "photos.json",
			content:  `[{"image": "ring.jpg"}, {"image": "necklace.png"}]`,
			want:     2,
		},
		{
			name:     "unsupported extension",
			filename: "photos.yaml",
			content:  "image: ring.jpg",
			wantErr:  true,
		},
		{
			name:     "no extension treated as txt",
			filename: "photos",
			content:  "ring.jpg\nnecklace.png",
			want:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			filePath := filepath.Join(tmpDir, tt.filename)
			if err := os.WriteFile(filePath, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test file: %v", err)
			}

			items, err := ParseFile(filePath)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFile() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if len(items) != tt.want {
				t.Errorf("ParseFile() got %d items, want %d", len(items), tt.want)
			}
			if want := filepath.Join(tmpDir, "ring.jpg"); items[0].Image != want {
				t.Errorf("ParseFile() image = %q, want %q", items[0].Image, want)
			}
		})
	}
}

func TestParseFile_AbsolutePath(t *testing.T) {
	tmpDir := t.TempDir()
	abs := filepath.Join(t.TempDir(), "ring.jpg")
	filePath := filepath.Join(tmpDir, "photos.txt")
	if err := os.WriteFile(filePath, []byte(abs+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	items, err := ParseFile(filePath)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if items[0].Image != abs {
		t.Errorf("ParseFile() image = %q, want %q", items[0].Image, abs)
	}
}

func TestParseFile_NotFound(t *testing.T) {
	_, err := ParseFile("/nonexistent/photos.txt")
	if err == nil {
		t.Error("ParseFile() expected error for non-existent file")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Gold Ring", "gold-ring"},
		{"ring (v2)!", "ring-v2"},
		{"", "image"},
		{"con", "con-shoot"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeName(tt.input); got != tt.want {
				t.Errorf("sanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestShootDirName(t *testing.T) {
	tests := []struct {
		item Item
		want string
	}{
		{Item{Index: 1, Image: "/photos/gold ring.jpg"}, "001-gold-ring"},
		{Item{Index: 12, Image: "ring.jpg", Name: "Spring Ring"}, "012-spring-ring"},
	}

	for _, tt := range tests {
		if got := shootDirName(tt.item); got != tt.want {
			t.Errorf("shootDirName(%+v) = %q, want %q", tt.item, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long name", 10, "this is..."},
	}

	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

// writePhoto stores a small decodable PNG and returns its path.
func writePhoto(t *testing.T, dir, name string) string {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 170, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newStudioFunc builds orchestrators over the offline provider. authed
// controls whether the free-trial gate applies.
func newStudioFunc(authed bool, created *atomic.Int32) func() (Studio, error) {
	gate := usage.NewGate(usage.NewMemoryStore())
	p := offline.New(0)
	return func() (Studio, error) {
		if created != nil {
			created.Add(1)
		}
		return studio.New(studio.Config{
			Planner:    p,
			Generator:  p,
			Gate:       gate,
			Auth:       studio.AuthFunc(func(context.Context) bool { return authed }),
			Normalizer: normalize.New(normalize.Options{Disabled: true}),
		}), nil
	}
}

type mockKeeper struct {
	saveFunc func(name string) error
	names    []string
}

func (m *mockKeeper) Save(_ context.Context, img models.Image, name string, style models.Style, prompt string) (gallery.Record, error) {
	if m.saveFunc != nil {
		if err := m.saveFunc(name); err != nil {
			return gallery.Record{}, err
		}
	}
	m.names = append(m.names, name)
	return gallery.Record{ID: gallery.ID(fmt.Sprint(len(m.names))), Name: name}, nil
}

func TestProcessorProcess(t *testing.T) {
	dir := t.TempDir()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	proc := NewProcessor(newStudioFunc(true, nil), image.NewSaver(nil), nil, out, errOut)

	items := []Item{
		{Index: 1, Image: writePhoto(t, dir, "ring.png")},
		{Index: 2, Image: writePhoto(t, dir, "necklace.png"), Resolution: models.Resolution2K, AspectRatio: models.AspectReels},
	}

	opts := &Options{
		OutputDir: filepath.Join(dir, "out"),
		Parallel:  1,
		Model:     "gemini-3-pro-image-preview",
		Pricing:   cost.NewCalculator(nil),
	}

	results, err := proc.Process(context.Background(), items, opts)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if errOut.Len() > 0 {
		t.Errorf("unexpected errors:\n%s", errOut.String())
	}

	if len(results) != 2 {
		t.Fatalf("Process() got %d results, want 2", len(results))
	}
	wantCost := []float64{3 * 0.240, 3 * 0.134}
	for i, r := range results {
		if r.Error != nil {
			t.Errorf("Result[%d] has error: %v", i, r.Error)
		}
		if len(r.Paths) != 3 {
			t.Errorf("Result[%d] has %d paths, want 3", i, len(r.Paths))
		}
		if diff := r.Cost - wantCost[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("Result[%d].Cost = %.4f, want %.4f", i, r.Cost, wantCost[i])
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "out", "002-necklace", "*.png"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Errorf("files for second photo = %d, want 3", len(files))
	}
}

func TestProcessorParallel(t *testing.T) {
	dir := t.TempDir()
	out := &bytes.Buffer{}
	var created atomic.Int32

	proc := NewProcessor(newStudioFunc(true, &created), image.NewSaver(nil), nil, out, out)

	var items []Item
	for i := 1; i <= 4; i++ {
		items = append(items, Item{Index: i, Image: writePhoto(t, dir, fmt.Sprintf("ring-%d.png", i))})
	}

	results, err := proc.Process(context.Background(), items, &Options{
		OutputDir: filepath.Join(dir, "out"),
		Parallel:  8,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	for i, r := range results {
		if r.Error != nil || r.Index != i+1 {
			t.Errorf("Result[%d] = %+v", i, r)
		}
	}
	if created.Load() != 4 {
		t.Errorf("studios created = %d, want one per photo", created.Load())
	}
}

func TestProcessorKeep(t *testing.T) {
	dir := t.TempDir()
	out := &bytes.Buffer{}
	keeper := &mockKeeper{
		saveFunc: func(name string) error {
			if strings.Contains(name, "Dark Luxury") {
				return errors.New("bucket full")
			}
			return nil
		},
	}

	proc := NewProcessor(newStudioFunc(true, nil), image.NewSaver(nil), keeper, out, out)
	items := []Item{
		{Index: 1, Image: writePhoto(t, dir, "ring.png"), Name: "Gold ring"},
		{Index: 2, Image: writePhoto(t, dir, "necklace.png")},
	}

	results, err := proc.Process(context.Background(), items, &Options{OutputDir: filepath.Join(dir, "out")})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if results[0].Kept != 2 {
		t.Errorf("Kept = %d, want 2", results[0].Kept)
	}
	if results[1].Kept != 0 {
		t.Errorf("unnamed photo Kept = %d, want 0", results[1].Kept)
	}
	want := []string{"Gold ring (Studio Minimal)", "Gold ring (Nature & Texture)"}
	if strings.Join(keeper.names, ",") != strings.Join(want, ",") {
		t.Errorf("kept names = %v, want %v", keeper.names, want)
	}
	if !strings.Contains(out.String(), "Keep Dark Luxury failed: bucket full") {
		t.Errorf("output missing keep failure:\n%s", out.String())
	}
}

func TestProcessorWithErrors(t *testing.T) {
	t.Run("missing photo", func(t *testing.T) {
		errOut := &bytes.Buffer{}
		proc := NewProcessor(newStudioFunc(true, nil), image.NewSaver(nil), nil, &bytes.Buffer{}, errOut)

		results, err := proc.Process(context.Background(), []Item{{Index: 1, Image: "/nonexistent/ring.png"}}, &Options{OutputDir: t.TempDir()})
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if results[0].Error == nil {
			t.Error("expected error for missing photo")
		}
		if !strings.Contains(errOut.String(), "failed to read image") {
			t.Errorf("errOut = %q", errOut.String())
		}
	})

	t.Run("not an image", func(t *testing.T) {
		dir := t.TempDir()
		notes := filepath.Join(dir, "notes.txt")
		if err := os.WriteFile(notes, []byte("not a photo"), 0644); err != nil {
			t.Fatal(err)
		}
		proc := NewProcessor(newStudioFunc(true, nil), image.NewSaver(nil), nil, &bytes.Buffer{}, &bytes.Buffer{})

		results, _ := proc.Process(context.Background(), []Item{{Index: 1, Image: notes}}, &Options{OutputDir: dir})
		if !errors.Is(results[0].Error, studio.ErrUnsupportedSource) {
			t.Errorf("error = %v, want ErrUnsupportedSource", results[0].Error)
		}
	})

	t.Run("studio construction fails", func(t *testing.T) {
		dir := t.TempDir()
		boom := errors.New("no provider")
		proc := NewProcessor(func() (Studio, error) { return nil, boom }, image.NewSaver(nil), nil, &bytes.Buffer{}, &bytes.Buffer{})

		results, _ := proc.Process(context.Background(), []Item{{Index: 1, Image: writePhoto(t, dir, "ring.png")}}, &Options{OutputDir: dir})
		if !errors.Is(results[0].Error, boom) {
			t.Errorf("error = %v, want %v", results[0].Error, boom)
		}
	})

	t.Run("free trial covers one photo", func(t *testing.T) {
		dir := t.TempDir()
		proc := NewProcessor(newStudioFunc(false, nil), image.NewSaver(nil), nil, &bytes.Buffer{}, &bytes.Buffer{})
		items := []Item{
			{Index: 1, Image: writePhoto(t, dir, "ring.png")},
			{Index: 2, Image: writePhoto(t, dir, "necklace.png")},
		}

		results, err := proc.Process(context.Background(), items, &Options{OutputDir: dir})
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if results[0].Error != nil {
			t.Errorf("first photo error = %v", results[0].Error)
		}
		if !errors.Is(results[1].Error, studio.ErrAuthRequired) {
			t.Errorf("second photo error = %v, want ErrAuthRequired", results[1].Error)
		}
	})

	t.Run("stop on error sequential", func(t *testing.T) {
		dir := t.TempDir()
		proc := NewProcessor(newStudioFunc(true, nil), image.NewSaver(nil), nil, &bytes.Buffer{}, &bytes.Buffer{})
		items := []Item{
			{Index: 1, Image: "/nonexistent/ring.png"},
			{Index: 2, Image: writePhoto(t, dir, "necklace.png")},
		}

		results, err := proc.Process(context.Background(), items, &Options{OutputDir: dir, StopOnError: true})
		if err == nil {
			t.Fatal("Process() expected error with StopOnError")
		}
		if results[1].Paths != nil {
			t.Error("second photo should not have run")
		}
	})

	t.Run("stop on error parallel", func(t *testing.T) {
		dir := t.TempDir()
		proc := NewProcessor(newStudioFunc(true, nil), image.NewSaver(nil), nil, &bytes.Buffer{}, &bytes.Buffer{})
		items := []Item{
			{Index: 1, Image: "/nonexistent/ring.png"},
			{Index: 2, Image: "/nonexistent/necklace.png"},
		}

		_, err := proc.Process(context.Background(), items, &Options{OutputDir: dir, StopOnError: true, Parallel: 2})
		if err == nil || !strings.Contains(err.Error(), "batch stopped") {
			t.Errorf("Process() error = %v, want batch stopped", err)
		}
	})
}

func TestProcessorContextCancellation(t *testing.T) {
	dir := t.TempDir()
	proc := NewProcessor(newStudioFunc(true, nil), image.NewSaver(nil), nil, &bytes.Buffer{}, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := proc.Process(ctx, []Item{{Index: 1, Image: writePhoto(t, dir, "ring.png")}}, &Options{OutputDir: dir})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Process() error = %v, want context.Canceled", err)
	}
}

func TestPrintSummary(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		wantOut []string
	}{
		{
			name: "all successful",
			results: []Result{
				{Index: 1, Image: "ring.png", Paths: []string{"a", "b", "c"}, Cost: 0.72},
				{Index: 2, Image: "necklace.png", Paths: []string{"d", "e"}, Kept: 2, Cost: 0.48},
			},
			wantOut: []string{"Successful: 2/2 photos (5 shots)", "Kept in gallery: 2", "Estimated cost: $1.2000"},
		},
		{
			name: "with failures",
			results: []Result{
				{Index: 1, Image: "ring.png", Paths: []string{"a"}},
				{Index: 2, Image: "necklace.png", Error: fmt.Errorf("planning failed")},
			},
			wantOut: []string{"Failed: 1", "[2] necklace.png: planning failed"},
		},
		{
			name:    "empty results",
			results: []Result{},
			wantOut: []string{"Successful: 0/0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			proc := NewProcessor(nil, image.NewSaver(nil), nil, out, out)
			proc.PrintSummary(tt.results)
			for _, want := range tt.wantOut {
				if !strings.Contains(out.String(), want) {
					t.Errorf("PrintSummary() output = %q, want to contain %q", out.String(), want)
				}
			}
		})
	}
}
