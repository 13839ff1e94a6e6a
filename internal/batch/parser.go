package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/manash/jewelshoot/pkg/models"
)

// Item is one product photo in a catalogue manifest.
type Item struct {
	Index       int
	Image       string
	Name        string
	Resolution  models.ResolutionID
	AspectRatio models.AspectRatioID
}

type jsonItem struct {
	Image       string `json:"image"`
	Name        string `json:"name,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// ParseFile reads a manifest. Relative image paths are resolved against the
// manifest's directory.
func ParseFile(path string) ([]Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var items []Item
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		items, err = ParseJSON(file)
	case ".txt", "":
		items, err = ParseText(file)
	default:
		return nil, fmt.Errorf("unsupported file format %q: use .txt or .json", ext)
	}
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range items {
		if !filepath.IsAbs(items[i].Image) {
			items[i].Image = filepath.Join(base, items[i].Image)
		}
	}
	return items, nil
}

// ParseText reads one photo per line, optionally followed by "| name" to
// keep the results in the gallery under that name.
func ParseText(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	index := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		image, name, _ := strings.Cut(line, "|")
		image = strings.TrimSpace(image)
		if image == "" {
			return nil, fmt.Errorf("line %q has no image path", line)
		}
		index++
		items = append(items, Item{
			Index: index,
			Image: image,
			Name:  strings.TrimSpace(name),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no photos found in file")
	}

	return items, nil
}

func ParseJSON(r io.Reader) ([]Item, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var jsonItems []jsonItem
	if err := json.Unmarshal(data, &jsonItems); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if len(jsonItems) == 0 {
		return nil, fmt.Errorf("no photos found in file")
	}

	items := make([]Item, len(jsonItems))
	for i, ji := range jsonItems {
		if strings.TrimSpace(ji.Image) == "" {
			return nil, fmt.Errorf("item %d has no image", i+1)
		}
		item := Item{
			Index: i + 1,
			Image: strings.TrimSpace(ji.Image),
			Name:  strings.TrimSpace(ji.Name),
		}
		if ji.Resolution != "" {
			id := models.ResolutionID(strings.ToLower(ji.Resolution))
			if _, ok := models.FindResolution(id); !ok {
				return nil, fmt.Errorf("item %d: %w: %s", i+1, models.ErrUnknownResolution, ji.Resolution)
			}
			item.Resolution = id
		}
		if ji.AspectRatio != "" {
			id := models.AspectRatioID(strings.ToLower(ji.AspectRatio))
			if _, ok := models.FindAspectRatio(id); !ok {
				return nil, fmt.Errorf("item %d: %w: %s", i+1, models.ErrUnknownAspectRatio, ji.AspectRatio)
			}
			item.AspectRatio = id
		}
		items[i] = item
	}

	return items, nil
}
