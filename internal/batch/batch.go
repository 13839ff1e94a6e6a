// Package batch runs one shoot per product photo in a catalogue manifest.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/manash/jewelshoot/internal/cost"
	"github.com/manash/jewelshoot/internal/gallery"
	"github.com/manash/jewelshoot/internal/image"
	"github.com/manash/jewelshoot/internal/security"
	"github.com/manash/jewelshoot/internal/studio"
	"github.com/manash/jewelshoot/pkg/models"
)

var ErrNoShots = errors.New("no shots were generated")

type Result struct {
	Index    int
	Image    string
	Paths    []string
	Kept     int
	Failed   int
	Cost     float64
	Error    error
	Duration time.Duration
}

type Options struct {
	OutputDir   string
	Parallel    int
	StopOnError bool
	DelayMs     int
	// Model and Pricing price each shoot. A nil Pricing skips estimates.
	Model   string
	Pricing *cost.Calculator
}

// Studio is the part of the orchestrator a shoot needs.
type Studio interface {
	SetSource(data []byte) error
	SetSizing(res models.ResolutionID, ar models.AspectRatioID) models.Sizing
	Sizing() models.Sizing
	StartGeneration(ctx context.Context) error
	Wait(ctx context.Context) error
	Snapshot() studio.Snapshot
	Close()
}

// Keeper stores a generated image in the shared gallery.
type Keeper interface {
	Save(ctx context.Context, img models.Image, name string, style models.Style, prompt string) (gallery.Record, error)
}

type Processor struct {
	newStudio func() (Studio, error)
	saver     *image.Saver
	keeper    Keeper
	out       io.Writer
	err       io.Writer
	outMu     sync.Mutex
}

// NewProcessor builds a processor. newStudio is called once per photo; a
// nil keeper ignores manifest names.
func NewProcessor(newStudio func() (Studio, error), saver *image.Saver, keeper Keeper, out, errOut io.Writer) *Processor {
	return &Processor{
		newStudio: newStudio,
		saver:     saver,
		keeper:    keeper,
		out:       out,
		err:       errOut,
	}
}

func (p *Processor) printf(format string, args ...interface{}) {
	p.outMu.Lock()
	fmt.Fprintf(p.out, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) errorf(format string, args ...interface{}) {
	p.outMu.Lock()
	fmt.Fprintf(p.err, format, args...)
	p.outMu.Unlock()
}

func (p *Processor) Process(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	if opts.Parallel <= 1 {
		return p.processSequential(ctx, items, opts)
	}
	return p.processParallel(ctx, items, opts)
}

func (p *Processor) processSequential(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, len(items))
	total := len(items)

	for i, item := range items {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		result := p.processItem(ctx, item, opts, i+1, total)
		results[i] = result

		if result.Error != nil && opts.StopOnError {
			return results, fmt.Errorf("stopped at photo %d: %w", i+1, result.Error)
		}

		if opts.DelayMs > 0 && i < len(items)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(time.Duration(opts.DelayMs) * time.Millisecond):
			}
		}
	}

	return results, nil
}

func (p *Processor) processParallel(ctx context.Context, items []Item, opts *Options) ([]Result, error) {
	results := make([]Result, len(items))
	total := len(items)

	type job struct {
		index int
		item  Item
	}

	jobs := make(chan job, len(items))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	workers := min(opts.Parallel, len(items))

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}

				result := p.processItem(ctx, j.item, opts, j.index+1, total)

				mu.Lock()
				results[j.index] = result
				if result.Error != nil && opts.StopOnError && firstErr == nil {
					firstErr = result.Error
				}
				stop := opts.StopOnError && firstErr != nil
				mu.Unlock()

				if stop {
					return
				}
			}
		}()
	}

	for i, item := range items {
		mu.Lock()
		stop := opts.StopOnError && firstErr != nil
		mu.Unlock()
		if stop {
			break
		}
		jobs <- job{index: i, item: item}
	}
	close(jobs)

	wg.Wait()

	if firstErr != nil {
		return results, fmt.Errorf("batch stopped due to error: %w", firstErr)
	}

	return results, nil
}

func (p *Processor) processItem(ctx context.Context, item Item, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{
		Index: item.Index,
		Image: item.Image,
	}
	fail := func(err error) Result {
		result.Error = err
		result.Duration = time.Since(start)
		p.errorf("       Error: %v\n", err)
		return result
	}

	p.printf("[%d/%d] Shooting: %s...\n", current, total, filepath.Base(item.Image))

	data, err := os.ReadFile(item.Image)
	if err != nil {
		return fail(fmt.Errorf("failed to read image: %w", err))
	}

	st, err := p.newStudio()
	if err != nil {
		return fail(err)
	}
	defer st.Close()

	if err := st.SetSource(data); err != nil {
		return fail(err)
	}
	sizing := st.Sizing()
	if item.Resolution != "" || item.AspectRatio != "" {
		res, ar := sizing.Resolution.ID, sizing.AspectRatio.ID
		if item.Resolution != "" {
			res = item.Resolution
		}
		if item.AspectRatio != "" {
			ar = item.AspectRatio
		}
		sizing = st.SetSizing(res, ar)
	}

	if err := st.StartGeneration(ctx); err != nil {
		if errors.Is(err, studio.ErrAuthRequired) {
			return fail(fmt.Errorf("free trial used up, sign in to continue: %w", err))
		}
		return fail(err)
	}
	if err := st.Wait(ctx); err != nil {
		return fail(err)
	}

	snap := st.Snapshot()
	if snap.Status == models.StatusError {
		return fail(fmt.Errorf("planning failed: %s", snap.Error))
	}

	dir := filepath.Join(opts.OutputDir, shootDirName(item))
	paths, err := p.saver.SaveConcepts(ctx, snap.Concepts, dir)
	if err != nil {
		return fail(fmt.Errorf("save failed: %w", err))
	}
	result.Paths = paths
	result.Failed = len(snap.Concepts) - len(paths)
	if len(paths) == 0 {
		return fail(ErrNoShots)
	}

	if item.Name != "" && p.keeper != nil {
		for _, c := range snap.Concepts {
			if c.Image == nil {
				continue
			}
			name := fmt.Sprintf("%s (%s)", item.Name, c.Style.Label())
			if _, err := p.keeper.Save(ctx, *c.Image, name, c.Style, c.Description); err != nil {
				p.errorf("       Keep %s failed: %v\n", c.Style.Label(), err)
				continue
			}
			result.Kept++
		}
	}

	if opts.Pricing != nil {
		result.Cost = opts.Pricing.Estimate(opts.Model, sizing.Resolution.ID, len(paths)).Total
	}
	result.Duration = time.Since(start)

	if opts.Pricing != nil {
		p.printf("       Saved %d shots to %s ($%.4f)\n", len(paths), dir, result.Cost)
	} else {
		p.printf("       Saved %d shots to %s\n", len(paths), dir)
	}
	return result
}

func shootDirName(item Item) string {
	name := item.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(item.Image), filepath.Ext(item.Image))
	}
	return fmt.Sprintf("%03d-%s", item.Index, sanitizeName(name))
}

var windowsReservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

func sanitizeName(name string) string {
	sanitized := security.Slug(name)
	if r := []rune(sanitized); len(r) > 50 {
		sanitized = strings.TrimSuffix(string(r[:50]), "-")
	}
	if windowsReservedNames[sanitized] {
		sanitized = sanitized + "-shoot"
	}
	return sanitized
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func (p *Processor) PrintSummary(results []Result) {
	var successful, failed, shots, kept int
	var totalCost float64
	var failures []Result

	for _, r := range results {
		if r.Error != nil {
			failed++
			failures = append(failures, r)
		} else {
			successful++
			shots += len(r.Paths)
			kept += r.Kept
			totalCost += r.Cost
		}
	}

	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "Summary:")
	fmt.Fprintf(p.out, "  Successful: %d/%d photos (%d shots)\n", successful, len(results), shots)
	if kept > 0 {
		fmt.Fprintf(p.out, "  Kept in gallery: %d\n", kept)
	}
	if failed > 0 {
		fmt.Fprintf(p.out, "  Failed: %d (see errors below)\n", failed)
	}
	fmt.Fprintf(p.out, "  Estimated cost: $%.4f\n", totalCost)

	if len(failures) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, "Errors:")
		for _, e := range failures {
			fmt.Fprintf(p.out, "  [%d] %s: %v\n", e.Index, truncate(filepath.Base(e.Image), 40), e.Error)
		}
	}
}
