// Package repl implements the interactive studio: upload a product photo,
// plan and generate concepts, then iterate on them one command at a time.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/manash/jewelshoot/internal/auth"
	"github.com/manash/jewelshoot/internal/display"
	"github.com/manash/jewelshoot/internal/gallery"
	"github.com/manash/jewelshoot/internal/history"
	"github.com/manash/jewelshoot/internal/image"
	"github.com/manash/jewelshoot/internal/studio"
	"github.com/manash/jewelshoot/internal/usage"
	"github.com/manash/jewelshoot/pkg/models"
)

// PasswordFunc reads a secret without echoing it.
type PasswordFunc func(prompt string) (string, error)

type REPL struct {
	in        io.Reader
	out       io.Writer
	err       io.Writer
	studio    *studio.Orchestrator
	history   *history.Manager
	displayer *display.Displayer
	saver     *image.Saver
	gallery   *gallery.Service
	auth      *auth.Client
	gate      *usage.Gate
	password  PasswordFunc
	outDir    string
	commands  map[string]Command
	running   bool
}

// Config wires the REPL. Studio and Saver are required; a nil Gallery, Auth
// or History disables the commands that need them, and a nil Displayer
// falls back to text output.
type Config struct {
	In        io.Reader
	Out       io.Writer
	Err       io.Writer
	Studio    *studio.Orchestrator
	History   *history.Manager
	Displayer *display.Displayer
	Saver     *image.Saver
	Gallery   *gallery.Service
	Auth      *auth.Client
	Gate      *usage.Gate
	Password  PasswordFunc
	OutputDir string
}

func New(cfg *Config) *REPL {
	r := &REPL{
		in:        cfg.In,
		out:       cfg.Out,
		err:       cfg.Err,
		studio:    cfg.Studio,
		history:   cfg.History,
		displayer: cfg.Displayer,
		saver:     cfg.Saver,
		gallery:   cfg.Gallery,
		auth:      cfg.Auth,
		gate:      cfg.Gate,
		password:  cfg.Password,
		outDir:    cfg.OutputDir,
		commands:  make(map[string]Command),
	}
	if r.outDir == "" {
		r.outDir = "."
	}
	r.registerCommands()
	return r
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	return cmd.Execute(ctx, r, args)
}

// Upload loads path as the source photo, as the upload command does.
func (r *REPL) Upload(ctx context.Context, path string) error {
	return (&UploadCommand{}).Execute(ctx, r, []string{path})
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "jewelshoot studio")
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'quit' to exit.")
	if _, ok := r.studio.Source(); !ok {
		fmt.Fprintln(r.out, "Start with 'upload <photo>'.")
	}
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	snap := r.studio.Snapshot()
	sizing := r.studio.Sizing()
	tag := fmt.Sprintf("%s %s", sizing.Resolution.Label, sizing.AspectRatio.APIValue)

	switch {
	case snap.PendingAuth:
		fmt.Fprintf(r.out, "jewelshoot [%s] (sign in)> ", tag)
	case snap.Status != models.StatusIdle:
		fmt.Fprintf(r.out, "jewelshoot [%s] (%s)> ", tag, snap.Status)
	default:
		fmt.Fprintf(r.out, "jewelshoot [%s]> ", tag)
	}
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
