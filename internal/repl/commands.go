package repl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/manash/jewelshoot/internal/gallery"
	"github.com/manash/jewelshoot/internal/history"
	"github.com/manash/jewelshoot/internal/image"
	"github.com/manash/jewelshoot/internal/studio"
	"github.com/manash/jewelshoot/pkg/models"
)

const timeFormat = "2006-01-02 15:04"

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

func (r *REPL) registerCommands() {
	commands := []Command{
		&UploadCommand{},
		&ShootCommand{},
		&ListCommand{},
		&ShowCommand{},
		&RegenCommand{},
		&EditCommand{},
		&SizeCommand{},
		&SaveCommand{},
		&KeepCommand{},
		&GalleryCommand{},
		&LoginCommand{},
		&LogoutCommand{},
		&QuotaCommand{},
		&HistoryCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}

	for _, cmd := range commands {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// concept resolves a 1-based concept number from the current snapshot.
func (r *REPL) concept(arg string) (models.Concept, int, error) {
	concepts := r.studio.Snapshot().Concepts
	if len(concepts) == 0 {
		return models.Concept{}, 0, fmt.Errorf("no concepts yet, run 'shoot' first")
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(concepts) {
		return models.Concept{}, 0, fmt.Errorf("concept must be a number from 1 to %d", len(concepts))
	}
	return concepts[n-1], n - 1, nil
}

// waitAndReport blocks until in-flight attempts settle and prints the
// resulting concept list.
func (r *REPL) waitAndReport(ctx context.Context) error {
	fmt.Fprintln(r.out, "Generating...")
	if err := r.studio.Wait(ctx); err != nil {
		return err
	}
	return r.listConcepts()
}

func (r *REPL) listConcepts() error {
	snap := r.studio.Snapshot()
	if snap.Status == models.StatusError && snap.Error != "" {
		fmt.Fprintf(r.out, "Last error: %s\n", snap.Error)
	}
	if len(snap.Concepts) == 0 {
		fmt.Fprintln(r.out, "No concepts yet")
		return nil
	}
	for i, c := range snap.Concepts {
		state := "ready"
		switch {
		case c.IsLoadingImage:
			state = "generating"
		case c.Image == nil:
			state = "failed"
		}
		fmt.Fprintf(r.out, "[%d] %-18s %-10s %s\n", i+1, c.Style.Label(), state, truncate(c.Description, 60))
	}
	return nil
}

func (r *REPL) show(c models.Concept) error {
	if c.Image == nil {
		return fmt.Errorf("%w: %s", studio.ErrNoImage, c.Style.Label())
	}
	if r.displayer == nil {
		fmt.Fprintf(r.out, "%s: %s, %d bytes (inline display unavailable, use 'save')\n",
			c.Style.Label(), c.Image.MIMEType, len(c.Image.Data))
		return nil
	}
	return r.displayer.Show(*c.Image)
}

// UploadCommand sets the source photo
type UploadCommand struct{}

func (c *UploadCommand) Name() string        { return "upload" }
func (c *UploadCommand) Aliases() []string   { return []string{"open", "source"} }
func (c *UploadCommand) Description() string { return "Load a product photo (PNG, JPEG or WebP, max 5 MB)" }
func (c *UploadCommand) Usage() string       { return "upload <path>" }

func (c *UploadCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	path := strings.Join(args, " ")

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if err := r.studio.SetSource(data); err != nil {
		return err
	}

	src, _ := r.studio.Source()
	if r.history != nil {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if _, err := r.history.StartShoot(ctx, name, src, r.studio.Sizing()); err != nil {
			fmt.Fprintf(r.err, "Warning: shoot not recorded: %v\n", err)
		}
	}
	fmt.Fprintf(r.out, "Loaded %s (%s, %d KB)\n", path, src.MIMEType, len(src.Data)/1024)
	return nil
}

// ShootCommand plans and generates concepts
type ShootCommand struct{}

func (c *ShootCommand) Name() string        { return "shoot" }
func (c *ShootCommand) Aliases() []string   { return []string{"generate", "gen", "g"} }
func (c *ShootCommand) Description() string { return "Plan concepts for the photo and generate them" }
func (c *ShootCommand) Usage() string       { return "shoot" }

func (c *ShootCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Planning concepts...")
	err := r.studio.StartGeneration(ctx)
	if errors.Is(err, studio.ErrAuthRequired) {
		fmt.Fprintln(r.out, "Your free trial is used up. Sign in with 'login <email>' and the shoot will continue.")
		return nil
	}
	if err != nil {
		return err
	}
	return r.waitAndReport(ctx)
}

// ListCommand prints the current concepts
type ListCommand struct{}

func (c *ListCommand) Name() string        { return "list" }
func (c *ListCommand) Aliases() []string   { return []string{"ls", "concepts"} }
func (c *ListCommand) Description() string { return "List concepts and their state" }
func (c *ListCommand) Usage() string       { return "list" }

func (c *ListCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	return r.listConcepts()
}

// ShowCommand displays concept images
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"display", "view"} }
func (c *ShowCommand) Description() string { return "Display one concept, or all of them" }
func (c *ShowCommand) Usage() string       { return "show [n]" }

func (c *ShowCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) > 0 {
		concept, _, err := r.concept(args[0])
		if err != nil {
			return err
		}
		return r.show(concept)
	}

	concepts := r.studio.Snapshot().Concepts
	if len(concepts) == 0 {
		return fmt.Errorf("no concepts yet, run 'shoot' first")
	}
	if r.displayer == nil {
		return r.listConcepts()
	}
	return r.displayer.ShowConcepts(concepts)
}

// RegenCommand re-runs generation for one concept
type RegenCommand struct{}

func (c *RegenCommand) Name() string        { return "regen" }
func (c *RegenCommand) Aliases() []string   { return []string{"regenerate", "r"} }
func (c *RegenCommand) Description() string { return "Generate a fresh image for a concept at the current size" }
func (c *RegenCommand) Usage() string       { return "regen <n>" }

func (c *RegenCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	concept, _, err := r.concept(args[0])
	if err != nil {
		return err
	}
	if err := r.studio.Regenerate(concept.ID); err != nil {
		return err
	}
	return r.waitAndReport(ctx)
}

// EditCommand applies an instruction to a concept image
type EditCommand struct{}

func (c *EditCommand) Name() string        { return "edit" }
func (c *EditCommand) Aliases() []string   { return []string{"e", "refine"} }
func (c *EditCommand) Description() string { return "Edit a concept image with an instruction" }
func (c *EditCommand) Usage() string       { return "edit <n> <instruction>" }

func (c *EditCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	concept, _, err := r.concept(args[0])
	if err != nil {
		return err
	}

	instruction := strings.Join(args[1:], " ")
	fmt.Fprintf(r.out, "Editing %s: %q\n", concept.Style.Label(), truncate(instruction, 50))
	if err := r.studio.ConfirmEdit(ctx, concept.ID, instruction); err != nil {
		return err
	}

	updated, ok := r.studio.Snapshot().Concept(concept.ID)
	if !ok {
		return studio.ErrSessionReset
	}
	fmt.Fprintf(r.out, "Updated %s\n", updated.Style.Label())
	if r.displayer != nil {
		return r.show(updated)
	}
	return nil
}

// SizeCommand gets or sets the output sizing
type SizeCommand struct{}

func (c *SizeCommand) Name() string        { return "size" }
func (c *SizeCommand) Aliases() []string   { return []string{"sizing", "res"} }
func (c *SizeCommand) Description() string { return "Get or set resolution and aspect ratio" }
func (c *SizeCommand) Usage() string       { return "size [2k|4k|8k] [square|reels]" }

func (c *SizeCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	current := r.studio.Sizing()
	if len(args) == 0 {
		fmt.Fprintf(r.out, "Current size: %s, %s (%s)\n",
			current.Resolution.Label, current.AspectRatio.Label, current.AspectRatio.APIValue)
		fmt.Fprintln(r.out, "\nResolutions:")
		for _, o := range models.ResolutionOptions() {
			fmt.Fprintf(r.out, "  %-6s %s\n", o.ID, o.Description)
		}
		fmt.Fprintln(r.out, "Aspect ratios:")
		for _, o := range models.AspectRatioOptions() {
			fmt.Fprintf(r.out, "  %-6s %s (%s)\n", o.ID, o.Description, o.APIValue)
		}
		return nil
	}

	res := current.Resolution.ID
	ar := current.AspectRatio.ID
	for _, arg := range args {
		arg = strings.ToLower(arg)
		if _, ok := models.FindResolution(models.ResolutionID(arg)); ok {
			res = models.ResolutionID(arg)
			continue
		}
		if _, ok := models.FindAspectRatio(models.AspectRatioID(arg)); ok {
			ar = models.AspectRatioID(arg)
			continue
		}
		return fmt.Errorf("unknown size option: %s\nUsage: %s", arg, c.Usage())
	}

	sizing := r.studio.SetSizing(res, ar)
	if r.history != nil {
		if err := r.history.UpdateSizing(ctx, sizing); err != nil && !errors.Is(err, history.ErrNoShoot) {
			fmt.Fprintf(r.err, "Warning: sizing not recorded: %v\n", err)
		}
	}
	fmt.Fprintf(r.out, "Size set to %s, %s\n", sizing.Resolution.Label, sizing.AspectRatio.Label)
	return nil
}

// SaveCommand writes concept images to disk
type SaveCommand struct{}

func (c *SaveCommand) Name() string        { return "save" }
func (c *SaveCommand) Aliases() []string   { return []string{"s", "export"} }
func (c *SaveCommand) Description() string { return "Save one concept, or all of them, to disk" }
func (c *SaveCommand) Usage() string       { return "save [n] [path]" }

func (c *SaveCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) > 0 {
		if _, err := strconv.Atoi(args[0]); err == nil {
			return c.saveOne(r, args[0], args[1:])
		}
	}

	dir := r.outDir
	if len(args) > 0 {
		dir = args[0]
	}
	paths, err := r.saver.SaveConcepts(ctx, r.studio.Snapshot().Concepts, dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no concept images to save")
	}
	for _, p := range paths {
		fmt.Fprintf(r.out, "Saved: %s\n", p)
	}
	return nil
}

func (c *SaveCommand) saveOne(r *REPL, arg string, rest []string) error {
	concept, index, err := r.concept(arg)
	if err != nil {
		return err
	}
	if concept.Image == nil {
		return fmt.Errorf("%w: %s", studio.ErrNoImage, concept.Style.Label())
	}

	path := filepath.Join(r.outDir, image.ConceptFilename(index, concept))
	if len(rest) > 0 {
		path = strings.Join(rest, " ")
	}
	if err := r.saver.Save(*concept.Image, path); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Saved: %s\n", path)
	return nil
}

// KeepCommand pushes a concept image to the shared gallery
type KeepCommand struct{}

func (c *KeepCommand) Name() string        { return "keep" }
func (c *KeepCommand) Aliases() []string   { return []string{"k", "publish"} }
func (c *KeepCommand) Description() string { return "Keep a concept in the gallery under a name" }
func (c *KeepCommand) Usage() string       { return "keep <n> <name>" }

func (c *KeepCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.gallery == nil {
		return fmt.Errorf("gallery is not configured")
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	concept, _, err := r.concept(args[0])
	if err != nil {
		return err
	}
	if concept.Image == nil {
		return fmt.Errorf("%w: %s", studio.ErrNoImage, concept.Style.Label())
	}

	rec, err := r.gallery.Save(ctx, *concept.Image, strings.Join(args[1:], " "), concept.Style, concept.Description)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Kept %q as #%s\n%s\n", rec.Name, rec.ID, rec.ImageURL)
	return nil
}

// GalleryCommand browses kept images
type GalleryCommand struct{}

func (c *GalleryCommand) Name() string        { return "gallery" }
func (c *GalleryCommand) Aliases() []string   { return []string{"gal"} }
func (c *GalleryCommand) Description() string { return "Browse kept images (list, show, delete)" }
func (c *GalleryCommand) Usage() string       { return "gallery [list|show <id>|delete <id>]" }

func (c *GalleryCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.gallery == nil {
		return fmt.Errorf("gallery is not configured")
	}
	if len(args) == 0 {
		return c.list(ctx, r)
	}

	subCmd := strings.ToLower(args[0])
	switch subCmd {
	case "list", "ls":
		return c.list(ctx, r)
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("usage: gallery show <id>")
		}
		rec, err := r.gallery.Find(ctx, gallery.ID(args[1]))
		if err != nil {
			return err
		}
		if r.displayer == nil {
			fmt.Fprintln(r.out, rec.ImageURL)
			return nil
		}
		return r.displayer.ShowURL(ctx, rec.ImageURL)
	case "delete", "rm":
		if len(args) < 2 {
			return fmt.Errorf("usage: gallery delete <id>")
		}
		rec, err := r.gallery.Find(ctx, gallery.ID(args[1]))
		if err != nil {
			return err
		}
		if err := r.gallery.Delete(ctx, rec.ID, rec.ImageURL); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Deleted %q\n", rec.Name)
		return nil
	default:
		return fmt.Errorf("unknown gallery command: %s\nUsage: %s", subCmd, c.Usage())
	}
}

func (c *GalleryCommand) list(ctx context.Context, r *REPL) error {
	recs, err := r.gallery.List(ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(r.out, "Gallery is empty")
		return nil
	}

	fmt.Fprintf(r.out, "%-6s  %-24s  %-18s  %s\n", "ID", "Name", "Style", "Created")
	fmt.Fprintln(r.out, strings.Repeat("-", 70))
	for _, rec := range recs {
		fmt.Fprintf(r.out, "%-6s  %-24s  %-18s  %s\n",
			truncate(string(rec.ID), 6),
			truncate(rec.Name, 24),
			rec.Style.Label(),
			rec.CreatedAt.Local().Format(timeFormat))
	}
	return nil
}

// LoginCommand signs in and resumes a deferred shoot
type LoginCommand struct{}

func (c *LoginCommand) Name() string        { return "login" }
func (c *LoginCommand) Aliases() []string   { return []string{"signin"} }
func (c *LoginCommand) Description() string { return "Sign in for unlimited shoots" }
func (c *LoginCommand) Usage() string       { return "login <email> [password]" }

func (c *LoginCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.auth == nil {
		return fmt.Errorf("sign in is not configured")
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}

	password := ""
	if len(args) > 1 {
		password = args[1]
	} else if r.password != nil {
		p, err := r.password("Password: ")
		if err != nil {
			return err
		}
		password = p
	}

	sess, err := r.auth.SignIn(ctx, args[0], password)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Signed in as %s\n", sess.Email)

	resumed, err := r.studio.ResumeAfterAuth(ctx)
	if err != nil {
		return err
	}
	if resumed {
		fmt.Fprintln(r.out, "Resuming shoot...")
		return r.waitAndReport(ctx)
	}
	return nil
}

// LogoutCommand signs out
type LogoutCommand struct{}

func (c *LogoutCommand) Name() string        { return "logout" }
func (c *LogoutCommand) Aliases() []string   { return []string{"signout"} }
func (c *LogoutCommand) Description() string { return "Sign out" }
func (c *LogoutCommand) Usage() string       { return "logout" }

func (c *LogoutCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if r.auth == nil {
		return fmt.Errorf("sign in is not configured")
	}
	if err := r.auth.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Signed out")
	return nil
}

// QuotaCommand shows sign-in state and free trial usage
type QuotaCommand struct{}

func (c *QuotaCommand) Name() string        { return "quota" }
func (c *QuotaCommand) Aliases() []string   { return []string{"usage", "whoami"} }
func (c *QuotaCommand) Description() string { return "Show sign-in state and remaining free shoots" }
func (c *QuotaCommand) Usage() string       { return "quota" }

func (c *QuotaCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	if r.auth != nil {
		if sess, ok := r.auth.Session(); ok {
			fmt.Fprintf(r.out, "Signed in as %s: unlimited shoots\n", sess.Email)
			return nil
		}
	}
	if r.gate == nil {
		fmt.Fprintln(r.out, "Not signed in")
		return nil
	}

	rec := r.gate.Record(ctx)
	fmt.Fprintf(r.out, "Not signed in: %d free shoot(s) remaining\n", r.gate.Remaining(ctx))
	if rec.LastUsed != nil {
		fmt.Fprintf(r.out, "Last used: %s\n", rec.LastUsed.Local().Format(timeFormat))
	}
	return nil
}

// HistoryCommand shows recorded iterations
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "Show iterations of this shoot, or of one concept" }
func (c *HistoryCommand) Usage() string       { return "history [n]" }

func (c *HistoryCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if r.history == nil {
		return fmt.Errorf("history is not configured")
	}
	sh := r.history.Current()
	if sh == nil {
		return history.ErrNoShoot
	}

	var iterations []*history.Iteration
	var err error
	if len(args) > 0 {
		concept, _, cerr := r.concept(args[0])
		if cerr != nil {
			return cerr
		}
		iterations, err = r.history.ConceptHistory(ctx, concept.ID)
	} else {
		iterations, err = r.history.Iterations(ctx, sh.ID)
	}
	if err != nil {
		return err
	}

	if len(iterations) == 0 {
		fmt.Fprintln(r.out, "No history yet")
		return nil
	}
	for i, it := range iterations {
		fmt.Fprintf(r.out, "[%d] %s %-10s %-18s %s\n",
			i+1,
			it.CreatedAt.Local().Format(timeFormat),
			it.Operation,
			it.Style.Label(),
			it.ImagePath)
	}
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help [command]" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) > 0 {
		cmd, ok := r.commands[strings.ToLower(args[0])]
		if !ok {
			return fmt.Errorf("unknown command: %s", args[0])
		}
		fmt.Fprintf(r.out, "%s - %s\n", cmd.Name(), cmd.Description())
		fmt.Fprintf(r.out, "Usage: %s\n", cmd.Usage())
		if aliases := cmd.Aliases(); len(aliases) > 0 {
			fmt.Fprintf(r.out, "Aliases: %s\n", strings.Join(aliases, ", "))
		}
		return nil
	}

	fmt.Fprintln(r.out, "Available commands:")
	seen := make(map[string]bool)
	for _, cmd := range []string{
		"upload", "shoot", "list", "show", "regen", "edit", "size", "save",
		"keep", "gallery", "login", "logout", "quota", "history", "help", "quit",
	} {
		if command, ok := r.commands[cmd]; ok && !seen[command.Name()] {
			seen[command.Name()] = true
			fmt.Fprintf(r.out, "  %-28s %s\n", command.Usage(), command.Description())
		}
	}
	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit the studio" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
