package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/manash/jewelshoot/internal/auth"
	"github.com/manash/jewelshoot/internal/config"
	"github.com/manash/jewelshoot/internal/gallery"
	"github.com/manash/jewelshoot/internal/image"
	"github.com/manash/jewelshoot/internal/provider"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagConfig     string
	flagEnvFile    string
	flagAPIKey     string
	flagOutput     string
	flagKeep       string
	flagResolution string
	flagAspect     string
	flagShow       bool
	flagAddr       string
	flagReplyTo    string
	flagAdmin      bool
	flagPassword   string
	flagParallel   int
	flagStopOnErr  bool
	flagDelay      int
)

// App holds the process dependencies. Tests replace the constructors to
// avoid network backends.
type App struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	LoadConfig     func(opts config.LoadOptions) (*config.Config, error)
	NewProvider    func(ctx context.Context, cfg *config.Config, apiKey string, log zerolog.Logger) (provider.Provider, error)
	NewAccounts    func(cfg *config.Config) (auth.Backend, error)
	NewGalleryData func(ctx context.Context, cfg *config.Config) (*galleryData, error)
	NewSaver       func(cfg *config.Config) *image.Saver
	ReadPassword   func(prompt string) (string, error)
}

// galleryData groups the stores behind the gallery and the feedback board.
type galleryData struct {
	Blobs    gallery.BlobStore
	Records  gallery.RecordStore
	Messages gallery.FeedbackStore
}

func DefaultApp() *App {
	app := &App{
		In:             os.Stdin,
		Out:            os.Stdout,
		Err:            os.Stderr,
		LoadConfig:     config.Load,
		NewProvider:    newProvider,
		NewAccounts:    newAccounts,
		NewGalleryData: newGalleryData,
		NewSaver:       newSaver,
	}
	app.ReadPassword = app.readPassword
	return app
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jewelshoot",
		Short: "Turn one jewelry photo into styled product shots",
		Long: `jewelshoot plans three creative concepts for a jewelry product photo and
generates a styled shot for each: Studio Minimal, Dark Luxury and
Nature & Texture. Results can be regenerated, edited with plain-language
instructions, saved locally or kept in a shared gallery.

Examples:
  jewelshoot shoot ring.jpg -o shots/
  jewelshoot shoot ring.jpg -r 4k -a reels --keep "Gold ring"
  jewelshoot batch catalogue.txt -o shots/ --parallel 2
  jewelshoot studio ring.jpg
  jewelshoot serve --addr :8080`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: jewelshoot.yaml in the config directory)")
	cmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "dotenv file loaded before the environment")

	cmd.AddCommand(
		newShootCmd(app),
		newBatchCmd(app),
		newStudioCmd(app),
		newServeCmd(app),
		newGalleryCmd(app),
		newFeedbackCmd(app),
		newAuthCmd(app),
		newUsageCmd(app),
		newKeysCmd(app),
		newHistoryCmd(app),
		newPricingCmd(app),
	)
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func (a *App) readPassword(prompt string) (string, error) {
	fmt.Fprint(a.Err, prompt)
	defer fmt.Fprintln(a.Err)

	f, ok := a.In.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("password prompt needs a terminal, use --password")
	}
	b, err := term.ReadPassword(int(f.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}
