package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"confsite/internal/config"
	"confsite/internal/format"
	"confsite/internal/media"
	"confsite/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type App struct {
	Dir        string
	ConfigPath string
	ActorID    string
	PrettyJSON bool
	Verbose    bool

	cfg *config.Config
	log *zap.Logger
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "confsite",
		Short:        "Conference website CMS: public site, admin dashboard and CLI",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Create the data dir and default collections
  confsite init --admin chair@example.org

  # Run the site
  confsite serve --addr 127.0.0.1:8080

  # Reorder the schedule from the terminal
  confsite tui --collection schedule

  # Direct item lookup (shortcut for: confsite items show <item-id>)
  confsite itm-k3j9x2ab
`),
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.setup(cmd)
	}
	cmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if app.log != nil {
			_ = app.log.Sync()
		}
	}

	cmd.PersistentFlags().StringVar(&app.Dir, "dir", envOr("CONFSITE_DIR", ""), "Data dir (default: nearest .confsite/ upwards, else ./.confsite)")
	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", envOr("CONFSITE_CONFIG", ""), "Site config file (default: <dir>/"+config.FileName+")")
	cmd.PersistentFlags().StringVar(&app.ActorID, "actor", envOr("CONFSITE_ACTOR", ""), "Actor id recorded in the audit log (default: cli)")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print JSON output")
	cmd.PersistentFlags().BoolVarP(&app.Verbose, "verbose", "v", false, "Debug logging on stderr")

	cmd.AddCommand(newInitCmd(app))
	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newCollectionsCmd(app))
	cmd.AddCommand(newItemsCmd(app))
	cmd.AddCommand(newNewsCmd(app))
	cmd.AddCommand(newRegistrationsCmd(app))
	cmd.AddCommand(newAdminsCmd(app))
	cmd.AddCommand(newEventsCmd(app))
	cmd.AddCommand(newPublishCmd(app))
	cmd.AddCommand(newDocsCmd(app))
	cmd.AddCommand(newTUICmd(app))

	return cmd
}

// setup resolves the data dir and config, then builds the logger.
func (app *App) setup(cmd *cobra.Command) error {
	if strings.TrimSpace(app.Dir) == "" {
		d, err := store.DefaultDir()
		if err != nil {
			return writeErr(cmd, err)
		}
		app.Dir = d
	}
	app.Dir = filepath.Clean(app.Dir)
	if strings.TrimSpace(app.ConfigPath) == "" {
		app.ConfigPath = filepath.Join(app.Dir, config.FileName)
	}

	cfg, err := config.Load(app.ConfigPath)
	if err != nil {
		return writeErr(cmd, err)
	}
	app.cfg = cfg

	log, err := newLogger(cmd.ErrOrStderr(), cfg.Logging, app.Verbose)
	if err != nil {
		return writeErr(cmd, err)
	}
	app.log = log.With(zap.String("cmd", cmd.CommandPath()))
	return nil
}

func (app *App) actor() string {
	if a := strings.TrimSpace(app.ActorID); a != "" {
		return a
	}
	return "cli"
}

// openStore opens the workspace store. Callers close it.
func openStore(cmd *cobra.Command, app *App) (*store.Store, error) {
	st, err := store.Open(cmd.Context(), app.Dir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	app.log.Debug("store opened", zap.String("dir", st.Dir()))
	return st, nil
}

func openMedia(app *App) (*media.Store, error) {
	return media.Open(app.cfg.MediaPath(app.Dir), app.cfg.MaxUploadBytes())
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.WriteJSON(cmd.OutOrStdout(), v, app.PrettyJSON)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
