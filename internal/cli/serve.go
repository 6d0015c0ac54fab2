package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"confsite/internal/web"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(app *App) *cobra.Command {
	var addr string
	var authMode string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the public site and admin dashboard",
		Long: strings.TrimSpace(`
Serve the public conference site and the admin dashboard from one HTTP server.

Admin pages live under /admin; the JSON API under /api. Sign-in depends on auth.mode
in the site config (none|dev|magic). In magic mode sign-in links are written to
<dir>/web/outbox instead of being emailed.
`),
		Example: strings.TrimSpace(`
# Serve on localhost
confsite serve --addr 127.0.0.1:8080

# Local editing without sign-in
confsite serve --auth none
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			listenAddr := strings.TrimSpace(addr)
			if listenAddr == "" {
				listenAddr = app.cfg.Server.Addr
			}
			if listenAddr == "" {
				return writeErr(cmd, errors.New("serve: missing --addr"))
			}

			st, err := openStore(cmd, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer st.Close()
			ms, err := openMedia(app)
			if err != nil {
				return writeErr(cmd, err)
			}

			srv, err := web.NewServer(cmd.Context(), web.ServerConfig{
				Addr:     listenAddr,
				Dir:      app.Dir,
				ActorID:  strings.TrimSpace(app.ActorID),
				AuthMode: authMode,
				Site:     app.cfg,
				Store:    st,
				Media:    ms,
				Logger:   app.log,
			})
			if err != nil {
				return writeErr(cmd, err)
			}

			ln, err := net.Listen("tcp", listenAddr)
			if err != nil {
				return writeErr(cmd, err)
			}
			actualAddr := ln.Addr().String()
			url := "http://" + actualAddr + "/"

			_ = writeOut(cmd, app, map[string]any{
				"data": map[string]any{
					"addr":      actualAddr,
					"url":       url,
					"dir":       app.Dir,
					"authMode":  srv.AuthMode(),
					"startedAt": time.Now().UTC().Format(time.RFC3339Nano),
				},
				"_hints": []string{"open " + url, "open " + url + "admin"},
			})
			app.log.Info("serving", zap.String("url", url), zap.String("auth", srv.AuthMode()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveUntilDone(ctx, ln, srv.Handler(), app.log, srv.WatchStore)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Bind address (host:port or :port; default: server.addr from the config)")
	cmd.Flags().StringVar(&authMode, "auth", "", "Override auth.mode (none|dev|magic)")
	return cmd
}

// serveUntilDone serves on ln until ctx is cancelled, then shuts down gracefully. Each bg
// func runs alongside the server and must return once ctx is done.
func serveUntilDone(ctx context.Context, ln net.Listener, h http.Handler, log *zap.Logger, bg ...func(context.Context) error) error {
	hs := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return hs.Shutdown(sctx)
	})
	for _, f := range bg {
		g.Go(func() error { return f(gctx) })
	}
	return g.Wait()
}
