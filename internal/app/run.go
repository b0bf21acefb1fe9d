package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/alex/internal/config"
	"github.com/ent0n29/alex/internal/settings"
)

const janitorInterval = 5 * time.Second

// Run serves the API until ctx is done, then shuts the server down within
// the configured timeout. The session janitor and, for file-backed settings,
// the settings watcher run alongside it.
func (b *BuildResult) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              b.Config.BindAddr,
		Handler:           b.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", b.Config.BindAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", b.Config.BindAddr, err)
	}
	return b.serve(ctx, srv, ln)
}

func (b *BuildResult) serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.Logger.Info("server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("completion_mode", b.Config.CompletionMode),
			zap.String("speech", b.Speech.Detail),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		b.Logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.Config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			b.Logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = srv.Close()
		}
		return nil
	})

	g.Go(func() error {
		return b.Sessions.Run(gctx, janitorInterval)
	})

	if path := settings.WatchPath(b.Config.SettingsStore); path != "" {
		g.Go(func() error {
			err := settings.Watch(gctx, path, settings.DefaultWatchDebounce, b.Logger.Named("settings"), func() {
				b.Logger.Info("settings file changed")
				b.notifyPersonaChanged(gctx)
			})
			if err != nil {
				// Edits still apply on the next load; only live greetings miss them.
				b.Logger.Warn("settings watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	if b.Config.CompletionMode == config.CompletionGroq {
		g.Go(func() error {
			if err := probeEndpoint(b.Config.GroqAPIURL, 2*time.Second); err != nil {
				b.Logger.Warn("completion endpoint unreachable", zap.String("url", b.Config.GroqAPIURL), zap.Error(err))
			}
			return nil
		})
	}

	err := g.Wait()
	b.Logger.Info("shutdown complete")
	return err
}

func (b *BuildResult) notifyPersonaChanged(ctx context.Context) {
	for _, s := range b.Sessions.Active() {
		if s.Assistant != nil {
			s.Assistant.PersonaChanged(ctx)
		}
	}
}
