package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huey/internal/config"
	"github.com/dokzlo13/huey/internal/ledger"
)

// App is the main application container. Each CLI invocation builds one,
// runs a single command against it and closes it.
type App struct {
	cfg      *config.Config
	services *Services
}

// New creates a new App instance with all services initialized.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	if removed, err := services.PruneHistory(); err != nil {
		log.Warn().Err(err).Msg("Failed to prune history")
	} else if removed > 0 {
		log.Debug().Int64("removed", removed).Msg("Pruned old history entries")
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Hue returns the bridge-facing service.
func (a *App) Hue() *HueService {
	return a.services.Hue
}

// History returns the newest ledger entries, optionally for one light only.
func (a *App) History(lightID string, limit int) ([]*ledger.Entry, error) {
	if lightID != "" {
		return a.services.Ledger.ForLight(lightID, limit)
	}
	return a.services.Ledger.Recent(limit)
}

// Close releases all resources.
func (a *App) Close() error {
	if a.services != nil {
		a.services.Close()
	}
	return nil
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
