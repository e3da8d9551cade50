// Package engined hosts the daemon lifecycle: configuration, engine
// construction, signal handling, and graceful shutdown.
package engined

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/engine"
	"github.com/engramdb/engram/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// Run starts the engine with its maintenance scheduler and blocks until
// SIGINT or SIGTERM.
func Run() error {
	log := logger.New("engramd")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, engine.Options{Logger: &log})
	if err != nil {
		log.Error().Err(err).Msg("engine construction failed")
		return err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Str("embed_provider", cfg.EmbedProvider).
		Dur("decay_interval", cfg.DecayInterval).
		Msg("engram engine running")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := eng.Shutdown(ctxShutdown); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
		return err
	}
	log.Info().Msg("engine exited")
	return nil
}

// RunTask builds the engine, triggers one named maintenance task, and
// shuts down. Used for one-shot operational runs.
func RunTask(name string) error {
	log := logger.New("engramd")

	cfg, err := config.New()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, engine.Options{Logger: &log})
	if err != nil {
		return err
	}
	defer func() {
		ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := eng.Shutdown(ctxShutdown); err != nil {
			log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	if err := eng.TriggerTask(name); err != nil {
		return err
	}
	for _, stats := range eng.TaskStats() {
		if stats.Name != name {
			continue
		}
		if stats.LastError != "" {
			log.Warn().Str("task", name).Str("error", stats.LastError).Msg("task finished with error")
		} else {
			log.Info().Str("task", name).Dur("duration", stats.LastDuration).Msg("task finished")
		}
	}
	return nil
}
