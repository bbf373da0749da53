package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/banux/caderneta/internal/album"
	"github.com/banux/caderneta/internal/app"
	fsbackend "github.com/banux/caderneta/internal/backend/fs"
	sqlitebackend "github.com/banux/caderneta/internal/backend/sqlite"
	"github.com/banux/caderneta/internal/config"
	"github.com/banux/caderneta/internal/importer"
	"github.com/banux/caderneta/internal/normalize"
	"github.com/banux/caderneta/internal/persist"
	"github.com/banux/caderneta/internal/server"
	"github.com/banux/caderneta/web"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	cfgPath := config.FindConfigFile()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(lvl)
	} else {
		logger.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, using info")
		logger = logger.Level(zerolog.InfoLevel)
	}
	if cfgPath != "" {
		logger.Info().Str("path", cfgPath).Msg("config loaded")
	}
	if cfg.Password == "" {
		logger.Warn().Msg("AUTH_PASSWORD is not set – authentication is disabled")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("caderneta stopped")
	}
}

func openBackend(cfg config.Config) (album.Backend, error) {
	switch cfg.Backend {
	case "fs":
		return fsbackend.New(cfg.DataDir, cfg.QuotaBytes)
	case "sqlite":
		return sqlitebackend.New(cfg.DataDir, cfg.QuotaBytes)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("storage backend: %w", err)
	}
	defer backend.Close()

	norm, err := normalize.New(cfg.JPEGQuality, cfg.Resampler)
	if err != nil {
		return err
	}
	policy, err := importer.ParsePolicy(cfg.PersistPolicy)
	if err != nil {
		return err
	}

	manager := persist.New(backend, cfg.StorageKey, cfg.TotalSlots)
	manager.SetLogger(logger.With().Str("component", "persist").Logger())

	coord := importer.New(manager, norm, policy)
	coord.SetLogger(logger.With().Str("component", "import").Logger())

	ctrl := app.New(ctx, manager, coord, app.Options{
		PageSize:       cfg.PageSize,
		PageTurnDelay:  cfg.PageTurnDelay,
		DoubleTapDelay: cfg.DoubleTapDelay,
	})
	ctrl.SetLogger(logger.With().Str("component", "album").Logger())

	view := ctrl.View()
	ev := logger.Info().
		Str("backend", cfg.Backend).
		Str("data_dir", cfg.DataDir).
		Int("stickers", view.Occupied).
		Int("slots", view.Total)
	if cfg.QuotaBytes > 0 {
		ev = ev.Str("quota", humanize.Bytes(uint64(cfg.QuotaBytes)))
	}
	ev.Msg("album loaded")

	opts := server.Options{
		Password: cfg.Password,
		StaticFS: web.FS,
	}
	if u, ok := backend.(album.Usage); ok {
		opts.Usage = u
	}

	srv := server.New(ctrl, opts)
	srv.SetLogger(logger.With().Str("component", "http").Logger())

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("caderneta starting")
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
