package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/palskill/internal/api"
	"github.com/nidhogg/palskill/internal/config"
	"github.com/nidhogg/palskill/internal/embedding"
	"github.com/nidhogg/palskill/internal/events"
	"github.com/nidhogg/palskill/internal/library"
	"github.com/nidhogg/palskill/internal/registry"
	"github.com/nidhogg/palskill/internal/skill"
	"github.com/nidhogg/palskill/internal/vectorstore"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the skill library and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", envOr("CONFIG_PATH", "configs/palskill.json"), "config file (.json or .yaml)")
	return cmd
}

func serve(cfgPath string) error {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := loadConfig(cfgPath, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := embedding.New(cfg.Embedding)
	if err != nil {
		return err
	}
	cache := embedding.NewCache(provider, cfg.Embedding.Dimension, logger)

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	opts := []registry.Option{registry.WithStore(store)}

	if cfg.Events.Enabled {
		bus, err := events.NewBus(ctx, cfg.Database.Redis.URL, cfg.Events.Stream, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without events", zap.Error(err))
		} else {
			opts = append(opts, registry.WithNotifier(bus))
			closers = append(closers, func() { bus.Close() })
		}
	}

	if cfg.Database.Qdrant.Host != "" {
		ix, err := vectorstore.NewIndex(cfg.Database.Qdrant)
		if err == nil {
			err = ix.Ensure(ctx, uint64(cache.Dimension()))
		}
		if err != nil {
			logger.Warn("Qdrant unavailable, scoring skills locally", zap.Error(err))
		} else {
			opts = append(opts, registry.WithIndex(ix))
			closers = append(closers, func() { ix.Close() })
		}
	}

	sc := cfg.Skills
	reg := registry.New(registry.Config{
		Mode:           sc.Mode,
		FromDefault:    sc.LoadLibrary(),
		MaxCount:       sc.MaxCount,
		Basic:          sc.Basic,
		Allow:          sc.Allow,
		Deny:           sc.Deny,
		Groups:         sc.Groups,
		PostActionWait: sc.PostActionWait(),
		NopWait:        sc.NopWait(),
		Sandbox:        sc.Sandbox,
	}, cache, logger, opts...)

	defs := skill.Builtins(skill.LogActuator{Logger: logger.Named("actuator")})
	scripts, err := skill.LoadScripts(sc.ScriptsDir)
	if err != nil {
		return err
	}
	for _, s := range scripts {
		prog, err := reg.Sandbox().Compile(ctx, s.Code)
		if err != nil {
			logger.Warn("skipping skill script", zap.String("path", s.Path), zap.Error(err))
			continue
		}
		defs = append(defs, prog.Definition(skill.OriginScript))
	}

	if err := reg.Load(ctx, defs); err != nil {
		return err
	}
	if len(sc.Candidates) > 0 {
		reg.RestrictTo(ctx, sc.Candidates)
	}

	handler := api.NewHandler(reg, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("palskill listening", zap.Int("port", cfg.Server.Port), zap.Int("skills", len(reg.Names())))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down palskill")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if err := reg.Save(shutdownCtx); err != nil {
		logger.Error("failed to save skill library", zap.Error(err))
	}
	return nil
}

func loadConfig(path string, logger *zap.Logger) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warn("config file not found, using defaults", zap.String("path", path))
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings {
		logger.Warn(w, zap.String("path", path))
	}
	logger.Info("config loaded", zap.String("path", path))
	return cfg, nil
}

// openStore builds the library backend named in the config.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (library.Store, func(), error) {
	name := strings.TrimSuffix(library.FileName(cfg.Skills.Mode), ".json")
	switch cfg.Skills.Backend {
	case config.BackendPostgres:
		s, err := library.NewPostgresStore(ctx, cfg.Database.Postgres.DSN, name, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("migrate skill library: %w", err)
		}
		return s, s.Close, nil
	case config.BackendRedis:
		s, err := library.NewRedisStore(ctx, cfg.Database.Redis.URL, name, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		if err := os.MkdirAll(cfg.Skills.LocalPath, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create %s: %w", cfg.Skills.LocalPath, err)
		}
		return library.NewFileStore(cfg.Skills.LocalPath, cfg.Skills.Mode), func() {}, nil
	}
}
