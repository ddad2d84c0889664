// Command fabelwerk is the personalized audio-story server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/tbleier/fabelwerk/internal/assemble"
	"github.com/tbleier/fabelwerk/internal/config"
	"github.com/tbleier/fabelwerk/internal/health"
	"github.com/tbleier/fabelwerk/internal/job"
	"github.com/tbleier/fabelwerk/internal/observe"
	"github.com/tbleier/fabelwerk/internal/orchestrator"
	"github.com/tbleier/fabelwerk/internal/scriptgen"
	"github.com/tbleier/fabelwerk/internal/server"
	"github.com/tbleier/fabelwerk/internal/storystore"
	"github.com/tbleier/fabelwerk/internal/synth"
	"github.com/tbleier/fabelwerk/internal/voice"
	"github.com/tbleier/fabelwerk/pkg/provider/image"
	oaimage "github.com/tbleier/fabelwerk/pkg/provider/image/openai"
	"github.com/tbleier/fabelwerk/pkg/provider/llm"
	"github.com/tbleier/fabelwerk/pkg/provider/llm/anyllm"
	oallm "github.com/tbleier/fabelwerk/pkg/provider/llm/openai"
	"github.com/tbleier/fabelwerk/pkg/provider/tts"
	"github.com/tbleier/fabelwerk/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fabelwerk: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fabelwerk: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("fabelwerk starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "fabelwerk"})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	if err := os.MkdirAll(cfg.Storage.MediaDir, 0o755); err != nil {
		slog.Error("could not create media directory", "dir", cfg.Storage.MediaDir, "err", err)
		return 1
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise storage", "err", err)
		return 1
	}
	defer closeStore()

	// ── Voice catalog ─────────────────────────────────────────────────────────
	catalog := voice.Default()
	if cfg.Voices.CatalogPath != "" {
		catalog, err = voice.Load(cfg.Voices.CatalogPath)
		if err != nil {
			slog.Error("failed to load voice catalog", "path", cfg.Voices.CatalogPath, "err", err)
			return 1
		}
	}
	slog.Info("voice catalog loaded", "voices", len(catalog.All()))

	// ── Providers ─────────────────────────────────────────────────────────────
	llmProv, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to create LLM provider", "err", err)
		return 1
	}
	ttsProv, err := buildTTS(cfg.Providers.TTS)
	if err != nil {
		slog.Error("failed to create TTS provider", "err", err)
		return 1
	}
	imgProv, err := buildImage(cfg.Providers.Image)
	if err != nil {
		slog.Error("failed to create image provider", "err", err)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	jobs := job.NewStore()
	go jobs.Sweep(ctx)

	synthOpts := []synth.Option{}
	if cfg.Audio.FFmpegPath != "" {
		synthOpts = append(synthOpts, synth.WithFFmpeg(cfg.Audio.FFmpegPath))
	}
	if cfg.Audio.DisableNormalization {
		synthOpts = append(synthOpts, synth.WithoutNormalization())
	}

	assembleOpts := []assemble.Option{
		assemble.WithGap(time.Duration(cfg.Audio.GapMS) * time.Millisecond),
		assemble.WithFadeIn(time.Duration(cfg.Audio.FadeInMS) * time.Millisecond),
	}
	if cfg.Audio.FFmpegPath != "" {
		assembleOpts = append(assembleOpts, assemble.WithFFmpeg(cfg.Audio.FFmpegPath))
	}

	orch := orchestrator.New(orchestrator.Config{
		Jobs:      jobs,
		Store:     store,
		Generator: scriptgen.New(llmProv),
		Catalog:   catalog,
		Synth:     synth.New(ttsProv, synthOpts...),
		Assembler: assemble.New(assembleOpts...),
		Images:    imgProv,
		MediaDir:  cfg.Storage.MediaDir,
	})

	// ── HTTP server ───────────────────────────────────────────────────────────
	checkers := []health.Checker{health.StorageChecker(store)}
	if ttsProv != nil {
		checkers = append(checkers, health.VoiceChecker(ttsProv))
	}

	srv := server.New(server.Config{
		Orchestrator:  orch,
		Health:        health.New(checkers...),
		MediaDir:      cfg.Storage.MediaDir,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready", "addr", cfg.Server.ListenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildStore selects the Postgres store when a DSN is configured and falls
// back to the in-memory store otherwise.
func buildStore(ctx context.Context, cfg *config.Config) (storystore.Store, func(), error) {
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("running on in-memory storage; drafts and stories vanish on restart")
		return storystore.NewMemStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	pg := storystore.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	slog.Info("postgres storage ready")
	return pg, pool.Close, nil
}

// buildLLM creates the configured LLM provider. The "openai" name uses the
// official client; every other name goes through the any-llm multiplexer.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "":
		return nil, nil
	case "openai":
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	default:
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	}
}

// buildTTS creates the configured TTS provider.
func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "":
		return nil, nil
	case "elevenlabs":
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

// buildImage creates the configured cover-art provider. Covers are optional,
// so an empty entry yields a nil provider, not an error.
func buildImage(entry config.ProviderEntry) (image.Provider, error) {
	switch entry.Name {
	case "":
		return nil, nil
	case "openai":
		var opts []oaimage.Option
		if entry.Model != "" {
			opts = append(opts, oaimage.WithModel(entry.Model))
		}
		return oaimage.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown image provider %q", entry.Name)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
