// Package bootstrap wires the stores, backends and orchestrator from Config.
// It is shared by the bot and the batch command.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/raine/telegram-recommender-bot/internal/blobstore"
	"github.com/raine/telegram-recommender-bot/internal/config"
	"github.com/raine/telegram-recommender-bot/internal/download"
	"github.com/raine/telegram-recommender-bot/internal/llm"
	"github.com/raine/telegram-recommender-bot/internal/metrics"
	"github.com/raine/telegram-recommender-bot/internal/recommend"
	"github.com/raine/telegram-recommender-bot/internal/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// newGeminiClient is replaced in tests.
var newGeminiClient = llm.NewGeminiClient

type App struct {
	// DB is nil when no database path is configured.
	DB           *storage.SQLiteStore
	Blobs        blobstore.Store
	Downloader   *download.ImageDownloader
	Metrics      *metrics.Metrics
	Orchestrator *recommend.Orchestrator

	// gemini is shared by the vision and text backends.
	gemini  *genai.Client
	closers []func() error
}

// New builds the application. Backends without credentials are left
// unconfigured; selecting them yields llm.ErrBackendUnavailable.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{
		Downloader: download.NewImageDownloader(),
		Metrics:    metrics.New(),
	}

	if err := app.openStores(cfg); err != nil {
		app.Close()
		return nil, err
	}

	vision, err := app.visionSet(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	text, err := app.textSet(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Orchestrator = recommend.New(app.Blobs, vision, text,
		recommend.Config{MaxImages: cfg.MaxImages, Concurrency: cfg.Concurrency},
		recommend.WithRecorder(app.Metrics),
	)
	return app, nil
}

func (a *App) openStores(cfg config.Config) error {
	resolver := blobstore.NewResolver(cfg.BlobNamespace, cfg.BlobDomain, cfg.BlobBaseURL)

	if cfg.DBPath != "" {
		db, err := storage.NewSQLiteStore(cfg.DBPath, resolver)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		log.Info().Str("dbPath", cfg.DBPath).Msg("database opened")
	}

	switch cfg.BlobStore {
	case config.BlobStoreSQLite:
		if a.DB == nil {
			return errors.New("sqlite blob store requires DB_PATH")
		}
		a.Blobs = a.DB
	case config.BlobStoreFile:
		fs, err := blobstore.NewFileStore(cfg.BlobDir, resolver)
		if err != nil {
			return err
		}
		a.Blobs = fs
	case config.BlobStoreMemory:
		a.Blobs = blobstore.NewMemoryStore(resolver)
	default:
		return fmt.Errorf("unknown blob store: %q", cfg.BlobStore)
	}

	log.Info().
		Str("store", cfg.BlobStore).
		Str("namespace", resolver.Namespace).
		Str("example", resolver.Resolve("0.jpg").URL).
		Msg("blob store initialized")
	return nil
}

func (a *App) guardConfig(cfg config.Config) llm.GuardConfig {
	g := llm.DefaultGuardConfig()
	g.RateLimit = cfg.ProviderRateLimit
	return g
}

func (a *App) visionSet(ctx context.Context, cfg config.Config) (llm.VisionSet, error) {
	var set llm.VisionSet

	if cfg.CloudVision {
		labeler, err := llm.NewCloudVisionLabeler(ctx, a.Blobs, cfg.MinConfidence, cfg.StructuredMaxLabels)
		if err != nil {
			log.Warn().Err(err).Msg("cloud vision unavailable, structured backend disabled")
		} else {
			a.closers = append(a.closers, labeler.Close)
			set.Structured = labeler
		}
	}

	switch cfg.GenerativeDriver {
	case config.DriverGemini:
		if cfg.GeminiAPIKey != "" {
			client, err := a.geminiClient(ctx, cfg)
			if err != nil {
				return set, err
			}
			set.Generative = llm.NewGeminiVision(client, a.Blobs, cfg.GeminiVisionModel, cfg.GenerativeMaxLabels)
		}
	default:
		if cfg.OpenAIAPIKey != "" || cfg.OpenAIBaseURL != "" {
			client := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
			var blobs llm.BlobReader = a.Blobs
			if cfg.BlobPublicURLs {
				blobs = nil
			}
			set.Generative = llm.NewOpenAIVision(client, blobs, cfg.OpenAIVisionModel, cfg.GenerativeMaxLabels)
		}
	}

	for _, b := range llm.VisionBackends {
		p, err := set.For(b)
		if err != nil {
			log.Warn().Str("backend", b.String()).Msg("vision backend not configured")
			continue
		}
		p = llm.GuardVision(b, p, a.guardConfig(cfg))
		if cfg.LabelCache && a.DB != nil {
			p = llm.NewCachedVision(p, b, a.DB)
		}
		switch b {
		case llm.VisionStructured:
			set.Structured = p
		case llm.VisionGenerative:
			set.Generative = p
		}
		log.Info().Str("backend", b.String()).Bool("labelCache", cfg.LabelCache && a.DB != nil).Msg("vision backend configured")
	}
	return set, nil
}

func (a *App) textSet(ctx context.Context, cfg config.Config) (llm.TextSet, error) {
	var set llm.TextSet

	if cfg.GeminiAPIKey != "" {
		client, err := a.geminiClient(ctx, cfg)
		if err != nil {
			return set, err
		}
		set.Fast = llm.NewGeminiText(client, cfg.GeminiTextModel)
	}
	if cfg.OpenAIAPIKey != "" || cfg.OpenAIBaseURL != "" {
		client := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		set.Accurate = llm.NewOpenAIText(client, cfg.OpenAITextModel)
	}
	set.OpenModel = llm.NewOllamaText(cfg.OllamaURL, cfg.OllamaModel, 0)

	for _, b := range llm.TextBackends {
		p, err := set.For(b)
		if err != nil {
			log.Warn().Str("backend", b.String()).Msg("text backend not configured")
			continue
		}
		p = llm.GuardText(b, p, a.guardConfig(cfg))
		switch b {
		case llm.TextFast:
			set.Fast = p
		case llm.TextAccurate:
			set.Accurate = p
		case llm.TextOpenModel:
			set.OpenModel = p
		}
		log.Info().Str("backend", b.String()).Msg("text backend configured")
	}
	return set, nil
}

// geminiClient returns the Gemini client, creating it on first use.
func (a *App) geminiClient(ctx context.Context, cfg config.Config) (*genai.Client, error) {
	if a.gemini != nil {
		return a.gemini, nil
	}
	client, err := newGeminiClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, err
	}
	a.gemini = client
	return client, nil
}

// Handler serves stored blobs under /blobs/ and metrics under /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/blobs/", http.StripPrefix("/blobs", blobstore.Handler(a.Blobs)))
	mux.Handle("/metrics", a.Metrics.Handler())
	return mux
}

// Serve runs the HTTP server on addr until ctx is done.
func (a *App) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown failed")
		}
	}()

	log.Info().Str("addr", addr).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve http: %w", err)
	}
	return nil
}

// Close releases backends and the database, most recently opened first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
