package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/PerceptivePenguin/ragcore/internal/httpapi"
	"github.com/PerceptivePenguin/ragcore/internal/orchestrator"
	"github.com/PerceptivePenguin/ragcore/internal/rag"
	"github.com/PerceptivePenguin/ragcore/internal/session"
	"github.com/PerceptivePenguin/ragcore/pkg/config"
)

const (
	appName    = "ragserver"
	appVersion = "0.1.0"
)

// cliFlags overrides the loaded ApplicationConfig where set explicitly.
type cliFlags struct {
	configFile      string
	host            string
	port            int
	embeddingAPIKey string
	embeddingURL    string
	generationURL   string
	generationKey   string
}

func main() {
	flags := parseFlags()

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := config.ValidateConfig(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging)
	log.Info().Str("version", appVersion).Msg("starting ragserver")

	srv, err := buildServer(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel, log)

	if err := run(ctx, cfg, srv, log); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}

	log.Info().Msg("ragserver exited cleanly")
}

func parseFlags() cliFlags {
	var flags cliFlags

	flag.StringVar(&flags.configFile, "config", "", "path to a JSON or YAML config file")
	flag.StringVar(&flags.host, "host", "", "override the HTTP listen host")
	flag.IntVar(&flags.port, "port", 0, "override the HTTP listen port")
	flag.StringVar(&flags.embeddingAPIKey, "embedding-api-key", os.Getenv("RAG_EMBEDDING_API_KEY"), "embedding provider API key")
	flag.StringVar(&flags.embeddingURL, "embedding-base-url", "", "embedding provider base URL")
	flag.StringVar(&flags.generationKey, "generation-api-key", os.Getenv("RAG_GENERATION_API_KEY"), "generation provider API key")
	flag.StringVar(&flags.generationURL, "generation-base-url", "", "generation provider base URL")

	version := flag.Bool("version", false, "show version")
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	return flags
}

func loadConfig(flags cliFlags) (config.ApplicationConfig, error) {
	cfg := config.DefaultApplicationConfig()

	if flags.configFile != "" {
		if err := config.LoadFromFile(flags.configFile, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	// loadFromEnv only walks a target's direct fields, so each nested or
	// embedded config struct needs its own loader call. Embedding and
	// Generation share field names (APIKey, BaseURL, Model) and so need
	// distinct prefixes to avoid colliding on the same environment variable.
	if err := loadEnvInto(&cfg.Server, "RAG"); err != nil {
		return cfg, fmt.Errorf("load server env overrides: %w", err)
	}
	if err := loadEnvInto(&cfg.Logging, "RAG"); err != nil {
		return cfg, fmt.Errorf("load logging env overrides: %w", err)
	}
	if err := loadEnvInto(&cfg.Session, "RAG"); err != nil {
		return cfg, fmt.Errorf("load session env overrides: %w", err)
	}
	if err := loadEnvInto(&cfg.Embedding, "RAG_EMBEDDING"); err != nil {
		return cfg, fmt.Errorf("load embedding env overrides: %w", err)
	}
	if err := loadEnvInto(&cfg.Embedding.ConnectionConfig, "RAG_EMBEDDING"); err != nil {
		return cfg, fmt.Errorf("load embedding connection env overrides: %w", err)
	}
	if err := loadEnvInto(&cfg.Generation, "RAG_GENERATION"); err != nil {
		return cfg, fmt.Errorf("load generation env overrides: %w", err)
	}
	if err := loadEnvInto(&cfg.Generation.ConnectionConfig, "RAG_GENERATION"); err != nil {
		return cfg, fmt.Errorf("load generation connection env overrides: %w", err)
	}

	if flags.host != "" {
		cfg.Server.Host = flags.host
	}
	if flags.port != 0 {
		cfg.Server.Port = flags.port
	}
	if flags.embeddingAPIKey != "" {
		cfg.Embedding.APIKey = flags.embeddingAPIKey
	}
	if flags.embeddingURL != "" {
		cfg.Embedding.BaseURL = flags.embeddingURL
	}
	if flags.generationKey != "" {
		cfg.Generation.APIKey = flags.generationKey
	}
	if flags.generationURL != "" {
		cfg.Generation.BaseURL = flags.generationURL
	}

	return cfg, nil
}

func loadEnvInto(target interface{}, prefix string) error {
	mgr := config.NewManager()
	mgr.AddLoader(config.NewEnvLoader(prefix))
	return mgr.Load(target)
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

func buildServer(cfg config.ApplicationConfig, log zerolog.Logger) (*http.Server, error) {
	embedder := rag.NewEmbeddingClient(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, rag.EmbeddingProviderConfig{
		Model:                 cfg.Embedding.Model,
		MaxConcurrentRequests: 5,
		MaxRetries:            rag.DefaultEmbeddingProviderConfig().MaxRetries,
		RequestTimeout:        cfg.Embedding.RequestTimeout,
		CacheDuration:         30 * time.Minute,
	}, log)

	generator := rag.NewGenerationClient(rag.GenerationProviderConfig{
		BaseURL:        cfg.Generation.BaseURL,
		APIKey:         cfg.Generation.APIKey,
		Model:          cfg.Generation.Model,
		MaxRetries:     rag.DefaultGenerationProviderConfig().MaxRetries,
		RequestTimeout: cfg.Generation.RequestTimeout,
	}, log)

	orch := orchestrator.New(embedder, generator)
	sessionTTL := time.Duration(cfg.Session.SessionTTLSeconds) * time.Second
	mgr := session.NewManager(sessionTTL)

	api := httpapi.New(mgr, orch, httpapi.AllowAll, cfg.Server.CORS.AllowedOrigins)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, nil
}

func setupSignalHandler(cancel context.CancelFunc, log zerolog.Logger) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Info().Msg("received interrupt signal, shutting down")
		cancel()
	}()
}

func run(ctx context.Context, cfg config.ApplicationConfig, srv *http.Server, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
