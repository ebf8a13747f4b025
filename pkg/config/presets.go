package config

import (
	"fmt"
	"time"

	"github.com/PerceptivePenguin/ragcore/pkg/types"
)

// Common config presets reused across the server entrypoint, kept in the
// shape the teacher's pkg/config/presets.go uses (embedded BaseConfig /
// MonitoringConfig, Default* constructors, a Validate method on the
// top-level config) but narrowed to what an HTTP RAG service actually
// needs: no database/cache presets, since the core holds everything
// in-memory per session.

// ServerConfig is the HTTP server configuration for cmd/ragserver.
type ServerConfig struct {
	types.BaseConfig
	types.MonitoringConfig

	Host         string        `json:"host" yaml:"host" env:"HOST"`
	Port         int           `json:"port" yaml:"port" env:"PORT"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	CORS         CORSConfig    `json:"cors" yaml:"cors"`
}

// CORSConfig mirrors github.com/go-chi/cors.Options's fields that matter
// for the public §6.1 HTTP surface.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers" yaml:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `json:"max_age" yaml:"max_age"`
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		BaseConfig:       types.DefaultBaseConfig(),
		MonitoringConfig: types.DefaultMonitoringConfig(),
		Host:             "0.0.0.0",
		Port:             8080,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     5 * time.Minute, // SSE responses can stay open far longer than a typical request
		IdleTimeout:      120 * time.Second,
		CORS: CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           300,
		},
	}
}

// LoggingConfig configures the zerolog logger threaded through the core.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
}

// DefaultLoggingConfig returns the logging defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "json",
	}
}

// SessionDefaultsConfig mirrors rag.SessionConfig's fields so they can be
// loaded from the environment/file with the RAG_ prefix (§6.2).
// cmd/ragserver reads only SessionTTLSeconds from it, passing it to
// session.NewManager as the Manager's default TTL; the other fields are
// not applied to sessions, which the HTTP surface creates from
// rag.DefaultSessionConfig plus any per-request overrides.
type SessionDefaultsConfig struct {
	SessionTTLSeconds       int     `json:"session_ttl_seconds" yaml:"session_ttl_seconds" env:"SESSION_TTL_SECONDS"`
	MaxDocuments            int     `json:"max_documents" yaml:"max_documents" env:"MAX_DOCUMENTS"`
	MaxFileSizeBytes        int     `json:"max_file_size_bytes" yaml:"max_file_size_bytes" env:"MAX_FILE_SIZE_BYTES"`
	ChunkSize               int     `json:"chunk_size" yaml:"chunk_size" env:"CHUNK_SIZE"`
	ChunkOverlap            int     `json:"chunk_overlap" yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	TopK                    int     `json:"top_k" yaml:"top_k" env:"TOP_K"`
	MinSimilarityScore      float32 `json:"min_similarity_score" yaml:"min_similarity_score" env:"MIN_SIMILARITY_SCORE"`
	DefaultStrategy         string  `json:"default_strategy" yaml:"default_strategy" env:"DEFAULT_STRATEGY"`
	DefaultChunkingStrategy string  `json:"default_chunking_strategy" yaml:"default_chunking_strategy" env:"DEFAULT_CHUNKING_STRATEGY"`
	MaxConcurrentEmbeddings int     `json:"max_concurrent_embeddings" yaml:"max_concurrent_embeddings" env:"MAX_CONCURRENT_EMBEDDINGS"`
}

// ProviderConfig is the shared shape for the embedding and generation
// provider connections (§6.3), built on types.ConnectionConfig the way the
// teacher's chat/embedding clients reuse it.
type ProviderConfig struct {
	types.ConnectionConfig

	Model string `json:"model" yaml:"model" env:"MODEL"`
}

// ApplicationConfig is the top-level configuration cmd/ragserver loads.
type ApplicationConfig struct {
	App       AppConfig             `json:"app" yaml:"app"`
	Server    ServerConfig          `json:"server" yaml:"server"`
	Logging   LoggingConfig         `json:"logging" yaml:"logging"`
	Session   SessionDefaultsConfig `json:"session" yaml:"session"`
	Embedding ProviderConfig        `json:"embedding" yaml:"embedding"`
	Generation ProviderConfig       `json:"generation" yaml:"generation"`
}

// AppConfig carries the application's identity, independent of any one
// module's configuration.
type AppConfig struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Environment string `json:"environment" yaml:"environment" env:"ENVIRONMENT"`
}

// DefaultApplicationConfig returns the complete set of application defaults.
func DefaultApplicationConfig() ApplicationConfig {
	return ApplicationConfig{
		App: AppConfig{
			Name:        "ragserver",
			Version:     "0.1.0",
			Environment: "development",
		},
		Server:  DefaultServerConfig(),
		Logging: DefaultLoggingConfig(),
		Session: SessionDefaultsConfig{
			SessionTTLSeconds:       1800,
			MaxDocuments:            50,
			MaxFileSizeBytes:        10 * 1024 * 1024,
			ChunkSize:               512,
			ChunkOverlap:            50,
			TopK:                    5,
			MinSimilarityScore:      0.5,
			DefaultStrategy:         "direct",
			DefaultChunkingStrategy: "fixed_size",
			MaxConcurrentEmbeddings: 4,
		},
		Embedding: ProviderConfig{
			ConnectionConfig: types.DefaultConnectionConfig(),
			Model:            "text-embedding-3-small",
		},
		Generation: ProviderConfig{
			ConnectionConfig: types.DefaultConnectionConfig(),
			Model:            "gemini-pro",
		},
	}
}

// Validate checks the fields the server cannot safely start without.
func (c *ApplicationConfig) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name: application name is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: port must be between 1 and 65535")
	}
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key: embedding provider API key is required")
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	levelValid := false
	for _, level := range validLevels {
		if c.Logging.Level == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("logging.level: invalid log level")
	}

	return nil
}
