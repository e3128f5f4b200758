// Package config loads codeforge's runtime configuration from a layered
// YAML file plus environment-variable overrides, adapted from the
// teacher's internal/config (gopkg.in/yaml.v3 file layer, env-var
// overrides onto a flat RuntimeConfig-style struct).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is codeforge's full runtime configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Queue    QueueConfig    `yaml:"queue"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Indexing IndexingConfig `yaml:"indexing"`
	LLM      LLMConfig      `yaml:"llm"`
	Forge    ForgeConfig    `yaml:"forge"`
	Storage  StorageConfig  `yaml:"storage"`
	Generation GenerationConfig `yaml:"generation"`
}

// HTTPConfig configures the HTTP edge server.
type HTTPConfig struct {
	Port           string   `yaml:"port"`
	Environment    string   `yaml:"environment"` // "production" enforces AllowedOrigins; anything else allows all origins
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// QueueConfig configures the Redis-backed job queue.
type QueueConfig struct {
	RedisHost     string `yaml:"redis_host"`
	RedisPort     int    `yaml:"redis_port"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RetainedPerState int `yaml:"retained_per_state"` // default 100
}

// WebhookConfig configures the dispatcher.
type WebhookConfig struct {
	Secret             string `yaml:"secret"`
	IncrementalThreshold int  `yaml:"incremental_threshold"` // default 100 ("T")
}

// SandboxConfig configures the sandbox adapter.
type SandboxConfig struct {
	BaseDir         string        `yaml:"base_dir"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"` // default 30m
	CloneTimeout    time.Duration `yaml:"clone_timeout"`       // default 5m
	InstallTimeout  time.Duration `yaml:"install_timeout"`     // default 10m
	TestTimeout     time.Duration `yaml:"test_timeout"`        // default 5m
	BuildTimeout    time.Duration `yaml:"build_timeout"`       // default 10m
	CommandTimeout  time.Duration `yaml:"command_timeout"`     // default 3m
}

// IndexingConfig configures the chunker/embedder/indexing pipeline.
type IndexingConfig struct {
	ChunkLineWindow   int    `yaml:"chunk_line_window"`   // default 100
	EmbedBatchSize    int    `yaml:"embed_batch_size"`    // default 10
	EmbedBatchSleep   time.Duration `yaml:"embed_batch_sleep"` // default 1s
	VectorPersistDir  string `yaml:"vector_persist_dir"`
}

// LLMConfig configures the LLM and embedding provider clients.
type LLMConfig struct {
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	EmbedModel  string `yaml:"embed_model"`
}

// ForgeConfig configures the forge-provider (GitHub) client.
type ForgeConfig struct {
	InstallationCredentialsPath string `yaml:"installation_credentials_path"`
}

// StorageConfig configures the installation-bookkeeping relational store.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// GenerationConfig configures the generate-validate pipeline.
type GenerationConfig struct {
	RetrieveTopK      int           `yaml:"retrieve_top_k"`      // default 20
	MaxIterations     int           `yaml:"max_iterations"`      // default 3
	IndexPollInterval time.Duration `yaml:"index_poll_interval"` // default 5s
	IndexWaitTimeout  time.Duration `yaml:"index_wait_timeout"`  // default 10m
	CommitAuthorName  string        `yaml:"commit_author_name"`
	CommitAuthorEmail string        `yaml:"commit_author_email"`
}

// Defaults returns the zero-config baseline; Load layers a file and
// environment variables on top of this.
func Defaults() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:        "8080",
			Environment: "development",
		},
		Queue: QueueConfig{
			RedisHost:        "127.0.0.1",
			RedisPort:        6379,
			RetainedPerState: 100,
		},
		Webhook: WebhookConfig{
			IncrementalThreshold: 100,
		},
		Sandbox: SandboxConfig{
			BaseDir:           "/tmp/codeforge-sandboxes",
			InactivityTimeout: 30 * time.Minute,
			CloneTimeout:      5 * time.Minute,
			InstallTimeout:    10 * time.Minute,
			TestTimeout:       5 * time.Minute,
			BuildTimeout:      10 * time.Minute,
			CommandTimeout:    3 * time.Minute,
		},
		Indexing: IndexingConfig{
			ChunkLineWindow:  100,
			EmbedBatchSize:   10,
			EmbedBatchSleep:  time.Second,
			VectorPersistDir: "/tmp/codeforge-vectors",
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Storage: StorageConfig{
			SQLitePath: "/tmp/codeforge-installations.db",
		},
		Generation: GenerationConfig{
			RetrieveTopK:      20,
			MaxIterations:     3,
			IndexPollInterval: 5 * time.Second,
			IndexWaitTimeout:  10 * time.Minute,
			CommitAuthorName:  "codeforge-bot",
			CommitAuthorEmail: "bot@codeforge.dev",
		},
	}
}

// Load reads path (if it exists) as a YAML overlay on Defaults(), then
// applies environment-variable overrides (env always wins, matching the
// teacher's layered precedence: default < file < env).
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CODEFORGE_PORT"); v != "" {
		cfg.HTTP.Port = v
	}
	if v := os.Getenv("CODEFORGE_ENVIRONMENT"); v != "" {
		cfg.HTTP.Environment = v
	}
	if v := os.Getenv("CODEFORGE_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("CODEFORGE_REDIS_HOST"); v != "" {
		cfg.Queue.RedisHost = v
	}
	if v := os.Getenv("CODEFORGE_REDIS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.RedisPort = n
		}
	}
	if v := os.Getenv("CODEFORGE_REDIS_PASSWORD"); v != "" {
		cfg.Queue.RedisPassword = v
	}
	if v := os.Getenv("CODEFORGE_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("CODEFORGE_INCREMENTAL_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Webhook.IncrementalThreshold = n
		}
	}
	if v := os.Getenv("CODEFORGE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CODEFORGE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CODEFORGE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CODEFORGE_SANDBOX_BASE_DIR"); v != "" {
		cfg.Sandbox.BaseDir = v
	}
	if v := os.Getenv("CODEFORGE_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
}
