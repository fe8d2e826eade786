package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Minio     MinioConfig     `yaml:"minio"`
	Store     StoreConfig     `yaml:"store"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Vector    VectorConfig    `yaml:"vector"`
	Query     QueryConfig     `yaml:"query"`
	Auth      AuthConfig      `yaml:"auth"`
	Users     []User          `yaml:"users"`
}

type ServerConfig struct {
	Port             int `yaml:"port"`
	RateLimit        int `yaml:"rate_limit"`         // requests per window per client
	RateLimitWindowS int `yaml:"rate_limit_window_s"` // window length in seconds
}

// RateLimitWindow returns the rate-limit window length.
func (s *ServerConfig) RateLimitWindow() time.Duration {
	return time.Duration(s.RateLimitWindowS) * time.Second
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	Bucket     string `yaml:"bucket"`
	UseSSL     bool   `yaml:"use_ssl"`
	ExpireDays int    `yaml:"expire_days"`
}

type StoreConfig struct {
	MaxContracts int `yaml:"max_contracts"`
}

// PipelineConfig tunes the orchestrator's retry and timeout behavior.
// These are deliberately configuration, not constants: the right
// values depend on the deployed stage providers.
type PipelineConfig struct {
	MaxAttempts         int `yaml:"max_attempts"`
	BackoffBaseMs       int `yaml:"backoff_base_ms"`
	BackoffMaxMs        int `yaml:"backoff_max_ms"`
	StageTimeoutSeconds int `yaml:"stage_timeout_seconds"`
}

// BackoffBase returns the initial retry delay.
func (p *PipelineConfig) BackoffBase() time.Duration {
	return time.Duration(p.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (p *PipelineConfig) BackoffMax() time.Duration {
	return time.Duration(p.BackoffMaxMs) * time.Millisecond
}

// StageTimeout returns the per-stage call timeout.
func (p *PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(p.StageTimeoutSeconds) * time.Second
}

type EmbeddingConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

type LLMConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

type VectorConfig struct {
	Driver    string `yaml:"driver"` // memory or pgvector
	Postgres  string `yaml:"postgres"`
	Dimension int    `yaml:"dimension"`
}

type QueryConfig struct {
	TopK              int     `yaml:"top_k"`
	MinSimilarity     float64 `yaml:"min_similarity"`
	MaxContextTokens  int     `yaml:"max_context_tokens"`
	GenerationRetries int     `yaml:"generation_retries"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours"`
}

type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Tenant   string `yaml:"tenant"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	// Optional .env overlay for secrets; a missing file is fine
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	GlobalConfig = &cfg
	return &cfg, nil
}

// applyEnv lets environment variables override secrets and endpoints
// so deployments don't have to bake them into the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.Minio.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.Minio.SecretKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Vector.Postgres = v
	}
	if v := os.Getenv("OLLAMA_EMBEDDING_URL"); v != "" {
		c.Embedding.URL = v
	}
	if v := os.Getenv("OLLAMA_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("LLM_URL"); v != "" {
		c.LLM.URL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 100
	}
	if c.Server.RateLimitWindowS == 0 {
		c.Server.RateLimitWindowS = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Minio.ExpireDays == 0 {
		c.Minio.ExpireDays = 7
	}
	if c.Store.MaxContracts == 0 {
		c.Store.MaxContracts = 100
	}
	if c.Pipeline.MaxAttempts == 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.BackoffBaseMs == 0 {
		c.Pipeline.BackoffBaseMs = 500
	}
	if c.Pipeline.BackoffMaxMs == 0 {
		c.Pipeline.BackoffMaxMs = 8000
	}
	if c.Pipeline.StageTimeoutSeconds == 0 {
		c.Pipeline.StageTimeoutSeconds = 120
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "nomic-embed-text"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama3.1"
	}
	if c.Vector.Driver == "" {
		c.Vector.Driver = "memory"
	}
	if c.Vector.Dimension == 0 {
		c.Vector.Dimension = 768
	}
	if c.Query.TopK == 0 {
		c.Query.TopK = 6
	}
	if c.Query.MinSimilarity == 0 {
		c.Query.MinSimilarity = 0.25
	}
	if c.Query.MaxContextTokens == 0 {
		c.Query.MaxContextTokens = 3000
	}
	if c.Query.GenerationRetries == 0 {
		c.Query.GenerationRetries = 1
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
