package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SinkStore = "store"
	SinkAPI   = "api"
)

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type GenerationConfig struct {
	OutlineTimeout time.Duration `yaml:"outline_timeout"`
	SectionTimeout time.Duration `yaml:"section_timeout"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
	SourceMaxChars int           `yaml:"source_max_chars"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type BlogAPIConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type Config struct {
	ServerAddr     string           `yaml:"server_addr"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	Sink           string           `yaml:"sink"`
	LLM            LLMConfig        `yaml:"llm"`
	Generation     GenerationConfig `yaml:"generation"`
	Storage        StorageConfig    `yaml:"storage"`
	BlogAPI        BlogAPIConfig    `yaml:"blog_api"`
}

// Load reads the YAML config at path (a missing file means all defaults),
// applies .env and environment overrides, fills defaults and validates.
func Load(path string) (*Config, error) {
	// .env is a dev convenience; production injects env vars directly
	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "openai", "":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "deepseek":
			c.LLM.APIKey = os.Getenv("DEEPSEEK_API_KEY")
		case "gemini":
			c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Storage.Driver = "postgres"
		}
	}
	if v := os.Getenv("BLOG_API_URL"); v != "" {
		c.BlogAPI.URL = v
	}
	if v := os.Getenv("BLOG_API_TOKEN"); v != "" {
		c.BlogAPI.Token = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.ServerAddr = ":" + v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.AllowedOrigins = origins
	}
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.Sink == "" {
		c.Sink = SinkStore
		if c.BlogAPI.URL != "" {
			c.Sink = SinkAPI
		}
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		switch c.LLM.Provider {
		case "openai":
			c.LLM.Model = "gpt-4o-mini"
		case "deepseek":
			c.LLM.Model = "deepseek-chat"
		case "gemini":
			c.LLM.Model = "gemini-2.5-flash"
		}
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 90 * time.Second
	}
	if c.Generation.OutlineTimeout == 0 {
		c.Generation.OutlineTimeout = 60 * time.Second
	}
	if c.Generation.SectionTimeout == 0 {
		c.Generation.SectionTimeout = 90 * time.Second
	}
	if c.Generation.RunTimeout == 0 {
		c.Generation.RunTimeout = 15 * time.Minute
	}
	if c.Generation.SourceMaxChars == 0 {
		c.Generation.SourceMaxChars = 20000
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = "data/posts.sqlite"
	}
}

// Validate checks enumerated fields and cross-field requirements.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "deepseek", "gemini", "mock":
	default:
		return fmt.Errorf("llm.provider %q not supported", c.LLM.Provider)
	}
	if c.LLM.Provider == "deepseek" && c.LLM.BaseURL == "" {
		return errors.New("llm provider deepseek requires llm.base_url (OpenAI-compatible endpoint)")
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver %q not supported", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return errors.New("storage.dsn is required")
	}
	switch c.Sink {
	case SinkStore:
	case SinkAPI:
		if c.BlogAPI.URL == "" {
			return errors.New("sink api requires blog_api.url")
		}
	default:
		return fmt.Errorf("sink %q not supported", c.Sink)
	}
	if c.Generation.SourceMaxChars < 0 {
		return errors.New("generation.source_max_chars must be positive")
	}
	return nil
}
