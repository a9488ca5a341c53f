// Package config loads the consiliumd configuration: defaults, then a TOML
// file, then CONSILIUM_* env vars, with env winning.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig      `toml:"server"`
	LLM       LLMConfig         `toml:"llm"`
	Workflow  WorkflowConfig    `toml:"workflow"`
	Cache     CacheConfig       `toml:"cache"`
	Upstreams UpstreamsConfig   `toml:"upstreams"`
	Keywords  KeywordsConfig    `toml:"keywords"`
	Glossary  map[string]string `toml:"glossary"`
	Observer  ObserverConfig    `toml:"observer"`
}

type ServerConfig struct {
	Listen        string   `toml:"listen"`
	CORSOrigins   []string `toml:"cors_origins"`
	RatePerMinute int      `toml:"rate_limit_per_minute"`
}

type LLMConfig struct {
	Model          string  `toml:"model_name"`
	EmbeddingModel string  `toml:"embedding_model"`
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Temperature    float64 `toml:"temperature"`
}

type WorkflowConfig struct {
	Mode             string `toml:"mode"`
	DeadlineSeconds  int    `toml:"workflow_deadline_seconds"`
	RetrievalSeconds int    `toml:"retrieval_deadline_seconds"`
	UserLanguage     string `toml:"user_language"`
	FallbackAnswer   string `toml:"fallback_answer"`
}

type CacheConfig struct {
	// Backend is "redis", "sqlite", or "" to disable caching.
	Backend       string `toml:"backend"`
	TTLSeconds    int    `toml:"cache_ttl_seconds"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	SQLitePath    string `toml:"sqlite_path"`
}

type UpstreamsConfig struct {
	DrugRPCEndpoint  string `toml:"drug_rpc_endpoint"`
	LiteratureURL    string `toml:"literature_url"`
	LiteratureAPIKey string `toml:"literature_api_key"`
	GuidelineDSN     string `toml:"guideline_dsn"`
}

// KeywordsConfig overrides the built-in routing keyword sets. Empty lists
// keep the defaults.
type KeywordsConfig struct {
	Drug      []string `toml:"drug"`
	Research  []string `toml:"research"`
	Guideline []string `toml:"guideline"`
}

type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:        ":8080",
			CORSOrigins:   []string{"*"},
			RatePerMinute: 10,
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			BaseURL:     "https://api.openai.com/v1",
			Temperature: 0.2,
		},
		Workflow: WorkflowConfig{
			Mode:             "quick",
			DeadlineSeconds:  30,
			RetrievalSeconds: 30,
			UserLanguage:     "cs",
		},
		Cache: CacheConfig{
			Backend:    "sqlite",
			TTLSeconds: 86400,
			RedisAddr:  "localhost:6379",
			SQLitePath: "consilium-cache.db",
		},
		Observer: ObserverConfig{ServiceName: "consilium"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "consilium.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("CONSILIUM_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("CONSILIUM_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CONSILIUM_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CONSILIUM_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CONSILIUM_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("CONSILIUM_GUIDELINE_DSN"); v != "" {
		cfg.Upstreams.GuidelineDSN = v
	}
	if v := os.Getenv("CONSILIUM_DRUG_RPC_ENDPOINT"); v != "" {
		cfg.Upstreams.DrugRPCEndpoint = v
	}
	if v := os.Getenv("CONSILIUM_LITERATURE_URL"); v != "" {
		cfg.Upstreams.LiteratureURL = v
	}
	if v := os.Getenv("CONSILIUM_LITERATURE_API_KEY"); v != "" {
		cfg.Upstreams.LiteratureAPIKey = v
	}
	if v := os.Getenv("CONSILIUM_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RatePerMinute = n
		}
	}
	if v := os.Getenv("CONSILIUM_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
