package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/always-cache/postview/cache"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const DefaultBaseURL = "https://jsonplaceholder.typicode.com"

type Config struct {
	// Base URL of the posts API.
	BaseURL string `yaml:"baseUrl" env:"POSTVIEW_BASE_URL"`
	// Number of posts fetched on a cache miss.
	PageSize int `yaml:"pageSize" env:"POSTVIEW_PAGE_SIZE"`
	// Listen address for the HTTP front.
	HTTPAddr string `yaml:"httpAddr" env:"POSTVIEW_HTTP_ADDR"`
	Store    Store  `yaml:"store"`
}

type Store struct {
	Provider    string `yaml:"provider" env:"POSTVIEW_STORE"`
	Path        string `yaml:"path" env:"POSTVIEW_STORE_PATH"`
	RedisAddr   string `yaml:"redisAddr" env:"POSTVIEW_REDIS_ADDR"`
	RedisPrefix string `yaml:"redisPrefix" env:"POSTVIEW_REDIS_PREFIX"`
}

func Default() Config {
	return Config{
		BaseURL:  DefaultBaseURL,
		PageSize: 8,
		HTTPAddr: ":8080",
		Store: Store{
			Provider: "sqlite",
			Path:     "postview.db",
		},
	}
}

// Load returns the defaults, overridden by the YAML file at filename (if any)
// and then by POSTVIEW_* environment variables.
func Load(filename string) (Config, error) {
	config := Default()
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse config %s: %w", filename, err)
		}
	}
	if err := env.Parse(&config); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url must be http or https: %s", c.BaseURL)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	return nil
}

// CacheOptions returns the options for opening the configured cache provider.
func (c Config) CacheOptions() cache.Options {
	return cache.Options{
		Provider:    c.Store.Provider,
		Path:        c.Store.Path,
		RedisAddr:   c.Store.RedisAddr,
		RedisPrefix: c.Store.RedisPrefix,
	}
}
