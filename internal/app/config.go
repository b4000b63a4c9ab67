package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/Crossmint/onramp-quickstart/internal/crossmint"
)

// Config holds the complete proxy configuration, loadable from environment
// variables (ONRAMP_ prefix), flags, or YAML config files.
type Config struct {
	Addr            string        `default:"0.0.0.0:8080" usage:"Proxy listen address"`
	APIKey          string        `usage:"Crossmint server-side API key (ONRAMP_API_KEY)" flag:"api-key"`
	Environment     string        `default:"staging" usage:"Crossmint environment: staging or production"`
	UpstreamTimeout time.Duration `default:"15s" usage:"Timeout for upstream Crossmint requests" flag:"upstream-timeout"`
	RateLimit       RateLimitConfig
	CORS            CORSConfig
	Graceful        GracefulConfig
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Env returns the validated upstream environment.
func (c *Config) Env() crossmint.Environment {
	return crossmint.Environment(c.Environment)
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and platform defaults, then validates it. The API key is required:
// the whole point of the proxy is keeping it off the browser, so there is no
// keyless mode to fall back to.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ONRAMP",
		Files:     []string{"config.yaml", "/etc/onramp/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.APIKey == "" {
		return nil, errors.New("API key is required: set ONRAMP_API_KEY")
	}
	if !cfg.Env().Valid() {
		return nil, errors.Errorf("unknown environment %q: want staging or production", cfg.Environment)
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like PORT to the
// ONRAMP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
