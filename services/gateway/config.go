package gateway

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Config.withDefaults. The local tenant ids match the
// identity minted by the no-op auth provider so a standalone gateway is
// usable out of the box.
const (
	DefaultPort           = 8080
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultRequestTimeout = 180 * time.Second
	DefaultCompanyID      = "local-company"
	DefaultAdminUserID    = "local-user"
)

// Config holds the gateway's process configuration.
type Config struct {
	// Port the HTTP server listens on.
	Port int `yaml:"port"`

	// OllamaURL is the default daemon endpoint; requests may name another
	// via their baseUrl field.
	OllamaURL string `yaml:"ollama_url"`

	// RequestTimeout bounds blocking daemon calls. Streams are governed by
	// the request context instead.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// DataDir is the Badger database directory. Empty means in-memory
	// (nothing survives a restart).
	DataDir string `yaml:"data_dir"`

	// CompanyID and AdminUserID name the local tenant seeded at startup.
	CompanyID   string `yaml:"company_id"`
	AdminUserID string `yaml:"admin_user_id"`

	// OTLPEndpoint enables trace export when set (host:port of an OTLP
	// gRPC collector).
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LoadConfig reads the YAML file at path (optional), then applies
// environment overrides and defaults. Recognized variables:
//
//	OLLAMA_BASE_URL              daemon endpoint
//	GATEWAY_PORT                 listen port
//	GATEWAY_DATA_DIR             Badger directory
//	GATEWAY_REQUEST_TIMEOUT      Go duration, e.g. "90s"
//	OTEL_EXPORTER_OTLP_ENDPOINT  trace collector
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.OllamaURL = v
	}
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid GATEWAY_PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("GATEWAY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("GATEWAY_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid GATEWAY_REQUEST_TIMEOUT %q: %w", v, err)
		}
		cfg.RequestTimeout = d
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}

	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.OllamaURL == "" {
		c.OllamaURL = DefaultOllamaURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.CompanyID == "" {
		c.CompanyID = DefaultCompanyID
	}
	if c.AdminUserID == "" {
		c.AdminUserID = DefaultAdminUserID
	}
	return c
}
