package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"maas-router/internal/logging"
	"maas-router/internal/maas"
)

const (
	envProject     = "GOOGLE_CLOUD_PROJECT"
	envRegion      = "GOOGLE_CLOUD_REGION"
	envAccessToken = "MAAS_ACCESS_TOKEN"

	envRefPrefix = "ENV:"

	defaultPort        = 8080
	defaultMetricsPath = "/metrics"
	defaultTimeout     = 600 * time.Second
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Vertex  VertexConfig  `yaml:"vertex"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// VertexConfig describes the Vertex AI project and the MaaS models served
// from it.
type VertexConfig struct {
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
	// Endpoint replaces https://{location}-aiplatform.googleapis.com.
	Endpoint string `yaml:"endpoint"`

	CredentialsFile string `yaml:"credentials_file"`
	// AccessToken is a pre-minted bearer token. It takes precedence over
	// CredentialsFile and Application Default Credentials.
	AccessToken string `yaml:"access_token"`

	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Timeout        time.Duration `yaml:"timeout"`

	// AppendToolsToSystemMessage renders tool definitions into the system
	// prompt instead of sending them as a tools parameter.
	AppendToolsToSystemMessage bool `yaml:"append_tools_to_system_message"`

	Models  []ModelConfig     `yaml:"models"`
	Aliases map[string]string `yaml:"aliases"`
	Headers Headers           `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with every MaaS request.
type Headers map[string]string

// ModelConfig describes a model exposed by the router.
type ModelConfig struct {
	ID string `yaml:"id"`
}

// Load reads YAML configuration from disk, applies environment overrides and
// validates the result. A .env file in the working directory is loaded first
// when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds an unvalidated configuration from the environment alone,
// loading .env first. No models are configured.
func FromEnv() (Config, error) {
	_ = godotenv.Load()
	return Parse(nil)
}

// Parse decodes YAML, fills defaults and applies environment overrides. It
// does not validate.
func Parse(data []byte) (Config, error) {
	cfg := Config{
		Server:  ServerConfig{Port: defaultPort},
		Metrics: MetricsConfig{Path: defaultMetricsPath},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envProject); v != "" {
		c.Vertex.Project = v
	}
	if v := os.Getenv(envRegion); v != "" {
		c.Vertex.Location = v
	}
	if v := os.Getenv(envAccessToken); v != "" {
		c.Vertex.AccessToken = v
	}

	c.Vertex.AccessToken = resolveEnvRef(c.Vertex.AccessToken)
	c.Vertex.CredentialsFile = resolveEnvRef(c.Vertex.CredentialsFile)
	for k, v := range c.Vertex.Headers {
		c.Vertex.Headers[k] = resolveEnvRef(v)
	}
}

func (c *Config) applyDefaults() {
	if c.Vertex.MaxRetries == 0 {
		c.Vertex.MaxRetries = maas.DefaultMaxRetries
	}
	if c.Vertex.Timeout == 0 {
		c.Vertex.Timeout = defaultTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
}

// resolveEnvRef replaces "ENV:NAME" with the value of $NAME.
func resolveEnvRef(v string) string {
	name, ok := strings.CutPrefix(v, envRefPrefix)
	if !ok {
		return v
	}
	return os.Getenv(strings.TrimSpace(name))
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("logging.format %q must be one of %q or %q", c.Logging.Format, logging.FormatText, logging.FormatJSON)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}

	return validateVertex(c.Vertex)
}

func validateVertex(v VertexConfig) error {
	if strings.TrimSpace(v.Project) == "" {
		return fmt.Errorf("vertex: project must be provided (or set %s)", envProject)
	}
	if strings.TrimSpace(v.Location) == "" {
		return fmt.Errorf("vertex: location must be provided (or set %s)", envRegion)
	}
	if v.MaxRetries < 0 {
		return fmt.Errorf("vertex: max_retries must not be negative, got %d", v.MaxRetries)
	}
	if v.InitialBackoff < 0 || v.MaxBackoff < 0 || v.Timeout < 0 {
		return fmt.Errorf("vertex: backoff and timeout durations must not be negative")
	}
	if len(v.Models) == 0 {
		return fmt.Errorf("vertex: at least one model must be configured")
	}

	seen := make(map[string]struct{}, len(v.Models))
	for _, model := range v.Models {
		if strings.TrimSpace(model.ID) == "" {
			return fmt.Errorf("vertex: model id must not be empty")
		}
		if _, err := maas.ResolveFamily(model.ID); err != nil {
			return fmt.Errorf("vertex: model %q: %w (supported: %s)", model.ID, err, strings.Join(maas.SupportedModels(), ", "))
		}
		key := strings.ToLower(model.ID)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("vertex: model %q configured more than once", model.ID)
		}
		seen[key] = struct{}{}
	}

	for headerKey := range v.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("vertex: header %q is not a valid canonical HTTP header", headerKey)
		}
		if strings.EqualFold(headerKey, "Authorization") {
			return fmt.Errorf("vertex: header %q is managed by the credential provider", headerKey)
		}
	}

	aliasSeen := make(map[string]string, len(v.Aliases))
	for alias, target := range v.Aliases {
		if strings.TrimSpace(alias) == "" {
			return fmt.Errorf("vertex: alias name must not be empty")
		}
		key := strings.ToLower(alias)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("vertex: alias %q collides with a configured model id", alias)
		}
		if other, ok := aliasSeen[key]; ok {
			return fmt.Errorf("vertex: aliases %q and %q differ only in case", other, alias)
		}
		aliasSeen[key] = alias
		if strings.TrimSpace(target) == "" {
			return fmt.Errorf("vertex: alias %q target must not be empty", alias)
		}
		if _, ok := seen[strings.ToLower(target)]; !ok {
			return fmt.Errorf("vertex: alias %q targets unconfigured model %q", alias, target)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
