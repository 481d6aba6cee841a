package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maas-router/internal/maas"
)

const sampleConfig = `
server:
  port: 9090
logging:
  level: debug
  format: json
metrics:
  enabled: true
vertex:
  project: my-project
  location: us-central1
  access_token: "ENV:TEST_MAAS_TOKEN"
  max_retries: 3
  initial_backoff: 2s
  max_backoff: 5s
  models:
    - id: mistral-large@2407
    - id: meta/llama3-405b-instruct-maas
  aliases:
    mistral-large: mistral-large@2407
  headers:
    X-Goog-User-Project: billing-project
`

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envProject, "")
	t.Setenv(envRegion, "")
	t.Setenv(envAccessToken, "")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_MAAS_TOKEN", "ya29.secret")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	v := cfg.Vertex
	assert.Equal(t, "my-project", v.Project)
	assert.Equal(t, "us-central1", v.Location)
	assert.Equal(t, "ya29.secret", v.AccessToken)
	assert.Equal(t, 3, v.MaxRetries)
	assert.Equal(t, 2*time.Second, v.InitialBackoff)
	assert.Equal(t, 5*time.Second, v.MaxBackoff)
	assert.Equal(t, defaultTimeout, v.Timeout)
	assert.Equal(t, []ModelConfig{{ID: "mistral-large@2407"}, {ID: "meta/llama3-405b-instruct-maas"}}, v.Models)
	assert.Equal(t, "mistral-large@2407", v.Aliases["mistral-large"])
	assert.Equal(t, "billing-project", v.Headers["X-Goog-User-Project"])
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, `
vertex:
  project: p
  location: europe-west4
  models:
    - id: mistral-nemo@2407
`))
	require.NoError(t, err)

	assert.Equal(t, defaultPort, cfg.Server.Port)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, maas.DefaultMaxRetries, cfg.Vertex.MaxRetries)
	assert.Equal(t, defaultTimeout, cfg.Vertex.Timeout)
	assert.Empty(t, cfg.Vertex.AccessToken)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv(envProject, "env-project")
	t.Setenv(envRegion, "asia-southeast1")
	t.Setenv(envAccessToken, "env-token")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "env-project", cfg.Vertex.Project)
	assert.Equal(t, "asia-southeast1", cfg.Vertex.Location)
	assert.Equal(t, "env-token", cfg.Vertex.AccessToken)
}

func TestFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envProject, "env-project")
	t.Setenv(envRegion, "us-east5")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "env-project", cfg.Vertex.Project)
	assert.Equal(t, "us-east5", cfg.Vertex.Location)
	assert.Equal(t, maas.DefaultMaxRetries, cfg.Vertex.MaxRetries)
	assert.Empty(t, cfg.Vertex.Models)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [oops"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Vertex: VertexConfig{
			Project:    "p",
			Location:   "us-central1",
			MaxRetries: 6,
			Models:     []ModelConfig{{ID: "mistral-nemo@2407"}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"metrics path", func(c *Config) { c.Metrics = MetricsConfig{Enabled: true, Path: "metrics"} }, "metrics.path"},
		{"no project", func(c *Config) { c.Vertex.Project = " " }, "project must be provided"},
		{"no location", func(c *Config) { c.Vertex.Location = "" }, "location must be provided"},
		{"negative retries", func(c *Config) { c.Vertex.MaxRetries = -1 }, "max_retries"},
		{"negative backoff", func(c *Config) { c.Vertex.MaxBackoff = -time.Second }, "must not be negative"},
		{"no models", func(c *Config) { c.Vertex.Models = nil }, "at least one model"},
		{"empty model", func(c *Config) { c.Vertex.Models = []ModelConfig{{ID: ""}} }, "model id must not be empty"},
		{"unsupported model", func(c *Config) { c.Vertex.Models = []ModelConfig{{ID: "gemini-pro"}} }, "model is not supported"},
		{"duplicate model", func(c *Config) {
			c.Vertex.Models = []ModelConfig{{ID: "mistral-nemo@2407"}, {ID: "MISTRAL-NEMO@2407"}}
		}, "more than once"},
		{"bad header", func(c *Config) { c.Vertex.Headers = Headers{"X Bad": "v"} }, "canonical HTTP header"},
		{"auth header", func(c *Config) { c.Vertex.Headers = Headers{"Authorization": "v"} }, "credential provider"},
		{"alias to unknown", func(c *Config) { c.Vertex.Aliases = map[string]string{"nemo": "mistral-large@2407"} }, "unconfigured model"},
		{"empty alias target", func(c *Config) { c.Vertex.Aliases = map[string]string{"nemo": ""} }, "target must not be empty"},
		{"alias folds to model id", func(c *Config) {
			c.Vertex.Models = []ModelConfig{{ID: "mistral-nemo@2407"}, {ID: "mistral-large@2407"}}
			c.Vertex.Aliases = map[string]string{"MISTRAL-LARGE@2407": "mistral-nemo@2407"}
		}, "collides with a configured model id"},
		{"aliases differ only in case", func(c *Config) {
			c.Vertex.Aliases = map[string]string{"nemo": "mistral-nemo@2407", "NEMO": "mistral-nemo@2407"}
		}, "differ only in case"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveEnvRef(t *testing.T) {
	t.Setenv("SOME_TOKEN", "value")

	assert.Equal(t, "value", resolveEnvRef("ENV:SOME_TOKEN"))
	assert.Equal(t, "literal", resolveEnvRef("literal"))
	assert.Empty(t, resolveEnvRef("ENV:UNSET_VARIABLE_FOR_TEST"))
}
