// ABOUTME: Run-scoped pipeline configuration: retry tunables, revision bounds, models, and tool servers.
// ABOUTME: Loaded from YAML with environment overrides applied by the CLI; never process-global state.
package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trendloom/trendloom/graph"
	"github.com/trendloom/trendloom/tools"
)

// Config carries every tunable a run needs. Zero values are filled by
// Normalize so a partially specified YAML file still yields a working run.
type Config struct {
	// Model is the default model name for LLM stages.
	Model string `yaml:"model"`
	// DefaultQuery is used when neither state nor user input carries one.
	DefaultQuery string `yaml:"default_query"`

	// MaxAttempts, BaseDelay, and StageTimeout parameterize the retry
	// executor around remote calls.
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// MaxRevisions bounds the edit loop between reviewer and designer.
	MaxRevisions int `yaml:"max_revisions"`

	// ToolServers lists the MCP servers stages may discover capabilities on.
	ToolServers []tools.ServerConfig `yaml:"tool_servers"`

	// Storage selects the checkpoint backend: "sqlite" or "postgres".
	Storage     string `yaml:"storage"`
	SqlitePath  string `yaml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url"`

	// ArtifactDir is the FS artifact root when MinIO is not configured.
	ArtifactDir string       `yaml:"artifact_dir"`
	Minio       *MinioTarget `yaml:"minio"`
}

// MinioTarget mirrors artifact.MinioConfig in config-file form.
type MinioTarget struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// LoadConfig reads a YAML config file. A missing path returns defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.Normalize()
	return cfg, nil
}

// Normalize fills unset fields with working defaults.
func (c *Config) Normalize() {
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.DefaultQuery == "" {
		c.DefaultQuery = "Fashion trend analysis"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 5 * time.Minute
	}
	if c.MaxRevisions <= 0 {
		c.MaxRevisions = 3
	}
	if c.Storage == "" {
		c.Storage = "sqlite"
	}
}

// RetryPolicy returns the retry policy for remote calls in this run.
func (c Config) RetryPolicy() graph.Policy {
	return graph.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		Timeout:     c.StageTimeout,
	}
}
