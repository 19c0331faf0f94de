package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	ConfigDir      = ".symdex"
	ConfigFileName = "config.yaml"
	IndexFileName  = "index.db"
	PIDFileName    = "symdex.pid"
	SocketFileName = "symdex.sock"
	LogFileName    = "symdex.log"
)

type Config struct {
	Version int           `yaml:"version"`
	Storage StorageConfig `yaml:"storage"`
	Watch   WatchConfig   `yaml:"watch"`
	Index   IndexConfig   `yaml:"index"`
	Ignore  []string      `yaml:"ignore"`
}

type StorageConfig struct {
	Backend  string         `yaml:"backend"` // sqlite | postgres
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

type SQLiteConfig struct {
	Path string `yaml:"path,omitempty"` // default: .symdex/index.db
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type WatchConfig struct {
	// PollTimeoutMs bounds the watcher's wait for kernel events; it also
	// bounds cancellation latency.
	PollTimeoutMs int `yaml:"poll_timeout_ms"`
}

type IndexConfig struct {
	// Languages lists file extensions eligible for symbol extraction.
	Languages []string `yaml:"languages"`
	// CompleteLimit caps the number of candidates returned by complete.
	CompleteLimit int `yaml:"complete_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Watch: WatchConfig{
			PollTimeoutMs: 1000,
		},
		Index: IndexConfig{
			Languages: []string{
				".go", ".c", ".h", ".cpp", ".hpp", ".cc", ".cxx",
				".py", ".js",
			},
			CompleteLimit: 50,
		},
		Ignore: []string{
			".git",
			".symdex",
			"node_modules",
			"vendor",
			"bin",
			"dist",
			"__pycache__",
			".venv",
			"venv",
			"target",
		},
	}
}

func GetConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ConfigDir)
}

func GetConfigPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), ConfigFileName)
}

func GetIndexPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), IndexFileName)
}

func GetPIDPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), PIDFileName)
}

func GetSocketPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), SocketFileName)
}

func GetLogPath(projectRoot string) string {
	return filepath.Join(GetConfigDir(projectRoot), LogFileName)
}

// Exists reports whether the project has been initialized.
func Exists(projectRoot string) bool {
	_, err := os.Stat(GetConfigPath(projectRoot))
	return err == nil
}

func Load(projectRoot string) (*Config, error) {
	configPath := GetConfigPath(projectRoot)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills in missing configuration values so older config files
// keep working when new fields are added.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Storage.Backend == "" {
		c.Storage.Backend = defaults.Storage.Backend
	}
	if c.Watch.PollTimeoutMs <= 0 {
		c.Watch.PollTimeoutMs = defaults.Watch.PollTimeoutMs
	}
	if len(c.Index.Languages) == 0 {
		c.Index.Languages = defaults.Index.Languages
	}
	if c.Index.CompleteLimit <= 0 {
		c.Index.CompleteLimit = defaults.Index.CompleteLimit
	}
	if len(c.Ignore) == 0 {
		c.Ignore = defaults.Ignore
	}
}

func Save(projectRoot string, cfg *Config) error {
	configDir := GetConfigDir(projectRoot)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configPath := GetConfigPath(projectRoot)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
