// Package config provides configuration loading and structs for the BAMI server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Blobs    BlobConfig     `yaml:"blobs"`
	AI       AIConfig       `yaml:"ai"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Events   EventsConfig   `yaml:"events"`
	Intake   IntakeConfig   `yaml:"intake"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RequestTimeout bounds non-streaming handlers.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMinio  = "minio"
)

// StorageConfig selects the case repository.
type StorageConfig struct {
	Driver       string `yaml:"driver"`
	DatabasePath string `yaml:"database_path"`
	// IndexPath holds the admin search index; empty keeps it in memory.
	IndexPath string `yaml:"index_path"`
}

// BlobConfig selects where uploaded bytes are kept.
type BlobConfig struct {
	Driver    string `yaml:"driver"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// AIConfig holds model settings. An empty APIKey selects the offline mock.
type AIConfig struct {
	APIKey           string        `yaml:"api_key"`
	BaseURL          string        `yaml:"base_url"`
	Model            string        `yaml:"model"`
	AnalyzeTimeout   time.Duration `yaml:"analyze_timeout"`
	ValidateTimeout  time.Duration `yaml:"validate_timeout"`
	ChatTimeout      time.Duration `yaml:"chat_timeout"`
	MaxDocumentChars int           `yaml:"max_document_chars"`
	ScopeClassifier  *bool         `yaml:"scope_classifier"`
}

// ScopeClassifierOrDefault returns whether chat messages are scope-checked; defaults to true.
func (a *AIConfig) ScopeClassifierOrDefault() bool {
	if a.ScopeClassifier != nil {
		return *a.ScopeClassifier
	}
	return true
}

// PipelineConfig bounds background reading runs.
type PipelineConfig struct {
	MaxConcurrent    int   `yaml:"max_concurrent"`
	SerializePerCase *bool `yaml:"serialize_per_case"`
}

// SerializePerCaseOrDefault returns whether runs for one case are queued; defaults to true.
func (p *PipelineConfig) SerializePerCaseOrDefault() bool {
	if p.SerializePerCase != nil {
		return *p.SerializePerCase
	}
	return true
}

// EventsConfig holds live stream settings.
type EventsConfig struct {
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
}

// IntakeConfig holds upload limits and the optional drop folder.
type IntakeConfig struct {
	MaxFileBytes int64         `yaml:"max_file_bytes"`
	MaxFiles     int           `yaml:"max_files"`
	DropDir      string        `yaml:"drop_dir"`
	DropDebounce time.Duration `yaml:"drop_debounce"`
}

// AuthConfig holds API key and admin credentials.
type AuthConfig struct {
	APIKey        string        `yaml:"api_key"`
	AdminSecret   string        `yaml:"admin_secret"`
	AdminEmail    string        `yaml:"admin_email"`
	AdminPassword string        `yaml:"admin_password"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
}

// Load reads and parses the config file at path, expands paths, applies environment
// overrides and defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Intake.DropDir = expandPath(cfg.Intake.DropDir, configDir)

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadOrDefault behaves like Load but returns env-adjusted defaults when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	cfg = &Config{}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides secrets and deployment settings from the environment.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"OPENAI_API_KEY":    &cfg.AI.APIKey,
		"OPENAI_MODEL":      &cfg.AI.Model,
		"OPENAI_BASE_URL":   &cfg.AI.BaseURL,
		"BAMI_API_KEY":      &cfg.Auth.APIKey,
		"BAMI_ADMIN_SECRET": &cfg.Auth.AdminSecret,
		"MINIO_ACCESS_KEY":  &cfg.Blobs.AccessKey,
		"MINIO_SECRET_KEY":  &cfg.Blobs.SecretKey,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
