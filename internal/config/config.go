package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Inference InferenceConfig `yaml:"inference"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxUploadSize ByteSize      `yaml:"maxUploadSize"`
	StorageDir    string        `yaml:"storageDir"`
	APIKey        string        `yaml:"apiKey"`        // optional static API key header (X-API-Key)
	DatabasePath  string        `yaml:"databasePath"`  // optional, overrides default storage_dir/palmscribe.db
	ShutdownGrace time.Duration `yaml:"shutdownGrace"` // time to wait for in-flight work before forced stop
	LogLevel      string        `yaml:"logLevel"`      // debug|info|warn|error
}

// InferenceConfig selects provider and provider-specific options.
type InferenceConfig struct {
	Provider string         `yaml:"provider"` // e.g. "mock" or "gemini"
	Mock     MockSettings   `yaml:"mock"`
	Gemini   GeminiSettings `yaml:"gemini"`
}

// MockSettings config for the mock inference provider.
type MockSettings struct {
	Delay       time.Duration `yaml:"delay"`
	FailRestore bool          `yaml:"failRestore"` // force restoration failures (testing partial outcomes)
	FailAnalyze bool          `yaml:"failAnalyze"` // force analysis failures
}

// GeminiSettings config for the Gemini REST API provider.
type GeminiSettings struct {
	BaseURL        string        `yaml:"baseUrl"` // e.g. https://generativelanguage.googleapis.com
	APIKey         string        `yaml:"apiKey"`
	RestoreModel   string        `yaml:"restoreModel"`   // image-out model used for restoration and edits
	AnalyzeModel   string        `yaml:"analyzeModel"`   // text model used for transcription/translation
	Timeout        time.Duration `yaml:"timeout"`        // per-call HTTP timeout
	ThinkingBudget int           `yaml:"thinkingBudget"` // analysis thinking tokens, 0 disables
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	// Numeric only
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	// Normalize to upper for suffix matching but keep numeric part as-is
	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		// Kubernetes binary-style without 'B'
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		// Binary with B
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		// Decimal
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var PALMSCRIBE_CONFIG, then default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("PALMSCRIBE_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// Expand environment variables in file content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	// Ensure storage dir exists
	if cfg.Server.StorageDir != "" {
		if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure storage_dir: %w", err)
		}
	}
	// Default DB path under storage dir if not set.
	if cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = filepath.Join(cfg.Server.StorageDir, "palmscribe.db")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Synchronous submissions wait on two model calls; keep this generous.
		cfg.Server.WriteTimeout = 3 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(10 * 1024 * 1024) // 10 MiB default
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// Inference defaults
	if cfg.Inference.Provider == "" {
		cfg.Inference.Provider = "mock"
	}
	if cfg.Inference.Mock.Delay == 0 {
		cfg.Inference.Mock.Delay = 2 * time.Second
	}
	if strings.EqualFold(cfg.Inference.Provider, "gemini") {
		g := &cfg.Inference.Gemini
		if strings.TrimSpace(g.BaseURL) == "" {
			g.BaseURL = "https://generativelanguage.googleapis.com"
		}
		if strings.TrimSpace(g.RestoreModel) == "" {
			g.RestoreModel = "gemini-2.5-flash-image"
		}
		if strings.TrimSpace(g.AnalyzeModel) == "" {
			g.AnalyzeModel = "gemini-3-pro-preview"
		}
		if g.Timeout == 0 {
			g.Timeout = 2 * time.Minute
		}
		if g.ThinkingBudget == 0 {
			g.ThinkingBudget = 32768
		}
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Inference.Provider)) {
	case "mock":
		// nothing required
	case "gemini":
		if strings.TrimSpace(cfg.Inference.Gemini.APIKey) == "" {
			return fmt.Errorf("gemini.apiKey is required")
		}
	default:
		return fmt.Errorf("unsupported inference provider %q", cfg.Inference.Provider)
	}
	return nil
}
