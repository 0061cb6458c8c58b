// Package config handles configuration loading and validation for objectarium.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/tunnelmesh/objectarium/internal/codec"
	"github.com/tunnelmesh/objectarium/internal/digest"
	"github.com/tunnelmesh/objectarium/internal/objectarium"
	"github.com/tunnelmesh/objectarium/pkg/bytesize"
)

// Defaults applied by Load.
const (
	DefaultDataDir  = "~/.objectarium"
	DefaultLogLevel = "info"
	DatabaseFile    = "objectarium.db"
)

// Config holds configuration for a local object store.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
	// Actor is the identity used when the command line names none.
	Actor string `yaml:"actor"`
	// Journal keeps every committed op for replay verification (default: true).
	// It only takes effect when the database is created.
	Journal *bool `yaml:"journal"`
	// NoSync skips fsync after each commit. Never enable it for data you care about.
	NoSync bool `yaml:"no_sync"`
	// MetricsFile, when set, receives a Prometheus text snapshot after each command.
	MetricsFile string `yaml:"metrics_file"`
	// Pagination is applied to buckets created without their own.
	Pagination objectarium.Pagination `yaml:"pagination"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	c.DataDir = expandHome(c.DataDir)
	if c.MetricsFile != "" {
		c.MetricsFile = expandHome(c.MetricsFile)
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	// Journal enabled by default
	if c.Journal == nil {
		enabled := true
		c.Journal = &enabled
	}
	if c.Pagination.MaxPageSize == 0 {
		c.Pagination.MaxPageSize = objectarium.DefaultMaxPageSize
	}
	if c.Pagination.DefaultPageSize == 0 {
		c.Pagination.DefaultPageSize = min(objectarium.DefaultDefaultPageSize, c.Pagination.MaxPageSize)
	}
}

// expandHome expands a leading "~/" to the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

// JournalEnabled reports whether ops are journaled.
func (c *Config) JournalEnabled() bool {
	return c.Journal == nil || *c.Journal
}

// DatabasePath returns the path of the bbolt file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, DatabaseFile)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	if strings.ContainsRune(c.Actor, 0) {
		return fmt.Errorf("actor contains NUL")
	}
	if c.Pagination.MaxPageSize > objectarium.PageSizeLimit {
		return fmt.Errorf("pagination.max_page_size %d exceeds %d",
			c.Pagination.MaxPageSize, objectarium.PageSizeLimit)
	}
	if c.Pagination.DefaultPageSize > c.Pagination.MaxPageSize {
		return fmt.Errorf("pagination.default_page_size %d exceeds max_page_size %d",
			c.Pagination.DefaultPageSize, c.Pagination.MaxPageSize)
	}
	return nil
}

// BucketLimits holds bucket limits as written in a bucket file. Sizes
// accept unit strings ("10Gi", "500MB").
type BucketLimits struct {
	MaxBucketSize  bytesize.Size `yaml:"max_bucket_size"`
	MaxObjectSize  bytesize.Size `yaml:"max_object_size"`
	MaxObjectCount uint64        `yaml:"max_object_count"`
	MaxObjectPins  uint64        `yaml:"max_object_pins"`
}

// BucketFile is the YAML definition of a bucket.
type BucketFile struct {
	Name                 string   `yaml:"name"`
	HashAlgorithm        string   `yaml:"hash_algorithm"`
	AcceptedCompressions []string `yaml:"accepted_compression_algorithms"`
	// Mutable defaults to true.
	Mutable    *bool                   `yaml:"mutable"`
	Limits     BucketLimits            `yaml:"limits"`
	Pagination *objectarium.Pagination `yaml:"pagination"`
}

// LoadBucketFile reads a bucket definition from a YAML file.
func LoadBucketFile(path string) (*BucketFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bucket file: %w", err)
	}

	f := &BucketFile{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse bucket file: %w", err)
	}
	return f, nil
}

// BucketConfig converts the file into a bucket configuration. Pagination
// falls back to defaults when the file has none.
func (f *BucketFile) BucketConfig(defaults objectarium.Pagination) (objectarium.BucketConfig, error) {
	cfg := objectarium.DefaultBucketConfig(f.Name)

	if f.HashAlgorithm != "" {
		algo, err := digest.Parse(f.HashAlgorithm)
		if err != nil {
			return objectarium.BucketConfig{}, fmt.Errorf("hash_algorithm: %w", err)
		}
		cfg.HashAlgorithm = algo
	}

	for _, name := range f.AcceptedCompressions {
		algo, err := codec.Parse(name)
		if err != nil {
			return objectarium.BucketConfig{}, fmt.Errorf("accepted_compression_algorithms: %w", err)
		}
		cfg.AcceptedCompressions = append(cfg.AcceptedCompressions, algo)
	}

	if f.Mutable != nil {
		cfg.Mutable = *f.Mutable
	}

	cfg.Limits = objectarium.Limits{
		MaxBucketSize:  f.Limits.MaxBucketSize.Bytes(),
		MaxObjectSize:  f.Limits.MaxObjectSize.Bytes(),
		MaxObjectCount: f.Limits.MaxObjectCount,
		MaxObjectPins:  f.Limits.MaxObjectPins,
	}

	cfg.Pagination = defaults
	if f.Pagination != nil {
		cfg.Pagination = *f.Pagination
	}

	return cfg.Normalize()
}
