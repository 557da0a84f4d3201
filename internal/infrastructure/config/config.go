// Package config loads core configuration from environment variables and an
// optional YAML policy file.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all core configuration.
type Config struct {
	Server    ServerConfig
	Scheduler SchedulerConfig
	Memory    MemoryConfig
	Audit     AuditConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP control-plane configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"9000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// SchedulerConfig holds async scheduler configuration.
type SchedulerConfig struct {
	Workers        int `envconfig:"SCHED_WORKERS" default:"4"`
	QueueDepth     int `envconfig:"SCHED_QUEUE_DEPTH" default:"256"`
	AgingThreshold int `envconfig:"SCHED_AGING_ROUNDS" default:"8"`
}

// MemoryConfig holds the accounted physical range.
type MemoryConfig struct {
	PoolBase uint64 `envconfig:"MEM_POOL_BASE" default:"1048576"`
	PoolSize uint64 `envconfig:"MEM_POOL_SIZE" default:"1073741824"`
}

// AuditConfig holds audit trail persistence configuration.
type AuditConfig struct {
	Dir         string `envconfig:"AUDIT_DIR" default:"./audit"`
	SegmentSize int    `envconfig:"AUDIT_SEGMENT_SIZE" default:"65536"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds control-plane rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Policy declares resource classes, scheduling weights, and external
// modules. It is loaded from a YAML file at boot and is immutable
// afterwards.
type Policy struct {
	ResourceClasses []ResourceClass `yaml:"resource_classes"`
	PriorityWeights PriorityWeights `yaml:"priority_weights"`
	Modules         []ModuleConfig  `yaml:"modules"`
}

// ResourceClass names a class of resources and the rights issuable over it.
type ResourceClass struct {
	Name   string   `yaml:"name"`
	Rights []string `yaml:"rights"`
}

// ModuleConfig binds an operation kind prefix to an external module
// endpoint. Operations whose kind starts with Prefix are forwarded to
// the module at URL.
type ModuleConfig struct {
	Prefix string `yaml:"prefix"`
	URL    string `yaml:"url"`
}

// PriorityWeights tunes how many tasks each class drains per round.
type PriorityWeights struct {
	IO         int `yaml:"io"`
	Normal     int `yaml:"normal"`
	Background int `yaml:"background"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "9000",
			Host: "0.0.0.0",
		},
		Scheduler: SchedulerConfig{
			Workers:        4,
			QueueDepth:     256,
			AgingThreshold: 8,
		},
		Memory: MemoryConfig{
			PoolBase: 1 << 20,
			PoolSize: 1 << 30,
		},
		Audit: AuditConfig{
			Dir:         "./audit",
			SegmentSize: 65536,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// LoadPolicy reads and parses a YAML policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return &p, nil
}

// DefaultPolicy returns the built-in policy used when no file is given.
func DefaultPolicy() *Policy {
	return &Policy{
		ResourceClasses: []ResourceClass{
			{Name: "memory", Rights: []string{"read", "write", "alloc", "protect", "grant", "admin"}},
			{Name: "device", Rights: []string{"read", "write", "grant", "admin"}},
			{Name: "ipc", Rights: []string{"read", "write", "grant", "admin"}},
		},
		PriorityWeights: PriorityWeights{IO: 4, Normal: 2, Background: 1},
	}
}
