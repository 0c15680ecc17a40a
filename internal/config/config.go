// Package config loads service configuration from defaults, an optional
// YAML file and ORCHESTRATOR_* environment variables, in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides. Nested keys are separated by a
// double underscore: ORCHESTRATOR_SAFETY__VIOLATION_MAX → safety.violation_max.
const EnvPrefix = "ORCHESTRATOR_"

// Intervention modes.
const (
	InterventionQueue   = "queue"
	InterventionApprove = "approve"
	InterventionReject  = "reject"
)

type Config struct {
	Log          LogConfig          `koanf:"log"`
	HTTP         HTTPConfig         `koanf:"http"`
	GRPC         GRPCConfig         `koanf:"grpc"`
	Safety       SafetyConfig       `koanf:"safety"`
	Routing      RoutingConfig      `koanf:"routing"`
	Tools        ToolsConfig        `koanf:"tools"`
	Agents       AgentsConfig       `koanf:"agents"`
	Resources    ResourcesConfig    `koanf:"resources"`
	Intervention InterventionConfig `koanf:"intervention"`
	ClickHouse   DSNConfig          `koanf:"clickhouse"`
	Postgres     DSNConfig          `koanf:"postgres"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type HTTPConfig struct {
	Port int `koanf:"port"`
}

type GRPCConfig struct {
	Port int `koanf:"port"`
}

type SafetyConfig struct {
	ViolationMax int           `koanf:"violation_max"`
	DecayWindow  time.Duration `koanf:"decay_window"`
	CheckTimeout time.Duration `koanf:"check_timeout"`
	UserRate     RateConfig    `koanf:"user_rate"`
}

type RateConfig struct {
	MaxCalls int           `koanf:"max_calls"`
	Window   time.Duration `koanf:"window"`
}

type RoutingConfig struct {
	ConfidenceThreshold float64 `koanf:"confidence_threshold"`
}

type ToolsConfig struct {
	File           string        `koanf:"file"`
	DefaultTimeout time.Duration `koanf:"default_timeout"`
	CacheTTL       time.Duration `koanf:"cache_ttl"`
}

type AgentsConfig struct {
	File    string        `koanf:"file"`
	Timeout time.Duration `koanf:"timeout"` // HTTP agent calls
}

type ResourcesConfig struct {
	SampleInterval time.Duration `koanf:"sample_interval"`
	MaxMemoryMB    float64       `koanf:"max_memory_mb"`
	MaxGoroutines  int           `koanf:"max_goroutines"`
}

type InterventionConfig struct {
	Mode    string        `koanf:"mode"`
	Timeout time.Duration `koanf:"timeout"`
}

type DSNConfig struct {
	DSN string `koanf:"dsn"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

var defaults = map[string]any{
	"log.level":                    "info",
	"http.port":                    8080,
	"grpc.port":                    50054,
	"safety.violation_max":         3,
	"safety.decay_window":          time.Hour,
	"safety.check_timeout":         50 * time.Millisecond,
	"safety.user_rate.max_calls":   60,
	"safety.user_rate.window":      time.Minute,
	"routing.confidence_threshold": 0.7,
	"tools.default_timeout":        30 * time.Second,
	"tools.cache_ttl":              60 * time.Second,
	"agents.timeout":               30 * time.Second,
	"resources.sample_interval":    time.Second,
	"resources.max_memory_mb":      1024.0,
	"resources.max_goroutines":     10000,
	"intervention.mode":            InterventionQueue,
	"intervention.timeout":         2 * time.Minute,
	"telemetry.exporter":           "none",
	"telemetry.otlp_insecure":      false,
}

// Load reads configuration. path may be empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("config default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Port <= 0 || c.HTTP.Port > 65535:
		return fmt.Errorf("config: http.port %d out of range", c.HTTP.Port)
	case c.GRPC.Port <= 0 || c.GRPC.Port > 65535:
		return fmt.Errorf("config: grpc.port %d out of range", c.GRPC.Port)
	case c.Safety.ViolationMax <= 0:
		return fmt.Errorf("config: safety.violation_max must be positive")
	case c.Routing.ConfidenceThreshold < 0 || c.Routing.ConfidenceThreshold > 1:
		return fmt.Errorf("config: routing.confidence_threshold must be within [0,1]")
	case c.Resources.SampleInterval <= 0:
		return fmt.Errorf("config: resources.sample_interval must be positive")
	}
	switch c.Intervention.Mode {
	case InterventionQueue, InterventionApprove, InterventionReject:
	default:
		return fmt.Errorf("config: unknown intervention.mode %q", c.Intervention.Mode)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c HTTPConfig) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// Addr returns the gRPC listen address.
func (c GRPCConfig) Addr() string { return fmt.Sprintf(":%d", c.Port) }
