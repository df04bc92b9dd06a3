package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. WIDU_PIPELINES__DIR sets
// pipelines.dir.
const EnvPrefix = "WIDU_"

type Config struct {
	Pipelines PipelinesConfig `koanf:"pipelines"`
	Audit     AuditConfig     `koanf:"audit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
	Admin     AdminConfig     `koanf:"admin"`
	Webhook   WebhookConfig   `koanf:"webhook"`
}

type PipelinesConfig struct {
	Dir           string        `koanf:"dir"`
	CacheTTL      time.Duration `koanf:"cache_ttl"`
	DefaultTenant string        `koanf:"default_tenant"`
	TenantHeader  string        `koanf:"tenant_header"`
	Watch         bool          `koanf:"watch"`
}

type AuditConfig struct {
	// SQLitePath selects the sqlite store; empty keeps records in memory.
	SQLitePath string `koanf:"sqlite_path"`
	// MaxRequests bounds the in-memory store.
	MaxRequests int `koanf:"max_requests"`
}

type TelemetryConfig struct {
	Tracing     bool   `koanf:"tracing"`
	Metrics     bool   `koanf:"metrics"`
	ServiceName string `koanf:"service_name"`
	// TraceOutput is stdout, stderr or a file path spans are appended to.
	TraceOutput string  `koanf:"trace_output"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type AdminConfig struct {
	Addr    string        `koanf:"addr"`
	Timeout time.Duration `koanf:"timeout"`
}

type WebhookConfig struct {
	// AllowPrivateNetworks lets webhook steps reach loopback and private addresses.
	AllowPrivateNetworks bool `koanf:"allow_private_networks"`
}

var defaults = map[string]any{
	"pipelines.dir":            "pipelines",
	"pipelines.cache_ttl":      "60s",
	"pipelines.default_tenant": "default",
	"pipelines.tenant_header":  "X-Tenant-ID",
	"audit.max_requests":       1000,
	"telemetry.metrics":        true,
	"telemetry.service_name":   "widu-factory",
	"telemetry.trace_output":   "stdout",
	"telemetry.sample_ratio":   1.0,
	"log.level":                "info",
	"log.format":               "json",
	"admin.addr":               ":8081",
	"admin.timeout":            "30s",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (optional, YAML) then applies WIDU_ environment overrides.
// An empty path tries config.yaml in the working directory.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = "config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Pipelines.Dir = substituteEnvVars(cfg.Pipelines.Dir)
	cfg.Audit.SQLitePath = substituteEnvVars(cfg.Audit.SQLitePath)
	cfg.Telemetry.TraceOutput = substituteEnvVars(cfg.Telemetry.TraceOutput)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
