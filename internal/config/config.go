// Package config loads and validates the broker's configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/monto-broker/broker/internal/logging"
	"github.com/monto-broker/broker/internal/model"
)

// Config is the Broker's full configuration, loaded from monto-broker.toml.
type Config struct {
	Broker     BrokerConfig    `mapstructure:"broker"`
	Extensions ExtensionConfig `mapstructure:"extensions"`
	Net        NetConfig       `mapstructure:"net"`
	Service    []ServiceConfig `mapstructure:"service"`
	Version    VersionConfig   `mapstructure:"version"`
	Discovery  DiscoveryConfig `mapstructure:"discovery"`
	RateLimit  RateLimitConfig `mapstructure:"ratelimit"`
	History    HistoryConfig   `mapstructure:"history"`
	Timeouts   TimeoutsConfig  `mapstructure:"timeouts"`
	Log        logging.Config  `mapstructure:"log"`
}

// BrokerConfig controls implementation-defined broker behavior.
type BrokerConfig struct {
	ServiceFailureIsFatal bool `mapstructure:"service_failure_is_fatal"`
}

// ExtensionConfig lists the protocol extensions this broker understands.
type ExtensionConfig struct {
	Client  []string `mapstructure:"client"`
	Service []string `mapstructure:"service"`
}

// NetConfig controls the client-facing HTTP listener.
type NetConfig struct {
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`
}

// ServiceConfig names one configured analysis service.
type ServiceConfig struct {
	Addr   string `mapstructure:"addr" validate:"required"`
	Base   string `mapstructure:"base"`
	Scheme string `mapstructure:"scheme"`
}

// BaseURL builds "{scheme}://{addr}{base}".
func (s ServiceConfig) BaseURL() string {
	return fmt.Sprintf("%s://%s%s", s.Scheme, s.Addr, s.Base)
}

// VersionConfig is how the broker reports its own SoftwareVersion.
type VersionConfig struct {
	ID     string `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	Vendor string `mapstructure:"vendor"`
	Major  uint64 `mapstructure:"major"`
	Minor  uint64 `mapstructure:"minor"`
	Patch  uint64 `mapstructure:"patch"`
}

// SoftwareVersion converts the configured version into the wire type.
func (v VersionConfig) SoftwareVersion() model.SoftwareVersion {
	id, err := model.ParseIdentifier(v.ID)
	if err != nil {
		id = model.MustIdentifier("edu.umn.cs.melt.monto.broker")
	}
	name, vendor := v.Name, v.Vendor
	return model.SoftwareVersion{
		ID: id, Name: &name, Vendor: &vendor,
		Major: v.Major, Minor: v.Minor, Patch: v.Patch,
	}
}

// DiscoveryConfig controls optional Kubernetes-based service discovery,
// supplementing the static Service list above.
type DiscoveryConfig struct {
	Kubernetes    bool   `mapstructure:"kubernetes"`
	Namespace     string `mapstructure:"namespace"`
	LabelSelector string `mapstructure:"label_selector"`
}

// RateLimitConfig controls per-client request throttling on the ClientAPI.
type RateLimitConfig struct {
	PerMinute int    `mapstructure:"per_minute"`
	Burst     int    `mapstructure:"burst"`
	RedisAddr string `mapstructure:"redis_addr"`
}

// HistoryConfig selects the diagnostics-log backend.
type HistoryConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=memory sqlite postgres"`
	DSN     string `mapstructure:"dsn"`
}

// TimeoutsConfig controls outbound request deadlines.
type TimeoutsConfig struct {
	ServiceRequest time.Duration `mapstructure:"service_request"`
}

// Default returns the configuration used when no config file is found.
func Default() Config {
	return Config{
		Broker:     BrokerConfig{ServiceFailureIsFatal: true},
		Extensions: ExtensionConfig{},
		Net:        NetConfig{Addr: "0.0.0.0:28888"},
		Version: VersionConfig{
			ID:     "edu.umn.cs.melt.monto.broker",
			Name:   "Reference Implementation Broker",
			Vendor: "Minnesota Extensible Language Tools",
		},
		Discovery: DiscoveryConfig{Namespace: "default", LabelSelector: "monto.service=true"},
		RateLimit: RateLimitConfig{PerMinute: 0, Burst: 0},
		History:   HistoryConfig{Backend: "memory"},
		Log:       logging.DefaultConfig(),
	}
}

// searchPaths returns the directories searched for monto-broker.toml, in
// order: the working directory, the platform config directory, the home
// directory.
func searchPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "monto-broker"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}
	return paths
}

// Load searches the standard locations for monto-broker.toml and returns the
// first one found, merged over defaults. If none is found, Load returns the
// default configuration with ok=false so the caller can warn.
func Load(explicitPath string) (Config, bool, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, false, fmt.Errorf("reading config %q: %w", explicitPath, err)
		}
		return decode(v)
	}

	for _, dir := range searchPaths() {
		v.SetConfigFile(filepath.Join(dir, "monto-broker.toml"))
		if err := v.ReadInConfig(); err == nil {
			cfg, _, err := decode(v)
			return cfg, true, err
		}
	}
	return Default(), false, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("broker.service_failure_is_fatal", def.Broker.ServiceFailureIsFatal)
	v.SetDefault("net.addr", def.Net.Addr)
	v.SetDefault("version.id", def.Version.ID)
	v.SetDefault("version.name", def.Version.Name)
	v.SetDefault("version.vendor", def.Version.Vendor)
	v.SetDefault("discovery.namespace", def.Discovery.Namespace)
	v.SetDefault("discovery.label_selector", def.Discovery.LabelSelector)
	v.SetDefault("history.backend", def.History.Backend)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.output", def.Log.Output)
	v.SetDefault("service.base", "/monto")
	v.SetDefault("service.scheme", "http")
}

func decode(v *viper.Viper) (Config, bool, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, false, fmt.Errorf("parsing config: %w", err)
	}
	for i := range cfg.Service {
		if cfg.Service[i].Base == "" {
			cfg.Service[i].Base = "/monto"
		}
		if cfg.Service[i].Scheme == "" {
			cfg.Service[i].Scheme = "http"
		}
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, false, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, true, nil
}

var validate = validator.New()
