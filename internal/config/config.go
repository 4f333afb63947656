package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BadgerBodiesDirName = "bodies"
	BadgerMetaDirName   = "meta"
)

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type Storage struct {
	Directory string `yaml:"directory"`
}

type Limits struct {
	MaxBlobBytes int64         `yaml:"maxBlobBytes"`
	DefaultTTL   time.Duration `yaml:"defaultTTL"`
	MinTTL       time.Duration `yaml:"minTTL"`
	MaxTTL       time.Duration `yaml:"maxTTL"`
}

// RateLimitConfig describes one action class. Requests/Window drive the
// per-client sliding window; BurstLimit/Burst drive the route-wide token
// bucket that sits in front of it.
type RateLimitConfig struct {
	Requests   int           `yaml:"requests"`
	Window     time.Duration `yaml:"window"`
	BurstLimit float64       `yaml:"burstLimit"` // requests per second, route-wide
	Burst      int           `yaml:"burst"`
}

type RateLimits struct {
	Upload RateLimitConfig `yaml:"upload"`
	Read   RateLimitConfig `yaml:"read"`
}

type Reconciler struct {
	Interval     time.Duration `yaml:"interval"`
	PageSize     int           `yaml:"pageSize"`
	LegacyMaxAge time.Duration `yaml:"legacyMaxAge"`
}

type Gateway struct {
	Binding        string     `yaml:"binding"`
	TLS            TLS        `yaml:"tls"`
	TrustedProxies []string   `yaml:"trustedProxies"`
	Storage        Storage    `yaml:"storage"`
	Limits         Limits     `yaml:"limits"`
	RateLimits     RateLimits `yaml:"rateLimits"`
	Reconciler     Reconciler `yaml:"reconciler"`
}

var (
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrBindingMissing           = errors.New("binding is missing in config")
	ErrStorageDirectoryMissing  = errors.New("storage.directory is missing in config")
	ErrTLSIncomplete            = errors.New("TLS configuration incomplete: both cert and key must be provided if one is specified")
	ErrMaxBlobBytesInvalid      = errors.New("limits.maxBlobBytes must be positive")
	ErrTTLBoundsInvalid         = errors.New("limits ttl bounds are invalid: require 0 < minTTL <= defaultTTL <= maxTTL")
	ErrRateLimitInvalid         = errors.New("rate limit requests and window must be positive")
	ErrReconcilerInvalid        = errors.New("reconciler interval, pageSize and legacyMaxAge must be positive")
)

// Defaults returns the configuration the daemon runs with when the yaml file
// leaves a section unset.
func Defaults() Gateway {
	return Gateway{
		Binding: "0.0.0.0:8080",
		Limits: Limits{
			MaxBlobBytes: 25 * 1024 * 1024,
			DefaultTTL:   24 * time.Hour,
			MinTTL:       1 * time.Hour,
			MaxTTL:       168 * time.Hour,
		},
		RateLimits: RateLimits{
			Upload: RateLimitConfig{Requests: 50, Window: time.Hour, BurstLimit: 25, Burst: 10},
			Read:   RateLimitConfig{Requests: 50, Window: time.Minute, BurstLimit: 50, Burst: 20},
		},
		Reconciler: Reconciler{
			Interval:     24 * time.Hour,
			PageSize:     256,
			LegacyMaxAge: 192 * time.Hour,
		},
	}
}

func LoadConfig(configFile string) (*Gateway, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Validate(cfg *Gateway) error {
	if cfg.Binding == "" {
		return ErrBindingMissing
	}
	if cfg.Storage.Directory == "" {
		return ErrStorageDirectoryMissing
	}
	if (cfg.TLS.Cert == "") != (cfg.TLS.Key == "") {
		return ErrTLSIncomplete
	}
	if cfg.Limits.MaxBlobBytes <= 0 {
		return ErrMaxBlobBytesInvalid
	}
	if cfg.Limits.MinTTL <= 0 ||
		cfg.Limits.DefaultTTL < cfg.Limits.MinTTL ||
		cfg.Limits.MaxTTL < cfg.Limits.DefaultTTL {
		return ErrTTLBoundsInvalid
	}
	for _, rl := range []RateLimitConfig{cfg.RateLimits.Upload, cfg.RateLimits.Read} {
		if rl.Requests <= 0 || rl.Window <= 0 {
			return ErrRateLimitInvalid
		}
	}
	if cfg.Reconciler.Interval <= 0 || cfg.Reconciler.PageSize <= 0 || cfg.Reconciler.LegacyMaxAge <= 0 {
		return ErrReconcilerInvalid
	}
	return nil
}
