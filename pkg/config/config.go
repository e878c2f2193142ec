// Package config loads the proxy's YAML configuration and compiles it into
// the policy and timing values the other packages consume.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ristomat/offline-edge/pkg/classify"
	"github.com/ristomat/offline-edge/pkg/strategy"
)

// Config is the proxy configuration. Durations are YAML strings like "5m"
// and are compiled by Load; read them through the accessor methods.
type Config struct {
	Server struct {
		// Listen is the proxy's listen address. Defaults to :8090.
		Listen string `yaml:"listen"`

		// Origin is the application server the proxy fronts. Required.
		Origin string `yaml:"origin"`
	} `yaml:"server"`

	Cache struct {
		// Version names the cache generation; bumping it triggers a fresh
		// install on startup. Defaults to v1.
		Version string `yaml:"version"`

		// Shell lists the URLs seeded into the bootstrap namespace at
		// install. Empty skips seeding.
		Shell []string `yaml:"shell"`

		// APIPrefixes are the path prefixes classified as API requests.
		// Defaults to /api/.
		APIPrefixes []string `yaml:"apiPrefixes"`

		// SkipWaiting activates a new version without draining in-flight
		// requests. Defaults to true.
		SkipWaiting *bool `yaml:"skipWaiting"`

		// Claim routes to a new version the moment it activates.
		// Defaults to true.
		Claim *bool `yaml:"claim"`

		// Policies overrides parts of the stock policy table.
		Policies []PolicyRule `yaml:"policies"`
	} `yaml:"cache"`

	Redis struct {
		// Addr selects the Redis store; empty keeps entries in memory.
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`

		// Prefix namespaces this proxy's keys. Defaults to edge.
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`

	Outbox struct {
		// Path is the on-disk queue directory. Defaults to data/outbox.
		Path string `yaml:"path"`

		// SyncInterval is the periodic replay cadence. Defaults to 30s.
		SyncInterval string `yaml:"syncInterval"`

		// MaxAttempts caps replays per task before it is dropped. Zero
		// keeps the built-in default.
		MaxAttempts int `yaml:"maxAttempts"`
	} `yaml:"outbox"`

	Network struct {
		// FetchTimeout bounds each origin fetch. Defaults to 10s.
		FetchTimeout string `yaml:"fetchTimeout"`

		// FailureThreshold is how many consecutive transport failures
		// mark the origin offline. Zero keeps the built-in default.
		FailureThreshold int `yaml:"failureThreshold"`

		// ProbePath is probed while offline to detect recovery.
		// Defaults to /.
		ProbePath string `yaml:"probePath"`

		// ProbeInterval is the probe cadence. Defaults to 15s.
		ProbeInterval string `yaml:"probeInterval"`
	} `yaml:"network"`

	Logging struct {
		// Level is the zerolog level name. Defaults to info.
		Level string `yaml:"level"`

		// Pretty switches to human-readable console output.
		Pretty bool `yaml:"pretty"`
	} `yaml:"logging"`

	// compiled
	syncInterval  time.Duration
	fetchTimeout  time.Duration
	probeInterval time.Duration
}

// PolicyRule overrides the stock policy for one class. Absent fields keep
// their defaults.
type PolicyRule struct {
	// Class is one of api, navigation, image, static, other.
	Class string `yaml:"class"`

	// Strategy is one of network-first, cache-first, network-only.
	Strategy string `yaml:"strategy"`

	// TTL is a duration string; "0" disables expiry for the class.
	TTL string `yaml:"ttl"`

	// MaxEntries bounds the class's namespace; 0 means unbounded.
	MaxEntries *int `yaml:"maxEntries"`
}

var classExists = map[string]classify.Class{
	"api":        classify.API,
	"navigation": classify.Navigation,
	"image":      classify.Image,
	"static":     classify.StaticAsset,
	"other":      classify.Other,
}

var strategyExists = map[string]strategy.Strategy{
	"network-first": strategy.NetworkFirst,
	"cache-first":   strategy.CacheFirst,
	"network-only":  strategy.NetworkOnly,
}

// Load reads path, applies defaults and validates.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes raw YAML, applies defaults and validates.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8090"
	}
	if cfg.Server.Origin == "" {
		return Config{}, fmt.Errorf("server.origin is required")
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")

	if cfg.Cache.Version == "" {
		cfg.Cache.Version = "v1"
	}
	if len(cfg.Cache.APIPrefixes) == 0 {
		cfg.Cache.APIPrefixes = []string{"/api/"}
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "edge"
	}
	if cfg.Outbox.Path == "" {
		cfg.Outbox.Path = "data/outbox"
	}
	if cfg.Network.ProbePath == "" {
		cfg.Network.ProbePath = "/"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	var perr error
	cfg.syncInterval, perr = parseDuration(cfg.Outbox.SyncInterval, 30*time.Second)
	if perr != nil {
		return Config{}, fmt.Errorf("outbox.syncInterval: %w", perr)
	}
	cfg.fetchTimeout, perr = parseDuration(cfg.Network.FetchTimeout, 10*time.Second)
	if perr != nil {
		return Config{}, fmt.Errorf("network.fetchTimeout: %w", perr)
	}
	cfg.probeInterval, perr = parseDuration(cfg.Network.ProbeInterval, 15*time.Second)
	if perr != nil {
		return Config{}, fmt.Errorf("network.probeInterval: %w", perr)
	}

	for i, rule := range cfg.Cache.Policies {
		if _, ok := classExists[rule.Class]; !ok {
			return Config{}, fmt.Errorf("cache.policies[%d].class: unknown class %q", i, rule.Class)
		}
		if rule.Strategy != "" {
			if _, ok := strategyExists[rule.Strategy]; !ok {
				return Config{}, fmt.Errorf("cache.policies[%d].strategy: unknown strategy %q", i, rule.Strategy)
			}
		}
		if rule.TTL != "" {
			if _, err := time.ParseDuration(rule.TTL); err != nil {
				return Config{}, fmt.Errorf("cache.policies[%d].ttl: %w", i, err)
			}
		}
		if rule.MaxEntries != nil && *rule.MaxEntries < 0 {
			return Config{}, fmt.Errorf("cache.policies[%d].maxEntries: must not be negative", i)
		}
	}

	return cfg, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}

// SyncInterval returns the compiled periodic replay cadence.
func (c Config) SyncInterval() time.Duration { return c.syncInterval }

// FetchTimeout returns the compiled origin fetch timeout.
func (c Config) FetchTimeout() time.Duration { return c.fetchTimeout }

// ProbeInterval returns the compiled probe cadence.
func (c Config) ProbeInterval() time.Duration { return c.probeInterval }

// SkipWaiting reports whether activation skips the drain wait. Defaults to
// true, matching the frontend this proxy was built for.
func (c Config) SkipWaiting() bool {
	if c.Cache.SkipWaiting == nil {
		return true
	}
	return *c.Cache.SkipWaiting
}

// Claim reports whether a freshly activated version takes over routing
// immediately. Defaults to true.
func (c Config) Claim() bool {
	if c.Cache.Claim == nil {
		return true
	}
	return *c.Cache.Claim
}

// Policies compiles the stock policy table with the configured overrides
// applied on top.
func (c Config) Policies() map[classify.Class]strategy.Policy {
	policies := strategy.DefaultPolicies()
	for _, rule := range c.Cache.Policies {
		class := classExists[rule.Class]
		policy := policies[class]
		if rule.Strategy != "" {
			policy.Strategy = strategyExists[rule.Strategy]
		}
		if rule.TTL != "" {
			// Validated in Parse.
			policy.TTL, _ = time.ParseDuration(rule.TTL)
		}
		if rule.MaxEntries != nil {
			policy.MaxEntries = *rule.MaxEntries
		}
		policies[class] = policy
	}
	return policies
}
