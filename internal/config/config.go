// Package config loads the portofino YAML configuration and applies
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvConfig                      = "PORTOFINO_CONFIG"
	EnvPageCacheSize               = "PORTOFINO_PAGE_CACHE_SIZE"
	EnvPageCacheCheckFrequency     = "PORTOFINO_PAGE_CACHE_CHECK_FREQUENCY"
	EnvConfigurationCacheSize      = "PORTOFINO_CONFIGURATION_CACHE_SIZE"
	EnvConfigurationCacheCheckFreq = "PORTOFINO_CONFIGURATION_CACHE_CHECK_FREQUENCY"
)

const (
	DefaultCacheSize           = 1000
	DefaultCacheCheckFrequency = 5
	DefaultServerAddr          = ":8080"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "console"
	DefaultFile                = "portofino.yaml"

	defaultSkin     = "default"
	defaultTemplate = "/templates/default"
	defaultRoot     = "pages"
)

// Cache sizes a definition cache. CheckFrequency is in seconds.
type Cache struct {
	Size           int `yaml:"size"`
	CheckFrequency int `yaml:"checkFrequency"`
}

// RefreshAfter returns CheckFrequency as a duration.
func (c Cache) RefreshAfter() time.Duration {
	return time.Duration(c.CheckFrequency) * time.Second
}

type Config struct {
	Pages struct {
		Root string `yaml:"root"`
		// SweepInterval, in seconds, refreshes cached entries without reads. 0 disables it.
		SweepInterval int `yaml:"sweepInterval"`
	} `yaml:"pages"`

	PageCache          Cache `yaml:"pageCache"`
	ConfigurationCache Cache `yaml:"configurationCache"`
	ScriptCache        Cache `yaml:"scriptCache"`

	Templates struct {
		SkinsDir string `yaml:"skinsDir"`
		Skin     string `yaml:"skin"`
		Default  string `yaml:"default"`
	} `yaml:"templates"`

	Homes struct {
		HTML string `yaml:"html"`
		JSON string `yaml:"json"`
		YAML string `yaml:"yaml"`
	} `yaml:"homes"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Watch struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"watch"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load reads path, applies defaults and environment overrides, and
// validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Path returns the configuration path from flag, falling back to
// PORTOFINO_CONFIG and then to ./portofino.yaml when that file exists.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(EnvConfig); v != "" {
		return v
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile
	}
	return ""
}

func (c *Config) applyDefaults() {
	if c.Pages.Root == "" {
		c.Pages.Root = defaultRoot
	}
	for _, cc := range []*Cache{&c.PageCache, &c.ConfigurationCache, &c.ScriptCache} {
		if cc.Size == 0 {
			cc.Size = DefaultCacheSize
		}
		if cc.CheckFrequency == 0 {
			cc.CheckFrequency = DefaultCacheCheckFrequency
		}
	}
	if c.Templates.Skin == "" {
		c.Templates.Skin = defaultSkin
	}
	if c.Templates.Default == "" {
		c.Templates.Default = defaultTemplate
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	overrides := []struct {
		env string
		dst *int
	}{
		{EnvPageCacheSize, &c.PageCache.Size},
		{EnvPageCacheCheckFrequency, &c.PageCache.CheckFrequency},
		{EnvConfigurationCacheSize, &c.ConfigurationCache.Size},
		{EnvConfigurationCacheCheckFreq, &c.ConfigurationCache.CheckFrequency},
	}
	for _, o := range overrides {
		v, ok := lookup(o.env)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", o.env, err)
		}
		*o.dst = n
	}
	return nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	caches := []struct {
		name string
		c    Cache
	}{
		{"pageCache", c.PageCache},
		{"configurationCache", c.ConfigurationCache},
		{"scriptCache", c.ScriptCache},
	}
	for _, cc := range caches {
		if cc.c.Size < 0 {
			return fmt.Errorf("%s.size must not be negative, got %d", cc.name, cc.c.Size)
		}
		if cc.c.CheckFrequency < 0 {
			return fmt.Errorf("%s.checkFrequency must not be negative, got %d", cc.name, cc.c.CheckFrequency)
		}
	}
	if c.Pages.SweepInterval < 0 {
		return fmt.Errorf("pages.sweepInterval must not be negative, got %d", c.Pages.SweepInterval)
	}
	if !strings.HasPrefix(c.Templates.Default, "/") {
		return fmt.Errorf("templates.default must start with /, got %q", c.Templates.Default)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// HomeLocations maps response formats to the configured home locations.
func (c *Config) HomeLocations() map[string]string {
	return map[string]string{
		"html": c.Homes.HTML,
		"json": c.Homes.JSON,
		"yaml": c.Homes.YAML,
	}
}
