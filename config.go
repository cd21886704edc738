// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package transformproxy

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Defaults applied to zero Config fields.
const (
	DefaultProtocol = "https"
	DefaultHost     = "app.resrc.it"
	DefaultCacheDir = "cache"
)

// Config holds the settings of a Proxy.  The zero value of every field
// except Token selects a default.
type Config struct {
	// Token is the credential for the transformation API.  Required.
	Token string `yaml:"token"`

	// Protocol and Host locate the transformation API.
	Protocol string `yaml:"protocol"`
	Host     string `yaml:"host"`

	// CacheDir is where transformed images are stored.
	CacheDir string `yaml:"cacheDir"`

	// Debug enables verbose logging, Silent disables logging entirely.
	Debug  bool `yaml:"debug"`
	Silent bool `yaml:"silent"`

	// Timeout limits each outbound HTTP request.  Zero means no limit.
	Timeout time.Duration `yaml:"timeout"`

	// Addr and SourceCache are only used by cmd/transformproxy.
	Addr        string `yaml:"addr"`
	SourceCache string `yaml:"sourceCache"`
}

// LoadConfig reads a YAML config file.  Defaults are not applied.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// withDefaults returns a copy of c with defaults filled in.
func (c Config) withDefaults() Config {
	if c.Protocol == "" {
		c.Protocol = DefaultProtocol
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	return c
}

// Validate reports whether c, with defaults applied, is usable.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.Token == "" {
		return errors.New("API token required")
	}
	if c.Protocol != "http" && c.Protocol != "https" {
		return fmt.Errorf("unsupported protocol %q", c.Protocol)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("negative timeout %v", c.Timeout)
	}
	return nil
}

// NewLogger builds the logger selected by the Debug and Silent settings.
// Silent wins over Debug.
func (c Config) NewLogger() (*zap.Logger, error) {
	if c.Silent {
		return zap.NewNop(), nil
	}
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	if c.Debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}
