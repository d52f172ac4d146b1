// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	apcerr "github.com/apc-dev/apc/pkg/errors"
)

// Config is the top-level apc configuration.
type Config struct {
	Workspace string          `mapstructure:"workspace" yaml:"workspace"`
	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	Daemon    DaemonConfig    `mapstructure:"daemon" yaml:"daemon"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Readiness ReadinessConfig `mapstructure:"readiness" yaml:"readiness"`
	Journal   JournalConfig   `mapstructure:"journal" yaml:"journal"`
	Devd      DevdConfig      `mapstructure:"devd" yaml:"devd"`
}

// DiscoveryConfig locates the daemon's port file. An empty Dir means the OS
// temp directory.
type DiscoveryConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DaemonConfig describes how to reach the daemon.
type DaemonConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
}

// MonitorConfig controls the health ping loop.
type MonitorConfig struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	PingTimeout   time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout" yaml:"verify_timeout"`
}

// TransportConfig controls the WebSocket client.
type TransportConfig struct {
	DialTimeout    time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ReadinessConfig controls settle checks and adaptive polling.
type ReadinessConfig struct {
	SettleDelay  time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	PollReady    time.Duration `mapstructure:"poll_ready" yaml:"poll_ready"`
	PollDegraded time.Duration `mapstructure:"poll_degraded" yaml:"poll_degraded"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// JournalConfig selects where health and phase transitions are recorded.
// An empty Path with the sqlite backend resolves to DefaultJournalPath.
type JournalConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// DevdConfig configures the reference daemon.
type DevdConfig struct {
	Listen      string        `mapstructure:"listen" yaml:"listen"`
	ReplayDelay time.Duration `mapstructure:"replay_delay" yaml:"replay_delay"`
}

const (
	minSettleDelay = 100 * time.Millisecond
	maxSettleDelay = 500 * time.Millisecond
)

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix APC_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apcerr.Errorf(apcerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// SetupEnv binds APC_-prefixed environment variables, with "." in keys
// mapped to "_" (APC_MONITOR_INTERVAL overrides monitor.interval).
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("APC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apcerr.Errorf(apcerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, apcerr.Errorf(apcerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workspace", "")
	v.SetDefault("discovery.dir", "")
	v.SetDefault("daemon.host", "127.0.0.1")
	v.SetDefault("monitor.interval", "15s")
	v.SetDefault("monitor.ping_timeout", "10s")
	v.SetDefault("monitor.verify_timeout", "5s")
	v.SetDefault("transport.dial_timeout", "5s")
	v.SetDefault("transport.request_timeout", "5s")
	v.SetDefault("readiness.settle_delay", "300ms")
	v.SetDefault("readiness.poll_ready", "30s")
	v.SetDefault("readiness.poll_degraded", "1s")
	v.SetDefault("readiness.query_timeout", "5s")
	v.SetDefault("journal.backend", "sqlite")
	v.SetDefault("journal.path", "")
	v.SetDefault("devd.listen", "127.0.0.1:0")
	v.SetDefault("devd.replay_delay", "50ms")
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateDaemon()...)
	errs = append(errs, c.validateTimings()...)
	errs = append(errs, c.validateJournal()...)
	errs = append(errs, c.validateDevd()...)

	return errs
}

func (c *Config) validateDaemon() []error {
	var errs []error

	if strings.TrimSpace(c.Daemon.Host) == "" {
		errs = append(errs, apcerr.Errorf(apcerr.CodeConfigValidateInvalidValue, "config: daemon.host must not be empty"))
	}

	return errs
}

func (c *Config) validateTimings() []error {
	var errs []error

	positive := []struct {
		key string
		val time.Duration
	}{
		{"monitor.interval", c.Monitor.Interval},
		{"monitor.ping_timeout", c.Monitor.PingTimeout},
		{"monitor.verify_timeout", c.Monitor.VerifyTimeout},
		{"transport.dial_timeout", c.Transport.DialTimeout},
		{"transport.request_timeout", c.Transport.RequestTimeout},
		{"readiness.poll_ready", c.Readiness.PollReady},
		{"readiness.poll_degraded", c.Readiness.PollDegraded},
		{"readiness.query_timeout", c.Readiness.QueryTimeout},
	}
	for _, p := range positive {
		if p.val <= 0 {
			errs = append(errs, apcerr.Errorf(apcerr.CodeConfigValidateInvalidValue,
				"config: %s must be greater than 0, got %s", p.key, p.val,
			))
		}
	}

	if d := c.Readiness.SettleDelay; d < minSettleDelay || d > maxSettleDelay {
		errs = append(errs, apcerr.Errorf(apcerr.CodeConfigValidateInvalidValue,
			"config: readiness.settle_delay must be between %s and %s, got %s",
			minSettleDelay, maxSettleDelay, d,
		))
	}

	if c.Monitor.PingTimeout > 0 && c.Monitor.Interval > 0 && c.Monitor.PingTimeout > c.Monitor.Interval {
		errs = append(errs, apcerr.Errorf(apcerr.CodeConfigValidateInvalidValue,
			"config: monitor.ping_timeout (%s) must not exceed monitor.interval (%s)",
			c.Monitor.PingTimeout, c.Monitor.Interval,
		))
	}

	return errs
}

func (c *Config) validateJournal() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Journal.Backend] {
		errs = append(errs, apcerr.Errorf(apcerr.CodeConfigValidateInvalidValue,
			"config: journal.backend must be one of [sqlite, memory], got %q",
			c.Journal.Backend,
		))
	}

	return errs
}

func (c *Config) validateDevd() []error {
	var errs []error

	if c.Devd.Listen == "" {
		errs = append(errs, apcerr.Errorf(apcerr.CodeConfigValidateInvalidValue, "config: devd.listen must not be empty"))
	} else {
		_, portStr, err := net.SplitHostPort(c.Devd.Listen)
		if err != nil {
			errs = append(errs, apcerr.Errorf(apcerr.CodeConfigValidateInvalidValue,
				"config: devd.listen must be a valid host:port address, got %q: %w",
				c.Devd.Listen, err,
			))
		} else {
			// Port 0 asks the OS for a free port.
			port, err := strconv.Atoi(portStr)
			if err != nil {
				errs = append(errs, apcerr.Errorf(apcerr.CodeConfigValidateInvalidValue,
					"config: devd.listen port must be a number, got %q",
					portStr,
				))
			} else if port < 0 || port > 65535 {
				errs = append(errs, apcerr.Errorf(apcerr.CodeConfigValidateInvalidValue,
					"config: devd.listen port must be between 0 and 65535, got %d",
					port,
				))
			}
		}
	}

	if c.Devd.ReplayDelay < 0 {
		errs = append(errs, apcerr.Errorf(apcerr.CodeConfigValidateInvalidValue,
			"config: devd.replay_delay must not be negative, got %s", c.Devd.ReplayDelay,
		))
	}

	return errs
}
