// Copyright 2026 The Prefork Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the settings of the preforkd daemon, from defaults,
// an optional YAML file, PREFORK_ environment variables and flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gdamore/prefork"
)

// EnvPrefix is prepended to environment variable names, so that
// PREFORK_CONTROL_LISTEN sets control.listen.
const EnvPrefix = "PREFORK"

type ControlConfig struct {
	Listen       string `mapstructure:"listen"`
	User         string `mapstructure:"user"`
	PasswordHash string `mapstructure:"password_hash"`
}

type TimeoutConfig struct {
	Interrupt time.Duration `mapstructure:"interrupt"`
	Terminate time.Duration `mapstructure:"terminate"`
	Kill      time.Duration `mapstructure:"kill"`
	Ready     time.Duration `mapstructure:"ready"`
}

type RestartConfig struct {
	RateLimit  int           `mapstructure:"rate_limit"`
	RatePeriod time.Duration `mapstructure:"rate_period"`
}

type WatchConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Root        string        `mapstructure:"root"`
	MasterFiles []string      `mapstructure:"master_files"`
	Ignore      []string      `mapstructure:"ignore"`
	Debounce    time.Duration `mapstructure:"debounce"`
}

// Config is the daemon configuration.
type Config struct {
	Workers    int    `mapstructure:"workers"`
	MaxWorkers int    `mapstructure:"max_workers"`
	Listen     string `mapstructure:"listen"`
	MaxConns   int    `mapstructure:"max_conns"`

	Control  ControlConfig `mapstructure:"control"`
	Timeouts TimeoutConfig `mapstructure:"timeouts"`
	Restart  RestartConfig `mapstructure:"restart"`
	Watch    WatchConfig   `mapstructure:"watch"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workers", 0)
	v.SetDefault("max_workers", 0)
	v.SetDefault("listen", ":8080")
	v.SetDefault("max_conns", 0)

	v.SetDefault("control.listen", "127.0.0.1:8321")
	v.SetDefault("control.user", "")
	v.SetDefault("control.password_hash", "")

	v.SetDefault("timeouts.interrupt", prefork.DefaultTimeouts.Interrupt)
	v.SetDefault("timeouts.terminate", prefork.DefaultTimeouts.Terminate)
	v.SetDefault("timeouts.kill", prefork.DefaultTimeouts.Kill)
	v.SetDefault("timeouts.ready", time.Duration(0))

	v.SetDefault("restart.rate_limit", 10)
	v.SetDefault("restart.rate_period", time.Minute)

	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.root", ".")
	v.SetDefault("watch.master_files", prefork.DefaultMasterFiles)
	v.SetDefault("watch.ignore", prefork.DefaultIgnore)
	v.SetDefault("watch.debounce", 250*time.Millisecond)
}

// New returns a viper instance with defaults and environment binding in
// place.  If path is empty, prefork.yaml is looked for in the current
// directory, and its absence is not an error.
func New(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("prefork")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	return v
}

// BindFlags lets command line flags override the keys they are named
// after.  A flag's first dash may stand for a section separator and the
// rest for underscores, so --control-listen sets control.listen and
// --max-workers sets max_workers.  Flags that name no key are left alone.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	known := make(map[string]bool)
	for _, k := range v.AllKeys() {
		known[k] = true
	}
	var e error
	flags.VisitAll(func(f *pflag.Flag) {
		for _, key := range flagKeys(f.Name) {
			if !known[key] {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil && e == nil {
				e = err
			}
			return
		}
	})
	return e
}

func flagKeys(name string) []string {
	flat := strings.ReplaceAll(name, "-", "_")
	if i := strings.IndexByte(name, '-'); i > 0 {
		nested := name[:i] + "." + strings.ReplaceAll(name[i+1:], "-", "_")
		return []string{flat, nested}
	}
	return []string{flat}
}

// Load reads the configuration file, if there is one, and decodes the
// result.
func Load(v *viper.Viper) (*Config, error) {
	if e := v.ReadInConfig(); e != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(e, &notFound) {
			return nil, fmt.Errorf("reading config: %w", e)
		}
	}
	return Decode(v)
}

// Decode decodes the current settings without rereading the file.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if e := v.Unmarshal(cfg); e != nil {
		return nil, fmt.Errorf("decoding config: %w", e)
	}
	if e := cfg.Validate(); e != nil {
		return nil, e
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers: must not be negative, got %d", c.Workers)
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max_conns: must not be negative, got %d", c.MaxConns)
	}
	if c.Listen == "" {
		return errors.New("listen: address required")
	}
	if c.Control.User != "" && c.Control.PasswordHash == "" {
		return errors.New("control.password_hash: required with control.user")
	}
	return nil
}

// MasterOptions converts the configuration into options for a master.
// Spawner, clock and log are left for the caller.
func (c *Config) MasterOptions() prefork.Options {
	return prefork.Options{
		Workers:      c.Workers,
		MaxWorkers:   c.MaxWorkers,
		ReadyTimeout: c.Timeouts.Ready,
		Timeouts: prefork.Timeouts{
			Interrupt: c.Timeouts.Interrupt,
			Terminate: c.Timeouts.Terminate,
			Kill:      c.Timeouts.Kill,
		},
		RateLimit:  c.Restart.RateLimit,
		RatePeriod: c.Restart.RatePeriod,
	}
}

// CoordinatorConfig converts the watch settings.
func (c *Config) CoordinatorConfig(logger *log.Logger) prefork.CoordinatorConfig {
	return prefork.CoordinatorConfig{
		Root:        c.Watch.Root,
		MasterFiles: c.Watch.MasterFiles,
		Ignore:      c.Watch.Ignore,
		Debounce:    c.Watch.Debounce,
		Logger:      logger,
	}
}

// Watch calls fn with the new configuration whenever the config file
// changes.  Edits that do not decode are logged and skipped.
func Watch(v *viper.Viper, logger *log.Logger, fn func(*Config)) {
	v.OnConfigChange(func(ev fsnotify.Event) {
		cfg, e := Decode(v)
		if e != nil {
			logger.Printf("Ignoring change to %s: %v", ev.Name, e)
			return
		}
		logger.Printf("Configuration %s changed", ev.Name)
		fn(cfg)
	})
	v.WatchConfig()
}
