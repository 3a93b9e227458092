// Package config loads the tool configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/tessia-project/baselib/pkg/hypervisor"
)

// envPrefix namespaces the environment overrides, e.g. BASELIB_LOG_LEVEL.
const envPrefix = "BASELIB"

// Config contains all configuration for the CLI and the attach service.
type Config struct {
	// Logging configuration
	Log LogConfig `mapstructure:"log"`

	// Console attach service configuration
	Consoled ConsoledConfig `mapstructure:"consoled"`

	// Hypervisors maps an instance name to its connection settings.
	Hypervisors map[string]hypervisor.Config `mapstructure:"hypervisors"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Debug  bool   `mapstructure:"debug"`
}

// ConfigureZerolog configures zerolog based on the log configuration
func (c *LogConfig) ConfigureZerolog() {
	level := zerolog.InfoLevel
	if c.Debug {
		level = zerolog.DebugLevel
	} else {
		switch strings.ToLower(c.Level) {
		case "trace":
			level = zerolog.TraceLevel
		case "debug":
			level = zerolog.DebugLevel
		case "info":
			level = zerolog.InfoLevel
		case "warn", "warning":
			level = zerolog.WarnLevel
		case "error":
			level = zerolog.ErrorLevel
		case "fatal":
			level = zerolog.FatalLevel
		case "panic":
			level = zerolog.PanicLevel
		}
	}
	zerolog.SetGlobalLevel(level)

	if strings.ToLower(c.Format) == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// ConsoledConfig contains the attach service configuration
type ConsoledConfig struct {
	// Listen is the HTTP listen address.
	Listen string `mapstructure:"listen"`

	// Emulator is the terminal emulator binary spawned per session.
	Emulator string `mapstructure:"emulator"`
}

// Load reads the configuration file at path, if any, applies environment
// overrides and returns the result. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("consoled.listen", ":8490")
	v.SetDefault("consoled.emulator", "s3270")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Hypervisor looks a named instance up.
func (c *Config) Hypervisor(name string) (hypervisor.Config, error) {
	hv, ok := c.Hypervisors[name]
	if !ok {
		return hypervisor.Config{}, fmt.Errorf("hypervisor %q not configured", name)
	}
	return hv, nil
}
