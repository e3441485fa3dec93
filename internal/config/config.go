package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/tessel/kairo/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultInterval       = 5
	defaultMaxConcurrent  = 6
	defaultLowBattery     = 0.15
	defaultDebounceMs     = 350
	defaultFailureThresh  = 5
	defaultSuccessThresh  = 3
	defaultBreakerTimeout = 60
	defaultHalfOpenMax    = 5
	defaultTelemetryDB    = "/var/lib/kairod/telemetry.db"
)

// Config holds the daemon configuration assembled from the config file,
// environment variables and command line flags.
type Config struct {
	Interval      int     `mapstructure:"interval"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
	LowBattery    float64 `mapstructure:"low_battery"`
	DebounceMs    int     `mapstructure:"debounce"`
	Monitor       bool    `mapstructure:"monitor"`
	Simulate      bool    `mapstructure:"simulate"`
	Debug         bool    `mapstructure:"debug"`
	Verbose       bool    `mapstructure:"verbose"`
	LogLevel      string  `mapstructure:"log_level"`
	Telemetry     bool    `mapstructure:"telemetry"`
	TelemetryDB   string  `mapstructure:"database"`

	BreakerFailureThreshold int `mapstructure:"breaker_failure_threshold"`
	BreakerSuccessThreshold int `mapstructure:"breaker_success_threshold"`
	BreakerTimeoutSeconds   int `mapstructure:"breaker_timeout"`
	BreakerHalfOpenMax      int `mapstructure:"breaker_half_open_max"`
}

// TickPeriod returns the health probe interval as a duration.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// Debounce returns the snapshot debounce window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func Load() (*Config, error) {
	errFactory := errors.New()
	v := viper.New()

	setDefaults(v)

	flags := pflag.NewFlagSet("kairod", pflag.ContinueOnError)
	flags.Int("interval", defaultInterval, "Seconds between health probe reads")
	flags.Int("max-concurrent", defaultMaxConcurrent, "Maximum concurrent network requests at full health")
	flags.Float64("low-battery", defaultLowBattery, "Battery fraction below which heavy operations are denied")
	flags.Int("debounce", defaultDebounceMs, "Milliseconds to debounce health snapshot updates")
	flags.Bool("monitor", false, "Announce monitor mode; health status is logged only with --verbose or --debug")
	flags.Bool("simulate", false, "Drive the monitor from a simulated probe")
	flags.Bool("debug", false, "Enable debugging mode")
	flags.Bool("verbose", false, "Enable verbose logging")
	flags.String("log-level", "", "Log level (debug, info, warning, error)")
	flags.Bool("telemetry", false, "Enable telemetry collection")
	flags.String("database", defaultTelemetryDB, "Path to the telemetry database")

	flags.ParseErrorsWhitelist.UnknownFlags = true
	if err := flags.Parse(cliArgs(os.Args[1:])); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"interval":       "interval",
		"max_concurrent": "max-concurrent",
		"low_battery":    "low-battery",
		"debounce":       "debounce",
		"monitor":        "monitor",
		"simulate":       "simulate",
		"debug":          "debug",
		"verbose":        "verbose",
		"log_level":      "log-level",
		"telemetry":      "telemetry",
		"database":       "database",
	}
	for key, flagName := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flagName)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("KAIROD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// cliArgs keeps only --flag arguments (and their values), dropping
// anything else the process was handed, such as the test runner's
// single-dash flags.
func cliArgs(argv []string) []string {
	var out []string
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		out = append(out, arg)
		if !strings.Contains(arg, "=") && i+1 < len(argv) && !strings.HasPrefix(argv[i+1], "-") {
			out = append(out, argv[i+1])
			i++
		}
	}

	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", defaultInterval)
	v.SetDefault("max_concurrent", defaultMaxConcurrent)
	v.SetDefault("low_battery", defaultLowBattery)
	v.SetDefault("debounce", defaultDebounceMs)
	v.SetDefault("monitor", false)
	v.SetDefault("simulate", false)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("telemetry", false)
	v.SetDefault("database", defaultTelemetryDB)
	v.SetDefault("breaker_failure_threshold", defaultFailureThresh)
	v.SetDefault("breaker_success_threshold", defaultSuccessThresh)
	v.SetDefault("breaker_timeout", defaultBreakerTimeout)
	v.SetDefault("breaker_half_open_max", defaultHalfOpenMax)
}

func readConfigFile(v *viper.Viper) error {
	errFactory := errors.New()

	if path := os.Getenv("KAIROD_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kairod")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if os.IsNotExist(err) {
				return nil
			}
			return errFactory.Wrap(errors.ErrReadConfig, err).WithMessage("Failed to read config file")
		}
	}

	return nil
}

// Validate checks configuration invariants before the daemon starts.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.MaxConcurrent < 1 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "max_concurrent must be at least 1")
	}
	if c.LowBattery < 0 || c.LowBattery > 1 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "low_battery must be within [0,1]")
	}
	if c.DebounceMs < 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "debounce must not be negative")
	}
	if c.BreakerFailureThreshold < 1 || c.BreakerSuccessThreshold < 1 || c.BreakerHalfOpenMax < 1 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "breaker thresholds must be at least 1")
	}
	if c.BreakerTimeoutSeconds <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "breaker timeout must be positive")
	}
	if c.LogLevel != "" && !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}
