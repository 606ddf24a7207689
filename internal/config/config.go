// Package config loads hwmond settings from flags, environment and a
// TOML file, and reloads the file when it changes.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/hwmond/internal/api"
	"codeberg.org/mutker/hwmond/internal/errors"
	"codeberg.org/mutker/hwmond/internal/hardware"
	"codeberg.org/mutker/hwmond/internal/logger"
	"codeberg.org/mutker/hwmond/internal/status"
	"codeberg.org/mutker/hwmond/internal/telemetry"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

const (
	DefaultLogLevel   = LogLevelInfo
	DefaultIntervalMS = 1000
	DefaultEnvPrefix  = "HWMOND"
	configName        = "hwmond"
	configDir         = "/etc"
)

func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

type TelemetryConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Database     string        `mapstructure:"database"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type Config struct {
	IntervalMS int                              `mapstructure:"-"`
	LogLevel   LogLevel                         `mapstructure:"log_level"`
	NVML       bool                             `mapstructure:"nvml"`
	Thresholds map[string]status.KindThresholds `mapstructure:"-"`
	Telemetry  TelemetryConfig                  `mapstructure:"telemetry"`
	API        APIConfig                        `mapstructure:"api"`
	// Once takes a single sample, prints it and exits. Flag only.
	Once bool `mapstructure:"-"`
}

// Interval is the polling interval, falling back to the default for a
// non-positive setting.
func (c Config) Interval() time.Duration {
	if c.IntervalMS <= 0 {
		return DefaultIntervalMS * time.Millisecond
	}

	return time.Duration(c.IntervalMS) * time.Millisecond
}

// StatusThresholds converts the configured pairs, replacing invalid
// ones with their defaults. Unknown kind names are ignored.
func (c Config) StatusThresholds() status.Thresholds {
	out := make(status.Thresholds, len(c.Thresholds))
	for name, pairs := range c.Thresholds {
		if kind, ok := hardware.ParseKind(strings.ToLower(name)); ok {
			out[kind] = pairs
		}
	}

	return out.Sanitize()
}

func (c Config) TelemetryConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Enabled = c.Telemetry.Enabled
	if c.Telemetry.Database != "" {
		cfg.DBPath = c.Telemetry.Database
	}
	if c.Telemetry.BatchSize > 0 {
		cfg.BatchSize = c.Telemetry.BatchSize
	}
	if c.Telemetry.BatchTimeout > 0 {
		cfg.BatchTimeout = c.Telemetry.BatchTimeout
	}

	return cfg
}

func (c Config) APIConfig() api.Config {
	cfg := api.DefaultConfig()
	cfg.Enabled = c.API.Enabled
	if c.API.Listen != "" {
		cfg.Listen = c.API.Listen
	}

	return cfg
}

type options struct {
	configFile string
	envPrefix  string
}

type Option func(*options)

// WithConfigFile reads path instead of searching for hwmond.toml.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configFile = path
	}
}

func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

// Loader holds the current configuration and keeps it in sync with the
// configuration file.
type Loader struct {
	v      *viper.Viper
	logger logger.Logger

	mu       sync.RWMutex
	current  Config
	ignored  []string
	onChange []func(Config)
}

// Load parses args (without the program name) and reads the
// configuration. Flags override the environment, which overrides the
// file.
func Load(args []string, opts ...Option) (*Loader, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&o)
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := bindFlags(v, fs); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	path := o.configFile
	if p, _ := fs.GetString("config"); p != "" {
		path = p
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	cfg, ignored, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.Once, _ = fs.GetBool("once")

	return &Loader{v: v, logger: logger.Nop(), current: cfg, ignored: ignored}, nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.String("config", "", "Path to the configuration file")
	fs.Int("interval", DefaultIntervalMS, "Polling interval in milliseconds")
	fs.String("log-level", string(DefaultLogLevel), "Log level (debug, info, warning, error)")
	fs.Bool("nvml", true, "Read NVIDIA GPUs through NVML")
	fs.Bool("api", false, "Serve the HTTP and websocket API")
	fs.String("listen", api.DefaultListen, "API listen address")
	fs.Bool("telemetry", false, "Record telemetry to SQLite")
	fs.String("database", telemetry.DefaultConfig().DBPath, "Telemetry database path")
	fs.Bool("once", false, "Print a single snapshot as JSON and exit")

	return fs
}

func setDefaults(v *viper.Viper) {
	tc := telemetry.DefaultConfig()

	v.SetDefault("interval", DefaultIntervalMS)
	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("nvml", true)
	v.SetDefault("telemetry.enabled", tc.Enabled)
	v.SetDefault("telemetry.database", tc.DBPath)
	v.SetDefault("telemetry.batch_size", tc.BatchSize)
	v.SetDefault("telemetry.batch_timeout", tc.BatchTimeout)
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", api.DefaultListen)

	for kind, pairs := range status.DefaultThresholds() {
		prefix := "thresholds." + kind.String()
		if pairs.Temperature.Valid() {
			v.SetDefault(prefix+".temperature.warning", pairs.Temperature.Warning)
			v.SetDefault(prefix+".temperature.critical", pairs.Temperature.Critical)
		}
		if pairs.Usage.Valid() {
			v.SetDefault(prefix+".usage.warning", pairs.Usage.Warning)
			v.SetDefault(prefix+".usage.critical", pairs.Usage.Critical)
		}
	}
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"interval":           "interval",
		"log_level":          "log-level",
		"nvml":               "nvml",
		"api.enabled":        "api",
		"api.listen":         "listen",
		"telemetry.enabled":  "telemetry",
		"telemetry.database": "database",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}

	return nil
}

// decode builds a Config from v. The interval and threshold values are
// decoded one by one; a value of the wrong type is replaced by its
// default and reported in ignored.
func decode(v *viper.Viper) (cfg Config, ignored []string, err error) {
	errFactory := errors.New()

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	cfg.LogLevel = LogLevel(strings.ToLower(string(cfg.LogLevel)))
	if cfg.LogLevel == "warn" {
		cfg.LogLevel = LogLevelWarning
	}
	if !cfg.LogLevel.IsValid() {
		return Config{}, nil, errFactory.WithData(errors.ErrInvalidLogLevel, string(cfg.LogLevel))
	}

	cfg.IntervalMS, err = cast.ToIntE(v.Get("interval"))
	if err != nil {
		ignored = append(ignored, "interval: "+err.Error())
		cfg.IntervalMS = DefaultIntervalMS
	}

	cfg.Thresholds, ignored = decodeThresholds(v, ignored)

	return cfg, ignored, nil
}

func decodeThresholds(v *viper.Viper, ignored []string) (map[string]status.KindThresholds, []string) {
	out := make(map[string]status.KindThresholds)

	for _, key := range v.AllKeys() {
		parts := strings.Split(key, ".")
		if len(parts) != 4 || parts[0] != "thresholds" {
			continue
		}
		kind := parts[1]
		if _, ok := out[kind]; ok {
			continue
		}

		var pairs status.KindThresholds
		var err error
		if pairs.Temperature, err = decodeLimits(v, kind, "temperature"); err != nil {
			ignored = append(ignored, err.Error())
		}
		if pairs.Usage, err = decodeLimits(v, kind, "usage"); err != nil {
			ignored = append(ignored, err.Error())
		}
		out[kind] = pairs
	}

	return out, ignored
}

// decodeLimits reads one warning/critical pair. A pair that fails to
// decode is returned empty, which StatusThresholds replaces by the
// default.
func decodeLimits(v *viper.Viper, kind, metric string) (status.Limits, error) {
	prefix := "thresholds." + kind + "." + metric + "."

	var l status.Limits
	for _, bound := range []struct {
		name string
		dst  *float64
	}{
		{"warning", &l.Warning},
		{"critical", &l.Critical},
	} {
		raw := v.Get(prefix + bound.name)
		if raw == nil {
			continue
		}
		f, err := cast.ToFloat64E(raw)
		if err != nil {
			return status.Limits{}, fmt.Errorf("%s%s: %w", prefix, bound.name, err)
		}
		*bound.dst = f
	}

	return l, nil
}

// Current returns a copy of the active configuration.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

func (l *Loader) Interval() time.Duration {
	return l.Current().Interval()
}

func (l *Loader) Thresholds() status.Thresholds {
	return l.Current().StatusThresholds()
}

// ConfigFile is the file in use, or "" when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Ignored lists the values of the last successful load that could not
// be decoded and were replaced by their defaults.
func (l *Loader) Ignored() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.ignored...)
}

// SetLogger replaces the logger used for reload messages. The loader
// logs nothing until it is set.
func (l *Loader) SetLogger(log logger.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger = log
}

// OnChange registers fn to run after every successful reload.
func (l *Loader) OnChange(fn func(Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch reloads the configuration whenever the file changes. A reload
// that fails keeps the previous configuration.
func (l *Loader) Watch() {
	if l.ConfigFile() == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.reload(e.Name)
	})
	l.v.WatchConfig()

	l.log().Debug().Str("path", l.ConfigFile()).Msg("Watching configuration file")
}

func (l *Loader) log() logger.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

func (l *Loader) reload(name string) {
	cfg, ignored, err := decode(l.v)
	if err != nil {
		l.log().Warn().Err(err).Str("path", name).Msg("Ignoring invalid configuration change")
		return
	}

	l.mu.Lock()
	cfg.Once = l.current.Once
	l.current = cfg
	l.ignored = ignored
	listeners := append([]func(Config){}, l.onChange...)
	l.mu.Unlock()

	l.log().Info().
		Str("path", name).
		Dur("interval", cfg.Interval()).
		Str("log_level", string(cfg.LogLevel)).
		Msg("Configuration reloaded")
	for _, msg := range ignored {
		l.log().Warn().Str("value", msg).Msg("Invalid configuration value, using default")
	}

	for _, fn := range listeners {
		fn(cfg)
	}
}
