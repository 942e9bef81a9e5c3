package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the on-disk configuration (OctoPrintControl.json by default).
type Config struct {
	Token           string          `mapstructure:"token"`
	UpdateChannel   string          `mapstructure:"updateChannel"`
	TrustedUsers    []string        `mapstructure:"trustedUsers"`
	PrintUpdateFreq int             `mapstructure:"printUpdateFreq"` // seconds
	MetricsAddr     string          `mapstructure:"metricsAddr"`
	Printers        []PrinterConfig `mapstructure:"printers"`
	Log             LogConfig       `mapstructure:"log"`
}

type PrinterConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
	// Auth is the "user:session" credential sent on the push channel.
	Auth string `mapstructure:"auth"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"maxSize"` // MB
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAge     int    `mapstructure:"maxAge"` // days
	Compress   bool   `mapstructure:"compress"`
	Dev        bool   `mapstructure:"dev"`
}

const defaultPrintUpdateFreq = 600

func (c Config) validate() error {
	if c.Token == "" {
		return errors.New("config must have a value for `token`")
	}
	if c.UpdateChannel == "" {
		return errors.New("no updateChannel specified in config")
	}
	if len(c.Printers) == 0 {
		return errors.New("no printers configured")
	}
	seen := make(map[string]bool, len(c.Printers))
	for i, p := range c.Printers {
		if p.ID == "" || p.URL == "" {
			return fmt.Errorf("printer %d: id and url are required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("printer %d: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

func (c Config) updateInterval() time.Duration {
	return time.Duration(c.PrintUpdateFreq) * time.Second
}

// newViper prepares a viper instance for path with OPC_ environment
// overrides (OPC_TOKEN, OPC_UPDATECHANNEL, OPC_LOG_LEVEL, ...).
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("OPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("printUpdateFreq", defaultPrintUpdateFreq)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.maxSize", 10)
	v.SetDefault("log.maxBackups", 3)

	// AutomaticEnv only applies to keys viper knows about.
	_ = v.BindEnv("token")
	_ = v.BindEnv("updateChannel")
	_ = v.BindEnv("metricsAddr")
	return v
}

func loadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Settings holds the parts of the configuration that may change while
// the bot runs.
type Settings struct {
	mu           sync.RWMutex
	trustedUsers map[string]bool
	updateEvery  time.Duration
}

func newSettings(cfg Config) *Settings {
	s := &Settings{}
	s.apply(cfg)
	return s
}

func (s *Settings) apply(cfg Config) {
	trusted := make(map[string]bool, len(cfg.TrustedUsers))
	for _, id := range cfg.TrustedUsers {
		trusted[id] = true
	}
	every := cfg.updateInterval()
	if every <= 0 {
		every = defaultPrintUpdateFreq * time.Second
	}

	s.mu.Lock()
	s.trustedUsers = trusted
	s.updateEvery = every
	s.mu.Unlock()
}

func (s *Settings) Trusted(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trustedUsers[userID]
}

func (s *Settings) UpdateEvery() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updateEvery
}

// watchConfig reloads trusted users and the update frequency when the
// file changes. Connection settings need a restart.
func watchConfig(v *viper.Viper, s *Settings, log *zap.Logger) {
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			log.Error("config changed but could not be decoded", zap.String("file", e.Name), zap.Error(err))
			return
		}
		s.apply(cfg)
		log.Info("config reloaded",
			zap.String("file", e.Name),
			zap.Int("trusted_users", len(cfg.TrustedUsers)),
			zap.Duration("update_every", s.UpdateEvery()))
	})
	v.WatchConfig()
}
