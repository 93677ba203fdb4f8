package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager provides hot-reloadable access to the tunable configuration
// surface (window duration, burst threshold, score thresholds, provider
// rate limits, action allowlists). Readers call Current on every use and
// never cache the result across operations.
type Manager struct {
	current atomic.Pointer[Config]
	v       *viper.Viper
}

// NewManager loads the configuration and begins watching the file for
// changes when a path is given. A reload that fails to parse keeps the
// previous configuration in effect.
func NewManager(configPath string, onReload func(*Config)) (*Manager, error) {
	v := newViper(configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	m := &Manager{v: v}
	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)

	if configPath != "" {
		v.OnConfigChange(func(fsnotify.Event) {
			reloaded, err := unmarshal(v)
			if err != nil {
				return
			}
			m.current.Store(reloaded)
			if onReload != nil {
				onReload(reloaded)
			}
		})
		v.WatchConfig()
	}

	return m, nil
}

// NewStaticManager wraps an already-loaded Config without file watching.
// Used by tests and by callers that manage reload themselves.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.current.Store(cfg)
	return m
}

// Current returns the configuration currently in effect.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
