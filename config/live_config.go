package config

import (
	"sync"
	"time"
)

// ConfigObserver is implemented by components that re-apply settings on change.
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// ObserverFunc adapts a plain function to ConfigObserver.
type ObserverFunc func(cfg *Config)

func (f ObserverFunc) OnConfigUpdate(cfg *Config) { f(cfg) }

// LiveConfig is a thread-safe holder for the running config that supports
// hot reload from the settings API.
type LiveConfig struct {
	mu          sync.RWMutex
	config      *Config
	version     int
	lastUpdated time.Time

	obsMu     sync.RWMutex
	observers []ConfigObserver
}

// NewLiveConfig creates a LiveConfig holding a copy of initial.
func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		config:      initial.Clone(),
		version:     1,
		lastUpdated: time.Now(),
	}
}

// Get returns a copy of the current config.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Clone()
}

// Version increments on every successful update.
func (lc *LiveConfig) Version() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.version
}

// LastUpdated returns when the config was last replaced.
func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}

// Update validates newConfig and swaps it in, then notifies observers.
// Secrets never travel through the settings API, so the running values are
// kept whenever newConfig leaves them empty.
func (lc *LiveConfig) Update(newConfig *Config) error {
	if newConfig == nil {
		return nil
	}
	result := newConfig.Validate()
	if !result.Valid {
		return &ConfigValidationError{Errors: result.Errors}
	}

	next := newConfig.Clone()
	lc.mu.Lock()
	keepSecrets(next, lc.config)
	lc.config = next
	lc.version++
	lc.lastUpdated = time.Now()
	lc.mu.Unlock()

	// Observers run outside the lock so they may call Get.
	lc.notifyObservers(next)
	return nil
}

// UpdatePartial applies updateFn to a copy of the current config and
// validates the result.
func (lc *LiveConfig) UpdatePartial(updateFn func(*Config)) error {
	next := lc.Get()
	updateFn(next)
	return lc.Update(next)
}

// AddObserver registers obs for future updates.
func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

func (lc *LiveConfig) notifyObservers(cfg *Config) {
	lc.obsMu.RLock()
	observers := make([]ConfigObserver, len(lc.observers))
	copy(observers, lc.observers)
	lc.obsMu.RUnlock()

	for _, obs := range observers {
		obs.OnConfigUpdate(cfg.Clone())
	}
}

func keepSecrets(dst, src *Config) {
	if src == nil {
		return
	}
	if dst.Discord.BotToken == "" {
		dst.Discord.BotToken = src.Discord.BotToken
	}
	if dst.Telegram.BotToken == "" {
		dst.Telegram.BotToken = src.Telegram.BotToken
	}
	if dst.Supabase.Key == "" {
		dst.Supabase.Key = src.Supabase.Key
	}
}

// ConfigValidationError is returned when an update fails validation.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}
