package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Provider statuses reported by the rate limit manager
const (
	StatusNormal    = "Normal"
	StatusWarning   = "Warning"
	StatusThrottled = "Throttled"
)

// ErrRateLimited is wrapped by RateLimitError
var ErrRateLimited = errors.New("rate limit exceeded")

// windowDurations maps the supported window names to their length
var windowDurations = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// windowOrder is the preference order for reporting usage
var windowOrder = []string{"second", "minute", "hour", "day"}

// ProviderConfig configures the limits of one outgoing API provider
type ProviderConfig struct {
	ProviderID string
	Limits     map[string]int     // time window -> max calls
	Thresholds map[string]float64 // "warning" / "throttled" -> usage ratio
}

// ProviderRateLimitState tracks call timestamps per time window for one provider
type ProviderRateLimitState struct {
	ProviderID  string
	Limits      map[string]int
	Thresholds  map[string]float64
	TimeWindows map[string][]time.Time
	LastStatus  string
	Mutex       sync.RWMutex
}

// StatusCallback is notified when a provider changes status
type StatusCallback func(providerID, status string)

// RateLimitError is returned by CheckCall when a provider may not be called
type RateLimitError struct {
	ProviderID string
	Usage      int
	Limit      int
	RetryIn    time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryIn > 0 {
		return fmt.Sprintf("rate limit exceeded for provider %s: retry in %s", e.ProviderID, e.RetryIn)
	}
	return fmt.Sprintf("rate limit exceeded for provider %s: %d/%d requests", e.ProviderID, e.Usage, e.Limit)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// RateLimitManager keeps sliding-window call counts for outgoing API
// providers and server-imposed cooldowns.
type RateLimitManager struct {
	logger    *slog.Logger
	providers map[string]*ProviderRateLimitState
	mutex     sync.RWMutex
	callbacks []StatusCallback
	cooldowns *cache.Cache
}

// NewRateLimitManager creates a manager for the given providers
func NewRateLimitManager(logger *slog.Logger, configs []ProviderConfig) *RateLimitManager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &RateLimitManager{
		logger:    logger,
		providers: make(map[string]*ProviderRateLimitState),
		cooldowns: cache.New(cache.NoExpiration, time.Minute),
	}

	for _, config := range configs {
		state := &ProviderRateLimitState{
			ProviderID:  config.ProviderID,
			Limits:      make(map[string]int),
			Thresholds:  map[string]float64{"warning": 0.75, "throttled": 1.0},
			TimeWindows: make(map[string][]time.Time),
			LastStatus:  StatusNormal,
		}
		for window, limit := range config.Limits {
			if _, ok := windowDurations[window]; !ok {
				logger.Warn("Ignoring unknown rate limit window",
					"provider", config.ProviderID,
					"window", window)
				continue
			}
			state.Limits[window] = limit
			state.TimeWindows[window] = []time.Time{}
		}
		for name, value := range config.Thresholds {
			state.Thresholds[name] = value
		}
		m.providers[config.ProviderID] = state
	}

	return m
}

// RegisterStatusCallback adds a listener for provider status changes
func (m *RateLimitManager) RegisterStatusCallback(callback StatusCallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// GetProviderState returns the live state of a provider
func (m *RateLimitManager) GetProviderState(providerID string) (*ProviderRateLimitState, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	state, ok := m.providers[providerID]
	return state, ok
}

// RegisterCall records a call made to a provider. Unknown providers are
// accepted without tracking.
func (m *RateLimitManager) RegisterCall(providerID string) error {
	state, ok := m.GetProviderState(providerID)
	if !ok {
		return nil
	}

	now := time.Now()
	state.Mutex.Lock()
	for window := range state.Limits {
		calls := pruneWindow(state.TimeWindows[window], now, windowDurations[window])
		state.TimeWindows[window] = append(calls, now)
	}
	status := m.computeStatus(state, now)
	changed := status != state.LastStatus
	state.LastStatus = status
	state.Mutex.Unlock()

	if changed {
		m.logger.Info("Provider rate limit status changed",
			"provider", providerID,
			"status", status)
		m.notify(providerID, status)
	}
	return nil
}

// GetProviderUsage returns the call count and limit of the shortest window
func (m *RateLimitManager) GetProviderUsage(providerID string) (int, int) {
	state, ok := m.GetProviderState(providerID)
	if !ok {
		return 0, 0
	}

	now := time.Now()
	state.Mutex.RLock()
	defer state.Mutex.RUnlock()

	for _, window := range windowOrder {
		limit, ok := state.Limits[window]
		if !ok {
			continue
		}
		return countWithin(state.TimeWindows[window], now, windowDurations[window]), limit
	}
	return 0, 0
}

// GetProviderStatus returns Normal, Warning or Throttled
func (m *RateLimitManager) GetProviderStatus(providerID string) string {
	if m.CooldownRemaining(providerID) > 0 {
		return StatusThrottled
	}

	state, ok := m.GetProviderState(providerID)
	if !ok {
		return StatusNormal
	}

	state.Mutex.RLock()
	defer state.Mutex.RUnlock()
	return m.computeStatus(state, time.Now())
}

// SetCooldown blocks calls to a provider for d, as requested by the server
func (m *RateLimitManager) SetCooldown(providerID string, d time.Duration) {
	if d <= 0 {
		return
	}
	m.cooldowns.Set(providerID, time.Now().Add(d), d)
	m.logger.Warn("Provider cooldown started",
		"provider", providerID,
		"duration", d)
	m.notify(providerID, StatusThrottled)
}

// CooldownRemaining returns how long the provider stays blocked
func (m *RateLimitManager) CooldownRemaining(providerID string) time.Duration {
	value, found := m.cooldowns.Get(providerID)
	if !found {
		return 0
	}
	until, ok := value.(time.Time)
	if !ok {
		return 0
	}
	return max(time.Until(until), 0)
}

// CheckCall returns a RateLimitError when the provider is throttled
func (m *RateLimitManager) CheckCall(providerID string) error {
	if remaining := m.CooldownRemaining(providerID); remaining > 0 {
		return &RateLimitError{ProviderID: providerID, RetryIn: remaining}
	}

	status := m.GetProviderStatus(providerID)
	usage, limit := m.GetProviderUsage(providerID)
	switch status {
	case StatusThrottled:
		m.logger.Warn("Rate limit exceeded for provider",
			"provider", providerID,
			"usage", usage,
			"limit", limit)
		return &RateLimitError{ProviderID: providerID, Usage: usage, Limit: limit}
	case StatusWarning:
		m.logger.Debug("Rate limit warning for provider",
			"provider", providerID,
			"usage", usage,
			"limit", limit)
	}
	return nil
}

// computeStatus must be called with the state lock held
func (m *RateLimitManager) computeStatus(state *ProviderRateLimitState, now time.Time) string {
	var ratio float64
	for window, limit := range state.Limits {
		if limit <= 0 {
			continue
		}
		used := countWithin(state.TimeWindows[window], now, windowDurations[window])
		ratio = max(ratio, float64(used)/float64(limit))
	}

	switch {
	case ratio >= state.Thresholds["throttled"]:
		return StatusThrottled
	case ratio >= state.Thresholds["warning"]:
		return StatusWarning
	default:
		return StatusNormal
	}
}

func (m *RateLimitManager) notify(providerID, status string) {
	m.mutex.RLock()
	callbacks := make([]StatusCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mutex.RUnlock()

	for _, callback := range callbacks {
		callback(providerID, status)
	}
}

func pruneWindow(calls []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := calls[:0]
	for _, call := range calls {
		if call.After(cutoff) {
			kept = append(kept, call)
		}
	}
	return kept
}

func countWithin(calls []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	count := 0
	for _, call := range calls {
		if call.After(cutoff) {
			count++
		}
	}
	return count
}
