package gpiows

import (
	"math"
	"sync"
	"time"
)

// ReconnectDelayStrategy produces the delay to wait before each successive
// reconnect attempt. Reset is called after a successful connection so the
// schedule starts over on the next outage.
type ReconnectDelayStrategy interface {
	GetConnectWaitDuration() (time.Duration, error)
	Reset()
}

// ReconnectPolicy controls how the client reacts to an unsolicited transport
// close. It is captured once at Connect time and consulted by the connection
// manager for every outage.
type ReconnectPolicy struct {
	Enabled bool

	// Timeout bounds the total wall-clock time spent reconnecting across all
	// attempts. Zero means only MaxAttempts bounds the loop.
	Timeout time.Duration

	// MaxAttempts bounds the number of dial attempts per outage. Zero means
	// only Timeout bounds the loop; at least one of the two must be set when
	// Enabled is true.
	MaxAttempts int

	Strategy ReconnectDelayStrategy
}

// DefaultReconnectPolicy returns an enabled policy with an exponential
// backoff schedule bounded at ten attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:     true,
		MaxAttempts: 10,
		Strategy:    NewExponentialDelayStrategy(200*time.Millisecond, 10*time.Second, 2),
	}
}

// FixedDelayStrategy waits the same delay before every reconnect attempt.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a new FixedDelayStrategy.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

// GetConnectWaitDuration returns the configured fixed delay.
func (strategy *FixedDelayStrategy) GetConnectWaitDuration() (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}
	return strategy.Delay, nil
}

// Reset is a no-op for a fixed schedule.
func (strategy *FixedDelayStrategy) Reset() {}

// ExponentialDelayStrategy grows the delay by Factor on every attempt, capped
// at MaxDelay.
type ExponentialDelayStrategy struct {
	lock      sync.Mutex
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	attempt   uint32
}

// NewExponentialDelayStrategy returns a new ExponentialDelayStrategy.
func NewExponentialDelayStrategy(baseDelay time.Duration, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
	}
}

// GetConnectWaitDuration returns the delay for the next attempt and advances
// the schedule.
func (strategy *ExponentialDelayStrategy) GetConnectWaitDuration() (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}

	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	attempt := strategy.attempt
	strategy.attempt++

	delay := strategy.BaseDelay
	if attempt > 0 && delay > 0 {
		delayFloat := float64(delay) * math.Pow(strategy.Factor, float64(attempt))
		if delayFloat > float64(strategy.MaxDelay) {
			delayFloat = float64(strategy.MaxDelay)
		}
		delay = time.Duration(delayFloat)
	}
	if delay > strategy.MaxDelay {
		delay = strategy.MaxDelay
	}
	return delay, nil
}

// Reset restarts the schedule from the base delay.
func (strategy *ExponentialDelayStrategy) Reset() {
	if strategy == nil {
		return
	}
	strategy.lock.Lock()
	strategy.attempt = 0
	strategy.lock.Unlock()
}
