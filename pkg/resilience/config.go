package resilience

import (
	"errors"
	"time"
)

// ResilientConfig bounds one dependency: a per-call timeout and the breaker
// guarding it.
type ResilientConfig struct {
	Timeout              time.Duration
	CircuitBreakerConfig CircuitBreakerConfig
}

// CircuitBreakerConfig mirrors gobreaker.Settings without tying callers to it.
type CircuitBreakerConfig struct {
	// MaxRequests allowed through while half-open. Zero means 1.
	MaxRequests uint32
	// Interval clears the closed-state counts. Zero never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// ReadyToTrip decides when to open. Nil trips after 5 consecutive failures.
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful decides whether an error counts against the breaker.
	// Nil counts every non-nil error.
	IsSuccessful func(err error) bool
}

// Counts is the breaker's view of recent calls.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// ConsecutiveFailures trips after n failures in a row.
func ConsecutiveFailures(n uint32) func(Counts) bool {
	return func(c Counts) bool {
		return c.ConsecutiveFailures >= n
	}
}

// FailureRate trips once minRequests were seen in the interval and the
// failure ratio reaches rate.
func FailureRate(minRequests uint32, rate float64) func(Counts) bool {
	return func(c Counts) bool {
		if c.Requests < minRequests {
			return false
		}
		return float64(c.TotalFailures)/float64(c.Requests) >= rate
	}
}

// LocalLayerConfig guards an in-process cache. Calls are expected in
// microseconds, so the timeout is short and only a run of failures trips.
func LocalLayerConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: 100 * time.Millisecond,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     10 * time.Second,
			ReadyToTrip: ConsecutiveFailures(10),
		},
	}
}

// SharedLayerConfig guards a networked cache such as Redis. A cache outage
// only costs store reads, so the breaker opens on a sustained failure rate
// rather than a single burst.
func SharedLayerConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 5,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: FailureRate(20, 0.15),
		},
	}
}

// LayerConfig returns the preset for the layer at depth in a chain: local
// for the first layer, shared for the rest.
func LayerConfig(depth int) ResilientConfig {
	if depth == 0 {
		return LocalLayerConfig()
	}
	return SharedLayerConfig()
}

// BankConfig guards an external bank API: bank calls are slow, and a few
// consecutive transport failures mean the endpoint is down.
func BankConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: 30 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 1,
			Interval:    2 * time.Minute,
			Timeout:     time.Minute,
			ReadyToTrip: ConsecutiveFailures(5),
		},
	}
}

// Validate rejects configurations that would disable the timeout or keep the
// breaker open forever.
func (c ResilientConfig) Validate() error {
	var errs []error
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("resilience: timeout must be positive"))
	}
	if c.CircuitBreakerConfig.Timeout < 0 {
		errs = append(errs, errors.New("resilience: breaker open timeout must not be negative"))
	}
	if c.CircuitBreakerConfig.Interval < 0 {
		errs = append(errs, errors.New("resilience: breaker interval must not be negative"))
	}
	return errors.Join(errs...)
}

// WithTimeout returns a copy with the per-call timeout replaced.
func (c ResilientConfig) WithTimeout(timeout time.Duration) ResilientConfig {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy with the open-state duration replaced.
func (c ResilientConfig) WithCircuitBreakerTimeout(timeout time.Duration) ResilientConfig {
	c.CircuitBreakerConfig.Timeout = timeout
	return c
}

// WithIsSuccessful returns a copy with the given success classifier.
func (c ResilientConfig) WithIsSuccessful(fn func(error) bool) ResilientConfig {
	c.CircuitBreakerConfig.IsSuccessful = fn
	return c
}
