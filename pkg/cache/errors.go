package cache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrKeyNotFound is a miss: the key is absent, expired or filtered out.
	// Layers return it unwrapped.
	ErrKeyNotFound = errors.New("cache: key not found")
	// ErrInvalidKey rejects keys that fail ValidateKey.
	ErrInvalidKey = errors.New("cache: invalid key")
	// ErrLayerUnavailable means the backend could not be reached.
	ErrLayerUnavailable = errors.New("cache: layer unavailable")
	// ErrTimeout means the operation outlived its deadline.
	ErrTimeout = errors.New("cache: operation timeout")
	// ErrCircuitOpen means the breaker refused the call.
	ErrCircuitOpen = errors.New("cache: circuit breaker open")
)

func IsNotFound(err error) bool    { return errors.Is(err, ErrKeyNotFound) }
func IsTimeout(err error) bool     { return errors.Is(err, ErrTimeout) }
func IsUnavailable(err error) bool { return errors.Is(err, ErrLayerUnavailable) }
func IsCircuitOpen(err error) bool { return errors.Is(err, ErrCircuitOpen) }

// LayerError records which layer and operation failed. The chain treats any
// LayerError as a degraded layer and falls through to the next one.
type LayerError struct {
	Layer string
	Op    string
	// Key is the key or, for delete_prefix, the prefix.
	Key string
	Err error
}

// NewLayerError wraps err. Misses and nil pass through unchanged.
func NewLayerError(layer, op, key string, err error) error {
	if err == nil || IsNotFound(err) {
		return err
	}
	return &LayerError{Layer: layer, Op: op, Key: key, Err: err}
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("cache layer %s %s %q: %v", e.Layer, e.Op, e.Key, e.Err)
}

func (e *LayerError) Unwrap() error { return e.Err }

// Reason classifies err for the "reason" log field and metric label.
// Backend errors that are not cache sentinels are classified from their text.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrKeyNotFound):
		return "miss"
	case errors.Is(err, ErrLayerUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	}

	msg := strings.ToLower(err.Error())
	for _, r := range []struct {
		reason string
		words  []string
	}{
		{"connection", []string{"connection", "connect", "dial", "broken pipe"}},
		{"cluster", []string{"moved", "ask ", "clusterdown"}},
		{"serialization", []string{"marshal", "unmarshal", "decode", "encode"}},
	} {
		for _, w := range r.words {
			if strings.Contains(msg, w) {
				return r.reason
			}
		}
	}
	return "other"
}
