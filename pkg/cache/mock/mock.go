// Package mock provides a scriptable cache.CacheLayer for chain and resilience
// tests.
package mock

import (
	"context"
	"sync"
	"time"

	"bank-recon/pkg/cache"
)

// Op names a CacheLayer method.
type Op string

const (
	OpGet          Op = "get"
	OpSet          Op = "set"
	OpDelete       Op = "delete"
	OpDeletePrefix Op = "delete_prefix"
	OpClose        Op = "close"
)

// Call is one recorded invocation. Key holds the prefix for OpDeletePrefix.
type Call struct {
	Op  Op
	Key string
}

// MockLayer records every call and delegates to the optional hooks.
// Unset hooks succeed with zero values.
type MockLayer struct {
	GetFunc          func(ctx context.Context, key string) ([]byte, error)
	SetFunc          func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteFunc       func(ctx context.Context, key string) error
	DeletePrefixFunc func(ctx context.Context, prefix string) (int, error)
	NameFunc         func() string
	CloseFunc        func() error

	mu    sync.Mutex
	calls []Call
}

var _ cache.CacheLayer = (*MockLayer)(nil)

func (m *MockLayer) record(op Op, key string) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: op, Key: key})
	m.mu.Unlock()
}

func (m *MockLayer) Get(ctx context.Context, key string) ([]byte, error) {
	m.record(OpGet, key)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return nil, nil
}

func (m *MockLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.record(OpSet, key)
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, ttl)
	}
	return nil
}

func (m *MockLayer) Delete(ctx context.Context, key string) error {
	m.record(OpDelete, key)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	return nil
}

func (m *MockLayer) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	m.record(OpDeletePrefix, prefix)
	if m.DeletePrefixFunc != nil {
		return m.DeletePrefixFunc(ctx, prefix)
	}
	return 0, nil
}

func (m *MockLayer) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock"
}

func (m *MockLayer) Close() error {
	m.record(OpClose, "")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Calls returns a copy of the call log in order.
func (m *MockLayer) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Count returns how many times op was called.
func (m *MockLayer) Count(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Keys returns the keys passed to op, in call order.
func (m *MockLayer) Keys(op Op) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for _, c := range m.calls {
		if c.Op == op {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

func (m *MockLayer) GetCalls() int          { return m.Count(OpGet) }
func (m *MockLayer) SetCalls() int          { return m.Count(OpSet) }
func (m *MockLayer) DeleteCalls() int       { return m.Count(OpDelete) }
func (m *MockLayer) DeletePrefixCalls() int { return m.Count(OpDeletePrefix) }
func (m *MockLayer) CloseCalls() int        { return m.Count(OpClose) }

// NewMockLayer returns a layer named name whose calls all succeed.
func NewMockLayer(name string) *MockLayer {
	return &MockLayer{NameFunc: func() string { return name }}
}

// NewMockLayerWithDefaults returns a layer that behaves like an empty cache:
// Get misses with cache.ErrKeyNotFound.
func NewMockLayerWithDefaults(name string) *MockLayer {
	m := NewMockLayer(name)
	m.GetFunc = func(context.Context, string) ([]byte, error) {
		return nil, cache.ErrKeyNotFound
	}
	return m
}

// NewFailingLayer returns a layer whose every data operation fails with err.
func NewFailingLayer(name string, err error) *MockLayer {
	m := NewMockLayer(name)
	m.GetFunc = func(context.Context, string) ([]byte, error) { return nil, err }
	m.SetFunc = func(context.Context, string, []byte, time.Duration) error { return err }
	m.DeleteFunc = func(context.Context, string) error { return err }
	m.DeletePrefixFunc = func(context.Context, string) (int, error) { return 0, err }
	return m
}
