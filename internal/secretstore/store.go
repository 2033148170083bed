// Package secretstore holds secret values referenced from the configuration
// document. The production backend is the operating system's native credential
// manager; an explicitly disabled backend fails every operation so callers can
// never mistake an unprotected write for a protected one.
package secretstore

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/perchbot/perch/internal/secretref"
)

var (
	// ErrUnavailable is returned by every operation on a store whose backend
	// is disabled or unsupported on this host.
	ErrUnavailable = errors.New("secret store unavailable")

	// ErrEmptyValue is returned by Set for an empty or whitespace-only value.
	// An empty stored secret would be indistinguishable from "not set" at
	// hydration time.
	ErrEmptyValue = errors.New("secret value is empty")
)

// Store is the capability surface handed to the config walker and the CLI.
// Get returns ok=false for an absent secret; callers distinguish "absent"
// from a backend failure via the error.
type Store interface {
	// Backend names the backing implementation ("keyring", "memory", "none").
	Backend() string

	// Available reports whether operations can succeed on this host.
	Available() bool

	Get(ctx context.Context, ref secretref.Ref) (value string, ok bool, err error)
	Set(ctx context.Context, ref secretref.Ref, value string) error
	Delete(ctx context.Context, ref secretref.Ref) error
}

// Has reports whether ref resolves to a stored value.
func Has(ctx context.Context, store Store, ref secretref.Ref) (bool, error) {
	_, ok, err := store.Get(ctx, ref)
	return ok, err
}

// Memory is an in-memory Store used by tests and by components that need a
// store double without touching the host credential manager.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

// Backend implements Store.
func (m *Memory) Backend() string { return "memory" }

// Available implements Store.
func (m *Memory) Available() bool { return true }

// Get implements Store.
func (m *Memory) Get(ctx context.Context, ref secretref.Ref) (string, bool, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[ref.Account()]
	return value, ok, nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, ref secretref.Ref, value string) error {
	_ = ctx
	if strings.TrimSpace(value) == "" {
		return ErrEmptyValue
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[ref.Account()] = value
	return nil
}

// Delete implements Store. Deleting an absent entry succeeds.
func (m *Memory) Delete(ctx context.Context, ref secretref.Ref) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, ref.Account())
	return nil
}

// Len returns the number of stored secrets.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Disabled is the Store for hosts without a supported credential manager or
// with the store explicitly switched off. Every operation fails with
// ErrUnavailable so a caller never believes an unprotected value was stored.
type Disabled struct{}

// Backend implements Store.
func (Disabled) Backend() string { return "none" }

// Available implements Store.
func (Disabled) Available() bool { return false }

// Get implements Store.
func (Disabled) Get(ctx context.Context, ref secretref.Ref) (string, bool, error) {
	return "", false, unavailableErr(ref)
}

// Set implements Store.
func (Disabled) Set(ctx context.Context, ref secretref.Ref, value string) error {
	return unavailableErr(ref)
}

// Delete implements Store.
func (Disabled) Delete(ctx context.Context, ref secretref.Ref) error {
	return unavailableErr(ref)
}

func unavailableErr(ref secretref.Ref) error {
	return &RefError{Ref: ref, Op: "access", Err: ErrUnavailable}
}

// RefError wraps a store failure with the reference that triggered it.
type RefError struct {
	Ref secretref.Ref
	Op  string
	Err error
}

func (e *RefError) Error() string {
	return "secretstore: " + e.Op + " " + e.Ref.String() + ": " + e.Err.Error()
}

func (e *RefError) Unwrap() error { return e.Err }
