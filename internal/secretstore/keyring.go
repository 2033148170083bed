package secretstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/perchbot/perch/internal/secretref"
)

// keyringService is the service name under which all Perch secrets are filed
// in the host credential manager. The per-secret account string is the
// reference's namespace/provider/scope join.
const keyringService = "perch"

// defaultKeyringTimeout bounds each credential-manager call. The macOS
// security tool and the Secret Service daemon can both hang waiting for an
// unlock prompt; a stuck call must not wedge a request handler.
const defaultKeyringTimeout = 5 * time.Second

// Keyring stores secrets in the OS-native credential manager: Keychain on
// macOS, the D-Bus Secret Service on Linux, the Credential Manager on Windows.
type Keyring struct {
	timeout time.Duration
}

// NewKeyring returns a credential-manager backed store. A zero timeout uses
// the default bound.
func NewKeyring(timeout time.Duration) *Keyring {
	if timeout <= 0 {
		timeout = defaultKeyringTimeout
	}
	return &Keyring{timeout: timeout}
}

// Backend implements Store.
func (k *Keyring) Backend() string { return "keyring" }

// Available implements Store.
func (k *Keyring) Available() bool { return true }

// Get implements Store. An absent secret returns ok=false with a nil error;
// backend failures are wrapped with the offending reference.
func (k *Keyring) Get(ctx context.Context, ref secretref.Ref) (string, bool, error) {
	var value string
	err := k.call(ctx, func() error {
		v, err := keyring.Get(keyringService, ref.Account())
		value = v
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, &RefError{Ref: ref, Op: "get", Err: err}
	}
	return value, true, nil
}

// Set implements Store. Overwrites unconditionally; rejects empty values.
func (k *Keyring) Set(ctx context.Context, ref secretref.Ref, value string) error {
	if strings.TrimSpace(value) == "" {
		return ErrEmptyValue
	}
	err := k.call(ctx, func() error {
		return keyring.Set(keyringService, ref.Account(), value)
	})
	if err != nil {
		return &RefError{Ref: ref, Op: "set", Err: err}
	}
	return nil
}

// Delete implements Store. Deleting an absent entry is success.
func (k *Keyring) Delete(ctx context.Context, ref secretref.Ref) error {
	err := k.call(ctx, func() error {
		return keyring.Delete(keyringService, ref.Account())
	})
	if err != nil && !isNotFound(err) {
		return &RefError{Ref: ref, Op: "delete", Err: err}
	}
	return nil
}

// call runs fn under the store's timeout. go-keyring has no context support,
// so the call runs in its own goroutine and is abandoned on timeout.
func (k *Keyring) call(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isNotFound detects the backend's "no such item" signature. keyring.ErrNotFound
// covers the library's own detection; the message check catches older macOS
// security exit paths that surface as plain errors.
func isNotFound(err error) bool {
	if errors.Is(err, keyring.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not be found") || strings.Contains(msg, "not found")
}
