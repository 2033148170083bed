package secretstore

import (
	"runtime"
	"sync"
)

// EnvBackendOverride selects the backend regardless of platform defaults.
// Recognized values: "keyring", "none".
const EnvBackendOverride = "PERCH_SECRET_STORE"

// Resolve picks the store backend for this host. The env override wins; the
// platform default is the native credential manager where go-keyring supports
// one, and the disabled store elsewhere.
func Resolve(override string, goos string) Store {
	switch override {
	case "keyring":
		return NewKeyring(0)
	case "none":
		return Disabled{}
	}
	switch goos {
	case "darwin", "linux", "windows":
		return NewKeyring(0)
	default:
		return Disabled{}
	}
}

var (
	defaultMu    sync.Mutex
	defaultStore Store
	envFunc      func(string) string
)

// SetEnvFunc installs the environment lookup used by Default. The composition
// root calls this once with os.Getenv; tests may install their own.
func SetEnvFunc(fn func(string) string) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	envFunc = fn
	defaultStore = nil
}

// Default returns the process-wide store, resolving it lazily on first use.
// Components under the composition root receive the store as a parameter;
// Default exists only for the wiring layer.
func Default() Store {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore == nil {
		override := ""
		if envFunc != nil {
			override = envFunc(EnvBackendOverride)
		}
		defaultStore = Resolve(override, runtime.GOOS)
	}
	return defaultStore
}

// SetDefault overrides the process-wide store. Test-only hook.
func SetDefault(store Store) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultStore = store
}

// ResetDefault clears the cached store so the next Default call re-resolves.
// Test-only hook.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultStore = nil
}
