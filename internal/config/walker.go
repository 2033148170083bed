package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/perchbot/perch/internal/secretref"
	"github.com/perchbot/perch/internal/secretstore"
)

// DefaultNamespace is the namespace under which Perch files its own secrets.
const DefaultNamespace = "perch"

// ErrMissingSecret is returned by HydrateSecrets when a referenced secret is
// absent from the store. Hydration fails closed: substituting an empty string
// or leaving the reference in place would produce a broken credential that
// fails far from the point of misconfiguration.
var ErrMissingSecret = errors.New("referenced secret not found in store")

// ExternalizeSecrets walks doc depth-first and moves plaintext sensitive
// values into the store, replacing each with a secret reference string.
// When the store is unavailable the value is left in place (best-effort; the
// returned leaked paths make the condition observable) rather than failing
// the whole write. Re-running on an already-externalized document is a no-op.
func ExternalizeSecrets(ctx context.Context, doc Document, store secretstore.Store) (changed bool, leaked []string, err error) {
	err = walkMappings(doc, nil, func(m map[string]any, key string, path []string) error {
		if !IsSensitiveKey(key) {
			return nil
		}
		value, ok := m[key].(string)
		if !ok || strings.TrimSpace(value) == "" || value == RedactedSentinel {
			return nil
		}
		if secretref.IsRef(value) {
			return nil
		}
		if !store.Available() {
			leaked = append(leaked, strings.Join(path, "."))
			return nil
		}
		ref := refForPath(path)
		if err := store.Set(ctx, ref, value); err != nil {
			return err
		}
		m[key] = ref.String()
		changed = true
		return nil
	})
	return changed, leaked, err
}

// HydrateSecrets resolves secret references under sensitive keys back to
// plaintext for runtime use. A reference with no stored value fails with
// ErrMissingSecret naming the reference. Plaintext sensitive values pass
// through unchanged (still supported when no store is available).
func HydrateSecrets(ctx context.Context, doc Document, store secretstore.Store) error {
	return walkMappings(doc, nil, func(m map[string]any, key string, path []string) error {
		if !IsSensitiveKey(key) {
			return nil
		}
		value, ok := m[key].(string)
		if !ok {
			return nil
		}
		ref, ok := secretref.Parse(value)
		if !ok {
			return nil
		}
		plaintext, found, err := store.Get(ctx, ref)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s (at %s)", ErrMissingSecret, ref, strings.Join(path, "."))
		}
		m[key] = plaintext
		return nil
	})
}

// HasPlaintextSecrets reports the dotted paths of sensitive keys that still
// hold a raw, non-reference, non-redacted string. Used as a pre-flight and
// doctor check, independent of store availability.
func HasPlaintextSecrets(doc Document) []string {
	var paths []string
	_ = walkMappings(doc, nil, func(m map[string]any, key string, path []string) error {
		if !IsSensitiveKey(key) {
			return nil
		}
		value, ok := m[key].(string)
		if !ok || strings.TrimSpace(value) == "" || value == RedactedSentinel {
			return nil
		}
		if secretref.IsRef(value) {
			return nil
		}
		paths = append(paths, strings.Join(path, "."))
		return nil
	})
	return paths
}

// RefBinding is one externalized secret location in a document.
type RefBinding struct {
	Path string
	Ref  secretref.Ref
}

// SecretRefs lists every secret reference in doc with the dotted path of the
// key holding it, in path order.
func SecretRefs(doc Document) []RefBinding {
	var bindings []RefBinding
	_ = walkMappings(doc, nil, func(m map[string]any, key string, path []string) error {
		value, ok := m[key].(string)
		if !ok {
			return nil
		}
		if ref, ok := secretref.Parse(value); ok {
			bindings = append(bindings, RefBinding{Path: strings.Join(path, "."), Ref: ref})
		}
		return nil
	})
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Path < bindings[j].Path })
	return bindings
}

// RedactSecrets returns a copy of doc with every sensitive string value
// (plaintext or reference) replaced by the redaction sentinel, for display
// surfaces that must never echo credentials.
func RedactSecrets(doc Document) Document {
	out := CloneDocument(doc)
	_ = walkMappings(out, nil, func(m map[string]any, key string, path []string) error {
		if !IsSensitiveKey(key) {
			return nil
		}
		if value, ok := m[key].(string); ok && strings.TrimSpace(value) != "" {
			m[key] = RedactedSentinel
		}
		return nil
	})
	return out
}

// walkMappings visits every key of every mapping in doc depth-first, calling
// fn with the containing map, the key, and the full path to the key. Values
// inside sequences are visited with the decimal element index as a path
// segment, so two elements holding the same key have distinct paths.
func walkMappings(value any, path []string, fn func(m map[string]any, key string, path []string) error) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			childPath := append(append([]string(nil), path...), key)
			if err := fn(typed, key, childPath); err != nil {
				return err
			}
			if err := walkMappings(child, childPath, fn); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range typed {
			itemPath := append(append([]string(nil), path...), strconv.Itoa(i))
			if err := walkMappings(item, itemPath, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// refForPath synthesizes a deterministic reference from the location of a
// sensitive key. Channel and provider credentials get stable, readable refs;
// anything else falls back to the generic config namespace keyed by path.
func refForPath(path []string) secretref.Ref {
	field := strings.ToLower(path[len(path)-1])

	if len(path) == 3 && path[0] == "channels" {
		if ref, err := secretref.New(DefaultNamespace, path[1], field); err == nil {
			return ref
		}
	}
	if len(path) == 4 && (path[0] == "llm" || path[0] == "models") && path[1] == "providers" {
		if ref, err := secretref.New(DefaultNamespace, path[2], field); err == nil {
			return ref
		}
	}

	scope := strings.ToLower(strings.Join(path, "."))
	if ref, err := secretref.New(DefaultNamespace, "config", scope); err == nil {
		return ref
	}
	// Path contained characters outside the scope alphabet; hash-free
	// sanitation keeps the ref deterministic.
	ref, _ := secretref.New(DefaultNamespace, "config", sanitizeScope(scope))
	return ref
}

func sanitizeScope(scope string) string {
	var b strings.Builder
	for _, r := range scope {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-', r == '/':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "value"
	}
	return b.String()
}
