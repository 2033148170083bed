// Package secretref defines the canonical reference string that stands in for a
// secret value inside the configuration document. A reference identifies a
// secret by namespace, provider, and scope and is safe to persist in plaintext;
// the real value lives in the secret store.
package secretref

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Scheme is the fixed prefix of every serialized reference.
const Scheme = "secret://"

// ErrInvalidRef wraps every validation failure from New, so callers can
// distinguish a malformed reference from store failures.
var ErrInvalidRef = errors.New("invalid secret reference")

var (
	segmentPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)
	scopePattern   = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)
)

// Ref identifies a stored secret. Namespace and provider are normalized to
// lowercase; scope is case-preserving and may contain slashes. Refs are value
// objects: two refs are equal when their String forms are equal.
type Ref struct {
	Namespace string
	Provider  string
	Scope     string
}

// New builds a validated reference. Namespace and provider are trimmed and
// lowercased, scope is trimmed. Returns an error naming the segment that fails
// validation, so a bad ref is rejected before any store call.
func New(namespace, provider, scope string) (Ref, error) {
	namespace = strings.ToLower(strings.TrimSpace(namespace))
	provider = strings.ToLower(strings.TrimSpace(provider))
	scope = strings.TrimSpace(scope)

	if !segmentPattern.MatchString(namespace) {
		return Ref{}, fmt.Errorf("%w: namespace %q (want %s)", ErrInvalidRef, namespace, segmentPattern)
	}
	if !segmentPattern.MatchString(provider) {
		return Ref{}, fmt.Errorf("%w: provider %q (want %s)", ErrInvalidRef, provider, segmentPattern)
	}
	if !scopePattern.MatchString(scope) {
		return Ref{}, fmt.Errorf("%w: scope %q (want %s)", ErrInvalidRef, scope, scopePattern)
	}
	return Ref{Namespace: namespace, Provider: provider, Scope: scope}, nil
}

// Parse recognizes a serialized reference. The second return is false for any
// string that is not a reference; callers use Parse as the "is this value a
// ref" predicate, so a non-matching string is the normal case, not an error.
func Parse(s string) (Ref, bool) {
	rest, ok := strings.CutPrefix(s, Scheme)
	if !ok {
		return Ref{}, false
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		return Ref{}, false
	}
	ref, err := New(parts[0], parts[1], parts[2])
	if err != nil {
		return Ref{}, false
	}
	return ref, true
}

// IsRef reports whether s parses as a reference.
func IsRef(s string) bool {
	_, ok := Parse(s)
	return ok
}

// Account returns the opaque account string used inside store backends.
func (r Ref) Account() string {
	return r.Namespace + "/" + r.Provider + "/" + r.Scope
}

// String returns the canonical serialized form.
func (r Ref) String() string {
	return Scheme + r.Account()
}
