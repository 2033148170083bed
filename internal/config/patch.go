package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/perchbot/perch/internal/secretstore"
)

// ErrStaleHash is returned when a patch's BaseHash does not match the current
// snapshot. The caller's view of the configuration is stale; recovery is a
// fresh read and a re-derived patch. There is no merge-of-merges.
var ErrStaleHash = errors.New("config base hash mismatch")

// ErrInvalidPatch is returned when the merged result fails validation. The
// on-disk document is left untouched.
var ErrInvalidPatch = errors.New("config patch produces an invalid document")

// PatchRequest is a proposed configuration change. Raw is the patch document
// (YAML or JSON) to deep-merge into the current configuration; BaseHash
// asserts the hash of the configuration the caller last observed.
type PatchRequest struct {
	Raw      string
	BaseHash string
	Note     string
}

// PatchResult reports a successful apply.
type PatchResult struct {
	Hash            string   `json:"hash"`
	RestartRequired bool     `json:"restartRequired"`
	Warnings        []string `json:"warnings,omitempty"`
	PlaintextPaths  []string `json:"plaintextPaths,omitempty"`
}

// Observer receives lifecycle signals from the manager. Implementations must
// not block; the gateway uses this for metrics and config.changed events.
type Observer interface {
	PatchApplied(result PatchResult)
	PatchRejected(reason string)
	PlaintextSecrets(paths []string)
}

// Manager serializes configuration writes for one document path. Reads are
// lock-free (the compare-and-reject hash is the concurrency contract); only
// the apply path holds the mutex.
type Manager struct {
	path     string
	store    secretstore.Store
	logger   *slog.Logger
	observer Observer

	applyMu sync.Mutex
}

// NewManager builds a manager for the document at path, externalizing secrets
// through store. Logger and observer may be nil.
func NewManager(path string, store secretstore.Store, logger *slog.Logger, observer Observer) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{path: path, store: store, logger: logger, observer: observer}
}

// Path returns the managed document path.
func (m *Manager) Path() string { return m.path }

// Store returns the secret store the manager externalizes through.
func (m *Manager) Store() secretstore.Store { return m.store }

// Snapshot reads the current on-disk document.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	_ = ctx
	return LoadSnapshot(m.path)
}

// Hydrated returns the current document with secret references resolved to
// plaintext for runtime use. Fails closed on a missing secret.
func (m *Manager) Hydrated(ctx context.Context) (Document, error) {
	snapshot, err := LoadSnapshot(m.path)
	if err != nil {
		return nil, err
	}
	if !snapshot.Valid {
		return nil, fmt.Errorf("config invalid: %s", strings.Join(snapshot.Issues, "; "))
	}
	doc := CloneDocument(snapshot.Config)
	if err := HydrateSecrets(ctx, doc, m.store); err != nil {
		return nil, err
	}
	return doc, nil
}

// ApplyPatch merges a proposed change into the current configuration if and
// only if the caller's BaseHash matches the current snapshot hash. On match
// the merged result is secret-externalized, validated, and persisted
// atomically; on mismatch nothing is written and ErrStaleHash is returned.
func (m *Manager) ApplyPatch(ctx context.Context, req PatchRequest) (PatchResult, error) {
	patch, err := ParseDocument([]byte(req.Raw), m.path)
	if err != nil {
		m.rejected("parse")
		return PatchResult{}, fmt.Errorf("parse patch: %w", err)
	}

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	snapshot, err := LoadSnapshot(m.path)
	if err != nil {
		m.rejected("read")
		return PatchResult{}, err
	}
	if !snapshot.Valid {
		m.rejected("current_invalid")
		return PatchResult{}, fmt.Errorf("current config invalid: %s", strings.Join(snapshot.Issues, "; "))
	}
	if snapshot.Hash != req.BaseHash {
		m.rejected("stale")
		return PatchResult{}, fmt.Errorf("%w: have %s, caller based on %s", ErrStaleHash, snapshot.Hash, req.BaseHash)
	}

	oldDoc := CloneDocument(snapshot.Config)
	merged := MergeDocuments(CloneDocument(snapshot.Config), patch)

	_, leaked, err := ExternalizeSecrets(ctx, merged, m.store)
	if err != nil {
		m.rejected("store")
		return PatchResult{}, fmt.Errorf("externalize secrets: %w", err)
	}
	if len(leaked) > 0 {
		m.logger.Warn("secret store unavailable; sensitive values persisted in plaintext",
			"paths", leaked, "backend", m.store.Backend())
		if m.observer != nil {
			m.observer.PlaintextSecrets(leaked)
		}
	}

	if issues := ValidateDocument(merged); len(issues) > 0 {
		m.rejected("invalid")
		return PatchResult{}, fmt.Errorf("%w: %s", ErrInvalidPatch, strings.Join(issues, "; "))
	}

	if err := m.persist(merged); err != nil {
		m.rejected("write")
		return PatchResult{}, err
	}

	result := PatchResult{
		Hash:           hashDocument(merged),
		Warnings:       restartWarnings(oldDoc, merged),
		PlaintextPaths: leaked,
	}
	result.RestartRequired = len(result.Warnings) > 0

	m.logger.Info("config patch applied",
		"hash", result.Hash, "note", req.Note, "restart_required", result.RestartRequired)
	if m.observer != nil {
		m.observer.PatchApplied(result)
	}
	return result, nil
}

func (m *Manager) rejected(reason string) {
	if m.observer != nil {
		m.observer.PatchRejected(reason)
	}
}

// persist writes the document atomically: temp file in the same directory,
// fsync-free rename, preserving the existing file mode.
func (m *Manager) persist(doc Document) error {
	payload, err := MarshalDocumentFor(doc, m.path)
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}

	mode := os.FileMode(0o600)
	if info, err := os.Stat(m.path); err == nil {
		mode = info.Mode().Perm()
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".perch-config-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	return os.Rename(tmpPath, m.path)
}

// restartWarnings flags top-level sections whose change typically requires a
// process restart. The gate itself never restarts anything; this is a hint
// for the callers that do.
func restartWarnings(oldDoc, newDoc Document) []string {
	var warnings []string
	for _, section := range []string{"server", "auth", "channels", "llm"} {
		if !reflect.DeepEqual(oldDoc[section], newDoc[section]) {
			warnings = append(warnings, section+" changed; restart required")
		}
	}
	return warnings
}
