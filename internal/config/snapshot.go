package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Snapshot is a point-in-time read of the on-disk configuration document.
// Hash is the optimistic-concurrency token: a patch must present a BaseHash
// equal to the current snapshot's Hash or it is rejected as stale.
type Snapshot struct {
	Path   string   `json:"path"`
	Exists bool     `json:"exists"`
	Raw    string   `json:"raw"`
	Parsed Document `json:"parsed,omitempty"`
	Valid  bool     `json:"valid"`
	Config Document `json:"config,omitempty"`
	Hash   string   `json:"hash"`
	Issues []string `json:"issues,omitempty"`
}

// LoadSnapshot reads and validates the document at path. A missing file is a
// valid empty snapshot (Exists=false), not an error; parse and validation
// problems are captured in Issues with Valid=false. The hash is taken over
// the canonical serialization of the parsed document, so formatting-only
// edits do not invalidate client views.
func LoadSnapshot(path string) (Snapshot, error) {
	snapshot := Snapshot{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			snapshot.Parsed = Document{}
			snapshot.Valid = true
			snapshot.Config = snapshot.Parsed
			snapshot.Hash = hashDocument(snapshot.Parsed)
			return snapshot, nil
		}
		return snapshot, fmt.Errorf("read config: %w", err)
	}
	snapshot.Exists = true
	snapshot.Raw = string(data)

	doc, err := ParseDocument(data, path)
	if err != nil {
		snapshot.Issues = []string{err.Error()}
		return snapshot, nil
	}
	snapshot.Parsed = doc

	if issues := ValidateDocument(doc); len(issues) > 0 {
		snapshot.Issues = issues
		return snapshot, nil
	}

	snapshot.Valid = true
	snapshot.Config = doc
	snapshot.Hash = hashDocument(doc)
	return snapshot, nil
}

// hashDocument computes the hash over the canonical serialized form.
// MarshalDocument sorts map keys, so equal documents hash equally regardless
// of source formatting.
func hashDocument(doc Document) string {
	payload, err := MarshalDocument(doc)
	if err != nil {
		// Documents come from a successful parse; serialization of plain
		// maps/slices/scalars cannot fail in practice.
		return ""
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
