// Package config owns the configuration document lifecycle: loading and
// validating the on-disk document, externalizing and hydrating secret values,
// and applying hash-gated patches.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Document is the configuration document: an open, arbitrarily nested mapping
// of string keys to scalars, mappings, and sequences.
type Document = map[string]any

// ParseDocument decodes raw config bytes. JSON and JSON5 files are decoded
// with the json5 codec; everything else is YAML. The document must be a
// single mapping.
func ParseDocument(data []byte, pathHint string) (Document, error) {
	ext := strings.ToLower(filepath.Ext(pathHint))
	if ext == ".json" || ext == ".json5" {
		var doc Document
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc == nil {
			doc = Document{}
		}
		return doc, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var doc Document
	if err := decoder.Decode(&doc); err != nil {
		if err == io.EOF {
			return Document{}, nil
		}
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config: expected a single document")
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// MarshalDocument serializes a document in canonical YAML form. Map keys come
// out sorted, so this is also the hash basis: equal documents serialize
// identically regardless of their source formatting.
func MarshalDocument(doc Document) ([]byte, error) {
	return yaml.Marshal(doc)
}

// MarshalDocumentFor serializes a document for persistence at pathHint,
// matching the file's codec: JSON for .json/.json5, YAML otherwise.
func MarshalDocumentFor(doc Document, pathHint string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(pathHint))
	if ext == ".json" || ext == ".json5" {
		return json.MarshalIndent(doc, "", "  ")
	}
	return yaml.Marshal(doc)
}

// MergeDocuments deep-merges src into dst and returns dst. Nested mappings
// merge recursively, src wins on key conflicts, sequences replace wholesale.
func MergeDocuments(dst, src Document) Document {
	if dst == nil {
		dst = Document{}
	}
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				dst[key] = MergeDocuments(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

// CloneDocument returns a deep copy of doc. Mappings and sequences are copied;
// scalars are shared.
func CloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for key, value := range doc {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return CloneDocument(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}

// SetPath sets a dotted-path key in doc, creating intermediate mappings.
// An intermediate non-mapping value is replaced.
func SetPath(doc Document, path string, value any) {
	parts := strings.Split(path, ".")
	current := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// GetPath reads a dotted-path key from doc.
func GetPath(doc Document, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = doc
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
