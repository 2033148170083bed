package config

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/perchbot/perch/internal/secretref"
	"github.com/perchbot/perch/internal/secretstore"
)

func TestIsSensitiveKey(t *testing.T) {
	sensitive := []string{
		"token", "bot_token", "botToken", "TOKEN",
		"password", "db_password",
		"secret", "jwt_secret", "signing_secret",
		"api_key", "apiKey", "apikey", "api-key", "openai api key",
	}
	for _, key := range sensitive {
		if !IsSensitiveKey(key) {
			t.Errorf("IsSensitiveKey(%q) = false, want true", key)
		}
	}

	plain := []string{"host", "port", "enabled", "url", "name", "keyboard"}
	for _, key := range plain {
		if IsSensitiveKey(key) {
			t.Errorf("IsSensitiveKey(%q) = true, want false", key)
		}
	}
}

func TestExternalizeTelegramToken(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemory()
	doc := Document{
		"channels": map[string]any{
			"telegram": map[string]any{"botToken": "123:abc"},
		},
	}

	changed, leaked, err := ExternalizeSecrets(ctx, doc, store)
	if err != nil {
		t.Fatalf("externalize: %v", err)
	}
	if !changed || len(leaked) != 0 {
		t.Fatalf("changed=%v leaked=%v", changed, leaked)
	}

	value, _ := GetPath(doc, "channels.telegram.botToken")
	if value != "secret://perch/telegram/bottoken" {
		t.Fatalf("on-disk value = %v", value)
	}

	ref, _ := secretref.Parse("secret://perch/telegram/bottoken")
	stored, ok, err := store.Get(ctx, ref)
	if err != nil || !ok || stored != "123:abc" {
		t.Fatalf("stored value = %q ok=%v err=%v", stored, ok, err)
	}

	if err := HydrateSecrets(ctx, doc, store); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if value, _ := GetPath(doc, "channels.telegram.botToken"); value != "123:abc" {
		t.Fatalf("hydrated value = %v", value)
	}
}

func TestExternalizeHydrateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemory()
	original := Document{
		"server": map[string]any{"host": "127.0.0.1", "port": 8790},
		"auth":   map[string]any{"token": "tok-1"},
		"llm": map[string]any{
			"providers": map[string]any{
				"openai":    map[string]any{"api_key": "sk-live"},
				"anthropic": map[string]any{"api_key": "sk-ant"},
			},
		},
		"nested": map[string]any{
			"deeper": map[string]any{
				"third": map[string]any{"password": "hunter2"},
			},
		},
	}
	doc := CloneDocument(original)

	if _, _, err := ExternalizeSecrets(ctx, doc, store); err != nil {
		t.Fatalf("externalize: %v", err)
	}
	if paths := HasPlaintextSecrets(doc); len(paths) != 0 {
		t.Fatalf("plaintext remains after externalize: %v", paths)
	}
	if v, _ := GetPath(doc, "llm.providers.openai.api_key"); v != "secret://perch/openai/api_key" {
		t.Fatalf("provider ref = %v", v)
	}
	if v, _ := GetPath(doc, "nested.deeper.third.password"); v != "secret://perch/config/nested.deeper.third.password" {
		t.Fatalf("fallback ref = %v", v)
	}

	if err := HydrateSecrets(ctx, doc, store); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if !reflect.DeepEqual(doc, original) {
		t.Fatalf("round trip mismatch:\n got %v\nwant %v", doc, original)
	}
}

func TestExternalizeSequenceElementsGetDistinctRefs(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemory()
	original := Document{
		"accounts": []any{
			map[string]any{"name": "first", "token": "token-a"},
			map[string]any{"name": "second", "token": "token-b"},
		},
	}
	doc := CloneDocument(original)

	if _, _, err := ExternalizeSecrets(ctx, doc, store); err != nil {
		t.Fatalf("externalize: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("expected one stored secret per element, got %d", store.Len())
	}

	items := doc["accounts"].([]any)
	first := items[0].(map[string]any)["token"]
	second := items[1].(map[string]any)["token"]
	if first != "secret://perch/config/accounts.0.token" {
		t.Fatalf("first element ref = %v", first)
	}
	if second != "secret://perch/config/accounts.1.token" {
		t.Fatalf("second element ref = %v", second)
	}

	if err := HydrateSecrets(ctx, doc, store); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if !reflect.DeepEqual(doc, original) {
		t.Fatalf("round trip mismatch:\n got %v\nwant %v", doc, original)
	}
}

func TestExternalizeIdempotent(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemory()
	doc := Document{
		"channels": map[string]any{"telegram": map[string]any{"bot_token": "123:abc"}},
	}

	if _, _, err := ExternalizeSecrets(ctx, doc, store); err != nil {
		t.Fatal(err)
	}
	once := CloneDocument(doc)
	stored := store.Len()

	changed, leaked, err := ExternalizeSecrets(ctx, doc, store)
	if err != nil {
		t.Fatal(err)
	}
	if changed || len(leaked) != 0 {
		t.Fatalf("second run reported work: changed=%v leaked=%v", changed, leaked)
	}
	if !reflect.DeepEqual(doc, once) {
		t.Fatalf("second run mutated document")
	}
	if store.Len() != stored {
		t.Fatalf("second run grew the store: %d -> %d", stored, store.Len())
	}
}

func TestExternalizeSkipsRedactedAndEmpty(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemory()
	doc := Document{
		"auth": map[string]any{
			"token":      RedactedSentinel,
			"api_key":    "",
			"secret":     "   ",
			"password":   42,
			"jwt_secret": nil,
		},
	}

	changed, leaked, err := ExternalizeSecrets(ctx, doc, store)
	if err != nil {
		t.Fatal(err)
	}
	if changed || len(leaked) != 0 || store.Len() != 0 {
		t.Fatalf("nothing should have been externalized: changed=%v leaked=%v stored=%d", changed, leaked, store.Len())
	}
}

func TestExternalizeUnavailableStoreLeavesPlaintext(t *testing.T) {
	ctx := context.Background()
	doc := Document{
		"channels": map[string]any{"telegram": map[string]any{"bot_token": "123:abc"}},
	}

	changed, leaked, err := ExternalizeSecrets(ctx, doc, secretstore.Disabled{})
	if err != nil {
		t.Fatalf("unavailable store must not fail the walk: %v", err)
	}
	if changed {
		t.Fatal("document should be untouched")
	}
	if len(leaked) != 1 || leaked[0] != "channels.telegram.bot_token" {
		t.Fatalf("leaked paths = %v", leaked)
	}
	if v, _ := GetPath(doc, "channels.telegram.bot_token"); v != "123:abc" {
		t.Fatalf("plaintext value lost: %v", v)
	}
	if paths := HasPlaintextSecrets(doc); len(paths) != 1 {
		t.Fatalf("plaintext scan should flag the value: %v", paths)
	}
}

func TestHydrateMissingSecretFailsClosed(t *testing.T) {
	ctx := context.Background()
	store := secretstore.NewMemory()
	doc := Document{
		"channels": map[string]any{
			"telegram": map[string]any{"bot_token": "secret://perch/telegram/bot_token"},
		},
	}

	err := HydrateSecrets(ctx, doc, store)
	if !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}

	// The error names the reference so the caller can prompt for re-entry.
	if got := err.Error(); !strings.Contains(got, "secret://perch/telegram/bot_token") {
		t.Fatalf("error does not name the reference: %q", got)
	}
}

func TestHydrateLeavesPlaintextValues(t *testing.T) {
	ctx := context.Background()
	doc := Document{
		"auth": map[string]any{"token": "plain-value"},
	}
	if err := HydrateSecrets(ctx, doc, secretstore.NewMemory()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if v, _ := GetPath(doc, "auth.token"); v != "plain-value" {
		t.Fatalf("plaintext passthrough broken: %v", v)
	}
}

func TestHasPlaintextSecretsPaths(t *testing.T) {
	doc := Document{
		"auth": map[string]any{"token": "plain"},
		"channels": map[string]any{
			"telegram": map[string]any{"bot_token": "secret://perch/telegram/bot_token"},
			"discord":  map[string]any{"bot_token": "raw-token"},
		},
	}
	paths := HasPlaintextSecrets(doc)
	sort.Strings(paths)
	want := []string{"auth.token", "channels.discord.bot_token"}
	if !reflect.DeepEqual(paths, want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
}

func TestRedactSecrets(t *testing.T) {
	doc := Document{
		"server": map[string]any{"host": "0.0.0.0"},
		"auth":   map[string]any{"token": "secret://perch/config/auth.token"},
		"llm": map[string]any{
			"providers": map[string]any{"openai": map[string]any{"api_key": "sk-live"}},
		},
	}
	redacted := RedactSecrets(doc)

	if v, _ := GetPath(redacted, "auth.token"); v != RedactedSentinel {
		t.Fatalf("ref not redacted: %v", v)
	}
	if v, _ := GetPath(redacted, "llm.providers.openai.api_key"); v != RedactedSentinel {
		t.Fatalf("plaintext not redacted: %v", v)
	}
	if v, _ := GetPath(redacted, "server.host"); v != "0.0.0.0" {
		t.Fatalf("non-sensitive value touched: %v", v)
	}
	if v, _ := GetPath(doc, "llm.providers.openai.api_key"); v != "sk-live" {
		t.Fatal("redaction mutated the original")
	}
}
