package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/perchbot/perch/internal/secretstore"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perch.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8790\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := NewServer(Options{
		Addr:        "127.0.0.1:0",
		ConfigPath:  path,
		SecretStore: secretstore.NewMemory(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s, path
}

func dialWS(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.wsHandler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendReq(t *testing.T, conn *websocket.Conn, id, method string, params any) {
	t.Helper()
	frame := map[string]any{"type": "req", "id": id, "method": method}
	if params != nil {
		frame["params"] = params
	}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write %s: %v", method, err)
	}
}

// readResponse skips event frames; responses and events share one connection.
func readResponse(t *testing.T, conn *websocket.Conn, id string) wsFrame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read response %s: %v", id, err)
		}
		if frame.Type != "res" {
			continue
		}
		if frame.ID != id {
			t.Fatalf("response id = %q, want %q", frame.ID, id)
		}
		return frame
	}
}

func payloadMap(t *testing.T, frame wsFrame) map[string]any {
	t.Helper()
	data, err := json.Marshal(frame.Payload)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func connect(t *testing.T, conn *websocket.Conn, token string) wsFrame {
	t.Helper()
	params := map[string]any{"minProtocol": 1, "maxProtocol": 1}
	if token != "" {
		params["auth"] = map[string]any{"token": token}
	}
	sendReq(t, conn, "c1", "connect", params)
	return readResponse(t, conn, "c1")
}

func TestWSRequiresConnect(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialWS(t, s)

	sendReq(t, conn, "1", "ping", nil)
	res := readResponse(t, conn, "1")
	if res.OK == nil || *res.OK {
		t.Fatal("request before connect should fail")
	}
	if res.Error == nil || res.Error.Code != "handshake_required" {
		t.Fatalf("error = %+v, want handshake_required", res.Error)
	}
}

func TestWSConnectAuth(t *testing.T) {
	s, _ := newTestServer(t)
	s.opts.AuthToken = "tok"

	conn := dialWS(t, s)
	res := connect(t, conn, "wrong")
	if res.OK == nil || *res.OK {
		t.Fatal("connect with wrong token should fail")
	}

	conn2 := dialWS(t, s)
	res = connect(t, conn2, "tok")
	if res.OK == nil || !*res.OK {
		t.Fatalf("connect with token failed: %+v", res.Error)
	}
	payload := payloadMap(t, res)
	if payload["type"] != "hello-ok" {
		t.Errorf("hello payload type = %v", payload["type"])
	}
}

func TestWSConfigLifecycle(t *testing.T) {
	s, path := newTestServer(t)
	conn := dialWS(t, s)
	if res := connect(t, conn, ""); res.OK == nil || !*res.OK {
		t.Fatalf("connect failed: %+v", res.Error)
	}

	sendReq(t, conn, "1", "config.get", nil)
	get := payloadMap(t, readResponse(t, conn, "1"))
	baseHash, _ := get["hash"].(string)
	if baseHash == "" {
		t.Fatal("config.get returned no hash")
	}

	sendReq(t, conn, "2", "config.patch", map[string]any{
		"patch":    "channels:\n  telegram:\n    bot_token: \"123:plain\"\n",
		"baseHash": baseHash,
	})
	patch := readResponse(t, conn, "2")
	if patch.OK == nil || !*patch.OK {
		t.Fatalf("patch failed: %+v", patch.Error)
	}
	result := payloadMap(t, patch)
	newHash, _ := result["hash"].(string)
	if newHash == "" || newHash == baseHash {
		t.Fatalf("patch hash = %q, base %q", newHash, baseHash)
	}

	// Patch against the old hash is stale and must not touch the file.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sendReq(t, conn, "3", "config.patch", map[string]any{
		"patch":    "server:\n  port: 9999\n",
		"baseHash": baseHash,
	})
	stale := readResponse(t, conn, "3")
	if stale.OK == nil || *stale.OK {
		t.Fatal("stale patch should fail")
	}
	if stale.Error == nil || stale.Error.Code != "stale_config" {
		t.Fatalf("stale error = %+v", stale.Error)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(raw) {
		t.Error("stale patch modified the file")
	}

	// The applied token was externalized before hitting disk.
	if strings.Contains(string(after), "123:plain") {
		t.Error("plaintext token persisted to disk")
	}
	if !strings.Contains(string(after), "secret://perch/telegram/") {
		t.Errorf("expected secret reference on disk, got:\n%s", after)
	}

	// Redacted view: the reference is never echoed either.
	sendReq(t, conn, "4", "config.get", nil)
	view := payloadMap(t, readResponse(t, conn, "4"))
	encoded, _ := json.Marshal(view["config"])
	if strings.Contains(string(encoded), "secret://") {
		t.Error("config.get leaked a secret reference")
	}
	if !strings.Contains(string(encoded), "__REDACTED__") {
		t.Error("config.get did not redact the token")
	}

	// Raw text is ref-only after externalize and ships for re-rendering.
	rawText, _ := view["raw"].(string)
	if !strings.Contains(rawText, "secret://perch/telegram/") {
		t.Errorf("config.get raw missing reference:\n%s", rawText)
	}
	if strings.Contains(rawText, "123:plain") {
		t.Error("config.get raw leaked a plaintext token")
	}

	sendReq(t, conn, "5", "secrets.status", nil)
	status := payloadMap(t, readResponse(t, conn, "5"))
	if status["available"] != true {
		t.Errorf("secrets.status available = %v", status["available"])
	}
	refs, _ := status["refs"].([]any)
	if len(refs) != 1 {
		t.Fatalf("secrets.status refs = %d, want 1", len(refs))
	}
	entry, _ := refs[0].(map[string]any)
	if entry["present"] != true {
		t.Errorf("ref entry = %+v, want present", entry)
	}
}

func TestWSConfigGetWithholdsRawWhilePlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perch.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  token: plain-value\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := NewServer(Options{
		Addr:        "127.0.0.1:0",
		ConfigPath:  path,
		SecretStore: secretstore.Disabled{},
	})
	if err != nil {
		t.Fatal(err)
	}
	conn := dialWS(t, s)
	if res := connect(t, conn, ""); res.OK == nil || !*res.OK {
		t.Fatalf("connect failed: %+v", res.Error)
	}

	sendReq(t, conn, "1", "config.get", nil)
	view := payloadMap(t, readResponse(t, conn, "1"))
	if _, ok := view["raw"]; ok {
		t.Error("raw should be withheld while plaintext secrets persist")
	}
	paths, _ := view["plaintextPaths"].([]any)
	if len(paths) != 1 || paths[0] != "auth.token" {
		t.Fatalf("plaintextPaths = %v", paths)
	}
}

func TestWSWizardSession(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialWS(t, s)
	if res := connect(t, conn, ""); res.OK == nil || !*res.OK {
		t.Fatalf("connect failed: %+v", res.Error)
	}

	sendReq(t, conn, "1", "wizard.start", map[string]any{"flow": "channel"})
	start := payloadMap(t, readResponse(t, conn, "1"))
	sessionID, _ := start["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("wizard.start returned no session id")
	}
	if start["status"] != "running" {
		t.Fatalf("status = %v, want running", start["status"])
	}

	sendReq(t, conn, "2", "wizard.status", map[string]any{"sessionId": sessionID})
	status := readResponse(t, conn, "2")
	if status.OK == nil || !*status.OK {
		t.Fatalf("wizard.status failed: %+v", status.Error)
	}

	sendReq(t, conn, "3", "wizard.cancel", map[string]any{"sessionId": sessionID})
	cancel := payloadMap(t, readResponse(t, conn, "3"))
	if cancel["status"] != "cancelled" {
		t.Fatalf("cancel status = %v", cancel["status"])
	}

	// Terminal sessions are purged on observation.
	sendReq(t, conn, "4", "wizard.status", map[string]any{"sessionId": sessionID})
	gone := readResponse(t, conn, "4")
	if gone.OK == nil || *gone.OK {
		t.Fatal("status of cancelled session should fail")
	}
	if gone.Error == nil || gone.Error.Code != "session_not_found" {
		t.Fatalf("error = %+v, want session_not_found", gone.Error)
	}
}

func TestWSConfigChangedEventOnPatch(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialWS(t, s)
	if res := connect(t, conn, ""); res.OK == nil || !*res.OK {
		t.Fatalf("connect failed: %+v", res.Error)
	}

	sendReq(t, conn, "1", "config.get", nil)
	baseHash, _ := payloadMap(t, readResponse(t, conn, "1"))["hash"].(string)

	sendReq(t, conn, "2", "config.patch", map[string]any{
		"patch":    "workspace:\n  path: /tmp/ws\n",
		"baseHash": baseHash,
	})

	// The apply broadcasts config.changed before answering the request.
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	sawEvent := false
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		if frame.Type == "event" && frame.Event == "config.changed" {
			sawEvent = true
		}
		if frame.Type == "res" && frame.ID == "2" {
			if frame.OK == nil || !*frame.OK {
				t.Fatalf("patch failed: %+v", frame.Error)
			}
			break
		}
	}
	if !sawEvent {
		t.Error("no config.changed event before patch response")
	}
}
