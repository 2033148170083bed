package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/perchbot/perch/internal/config"
	"github.com/perchbot/perch/internal/secretref"
	"github.com/perchbot/perch/internal/secretstore"
	"github.com/perchbot/perch/internal/wizard"
)

const (
	wsProtocolVersion = 1
	wsMaxPayloadBytes = 1 << 20
	wsTickInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

func (s *Server) wsHandler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		session := &wsSession{
			server:     s,
			conn:       conn,
			send:       make(chan []byte, 64),
			ctx:        ctx,
			cancel:     cancel,
			id:         uuid.NewString(),
			headerAuth: s.authenticateRequest(r),
		}
		session.run()
	})
}

type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsConnectParams struct {
	MinProtocol int            `json:"minProtocol"`
	MaxProtocol int            `json:"maxProtocol"`
	Client      wsClientInfo   `json:"client"`
	Auth        *wsAuthPayload `json:"auth,omitempty"`
}

type wsClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode,omitempty"`
}

type wsAuthPayload struct {
	Token string `json:"token"`
}

type wsConfigPatchParams struct {
	Patch    string `json:"patch"`
	BaseHash string `json:"baseHash"`
	Note     string `json:"note,omitempty"`
}

type wsWizardNextParams struct {
	SessionID string         `json:"sessionId"`
	Answer    *wizard.Answer `json:"answer,omitempty"`
}

type wsWizardSessionParams struct {
	SessionID string `json:"sessionId"`
}

type wsSession struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	id         string
	connected  atomic.Bool
	seq        int64
	headerAuth bool
}

func (s *wsSession) run() {
	s.server.register(s)
	defer s.server.unregister(s)
	defer s.close()
	go s.writeLoop()
	s.readLoop()
}

// close tears the session down. The send channel is never closed; concurrent
// broadcasters may still enqueue until unregister runs, and the write loop
// exits on context cancellation.
func (s *wsSession) close() {
	s.cancel()
	_ = s.conn.Close()
}

func (s *wsSession) readLoop() {
	s.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := s.decodeFrame(data)
		if err != nil {
			s.sendError("", "invalid_frame", err.Error())
			continue
		}

		if !s.connected.Load() {
			if frame.Method != "connect" {
				s.sendError(frame.ID, "handshake_required", "first request must be connect")
				continue
			}
			if err := s.handleConnect(frame); err != nil {
				s.sendError(frame.ID, "connect_failed", err.Error())
				return
			}
			continue
		}

		if err := s.handleRequest(frame); err != nil {
			s.sendError(frame.ID, errorCode(err), err.Error())
		}
	}
}

func (s *wsSession) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) decodeFrame(raw []byte) (*wsFrame, error) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if frame.Type == "" {
		frame.Type = "req"
	}
	if frame.Type != "req" {
		return nil, fmt.Errorf("unsupported frame type %q", frame.Type)
	}
	if err := validateWSRequestFrame(raw, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func (s *wsSession) handleConnect(frame *wsFrame) error {
	var params wsConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}

	minProtocol := params.MinProtocol
	maxProtocol := params.MaxProtocol
	if minProtocol <= 0 {
		minProtocol = wsProtocolVersion
	}
	if maxProtocol <= 0 {
		maxProtocol = wsProtocolVersion
	}
	if wsProtocolVersion < minProtocol || wsProtocolVersion > maxProtocol {
		return fmt.Errorf("unsupported protocol version")
	}

	if s.server.opts.AuthToken != "" {
		authorized := s.headerAuth
		if !authorized && params.Auth != nil {
			authorized = tokenMatches(s.server.opts.AuthToken, params.Auth.Token)
		}
		if !authorized {
			return fmt.Errorf("unauthorized")
		}
	}

	if err := s.sendResponse(frame.ID, true, s.buildHelloPayload(), nil); err != nil {
		return err
	}
	s.connected.Store(true)
	go s.startTicking()
	return nil
}

func (s *wsSession) handleRequest(frame *wsFrame) error {
	switch frame.Method {
	case "ping":
		return s.sendResponse(frame.ID, true, map[string]any{"timestamp": time.Now().UnixMilli()}, nil)
	case "config.get":
		return s.handleConfigGet(frame)
	case "config.schema":
		return s.handleConfigSchema(frame)
	case "config.patch":
		return s.handleConfigPatch(frame)
	case "secrets.status":
		return s.handleSecretsStatus(frame)
	case "wizard.start":
		return s.handleWizardStart(frame)
	case "wizard.next":
		return s.handleWizardNext(frame)
	case "wizard.cancel":
		return s.handleWizardCancel(frame)
	case "wizard.status":
		return s.handleWizardStatus(frame)
	default:
		return fmt.Errorf("unknown method %q", frame.Method)
	}
}

func (s *wsSession) handleConfigGet(frame *wsFrame) error {
	snapshot, err := s.server.configMgr.Snapshot(s.ctx)
	if err != nil {
		return err
	}
	// Secret values never cross the wire; clients see the sentinel. The raw
	// text normally holds only references, so it ships as-is for UIs that
	// re-render the user's formatting; it is withheld while any sensitive
	// value is still persisted in plaintext.
	payload := map[string]any{
		"path":   snapshot.Path,
		"exists": snapshot.Exists,
		"valid":  snapshot.Valid,
		"hash":   snapshot.Hash,
		"config": config.RedactSecrets(snapshot.Parsed),
	}
	if len(snapshot.Issues) > 0 {
		payload["issues"] = snapshot.Issues
	}
	if paths := config.HasPlaintextSecrets(snapshot.Parsed); len(paths) > 0 {
		payload["plaintextPaths"] = paths
	} else {
		payload["raw"] = snapshot.Raw
	}
	return s.sendResponse(frame.ID, true, payload, nil)
}

func (s *wsSession) handleConfigSchema(frame *wsFrame) error {
	return s.sendResponse(frame.ID, true, map[string]any{
		"schema": json.RawMessage(config.SchemaJSON()),
	}, nil)
}

func (s *wsSession) handleConfigPatch(frame *wsFrame) error {
	var params wsConfigPatchParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	result, err := s.server.configMgr.ApplyPatch(s.ctx, config.PatchRequest{
		Raw:      params.Patch,
		BaseHash: params.BaseHash,
		Note:     params.Note,
	})
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, result, nil)
}

func (s *wsSession) handleSecretsStatus(frame *wsFrame) error {
	store := s.server.store
	payload := map[string]any{
		"backend":   store.Backend(),
		"available": store.Available(),
	}

	snapshot, err := s.server.configMgr.Snapshot(s.ctx)
	if err != nil {
		return err
	}
	refs := make([]map[string]any, 0)
	for _, binding := range config.SecretRefs(snapshot.Parsed) {
		entry := map[string]any{
			"path": binding.Path,
			"ref":  binding.Ref.String(),
		}
		if store.Available() {
			present, err := secretstore.Has(s.ctx, store, binding.Ref)
			if err != nil {
				entry["error"] = err.Error()
			} else {
				entry["present"] = present
			}
		}
		refs = append(refs, entry)
	}
	payload["refs"] = refs
	if paths := config.HasPlaintextSecrets(snapshot.Parsed); len(paths) > 0 {
		payload["plaintextPaths"] = paths
	}
	return s.sendResponse(frame.ID, true, payload, nil)
}

func (s *wsSession) handleWizardStart(frame *wsFrame) error {
	var params wizard.StartRequest
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
	}
	if params.Mode == "" {
		params.Mode = "remote"
	}
	view, err := s.server.wizards.Start(s.ctx, params)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, view, nil)
}

func (s *wsSession) handleWizardNext(frame *wsFrame) error {
	var params wsWizardNextParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	view, err := s.server.wizards.Next(s.ctx, params.SessionID, params.Answer)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, view, nil)
}

func (s *wsSession) handleWizardCancel(frame *wsFrame) error {
	var params wsWizardSessionParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	view, err := s.server.wizards.Cancel(s.ctx, params.SessionID)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, view, nil)
}

func (s *wsSession) handleWizardStatus(frame *wsFrame) error {
	var params wsWizardSessionParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	view, err := s.server.wizards.Status(s.ctx, params.SessionID)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, view, nil)
}

func (s *wsSession) sendResponse(id string, ok bool, payload any, err *wsError) error {
	frame := wsFrame{
		Type:    "res",
		ID:      id,
		OK:      &ok,
		Payload: payload,
		Error:   err,
	}
	return s.enqueue(frame)
}

func (s *wsSession) sendEvent(event string, payload any) {
	seq := atomic.AddInt64(&s.seq, 1)
	frame := wsFrame{
		Type:    "event",
		Event:   event,
		Payload: payload,
		Seq:     &seq,
	}
	_ = s.enqueue(frame) //nolint:errcheck
}

func (s *wsSession) sendError(id string, code string, message string) {
	_ = s.sendResponse(id, false, nil, &wsError{Code: code, Message: message}) //nolint:errcheck
}

func (s *wsSession) enqueue(frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if len(data) > wsMaxPayloadBytes {
		return fmt.Errorf("payload too large")
	}
	select {
	case s.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (s *wsSession) startTicking() {
	ticker := time.NewTicker(wsTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sendEvent("tick", map[string]any{"timestamp": time.Now().UnixMilli()})
		}
	}
}

func (s *wsSession) buildHelloPayload() map[string]any {
	return map[string]any{
		"type":     "hello-ok",
		"protocol": wsProtocolVersion,
		"server": map[string]any{
			"id": s.id,
		},
		"features": map[string]any{
			"methods": supportedWSMethods(),
			"events":  supportedWSEvents(),
		},
		"policy": map[string]any{
			"maxPayloadBytes": wsMaxPayloadBytes,
			"tickIntervalMs":  wsTickInterval.Milliseconds(),
		},
		"secretStore": map[string]any{
			"backend":   s.server.store.Backend(),
			"available": s.server.store.Available(),
		},
	}
}

func (s *Server) authenticateRequest(r *http.Request) bool {
	if s.opts.AuthToken == "" {
		return true
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return tokenMatches(s.opts.AuthToken, authHeader[7:])
	}
	return false
}

func tokenMatches(want, got string) bool {
	got = strings.TrimSpace(got)
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// errorCode maps domain errors onto the wire taxonomy so clients can branch
// without parsing messages.
func errorCode(err error) string {
	switch {
	case errors.Is(err, config.ErrStaleHash):
		return "stale_config"
	case errors.Is(err, config.ErrInvalidPatch):
		return "invalid_patch"
	case errors.Is(err, config.ErrMissingSecret):
		return "missing_secret"
	case errors.Is(err, secretstore.ErrUnavailable):
		return "store_unavailable"
	case errors.Is(err, secretref.ErrInvalidRef):
		return "invalid_ref"
	case errors.Is(err, wizard.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, wizard.ErrSessionNotRunning):
		return "session_not_running"
	default:
		return "request_failed"
	}
}

func supportedWSMethods() []string {
	return []string{
		"connect",
		"ping",
		"config.get",
		"config.schema",
		"config.patch",
		"secrets.status",
		"wizard.start",
		"wizard.next",
		"wizard.cancel",
		"wizard.status",
	}
}

func supportedWSEvents() []string {
	return []string{
		"tick",
		"config.changed",
		"config.plaintextSecrets",
	}
}
