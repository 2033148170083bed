package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/perchbot/perch/internal/config"
)

var (
	// ErrSessionNotFound is returned for a session id the server does not
	// hold, typically because a terminal session was already purged.
	// Recovery is restarting the flow.
	ErrSessionNotFound = errors.New("wizard session not found")

	// ErrSessionNotRunning is returned for operations on a session that has
	// already reached a terminal status.
	ErrSessionNotRunning = errors.New("wizard session not running")
)

// Observer receives session lifecycle signals, used for metrics.
type Observer interface {
	SessionStarted(flow string)
	SessionEnded(flow string, status Status)
}

// StartRequest opens a session. Flow defaults to quickstart; Mode records the
// client surface ("local", "remote") for logging only.
type StartRequest struct {
	Mode      string `json:"mode,omitempty"`
	Flow      string `json:"flow,omitempty"`
	Workspace string `json:"workspace,omitempty"`
}

// SessionView is the externally visible session state.
type SessionView struct {
	ID     string              `json:"sessionId"`
	Status Status              `json:"status"`
	Flow   string              `json:"flow"`
	Step   *Step               `json:"step,omitempty"`
	Busy   bool                `json:"busy"`
	Result *config.PatchResult `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Manager holds the in-memory session table and submits completed flows to
// the config patch gate. Sessions never touch disk and do not survive a
// restart; terminal sessions are purged synchronously by whichever call
// observes the transition.
type Manager struct {
	gate     *config.Manager
	logger   *slog.Logger
	observer Observer

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu     sync.Mutex
	id     string
	flow   Flow
	driver *Driver
	status Status
	busy   bool
	result *config.PatchResult
	errMsg string
}

// NewManager builds a session manager over the given patch gate. Logger and
// observer may be nil.
func NewManager(gate *config.Manager, logger *slog.Logger, observer Observer) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		gate:     gate,
		logger:   logger,
		observer: observer,
		sessions: map[string]*session{},
	}
}

// Start opens a new session and advances the flow to its first step. A fresh
// flow (quickstart) first discards any running session, so guided setup never
// resumes stale multi-step state left over from a different flow.
func (m *Manager) Start(ctx context.Context, req StartRequest) (SessionView, error) {
	_ = ctx
	flow, err := NewFlow(req.Flow)
	if err != nil {
		return SessionView{}, err
	}

	s := &session{
		id:     uuid.NewString(),
		flow:   flow,
		driver: NewDriver(flow, req.Workspace),
		status: StatusRunning,
	}

	step, completion, err := s.driver.Advance(nil)
	if err != nil {
		return SessionView{}, fmt.Errorf("start %s flow: %w", flow.Name(), err)
	}
	if completion != nil {
		// A zero-step flow would complete immediately; no registered flow
		// does, so treat it as a flow bug.
		return SessionView{}, fmt.Errorf("flow %s produced no steps", flow.Name())
	}

	m.mu.Lock()
	if flow.Fresh() {
		for id, existing := range m.sessions {
			delete(m.sessions, id)
			m.logger.Info("wizard session discarded by fresh start",
				"session_id", id, "flow", existing.flow.Name())
		}
	}
	m.sessions[s.id] = s
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.SessionStarted(flow.Name())
	}
	m.logger.Info("wizard session started",
		"session_id", s.id, "flow", flow.Name(), "mode", req.Mode)

	return SessionView{
		ID:     s.id,
		Status: StatusRunning,
		Flow:   flow.Name(),
		Step:   step,
	}, nil
}

// Next feeds an answer into a running session and returns the next step or
// the terminal result. Terminal sessions are purged before returning.
func (m *Manager) Next(ctx context.Context, sessionID string, answer *Answer) (SessionView, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return SessionView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusRunning {
		m.purge(s)
		return SessionView{}, fmt.Errorf("%w: %s is %s", ErrSessionNotRunning, sessionID, s.status)
	}

	s.busy = true
	_, completion, err := s.driver.Advance(answer)
	s.busy = false
	if err != nil {
		// Bad answers leave the session running at the same step.
		return s.view(), err
	}

	if completion == nil {
		return s.view(), nil
	}

	s.busy = true
	s.finish(ctx, m, completion)
	s.busy = false
	m.purge(s)
	m.ended(s)
	return s.view(), nil
}

// Cancel marks a running session cancelled and purges it, returning its last
// observed state.
func (m *Manager) Cancel(ctx context.Context, sessionID string) (SessionView, error) {
	_ = ctx
	s, err := m.lookup(sessionID)
	if err != nil {
		return SessionView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusRunning {
		s.status = StatusCancelled
		m.ended(s)
	}
	m.purge(s)
	m.logger.Info("wizard session cancelled", "session_id", s.id, "flow", s.flow.Name())
	return s.view(), nil
}

// Status peeks at a session without advancing it, purging it if it turns out
// to already be terminal.
func (m *Manager) Status(ctx context.Context, sessionID string) (SessionView, error) {
	_ = ctx
	s, err := m.lookup(sessionID)
	if err != nil {
		return SessionView{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		m.purge(s)
	}
	return s.view(), nil
}

// finish submits the completed flow's patch through the gate. The base hash
// is read fresh under the gate's own serialization; a concurrent writer
// between read and apply surfaces as a stale-hash error on the session.
func (s *session) finish(ctx context.Context, m *Manager, completion *Completion) {
	raw, err := config.MarshalDocument(completion.Patch)
	if err != nil {
		s.fail(m, fmt.Errorf("serialize wizard patch: %w", err))
		return
	}
	snapshot, err := m.gate.Snapshot(ctx)
	if err != nil {
		s.fail(m, err)
		return
	}
	result, err := m.gate.ApplyPatch(ctx, config.PatchRequest{
		Raw:      string(raw),
		BaseHash: snapshot.Hash,
		Note:     completion.Note,
	})
	if err != nil {
		s.fail(m, err)
		return
	}

	s.status = StatusDone
	s.result = &result
	m.logger.Info("wizard session completed",
		"session_id", s.id, "flow", s.flow.Name(), "hash", result.Hash)
}

func (s *session) fail(m *Manager, err error) {
	s.status = StatusError
	s.errMsg = err.Error()
	m.logger.Error("wizard session failed",
		"session_id", s.id, "flow", s.flow.Name(), "error", err)
}

func (s *session) view() SessionView {
	return SessionView{
		ID:     s.id,
		Status: s.status,
		Flow:   s.flow.Name(),
		Step:   s.driver.Current(),
		Busy:   s.busy,
		Result: s.result,
		Error:  s.errMsg,
	}
}

func (m *Manager) lookup(sessionID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

func (m *Manager) purge(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.id)
}

func (m *Manager) ended(s *session) {
	if m.observer != nil {
		m.observer.SessionEnded(s.flow.Name(), s.status)
	}
}

// Active returns the number of sessions currently held.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
