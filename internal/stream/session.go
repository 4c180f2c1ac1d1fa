package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/branchchat-backend/internal/platform/logger"
)

var (
	ErrNoSession         = errors.New("stream: no active session")
	ErrUnresolvedParent  = errors.New("stream: parent not found")
	ErrUnresolvedSpeaker = errors.New("stream: speaker not found")
	ErrEmptyMessage      = errors.New("stream: empty message discarded")
	ErrCancelled         = errors.New("stream: session cancelled")
)

type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateFinalizing
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCancelling:
		return "cancelling"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type CreateRequest struct {
	ParentID  string
	Content   string
	SpeakerID string
	IsBot     bool
	CreatedAt time.Time
	ClientID  string
}

type CreateResult struct {
	ID        string
	CreatedAt time.Time
}

// Remote is the network side of one chat.
type Remote interface {
	CreateMessage(ctx context.Context, req CreateRequest) (CreateResult, error)
	EditMessage(ctx context.Context, nodeID, content string) error
	DeleteMessage(ctx context.Context, nodeID string) error
}

// TreeMirror is the local copy of the chat tree. Placeholders are addressed by client id until
// Reconcile renames them; Remove and SetMessage accept either id.
type TreeMirror interface {
	Tail() string
	Has(id string) bool
	AddPlaceholder(clientID, parentID, speakerID string, isBot bool, at time.Time) error
	Reconcile(clientID, serverID string) error
	SetMessage(id, content string) error
	Remove(id string) error
}

type Speaker struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Color  string `json:"color"`
	IsUser bool   `json:"is_user"`
}

type SpeakerDirectory interface {
	Speakers(ctx context.Context) ([]Speaker, error)
}

// Normalizer cleans finalized text. It runs without the machine lock held but must not call
// Start, which waits for the finalize to decide.
type Normalizer interface {
	Normalize(text string) string
}

type NormalizerFunc func(string) string

func (f NormalizerFunc) Normalize(text string) string { return f(text) }

// TrimNormalizer trims surrounding whitespace.
var TrimNormalizer = NormalizerFunc(strings.TrimSpace)

type StartOptions struct {
	// ParentID defaults to the mirror's tail.
	ParentID string
	// SpeakerID wins over IsUser.
	SpeakerID string
	IsUser    *bool
}

type SessionInfo struct {
	ID        uint64
	ClientID  string
	ParentID  string
	SpeakerID string
	IsBot     bool
	StartedAt time.Time
}

type FinalizeResult struct {
	NodeID  string
	Content string
}

// pendingCreate is the single in-flight create of a session. Every terminal path waits on the
// same value.
type pendingCreate struct {
	done chan struct{}
	id   string
	err  error
}

func newPendingCreate() *pendingCreate { return &pendingCreate{done: make(chan struct{})} }

func (p *pendingCreate) resolve(id string, err error) {
	p.id, p.err = id, err
	close(p.done)
}

// known reports the server id without blocking.
func (p *pendingCreate) known() (string, bool) {
	select {
	case <-p.done:
		return p.id, p.err == nil
	default:
		return "", false
	}
}

func (p *pendingCreate) wait(ctx context.Context) (string, error) {
	select {
	case <-p.done:
		return p.id, p.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type session struct {
	info   SessionInfo
	create *pendingCreate
	// parent is set when the session was started under a placeholder whose create is in flight.
	parent *pendingCreate
	// deciding is open while Finalize normalizes the sealed text outside the machine lock.
	deciding chan struct{}

	mu        sync.Mutex
	cancelled bool
	deleted   bool
}

func (s *session) owns(id string) bool {
	if id == s.info.ClientID {
		return true
	}
	sid, ok := s.create.known()
	return ok && sid == id
}

// claimDelete marks the session's remote placeholder as owned by the delete path. It returns
// false when another path already claimed it.
func (s *session) claimDelete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return false
	}
	s.deleted = true
	return true
}

type Config struct {
	Remote     Remote
	Mirror     TreeMirror
	Speakers   SpeakerDirectory
	Normalizer Normalizer
	Buffer     *Buffer
	Log        *logger.Logger
	Now        func() time.Time
	NewID      func() string
}

// Machine drives one streamed reply at a time. Remote cleanup of cancelled sessions runs in the
// background; Wait blocks until it is done.
type Machine struct {
	remote   Remote
	mirror   TreeMirror
	speakers SpeakerDirectory
	norm     Normalizer
	buf      *Buffer
	log      *logger.Logger
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	state   State
	cur     *session
	nextID  uint64
	pending map[string]*pendingCreate

	bg sync.WaitGroup
}

func NewMachine(cfg Config) *Machine {
	m := &Machine{
		remote:   cfg.Remote,
		mirror:   cfg.Mirror,
		speakers: cfg.Speakers,
		norm:     cfg.Normalizer,
		buf:      cfg.Buffer,
		log:      cfg.Log,
		now:      cfg.Now,
		newID:    cfg.NewID,
		pending:  make(map[string]*pendingCreate),
	}
	if m.norm == nil {
		m.norm = TrimNormalizer
	}
	if m.buf == nil {
		m.buf = NewBuffer(nil)
	}
	if m.log == nil {
		m.log = logger.Nop()
	}
	m.log = m.log.With("component", "StreamMachine")
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

func (m *Machine) Buffer() *Buffer { return m.buf }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the active session, if any.
func (m *Machine) Current() (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return SessionInfo{}, false
	}
	return m.cur.info, true
}

// Wait blocks until every background create and cleanup has finished.
func (m *Machine) Wait() { m.bg.Wait() }

func (m *Machine) resolveSpeaker(ctx context.Context, opts StartOptions) (Speaker, error) {
	if m.speakers == nil {
		return Speaker{}, ErrUnresolvedSpeaker
	}
	all, err := m.speakers.Speakers(ctx)
	if err != nil {
		return Speaker{}, fmt.Errorf("resolve speaker: %w", err)
	}
	if id := strings.TrimSpace(opts.SpeakerID); id != "" {
		for _, sp := range all {
			if sp.ID == id {
				return sp, nil
			}
		}
		return Speaker{}, fmt.Errorf("%w: %s", ErrUnresolvedSpeaker, id)
	}
	if opts.IsUser != nil {
		for _, sp := range all {
			if sp.IsUser == *opts.IsUser {
				return sp, nil
			}
		}
	}
	return Speaker{}, ErrUnresolvedSpeaker
}

// Start opens a session and fires the placeholder create. Resolution failures leave everything
// untouched. A session that is still streaming is cancelled first; one that is already
// finalizing or cancelling finishes its own terminal path. While a finalizing session has not
// yet decided between commit and cancel, Start waits for the decision.
func (m *Machine) Start(ctx context.Context, opts StartOptions) (SessionInfo, error) {
	sp, err := m.resolveSpeaker(ctx, opts)
	if err != nil {
		return SessionInfo{}, err
	}

	if err := m.lockDecided(ctx); err != nil {
		return SessionInfo{}, err
	}
	info, publish, err := m.startLocked(sp, opts)
	m.mu.Unlock()
	if publish != nil {
		publish()
	}
	if err != nil {
		return SessionInfo{}, err
	}
	m.log.Debug("stream session started", "session", info.ID, "client_id", info.ClientID, "parent_id", info.ParentID)
	return info, nil
}

// lockDecided acquires m.mu once no finalizing session is still deciding its outcome.
func (m *Machine) lockDecided(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.cur == nil || m.cur.deciding == nil {
			return nil
		}
		wait := m.cur.deciding
		m.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// startLocked runs with m.mu held. The returned publish delivers the cleared buffer frame and
// must be called after m.mu is released.
func (m *Machine) startLocked(sp Speaker, opts StartOptions) (SessionInfo, func(), error) {
	prev := m.cur
	parentID := strings.TrimSpace(opts.ParentID)
	if parentID != "" {
		if !m.mirror.Has(parentID) || (prev != nil && m.state == StateStreaming && prev.owns(parentID)) {
			return SessionInfo{}, nil, fmt.Errorf("%w: %s", ErrUnresolvedParent, parentID)
		}
	}

	if prev != nil {
		if m.state == StateStreaming {
			m.cancelLocked(prev)
		}
		m.cur = nil
	}
	if parentID == "" {
		parentID = m.mirror.Tail()
	}

	m.state = StateStarting
	m.nextID++
	s := &session{
		info: SessionInfo{
			ID:        m.nextID,
			ClientID:  m.newID(),
			ParentID:  parentID,
			SpeakerID: sp.ID,
			IsBot:     !sp.IsUser,
			StartedAt: m.now(),
		},
		create: newPendingCreate(),
		parent: m.pending[parentID],
	}

	publish := m.buf.reset()
	if err := m.mirror.AddPlaceholder(s.info.ClientID, parentID, sp.ID, s.info.IsBot, s.info.StartedAt); err != nil {
		m.state = StateIdle
		return SessionInfo{}, publish, fmt.Errorf("add placeholder: %w", err)
	}

	m.cur = s
	m.state = StateStreaming
	m.pending[s.info.ClientID] = s.create
	m.bg.Add(1)
	go m.runCreate(s)
	return s.info, publish, nil
}

func (m *Machine) runCreate(s *session) {
	defer m.bg.Done()
	res, err := m.create(s)
	if err == nil {
		if rerr := m.mirror.Reconcile(s.info.ClientID, res.ID); rerr != nil {
			// Cancelled sessions have already removed their placeholder.
			m.log.Debug("placeholder reconcile skipped", "session", s.info.ID, "error", rerr)
		}
	}
	s.create.resolve(res.ID, err)

	m.mu.Lock()
	delete(m.pending, s.info.ClientID)
	m.mu.Unlock()
	if err == nil {
		return
	}

	m.log.Warn("placeholder create failed", "session", s.info.ID, "error", err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == s && m.state == StateStreaming {
		m.buf.Stop()
		_ = m.mirror.Remove(s.info.ClientID)
		m.cur = nil
		m.state = StateIdle
	}
}

func (m *Machine) create(s *session) (CreateResult, error) {
	ctx := context.Background()
	parentID := s.info.ParentID
	if s.parent != nil {
		pid, err := s.parent.wait(ctx)
		if err != nil {
			return CreateResult{}, fmt.Errorf("parent placeholder: %w", err)
		}
		parentID = pid
	}
	return m.remote.CreateMessage(ctx, CreateRequest{
		ParentID:  parentID,
		SpeakerID: s.info.SpeakerID,
		IsBot:     s.info.IsBot,
		CreatedAt: s.info.StartedAt,
		ClientID:  s.info.ClientID,
	})
}

// Append forwards to the buffer while a session is streaming.
func (m *Machine) Append(text string) {
	m.mu.Lock()
	streaming := m.state == StateStreaming
	m.mu.Unlock()
	if streaming {
		m.buf.Append(text)
	}
}

// SetContent replaces the buffered text while a session is streaming.
func (m *Machine) SetContent(text string) {
	m.mu.Lock()
	streaming := m.state == StateStreaming
	m.mu.Unlock()
	if streaming {
		m.buf.SetContent(text)
	}
}

// Finalize commits the buffered text to the placeholder. Empty text cancels the session and
// returns ErrEmptyMessage. Every outcome returns the machine to idle.
func (m *Machine) Finalize(ctx context.Context) (FinalizeResult, error) {
	m.mu.Lock()
	s := m.cur
	if s == nil || m.state != StateStreaming {
		m.mu.Unlock()
		return FinalizeResult{}, ErrNoSession
	}
	m.state = StateFinalizing
	raw, publish := m.buf.seal()
	s.deciding = make(chan struct{})
	m.mu.Unlock()
	publish()

	text := m.norm.Normalize(raw)
	empty := strings.TrimSpace(text) == ""

	m.mu.Lock()
	close(s.deciding)
	s.deciding = nil
	if empty {
		m.cancelLocked(s)
		if m.cur == s {
			m.cur = nil
			m.state = StateIdle
		}
		m.mu.Unlock()
		return FinalizeResult{}, ErrEmptyMessage
	}
	m.mu.Unlock()

	res, err := m.commit(ctx, s, text)
	m.mu.Lock()
	if m.cur == s {
		m.cur = nil
		m.state = StateIdle
	}
	m.mu.Unlock()
	if err != nil {
		m.log.Warn("stream finalize failed; placeholder kept", "session", s.info.ID, "error", err)
		return res, err
	}
	m.log.Debug("stream session finalized", "session", s.info.ID, "node_id", res.NodeID)
	return res, nil
}

func (m *Machine) commit(ctx context.Context, s *session, text string) (FinalizeResult, error) {
	// Keep the text visible locally whatever the network does.
	_ = m.mirror.SetMessage(s.info.ClientID, text)

	id, err := s.create.wait(ctx)
	if err != nil {
		return FinalizeResult{Content: text}, fmt.Errorf("await create: %w", err)
	}
	_ = m.mirror.SetMessage(id, text)

	s.mu.Lock()
	cancelled := s.cancelled
	s.mu.Unlock()
	if cancelled {
		return FinalizeResult{NodeID: id, Content: text}, ErrCancelled
	}
	if err := m.remote.EditMessage(ctx, id, text); err != nil {
		return FinalizeResult{NodeID: id, Content: text}, fmt.Errorf("edit message: %w", err)
	}
	return FinalizeResult{NodeID: id, Content: text}, nil
}

// Cancel abandons the active session. Local state is cleaned up before returning; the remote
// placeholder is deleted in the background once its create resolves.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.cur
	if s == nil {
		return ErrNoSession
	}
	if m.state == StateStreaming || m.state == StateFinalizing {
		m.cancelLocked(s)
	}
	m.cur = nil
	m.state = StateIdle
	return nil
}

// cancelLocked abandons s. The shared buffer is only stopped when s is the current session.
func (m *Machine) cancelLocked(s *session) {
	s.mu.Lock()
	already := s.cancelled
	s.cancelled = true
	s.mu.Unlock()
	if already {
		return
	}

	if m.cur == s {
		m.state = StateCancelling
		m.buf.Stop()
	}
	if id, ok := s.create.known(); ok {
		_ = m.mirror.Remove(id)
	} else {
		_ = m.mirror.Remove(s.info.ClientID)
	}
	m.log.Debug("stream session cancelled", "session", s.info.ID)

	m.bg.Add(1)
	go m.cleanup(s)
}

// cleanup deletes the session's own server placeholder, retrying once on failure.
func (m *Machine) cleanup(s *session) {
	defer m.bg.Done()
	id, err := s.create.wait(context.Background())
	if err != nil || id == "" {
		return
	}
	if !s.claimDelete() {
		return
	}
	ctx := context.Background()
	if err := m.remote.DeleteMessage(ctx, id); err != nil {
		m.log.Warn("placeholder delete failed; retrying", "session", s.info.ID, "node_id", id, "error", err)
		if err := m.remote.DeleteMessage(ctx, id); err != nil {
			m.log.Error("placeholder delete failed; left on server", "session", s.info.ID, "node_id", id, "error", err)
		}
	}
}
