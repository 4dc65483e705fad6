// ABOUTME: In-memory registry of live push sessions keyed by connection ID
// ABOUTME: Best-effort fan-out with drop-on-full; the store stays authoritative

package delivery

import (
	"log/slog"
	"sync"
	"time"

	"github.com/deskline/livechat/internal/directory"
)

// Channel identifies how a session consumes messages.
type Channel string

const (
	ChannelPush Channel = "push"
	ChannelPoll Channel = "poll"
)

// sessionBuffer is the per-session event queue depth. A session that cannot
// drain this many events is considered stalled and events are dropped.
const sessionBuffer = 64

// Session is one live attachment of a participant to a conversation.
// Active is false for read-only attachments to closed conversations; those
// sessions still receive fan-out but are excluded from presence.
type Session struct {
	ConnID         string
	Participant    directory.Participant
	ConversationID int64
	Channel        Channel
	Active         bool
	ConnectedAt    time.Time

	mu          sync.Mutex
	lastSeen    time.Time
	lastSeenSeq int64
	events      chan *Event
	closed      bool
}

// Events returns the session's receive channel. It is closed when the
// session is unregistered.
func (s *Session) Events() <-chan *Event {
	return s.events
}

// LastSeenSeq returns the highest sequence number acknowledged by this
// session.
func (s *Session) LastSeenSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeenSeq
}

func (s *Session) touch(now time.Time, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
	if seq > s.lastSeenSeq {
		s.lastSeenSeq = seq
	}
}

func (s *Session) deliver(ev *Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// Registry tracks live sessions. One connection attaches to at most one
// conversation; re-registering the same connection moves it.
type Registry struct {
	mu             sync.RWMutex
	byConn         map[string]*Session
	byConversation map[int64]map[string]*Session
	logger         *slog.Logger
}

// NewRegistry creates an empty Registry. Pass nil logger for the default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byConn:         make(map[string]*Session),
		byConversation: make(map[int64]map[string]*Session),
		logger:         logger.With("component", "registry"),
	}
}

// Register attaches connID to conversationID. If the connection was already
// attached elsewhere it is detached first; the previous session (if any) is
// returned along with whether a new session was created.
func (r *Registry) Register(connID string, p directory.Participant, conversationID int64, ch Channel, active bool) (sess *Session, prev *Session, created bool) {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byConn[connID]; ok {
		if existing.ConversationID == conversationID && existing.Participant == p {
			existing.touch(now, 0)
			return existing, existing, false
		}
		r.detachLocked(existing)
		prev = existing
	}

	sess = &Session{
		ConnID:         connID,
		Participant:    p,
		ConversationID: conversationID,
		Channel:        ch,
		Active:         active,
		ConnectedAt:    now,
		lastSeen:       now,
		events:         make(chan *Event, sessionBuffer),
	}
	r.byConn[connID] = sess
	conns, ok := r.byConversation[conversationID]
	if !ok {
		conns = make(map[string]*Session)
		r.byConversation[conversationID] = conns
	}
	conns[connID] = sess

	r.logger.Debug("session registered",
		"conn_id", connID,
		"conversation_id", conversationID,
		"role", p.Role,
		"channel", ch)
	return sess, prev, true
}

// Session returns the live session for connID, or nil.
func (r *Registry) Session(connID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byConn[connID]
}

// Unregister detaches connID and returns its session, or nil if unknown.
func (r *Registry) Unregister(connID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	r.detachLocked(sess)
	return sess
}

func (r *Registry) detachLocked(sess *Session) {
	delete(r.byConn, sess.ConnID)
	if conns, ok := r.byConversation[sess.ConversationID]; ok {
		delete(conns, sess.ConnID)
		if len(conns) == 0 {
			delete(r.byConversation, sess.ConversationID)
		}
	}
	sess.close()
}

// Broadcast delivers ev to every session attached to its conversation,
// except excludeConn. Sessions with full buffers are skipped.
func (r *Registry) Broadcast(ev *Event, excludeConn string) {
	r.mu.RLock()
	conns := make([]*Session, 0, len(r.byConversation[ev.ConversationID]))
	for _, sess := range r.byConversation[ev.ConversationID] {
		if sess.ConnID == excludeConn {
			continue
		}
		conns = append(conns, sess)
	}
	r.mu.RUnlock()

	for _, sess := range conns {
		if !sess.deliver(ev) {
			r.logger.Warn("dropping event for stalled session",
				"conn_id", sess.ConnID,
				"conversation_id", ev.ConversationID,
				"event", ev.Type)
		}
	}
}

// Presence returns the participants actively attached to conversationID.
// Read-only sessions on closed conversations are skipped; duplicate
// attachments of the same participant collapse to one entry.
func (r *Registry) Presence(conversationID int64) []directory.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[directory.Participant]bool)
	var out []directory.Participant
	for _, sess := range r.byConversation[conversationID] {
		if !sess.Active || seen[sess.Participant] {
			continue
		}
		seen[sess.Participant] = true
		out = append(out, sess.Participant)
	}
	return out
}

// Touch records activity on connID with an optional acknowledged sequence.
func (r *Registry) Touch(connID string, seq int64) {
	r.mu.RLock()
	sess, ok := r.byConn[connID]
	r.mu.RUnlock()
	if ok {
		sess.touch(time.Now().UTC(), seq)
	}
}

// Sweep detaches sessions idle longer than maxIdle and returns them.
func (r *Registry) Sweep(maxIdle time.Duration) []*Session {
	cutoff := time.Now().UTC().Add(-maxIdle)

	r.mu.Lock()
	var stale []*Session
	for _, sess := range r.byConn {
		sess.mu.Lock()
		idle := sess.lastSeen.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			stale = append(stale, sess)
		}
	}
	for _, sess := range stale {
		r.detachLocked(sess)
	}
	r.mu.Unlock()

	for _, sess := range stale {
		r.logger.Info("swept idle session",
			"conn_id", sess.ConnID,
			"conversation_id", sess.ConversationID)
	}
	return stale
}

// Close detaches every session.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.byConn {
		sess.close()
	}
	r.byConn = make(map[string]*Session)
	r.byConversation = make(map[int64]map[string]*Session)
}
