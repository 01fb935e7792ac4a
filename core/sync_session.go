package core

// sync_session.go – C11 session state machine for one peer sync round:
// HELLO_SENT → HELLO_RECEIVED → HEADS_EXCHANGED → SYNCING → COMPLETE |
// ERROR, with a watchdog timer on each transition.

import (
	"fmt"
	"sync"
	"time"
)

// SessionState is one stage of the sync session state machine.
type SessionState string

const (
	SessionHelloSent      SessionState = "HELLO_SENT"
	SessionHelloReceived  SessionState = "HELLO_RECEIVED"
	SessionHeadsExchanged SessionState = "HEADS_EXCHANGED"
	SessionSyncing        SessionState = "SYNCING"
	SessionComplete       SessionState = "COMPLETE"
	SessionError          SessionState = "ERROR"
)

// validTransitions is the state machine's edge table; any transition not
// listed here is rejected.
var validTransitions = map[SessionState][]SessionState{
	SessionHelloSent:      {SessionHelloReceived, SessionError},
	SessionHelloReceived:  {SessionHeadsExchanged, SessionError},
	SessionHeadsExchanged: {SessionSyncing, SessionComplete, SessionError},
	SessionSyncing:        {SessionComplete, SessionError},
}

// SyncSession tracks one peer's sync round and enforces the watchdog: a
// transition that doesn't occur within the timeout moves the session to
// ERROR.
type SyncSession struct {
	mu       sync.Mutex
	PeerID   string
	State    SessionState
	watchdog *time.Timer
	timeout  time.Duration
	onExpire func(peerID string)
}

// NewSyncSession starts a session in HELLO_SENT, arming the watchdog.
func NewSyncSession(peerID string, timeout time.Duration, onExpire func(peerID string)) *SyncSession {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &SyncSession{PeerID: peerID, State: SessionHelloSent, timeout: timeout, onExpire: onExpire}
	s.armWatchdog()
	return s
}

func (s *SyncSession) armWatchdog() {
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.watchdog = time.AfterFunc(s.timeout, func() {
		s.mu.Lock()
		if s.State != SessionComplete && s.State != SessionError {
			s.State = SessionError
		}
		expired := s.onExpire
		peerID := s.PeerID
		s.mu.Unlock()
		if expired != nil {
			expired(peerID)
		}
	})
}

// Transition moves the session to next, rearming the watchdog, or returns
// an error if the edge is not in validTransitions.
func (s *SyncSession) Transition(next SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State == SessionComplete || s.State == SessionError {
		return fmt.Errorf("sync session %s: already terminal (%s)", s.PeerID, s.State)
	}
	for _, allowed := range validTransitions[s.State] {
		if allowed == next {
			s.State = next
			if next == SessionComplete || next == SessionError {
				s.watchdog.Stop()
			} else {
				s.armWatchdog()
			}
			return nil
		}
	}
	return fmt.Errorf("sync session %s: invalid transition %s -> %s", s.PeerID, s.State, next)
}

// Current returns the session's current state.
func (s *SyncSession) Current() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// Close stops the watchdog without forcing a terminal transition (used
// when the session object is being discarded after COMPLETE/ERROR).
func (s *SyncSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
}

// SessionRegistry tracks one SyncSession per peer.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*SyncSession
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: map[string]*SyncSession{}}
}

// Start begins a new session for peerID, replacing any prior one.
func (r *SessionRegistry) Start(peerID string, timeout time.Duration, onExpire func(string)) *SyncSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.sessions[peerID]; ok {
		prior.Close()
	}
	s := NewSyncSession(peerID, timeout, onExpire)
	r.sessions[peerID] = s
	return s
}

// Get returns peerID's current session, if any.
func (r *SessionRegistry) Get(peerID string) (*SyncSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[peerID]
	return s, ok
}
