package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// optimisticGrace is how long a locally created session survives
// reconciliation without a server echo. Within the window it is an
// unconfirmed optimistic record; past it, absence from the server set
// means it was deleted elsewhere.
const optimisticGrace = 30 * time.Second

// Store is the client-side session cache: the list of known sessions
// plus the single active-session pointer. All mutation goes through the
// Create/Switch/Delete/Rename API so there is exactly one writer per
// concern; reads take a snapshot under the same lock.
type Store struct {
	mu       sync.Mutex
	sessions []Session
	activeID string
	grace    time.Duration
	logger   *slog.Logger
}

// NewStore creates an empty session store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{grace: optimisticGrace, logger: logger}
}

// Create builds a session optimistically: it is inserted into the cache
// and made active before any server write is confirmed. The caller is
// responsible for mirroring it server-side.
func (s *Store) Create(title, userID string) Session {
	now := time.Now()
	if title == "" {
		title = fmt.Sprintf("Chat %s", now.Format("15:04"))
	}

	sess := Session{
		SessionID:    uuid.NewString(),
		Title:        title,
		IsActive:     true,
		CreatedAt:    now,
		LastActivity: now,
		UserID:       userID,
	}

	s.mu.Lock()
	s.sessions = append(s.sessions, sess)
	s.activeID = sess.SessionID
	s.mu.Unlock()

	s.logger.Info("created session", "session_id", sess.SessionID, "title", sess.Title)
	return sess
}

// Switch makes the given session active. Unknown IDs are ignored.
func (s *Store) Switch(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].SessionID == sessionID {
			s.activeID = sessionID
			s.sessions[i].LastActivity = time.Now()
			return true
		}
	}
	return false
}

// Delete removes a session from the cache. If it was active, the
// surviving session with the most recent activity becomes active, or
// none if no sessions remain. Refusing to delete the last session is a
// UI-level policy, not enforced here.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.sessions[:0]
	for _, sess := range s.sessions {
		if sess.SessionID != sessionID {
			kept = append(kept, sess)
		}
	}
	s.sessions = kept

	if s.activeID == sessionID {
		s.activeID = mostRecentID(s.sessions)
		s.logger.Info("active session deleted, reassigned", "session_id", s.activeID)
	}
}

// Rename updates a session title and bumps its activity time.
func (s *Store) Rename(sessionID, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].SessionID == sessionID {
			s.sessions[i].Title = title
			s.sessions[i].LastActivity = time.Now()
			return
		}
	}
}

// Touch updates cached metadata for a session after a completed turn.
func (s *Store) Touch(sessionID, preview string, totalTokens int, totalCost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].SessionID == sessionID {
			s.sessions[i].Preview = preview
			s.sessions[i].TotalTokens = totalTokens
			s.sessions[i].TotalCost = totalCost
			s.sessions[i].LastActivity = time.Now()
			return
		}
	}
}

// Active returns the active session, or false if none is active.
func (s *Store) Active() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.SessionID == s.activeID {
			return sess, true
		}
	}
	return Session{}, false
}

// ActiveID returns the active session id, which may be empty.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Get returns a session by id.
func (s *Store) Get(sessionID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.SessionID == sessionID {
			return sess, true
		}
	}
	return Session{}, false
}

// List returns a copy of all cached sessions.
func (s *Store) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Len returns the number of cached sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reconcile merges the authoritative server-side session set into the
// cache. Sessions are matched by id; the server wins on totals, message
// count and preview, the client keeps its title edits only when the
// server copy has no newer activity. A local session missing from the
// server set is kept while still inside the optimistic grace window
// (its server echo may not have landed yet) and dropped afterwards as
// deleted elsewhere. If the active session disappeared, the survivor
// with the greatest lastActivity becomes active.
func (s *Store) Reconcile(server []Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	serverIDs := make(map[string]struct{}, len(server))
	for _, srv := range server {
		serverIDs[srv.SessionID] = struct{}{}
	}
	local := make(map[string]Session, len(s.sessions))
	for _, sess := range s.sessions {
		local[sess.SessionID] = sess
	}

	merged := make([]Session, 0, len(server))
	for _, srv := range server {
		if loc, ok := local[srv.SessionID]; ok {
			if loc.LastActivity.After(srv.LastActivity) {
				srv.Title = loc.Title
				srv.LastActivity = loc.LastActivity
			}
		}
		merged = append(merged, srv)
	}
	for _, sess := range s.sessions {
		if _, ok := serverIDs[sess.SessionID]; ok {
			continue
		}
		if time.Since(sess.CreatedAt) < s.grace {
			merged = append(merged, sess)
		}
	}
	s.sessions = merged

	if _, ok := s.findLocked(s.activeID); !ok {
		s.activeID = mostRecentID(s.sessions)
		if s.activeID != "" {
			s.logger.Info("active session gone from server, reassigned", "session_id", s.activeID)
		}
	}
}

func (s *Store) findLocked(sessionID string) (Session, bool) {
	for _, sess := range s.sessions {
		if sess.SessionID == sessionID {
			return sess, true
		}
	}
	return Session{}, false
}

func mostRecentID(sessions []Session) string {
	var id string
	var latest time.Time
	for _, sess := range sessions {
		if id == "" || sess.LastActivity.After(latest) {
			id = sess.SessionID
			latest = sess.LastActivity
		}
	}
	return id
}
