package quota

import (
	"database/sql"
	"fmt"
)

// DefaultGenerationLimit caps image variants per flow session.
const DefaultGenerationLimit = 12

type SessionQuota struct {
	SessionID string `json:"session_id"`
	Used      int    `json:"generation_used"`
	Limit     int    `json:"generation_limit"`
}

func (q SessionQuota) Remaining() int {
	r := q.Limit - q.Used
	if r < 0 {
		return 0
	}
	return r
}

// SessionRepository stores the per-session visual counter. Rows materialize
// lazily on first read and are garbage-collected with the owning session.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) ensure(sessionID string) error {
	_, err := r.db.Exec(`INSERT IGNORE INTO session_visual_quota (session_id, generation_used, generation_limit) VALUES (?, 0, ?)`,
		sessionID, DefaultGenerationLimit)
	if err != nil {
		return fmt.Errorf("ensure session quota: %w", err)
	}
	return nil
}

// Get returns the session's counter, creating the default row if absent.
func (r *SessionRepository) Get(sessionID string) (SessionQuota, error) {
	if err := r.ensure(sessionID); err != nil {
		return SessionQuota{}, err
	}
	row := r.db.QueryRow(`SELECT session_id, generation_used, generation_limit FROM session_visual_quota WHERE session_id=?`, sessionID)
	var q SessionQuota
	if err := row.Scan(&q.SessionID, &q.Used, &q.Limit); err != nil {
		return SessionQuota{}, fmt.Errorf("scan session quota: %w", err)
	}
	return q, nil
}

// Increment adds n to the counter, clamped server-side at the limit so two
// concurrent batches cannot push used past it. Returns the state after.
func (r *SessionRepository) Increment(sessionID string, n int) (SessionQuota, error) {
	if n < 0 {
		return SessionQuota{}, fmt.Errorf("increment must be non-negative, got %d", n)
	}
	if err := r.ensure(sessionID); err != nil {
		return SessionQuota{}, err
	}
	_, err := r.db.Exec(`UPDATE session_visual_quota SET generation_used = LEAST(generation_limit, generation_used + ?) WHERE session_id=?`,
		n, sessionID)
	if err != nil {
		return SessionQuota{}, fmt.Errorf("increment session quota: %w", err)
	}
	return r.Get(sessionID)
}
