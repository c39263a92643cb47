package store

import (
	"fmt"
	"time"

	"github.com/soyeahso/casefinder/internal/domain"
)

// TranscriptStore is the append-only log of conversation turns,
// partitioned by conversation id. Appends carry client-generated ids
// (timestamp + role) so a retried append is idempotent and racing
// appends recover their order by sort key.
type TranscriptStore struct {
	db *DB
}

// NewTranscriptStore creates a transcript store using the given database.
func NewTranscriptStore(db *DB) *TranscriptStore {
	return &TranscriptStore{db: db}
}

// Append persists one turn. A turn whose id already exists is ignored,
// so retries and double-resolution races never double-persist.
func (s *TranscriptStore) Append(conversationID string, turn domain.Turn) error {
	ts := turn.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.sql.Exec(
		`INSERT OR IGNORE INTO turns (id, conversation_id, role, content, image_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, conversationID, string(turn.Role), turn.Content, turn.ImageURL,
		ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

// Load returns all turns of a conversation in creation order. Turn ids
// break ties so the order is stable even for identical timestamps.
func (s *TranscriptStore) Load(conversationID string) ([]domain.Turn, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, role, content, image_url, created_at
		 FROM turns WHERE conversation_id = ? ORDER BY created_at, id`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var createdAt string
		if err := rows.Scan(&t.ID, (*string)(&t.Role), &t.Content, &t.ImageURL, &createdAt); err != nil {
			s.db.log.Warn().Err(err).Str("conversation", conversationID).Msg("dropping unreadable turn row")
			continue
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ReplacePendingTail swaps the newest persisted user turn for the given
// turn. Retry uses this so a failed send leaves exactly one user turn,
// not two. When the tail is not a user turn the new turn is appended
// as-is.
func (s *TranscriptStore) ReplacePendingTail(conversationID string, turn domain.Turn) error {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin tail replace: %w", err)
	}

	var tailID, tailRole string
	err = tx.QueryRow(
		`SELECT id, role FROM turns WHERE conversation_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`, conversationID,
	).Scan(&tailID, &tailRole)
	if err == nil && tailRole == string(domain.RoleUser) {
		if _, err := tx.Exec(`DELETE FROM turns WHERE id = ?`, tailID); err != nil {
			tx.Rollback()
			return fmt.Errorf("removing pending tail: %w", err)
		}
	}

	ts := turn.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO turns (id, conversation_id, role, content, image_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, conversationID, string(turn.Role), turn.Content, turn.ImageURL,
		ts.Format(time.RFC3339Nano),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("appending replacement turn: %w", err)
	}

	return tx.Commit()
}
