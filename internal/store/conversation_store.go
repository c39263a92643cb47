package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/casefinder/internal/domain"
)

// ErrNotFound is returned when a conversation id has no record.
var ErrNotFound = errors.New("conversation not found")

// ConversationStore manages lead conversation records.
type ConversationStore struct {
	db *DB
}

// NewConversationStore creates a conversation store using the given database.
func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// Create inserts a new conversation record. The id is generated here;
// callers must guard against duplicate creation themselves.
func (s *ConversationStore) Create(conv *domain.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.Status == "" {
		conv.Status = domain.StatusNew
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}

	_, err := s.db.sql.Exec(
		`INSERT INTO conversations
		 (id, name, email, phone, category, category_other, industry, industry_other,
		  free_text, company_name, company_url, status, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Contact.Name, conv.Contact.Email, conv.Contact.Phone,
		conv.Profile.Category, conv.Profile.CategoryOther,
		conv.Profile.Industry, conv.Profile.IndustryOther,
		conv.Profile.FreeText, conv.Profile.CompanyName, conv.Profile.CompanyURL,
		string(conv.Status), conv.Notes, conv.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}
	return nil
}

// Get returns a conversation with its transcript, or ErrNotFound.
func (s *ConversationStore) Get(id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	var introComment, generatedCases sql.NullString
	var createdAt string

	err := s.db.sql.QueryRow(
		`SELECT id, name, email, phone, category, category_other, industry, industry_other,
		        free_text, company_name, company_url, status, notes,
		        intro_comment, generated_cases, created_at
		 FROM conversations WHERE id = ?`, id,
	).Scan(
		&conv.ID, &conv.Contact.Name, &conv.Contact.Email, &conv.Contact.Phone,
		&conv.Profile.Category, &conv.Profile.CategoryOther,
		&conv.Profile.Industry, &conv.Profile.IndustryOther,
		&conv.Profile.FreeText, &conv.Profile.CompanyName, &conv.Profile.CompanyURL,
		(*string)(&conv.Status), &conv.Notes,
		&introComment, &generatedCases, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if introComment.Valid {
		conv.IntroComment = introComment.String
	}
	if generatedCases.Valid && generatedCases.String != "" {
		if err := json.Unmarshal([]byte(generatedCases.String), &conv.Cases); err != nil {
			s.db.log.Warn().Err(err).Str("conversation", id).Msg("dropping unreadable case blob")
			conv.Cases = nil
		}
	}

	turns, err := NewTranscriptStore(s.db).Load(id)
	if err != nil {
		return nil, err
	}
	conv.Turns = turns
	return &conv, nil
}

// Patch holds the updatable conversation fields. Nil pointers leave the
// corresponding column untouched.
type Patch struct {
	Status       *domain.ConversationStatus
	Notes        *string
	IntroComment *string
	Cases        []domain.CaseStudy
}

// Update applies a partial update and returns the fresh record.
// Safe to retry: every field write is absolute, not incremental.
func (s *ConversationStore) Update(id string, patch Patch) (*domain.Conversation, error) {
	if patch.Status != nil {
		if _, err := s.db.sql.Exec(`UPDATE conversations SET status = ? WHERE id = ?`, string(*patch.Status), id); err != nil {
			return nil, fmt.Errorf("updating status: %w", err)
		}
	}
	if patch.Notes != nil {
		if _, err := s.db.sql.Exec(`UPDATE conversations SET notes = ? WHERE id = ?`, *patch.Notes, id); err != nil {
			return nil, fmt.Errorf("updating notes: %w", err)
		}
	}
	if patch.IntroComment != nil {
		if _, err := s.db.sql.Exec(`UPDATE conversations SET intro_comment = ? WHERE id = ?`, *patch.IntroComment, id); err != nil {
			return nil, fmt.Errorf("updating intro comment: %w", err)
		}
	}
	if patch.Cases != nil {
		blob, err := json.Marshal(patch.Cases)
		if err != nil {
			return nil, fmt.Errorf("encoding cases: %w", err)
		}
		if _, err := s.db.sql.Exec(`UPDATE conversations SET generated_cases = ? WHERE id = ?`, string(blob), id); err != nil {
			return nil, fmt.Errorf("updating cases: %w", err)
		}
	}

	return s.Get(id)
}

// List returns all conversations newest first, without transcripts.
func (s *ConversationStore) List() ([]domain.Conversation, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, name, email, phone, category, industry, free_text, status, created_at
		 FROM conversations ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var createdAt string
		if err := rows.Scan(
			&conv.ID, &conv.Contact.Name, &conv.Contact.Email, &conv.Contact.Phone,
			&conv.Profile.Category, &conv.Profile.Industry, &conv.Profile.FreeText,
			(*string)(&conv.Status), &createdAt,
		); err != nil {
			continue
		}
		conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, conv)
	}
	return out, rows.Err()
}
