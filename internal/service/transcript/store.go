package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatrelay/internal/models"
)

// Store abstracts transcript persistence so the orchestration core can be
// exercised against stubs.
type Store interface {
	Append(ctx context.Context, sessionID string, role models.Role, content string) (*models.Message, error)
	ListOrdered(ctx context.Context, sessionID string) ([]*models.Message, error)
	LastByRole(ctx context.Context, sessionID string, role models.Role) (*models.Message, error)
	UpdateContent(ctx context.Context, id int64, content string) error
	Delete(ctx context.Context, id int64) error
	HasSession(ctx context.Context, sessionID string) (bool, error)
}

// SQLStore persists transcripts in the chat_messages table.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore builds a transcript store over the given database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

var _ Store = (*SQLStore)(nil)

// Append inserts a new message at the end of the session transcript.
func (s *SQLStore) Append(ctx context.Context, sessionID string, role models.Role, content string) (*models.Message, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	return &models.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}, nil
}

// ListOrdered returns the full session transcript in conversation order.
func (s *SQLStore) ListOrdered(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM chat_messages
		 WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LastByRole returns the most recent message with the given role, or nil
// when the session has none.
func (s *SQLStore) LastByRole(ctx context.Context, sessionID string, role models.Role) (*models.Message, error) {
	m := new(models.Message)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM chat_messages
		 WHERE session_id = ? AND role = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionID, role,
	).Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last message by role: %w", err)
	}
	return m, nil
}

// UpdateContent replaces a message's content in place. The id and created_at
// columns are never touched, so conversation order is preserved.
func (s *SQLStore) UpdateContent(ctx context.Context, id int64, content string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET content = ? WHERE id = ?`,
		content, id,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("message rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a single message by id.
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("message rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// HasSession reports whether any message exists for the session.
func (s *SQLStore) HasSession(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chat_messages WHERE session_id = ? LIMIT 1`,
		sessionID,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check session: %w", err)
	}
	return true, nil
}
