package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"chattranslator/internal/models"
)

const autoTitleRunes = 30

// AppendMessage stores a message at the end of the session. It never creates
// the session; a missing one yields models.ErrNotFound.
func (s *Service) AppendMessage(ctx context.Context, sessionID string, role models.Role, text string) (*models.Message, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrValidation, role)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", models.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin tx", err)
	}
	defer tx.Rollback()

	var title string
	if err := tx.QueryRowContext(ctx, `SELECT title FROM sessions WHERE id = ?`, sessionID).Scan(&title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
		}
		return nil, storeErr("verify session", err)
	}

	now := s.now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, text, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, role, text, now,
	)
	if err != nil {
		return nil, storeErr("insert message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr("message id", err)
	}

	if role == models.RoleUser && title == models.DefaultSessionTitle {
		title = titleFromText(text)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`, title, now, sessionID,
	); err != nil {
		return nil, storeErr("touch session", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit message", err)
	}
	return &models.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		CreatedAt: now,
	}, nil
}

// ListMessages returns the session's messages in append order.
func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sessions WHERE id = ?)`, sessionID,
	).Scan(&exists); err != nil {
		return nil, storeErr("verify session", err)
	}
	if !exists {
		return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, text, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Text, &m.CreatedAt); err != nil {
			return nil, storeErr("scan message", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list messages", err)
	}
	return messages, nil
}

// titleFromText names a session after the opening words of its first user message.
func titleFromText(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) <= autoTitleRunes {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:autoTitleRunes])) + "…"
}
