package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"chattranslator/internal/models"
)

const (
	sessionColumns = `id, title, archived, created_at, updated_at`
	maxTitleRunes  = 255
)

// CreateSession inserts a new active session with the default title.
func (s *Service) CreateSession(ctx context.Context) (*models.Session, error) {
	now := s.now()
	session := &models.Session{
		ID:        uuid.NewString(),
		Title:     models.DefaultSessionTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, archived, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Title, false, now, now,
	); err != nil {
		return nil, storeErr("create session", err)
	}
	s.logger.Debug("session created", "session_id", session.ID)
	return session, nil
}

// GetSession returns one session or models.ErrNotFound.
func (s *Service) GetSession(ctx context.Context, id string) (*models.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
		}
		return nil, storeErr("get session", err)
	}
	return session, nil
}

// ListSessions returns every session, most recently created first.
func (s *Service) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, seq DESC`,
	)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, storeErr("scan session", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list sessions", err)
	}
	return sessions, nil
}

// UpdateSession applies a partial update of title and archived flag.
func (s *Service) UpdateSession(ctx context.Context, id string, patch models.SessionPatch) (*models.Session, error) {
	if patch.Title != nil {
		title, err := normalizeTitle(*patch.Title)
		if err != nil {
			return nil, err
		}
		patch.Title = &title
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin tx", err)
	}
	defer tx.Rollback()

	session, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
		}
		return nil, storeErr("get session", err)
	}
	if patch.Title == nil && patch.Archived == nil {
		return session, nil
	}
	if patch.Title != nil {
		session.Title = *patch.Title
	}
	if patch.Archived != nil {
		session.Archived = *patch.Archived
	}
	session.UpdatedAt = s.now()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET title = ?, archived = ?, updated_at = ? WHERE id = ?`,
		session.Title, session.Archived, session.UpdatedAt, id,
	); err != nil {
		return nil, storeErr("update session", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit update session", err)
	}
	return session, nil
}

// DeleteSession removes a session and all of its messages atomically.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return storeErr("delete messages", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete session", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("session rows affected", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit delete session", err)
	}
	s.logger.Debug("session deleted", "session_id", id)
	return nil
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: title cannot be empty", models.ErrValidation)
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return "", fmt.Errorf("%w: title longer than %d characters", models.ErrValidation, maxTitleRunes)
	}
	return title, nil
}
