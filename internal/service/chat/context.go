package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chattranslator/internal/models"
)

// ClientContext is one client's view of the chat list: which session is
// current and which filter the list shows. Operations that read and move the
// pointer are serialized on the context's own lock.
type ClientContext struct {
	mu        sync.Mutex
	currentID string
	filter    models.ListFilter
}

// ContextState is the persistable form of a ClientContext.
type ContextState struct {
	CurrentSessionID string            `json:"current_session_id"`
	Filter           models.ListFilter `json:"filter"`
}

// ContextView is what a client sees: its pointer, filter and filtered list.
type ContextView struct {
	CurrentSessionID string            `json:"current_session_id"`
	Filter           models.ListFilter `json:"filter"`
	Sessions         []models.Session  `json:"sessions"`
}

func NewClientContext() *ClientContext {
	return &ClientContext{filter: models.FilterActive}
}

// RestoreClientContext rebuilds a context from persisted state.
func RestoreClientContext(st ContextState) *ClientContext {
	cc := NewClientContext()
	cc.currentID = st.CurrentSessionID
	if st.Filter.Valid() {
		cc.filter = st.Filter
	}
	return cc
}

func (cc *ClientContext) State() ContextState {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return ContextState{CurrentSessionID: cc.currentID, Filter: cc.filter}
}

// EnsureSession returns the current session, creating and selecting a new
// one when the pointer is empty or dangling. Concurrent calls on the same
// context create at most one session.
func (s *Service) EnsureSession(ctx context.Context, cc *ClientContext) (*models.Session, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.currentID != "" {
		session, err := s.GetSession(ctx, cc.currentID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	session, err := s.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	cc.currentID = session.ID
	return session, nil
}

// CreateSessionFor creates a session and makes it current.
func (s *Service) CreateSessionFor(ctx context.Context, cc *ClientContext) (*models.Session, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	session, err := s.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	cc.currentID = session.ID
	return session, nil
}

// SelectSession points the context at an existing session.
func (s *Service) SelectSession(ctx context.Context, cc *ClientContext, id string) (*models.Session, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	cc.currentID = session.ID
	return session, nil
}

// SetFilter switches the list filter. A current session hidden by the new
// filter gives way to the first visible one.
func (s *Service) SetFilter(ctx context.Context, cc *ClientContext, filter models.ListFilter) error {
	if !filter.Valid() {
		return fmt.Errorf("%w: unknown filter %q", models.ErrValidation, filter)
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.filter = filter
	if cc.currentID == "" {
		return nil
	}
	session, err := s.GetSession(ctx, cc.currentID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return s.repointLocked(ctx, cc)
	case err != nil:
		return err
	case !filter.Matches(*session):
		return s.repointLocked(ctx, cc)
	}
	return nil
}

// UpdateSessionFor updates a session and keeps the client's pointer valid
// when the current session drops out of the filtered list.
func (s *Service) UpdateSessionFor(ctx context.Context, cc *ClientContext, id string, patch models.SessionPatch) (*models.Session, error) {
	session, err := s.UpdateSession(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.currentID == id && !cc.filter.Matches(*session) {
		if err := s.repointLocked(ctx, cc); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// DeleteSessionFor deletes a session and repoints the client if it was current.
func (s *Service) DeleteSessionFor(ctx context.Context, cc *ClientContext, id string) error {
	if err := s.DeleteSession(ctx, id); err != nil {
		return err
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.currentID == id {
		return s.repointLocked(ctx, cc)
	}
	return nil
}

// View lists the sessions under the client's filter. A pointer to a session
// removed elsewhere is cleared.
func (s *Service) View(ctx context.Context, cc *ClientContext) (*ContextView, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.currentID != "" && !containsSession(sessions, cc.currentID) {
		cc.currentID = ""
	}
	return &ContextView{
		CurrentSessionID: cc.currentID,
		Filter:           cc.filter,
		Sessions:         Project(sessions, cc.filter),
	}, nil
}

func (s *Service) repointLocked(ctx context.Context, cc *ClientContext) error {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return err
	}
	visible := Project(sessions, cc.filter)
	if len(visible) == 0 {
		cc.currentID = ""
		return nil
	}
	cc.currentID = visible[0].ID
	return nil
}

func containsSession(sessions []models.Session, id string) bool {
	for _, s := range sessions {
		if s.ID == id {
			return true
		}
	}
	return false
}
