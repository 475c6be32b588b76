package tts

import (
	"context"
	"sync"
)

// Slots keeps at most one active playback per slot key.
type Slots struct {
	mu     sync.Mutex
	active map[string]*slotEntry
}

type slotEntry struct {
	cancel context.CancelCauseFunc
}

func NewSlots() *Slots {
	return &Slots{active: make(map[string]*slotEntry)}
}

// Acquire cancels whatever holds slot and returns a context for the new
// holder. release must be called when the holder finishes. An empty slot is
// never tracked.
func (s *Slots) Acquire(ctx context.Context, slot string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	if slot == "" {
		return ctx, func() { cancel(nil) }
	}
	entry := &slotEntry{cancel: cancel}

	s.mu.Lock()
	if prev, ok := s.active[slot]; ok {
		prev.cancel(ErrSuperseded)
	}
	s.active[slot] = entry
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		if s.active[slot] == entry {
			delete(s.active, slot)
		}
		s.mu.Unlock()
		cancel(nil)
	}
}

// Cancel stops the playback holding slot, if any.
func (s *Slots) Cancel(slot string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.active[slot]; ok {
		entry.cancel(ErrSuperseded)
		delete(s.active, slot)
	}
}

func (s *Slots) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
