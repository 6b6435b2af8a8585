package usecase

import (
	"context"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// advance retires the active entry and activates the next queued one, or
// returns the session to AWAITING_FILE_UPLOAD when the queue is exhausted.
// Consumed entries stay in the queue behind ActiveIndex until then.
func (e *Engine) advance(ctx context.Context, s *domain.Session, outcome string) error {
	e.observer.ObserveEntryFinished(outcome)

	next := s.ActiveIndex + 1
	if s.ActiveIndex >= 0 && next < len(s.Queue) {
		finished := s.Queue[s.ActiveIndex]
		patch := domain.SessionPatch{
			State:       ptr(domain.StateMediaReceived),
			ActiveIndex: &next,
			Scratch:     &domain.Scratch{},
		}
		if err := e.save(ctx, s, patch); err != nil {
			return err
		}
		e.release(ctx, finished)
		e.observer.ObserveQueueDepth(s.Pending() + 1)

		entry := s.Queue[next]
		if remaining := s.Pending(); remaining > 0 {
			e.notify(ctx, s.UserID, textMessage(
				"Procesando siguiente archivo: '%s'... (quedan %d en cola)", entry.OriginalName, remaining,
			))
		} else {
			e.notify(ctx, s.UserID, textMessage("Procesando siguiente archivo: '%s'...", entry.OriginalName))
		}
		return nil
	}

	if err := e.clearQueue(ctx, s, domain.StateAwaitingFileUpload); err != nil {
		return err
	}
	e.notify(ctx, s.UserID, domain.OutboundMessage{Text: msgBatchComplete})
	return nil
}

// clearQueue drops every entry and moves to state. Content from the active
// entry onward is released; earlier entries were released when they finished.
func (e *Engine) clearQueue(ctx context.Context, s *domain.Session, state domain.State) error {
	start := s.ActiveIndex
	if start < 0 {
		start = 0
	}
	pending := make([]domain.QueueEntry, 0, len(s.Queue))
	if start < len(s.Queue) {
		pending = append(pending, s.Queue[start:]...)
	}

	patch := domain.SessionPatch{
		State:       &state,
		Queue:       &[]domain.QueueEntry{},
		ActiveIndex: ptr(domain.NoActiveEntry),
		Scratch:     &domain.Scratch{},
	}
	if err := e.save(ctx, s, patch); err != nil {
		return err
	}
	for _, entry := range pending {
		e.release(ctx, entry)
	}
	e.observer.ObserveQueueDepth(0)
	return nil
}
