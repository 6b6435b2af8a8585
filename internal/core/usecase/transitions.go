package usecase

import (
	"context"
	"log/slog"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// welcome greets a user without an active entry and re-prompts otherwise.
func (e *Engine) welcome(ctx context.Context, s *domain.Session) error {
	if s.State.HasActiveEntry() {
		if s.State.Automatic() {
			return nil
		}
		e.prompt(ctx, *s)
		return nil
	}
	return e.greet(ctx, s)
}

func (e *Engine) greet(ctx context.Context, s *domain.Session) error {
	if err := e.transition(ctx, s, domain.StateAwaitingFileUpload, domain.Scratch{}); err != nil {
		return err
	}
	e.notifyAll(ctx, s.UserID, greetingMessages(e.catalog)...)
	return nil
}

// reply applies the single transition a text or button reply triggers.
func (e *Engine) reply(ctx context.Context, s *domain.Session, text string) error {
	if s.State.Automatic() {
		// Left over from an interrupted event; runAutomatic resumes it.
		return nil
	}
	if s.State == domain.StateIdle || s.State == "" {
		return e.greet(ctx, s)
	}

	intent := classifyReply(s.State, e.resolveOption(*s, text), e.catalog)
	if intent.Kind == IntentCancel {
		return e.cancelActive(ctx, s)
	}

	switch s.State {
	case domain.StateAwaitingFileUpload:
		return e.onAwaitingUpload(ctx, s, intent)
	case domain.StateAwaitingClassificationConfirmation:
		return e.onClassificationConfirmation(ctx, s, intent)
	case domain.StateAwaitingCategoryChoice:
		return e.onCategoryChoice(ctx, s, intent)
	case domain.StateAwaitingRenameConfirmation:
		return e.onRenameConfirmation(ctx, s, intent)
	case domain.StateAwaitingCustomFileName:
		return e.onCustomFileName(ctx, s, intent)
	case domain.StateAwaitingTags:
		return e.onTags(ctx, s, intent)
	case domain.StateAwaitingComments:
		return e.onComments(ctx, s, intent)
	default:
		e.logger.Warn("unknown_session_state",
			slog.String("user_id", s.UserID),
			slog.String("state", string(s.State)),
		)
		if err := e.clearQueue(ctx, s, domain.StateAwaitingFileUpload); err != nil {
			return err
		}
		e.notifyAll(ctx, s.UserID, greetingMessages(e.catalog)...)
		return nil
	}
}

func (e *Engine) onAwaitingUpload(ctx context.Context, s *domain.Session, intent Intent) error {
	if intent.Kind != IntentExit {
		e.prompt(ctx, *s)
		return nil
	}
	if err := e.clearQueue(ctx, s, domain.StateIdle); err != nil {
		return err
	}
	e.notify(ctx, s.UserID, domain.OutboundMessage{Text: msgExitAck})
	return nil
}

func (e *Engine) onClassificationConfirmation(ctx context.Context, s *domain.Session, intent Intent) error {
	cls := s.Scratch.Classification
	switch {
	case intent.Kind == IntentAccept && cls != nil:
		scratch := s.Scratch.Clone()
		scratch.ConfirmedCategory = e.catalog.Normalize(cls.Category)
		return e.advanceTo(ctx, s, domain.StateAwaitingRenameConfirmation, scratch)
	case intent.Kind == IntentChooseOther || cls == nil:
		return e.advanceTo(ctx, s, domain.StateAwaitingCategoryChoice, s.Scratch)
	default:
		e.reprompt(ctx, *s)
		return nil
	}
}

func (e *Engine) onCategoryChoice(ctx context.Context, s *domain.Session, intent Intent) error {
	if intent.Kind != IntentCategory {
		e.reprompt(ctx, *s)
		return nil
	}
	scratch := s.Scratch.Clone()
	scratch.ConfirmedCategory = intent.Value
	return e.advanceTo(ctx, s, domain.StateAwaitingRenameConfirmation, scratch)
}

func (e *Engine) onRenameConfirmation(ctx context.Context, s *domain.Session, intent Intent) error {
	switch intent.Kind {
	case IntentAccept:
		return e.advanceTo(ctx, s, domain.StateAwaitingCustomFileName, s.Scratch)
	case IntentDecline:
		scratch := s.Scratch.Clone()
		scratch.CustomFileName = ""
		return e.advanceTo(ctx, s, domain.StateAwaitingTags, scratch)
	default:
		e.reprompt(ctx, *s)
		return nil
	}
}

func (e *Engine) onCustomFileName(ctx context.Context, s *domain.Session, intent Intent) error {
	if intent.Kind != IntentFreeText {
		e.reprompt(ctx, *s)
		return nil
	}
	scratch := s.Scratch.Clone()
	scratch.CustomFileName = intent.Value
	return e.advanceTo(ctx, s, domain.StateAwaitingTags, scratch)
}

func (e *Engine) onTags(ctx context.Context, s *domain.Session, intent Intent) error {
	scratch := s.Scratch.Clone()
	switch intent.Kind {
	case IntentSkip:
		scratch.Tags = []string{}
	case IntentFreeText:
		scratch.Tags = parseTags(intent.Value)
	default:
		e.reprompt(ctx, *s)
		return nil
	}
	return e.advanceTo(ctx, s, domain.StateAwaitingComments, scratch)
}

func (e *Engine) onComments(ctx context.Context, s *domain.Session, intent Intent) error {
	scratch := s.Scratch.Clone()

	if scratch.CommentRequested {
		// Any non-cancel reply is the comment body, including the button texts.
		switch intent.Kind {
		case IntentFreeText:
			scratch.Comments = intent.Value
		case IntentAccept:
			scratch.Comments = replyAddComment
		case IntentDecline:
			scratch.Comments = ""
		default:
			e.reprompt(ctx, *s)
			return nil
		}
		return e.transition(ctx, s, domain.StateUploadingFile, scratch)
	}

	switch intent.Kind {
	case IntentAccept:
		scratch.CommentRequested = true
		return e.advanceTo(ctx, s, domain.StateAwaitingComments, scratch)
	case IntentDecline:
		scratch.Comments = ""
	case IntentFreeText:
		scratch.Comments = intent.Value
	default:
		e.reprompt(ctx, *s)
		return nil
	}
	return e.transition(ctx, s, domain.StateUploadingFile, scratch)
}

// advanceTo persists the next waiting state and sends its prompt.
func (e *Engine) advanceTo(ctx context.Context, s *domain.Session, state domain.State, scratch domain.Scratch) error {
	if err := e.transition(ctx, s, state, scratch); err != nil {
		return err
	}
	e.prompt(ctx, *s)
	return nil
}

func (e *Engine) prompt(ctx context.Context, s domain.Session) {
	if msg, ok := e.statePrompt(s); ok {
		e.notify(ctx, s.UserID, msg)
	}
}

// reprompt answers unrecognized input without touching the session.
func (e *Engine) reprompt(ctx context.Context, s domain.Session) {
	e.notify(ctx, s.UserID, domain.OutboundMessage{Text: msgInvalidReply})
	e.prompt(ctx, s)
}

func (e *Engine) cancelActive(ctx context.Context, s *domain.Session) error {
	e.notify(ctx, s.UserID, domain.OutboundMessage{Text: msgCancelAck})
	return e.advance(ctx, s, OutcomeCancelled)
}
