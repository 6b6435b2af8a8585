package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
	"github.com/kirillkom/intake-assistant/internal/core/ports"
)

// Entry outcomes reported to the observer.
const (
	OutcomeUploaded             = "uploaded"
	OutcomeUploadFailed         = "upload_failed"
	OutcomeCancelled            = "cancelled"
	OutcomeClassificationFailed = "classification_failed"
)

type WorkflowDeps struct {
	Store      ports.SessionStore
	Classifier ports.MediaClassifier
	Storage    ports.ArchiveStorage
	Messenger  ports.Messenger
	Fetcher    ports.MediaFetcher
	Content    ports.ContentStore
	Catalog    domain.CategoryCatalog
	Observer   ports.WorkflowObserver
	Logger     *slog.Logger
	Now        func() time.Time
	NewID      func() string
}

type WorkflowOptions struct {
	RootFolderID          string
	SourceTag             string
	ConfidenceThreshold   float64
	ClassificationTimeout time.Duration
	UploadTimeout         time.Duration
	DownloadTimeout       time.Duration
	// Location supplies the calendar date of automatic file names.
	Location *time.Location
}

func (o WorkflowOptions) withDefaults() WorkflowOptions {
	if strings.TrimSpace(o.SourceTag) == "" {
		o.SourceTag = "WhatsApp"
	}
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = 0.7
	}
	if o.ClassificationTimeout <= 0 {
		o.ClassificationTimeout = 10 * time.Second
	}
	if o.UploadTimeout <= 0 {
		o.UploadTimeout = 60 * time.Second
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = 30 * time.Second
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Engine drives one user's session through the intake workflow. Callers must
// serialize events per user; see Dispatcher.
type Engine struct {
	store      ports.SessionStore
	classifier ports.MediaClassifier
	storage    ports.ArchiveStorage
	messenger  ports.Messenger
	fetcher    ports.MediaFetcher
	content    ports.ContentStore
	catalog    domain.CategoryCatalog
	observer   ports.WorkflowObserver
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	opts       WorkflowOptions
}

func NewEngine(deps WorkflowDeps, opts WorkflowOptions) *Engine {
	e := &Engine{
		store:      deps.Store,
		classifier: deps.Classifier,
		storage:    deps.Storage,
		messenger:  deps.Messenger,
		fetcher:    deps.Fetcher,
		content:    deps.Content,
		catalog:    deps.Catalog,
		observer:   deps.Observer,
		logger:     deps.Logger,
		now:        deps.Now,
		newID:      deps.NewID,
		opts:       opts.withDefaults(),
	}
	if e.observer == nil {
		e.observer = noopObserver{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

// HandleEvent applies one input-driven transition and then runs automatic
// states until the session waits for the user again.
func (e *Engine) HandleEvent(ctx context.Context, event domain.InboundEvent) error {
	if strings.TrimSpace(event.UserID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "handle event", errors.New("user id is required"))
	}

	s, err := e.store.Get(ctx, event.UserID)
	if err != nil {
		return e.fail(ctx, event.UserID, fmt.Errorf("load session: %w", err))
	}
	if err := e.repair(ctx, &s); err != nil {
		return e.fail(ctx, event.UserID, err)
	}

	switch event.Kind {
	case domain.EventFile:
		err = e.intake(ctx, &s, event)
	case domain.EventWelcome:
		err = e.welcome(ctx, &s)
	case domain.EventReply:
		err = e.reply(ctx, &s, event.Text)
	default:
		return domain.WrapError(domain.ErrInvalidInput, "handle event", fmt.Errorf("unsupported event kind %q", event.Kind))
	}
	if err != nil {
		return e.fail(ctx, event.UserID, err)
	}

	if err := e.runAutomatic(ctx, &s); err != nil {
		return e.fail(ctx, event.UserID, err)
	}
	return nil
}

// runAutomatic continues through states that need no user input. Each step
// either leaves the automatic states or activates a later queue entry, so the
// loop is bounded by the queue length.
func (e *Engine) runAutomatic(ctx context.Context, s *domain.Session) error {
	for s.State.Automatic() {
		var err error
		switch s.State {
		case domain.StateMediaReceived:
			err = e.classifyActive(ctx, s)
		case domain.StateUploadingFile:
			err = e.uploadActive(ctx, s)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// repair resets a session whose state claims an active entry that does not exist.
func (e *Engine) repair(ctx context.Context, s *domain.Session) error {
	if !s.State.HasActiveEntry() {
		return nil
	}
	if _, ok := s.ActiveEntry(); ok {
		return nil
	}
	e.logger.Warn("session_inconsistent",
		slog.String("user_id", s.UserID),
		slog.String("state", string(s.State)),
		slog.Int("active_index", s.ActiveIndex),
		slog.Int("queue_len", len(s.Queue)),
	)
	if err := e.clearQueue(ctx, s, domain.StateAwaitingFileUpload); err != nil {
		return err
	}
	e.notify(ctx, s.UserID, domain.OutboundMessage{Text: msgMissingActiveEntry})
	return nil
}

func (e *Engine) save(ctx context.Context, s *domain.Session, patch domain.SessionPatch) error {
	if patch.Empty() {
		return nil
	}
	from := s.State
	if err := e.store.Update(ctx, s.UserID, patch); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	s.Apply(patch)
	if s.State != from {
		e.observer.ObserveTransition(from, s.State)
		e.logger.Debug("workflow_transition",
			slog.String("user_id", s.UserID),
			slog.String("from", string(from)),
			slog.String("to", string(s.State)),
			slog.Int("active_index", s.ActiveIndex),
		)
	}
	return nil
}

// transition moves to state with the given scratch.
func (e *Engine) transition(ctx context.Context, s *domain.Session, state domain.State, scratch domain.Scratch) error {
	return e.save(ctx, s, domain.SessionPatch{State: &state, Scratch: &scratch})
}

func (e *Engine) notify(ctx context.Context, userID string, msg domain.OutboundMessage) {
	if err := e.messenger.Send(ctx, userID, msg); err != nil {
		e.observer.ObserveSendFailure()
		e.logger.Warn("message_send_failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) notifyAll(ctx context.Context, userID string, msgs ...domain.OutboundMessage) {
	for _, msg := range msgs {
		e.notify(ctx, userID, msg)
	}
}

// fail reports an internal error to the user and returns it to the caller.
func (e *Engine) fail(ctx context.Context, userID string, err error) error {
	e.logger.Error("workflow_event_failed",
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)
	e.notify(ctx, userID, domain.OutboundMessage{Text: msgInternalError})
	return err
}

func (e *Engine) release(ctx context.Context, entry domain.QueueEntry) {
	if entry.ContentKey == "" || e.content == nil {
		return
	}
	if err := e.content.Delete(ctx, entry.ContentKey); err != nil {
		e.logger.Warn("content_release_failed",
			slog.String("entry_id", entry.ID),
			slog.String("content_key", entry.ContentKey),
			slog.String("error", err.Error()),
		)
	}
}

func ptr[T any](v T) *T {
	return &v
}

type noopObserver struct{}

func (noopObserver) ObserveTransition(domain.State, domain.State) {}
func (noopObserver) ObserveClassification(time.Duration, error) {}
func (noopObserver) ObserveUpload(time.Duration, error) {}
func (noopObserver) ObserveEntryFinished(string) {}
func (noopObserver) ObserveQueueDepth(int) {}
func (noopObserver) ObserveSendFailure() {}
