package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
	"github.com/kirillkom/intake-assistant/internal/core/ports"
)

var (
	ErrDispatcherClosed = errors.New("dispatcher closed")
	ErrMailboxFull      = errors.New("mailbox full")
)

// DispatchObserver receives dispatcher telemetry.
type DispatchObserver interface {
	ObserveDispatched(userID string)
	ObserveProcessed(duration time.Duration, err error)
	SetInFlight(n int)
}

type DispatcherOptions struct {
	MaxPending   int
	EventTimeout time.Duration
	Observer     DispatchObserver
	Logger       *slog.Logger
}

// Dispatcher serializes events per user: each user has a FIFO mailbox drained
// by at most one goroutine, while different users run in parallel.
type Dispatcher struct {
	handler      ports.EventHandler
	maxPending   int
	eventTimeout time.Duration
	observer     DispatchObserver
	logger       *slog.Logger

	mu        sync.Mutex
	mailboxes map[string]*mailbox
	inFlight  int
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type mailbox struct {
	events  []domain.InboundEvent
	running bool
}

func NewDispatcher(handler ports.EventHandler, opts DispatcherOptions) *Dispatcher {
	if opts.MaxPending <= 0 {
		opts.MaxPending = 64
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = 3 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler:      handler,
		maxPending:   opts.MaxPending,
		eventTimeout: opts.EventTimeout,
		observer:     opts.Observer,
		logger:       opts.Logger,
		mailboxes:    make(map[string]*mailbox),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Submit enqueues the event behind earlier events of the same user. It never
// blocks on processing.
func (d *Dispatcher) Submit(_ context.Context, event domain.InboundEvent) error {
	if event.UserID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "dispatch event", errors.New("user id is required"))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return domain.WrapError(domain.ErrTemporary, "dispatch event", ErrDispatcherClosed)
	}

	box, ok := d.mailboxes[event.UserID]
	if !ok {
		box = &mailbox{}
		d.mailboxes[event.UserID] = box
	}
	if len(box.events) >= d.maxPending {
		return domain.WrapError(domain.ErrTemporary, "dispatch event", fmt.Errorf("%w: user=%s", ErrMailboxFull, event.UserID))
	}
	box.events = append(box.events, event)
	if d.observer != nil {
		d.observer.ObserveDispatched(event.UserID)
	}

	if !box.running {
		box.running = true
		d.inFlight++
		d.reportInFlight()
		d.wg.Add(1)
		go d.drain(event.UserID, box)
	}
	return nil
}

func (d *Dispatcher) drain(userID string, box *mailbox) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(box.events) == 0 {
			box.running = false
			delete(d.mailboxes, userID)
			d.inFlight--
			d.reportInFlight()
			d.mu.Unlock()
			return
		}
		event := box.events[0]
		box.events[0] = domain.InboundEvent{}
		box.events = box.events[1:]
		d.mu.Unlock()

		d.process(event)
	}
}

func (d *Dispatcher) process(event domain.InboundEvent) {
	ctx, cancel := context.WithTimeout(d.ctx, d.eventTimeout)
	defer cancel()

	started := time.Now()
	err := d.handler.HandleEvent(ctx, event)
	if d.observer != nil {
		d.observer.ObserveProcessed(time.Since(started), err)
	}
	if err != nil {
		d.logger.Error("event_handling_failed",
			slog.String("event_id", event.ID),
			slog.String("user_id", event.UserID),
			slog.String("kind", string(event.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) reportInFlight() {
	if d.observer != nil {
		d.observer.SetInFlight(d.inFlight)
	}
}

// Close stops accepting events and waits for queued ones to finish. When ctx
// expires first, in-flight handlers are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
