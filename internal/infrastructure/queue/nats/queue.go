package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
	"github.com/kirillkom/intake-assistant/internal/core/ports"
	"github.com/kirillkom/intake-assistant/internal/infrastructure/resilience"
)

const drainTimeout = 30 * time.Second

// Queue carries inbound chat events from the webhook receiver to the worker.
type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger

	submitAttempts int
	submitBackoff  time.Duration
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("intake-assistant"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		subject:        subject,
		executor:       options.ResilienceExecutor,
		logger:         logger,
		submitAttempts: 20,
		submitBackoff:  250 * time.Millisecond,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Submit publishes the event as JSON.
func (q *Queue) Submit(ctx context.Context, event domain.InboundEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return resilience.WrapTemporary("nats publish", err, classifyNATSError)
	}
	return nil
}

// Consume feeds every received event into sink until ctx is cancelled. A
// plain subscription keeps a single consumer, so events of one user stay in
// publish order.
func (q *Queue) Consume(ctx context.Context, sink ports.EventSink) error {
	// Messages still buffered at shutdown are delivered during the drain.
	handleCtx := context.WithoutCancel(ctx)
	sub, err := q.conn.Subscribe(q.subject, func(msg *nats.Msg) {
		q.handle(handleCtx, msg.Data, sink)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	closed := sub.StatusChanged(nats.SubscriptionClosed)
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	select {
	case <-closed:
	case <-time.After(drainTimeout):
		q.logger.Warn("nats_drain_timeout", slog.String("subject", q.subject))
	}
	return nil
}

// handle decodes one message and submits it, waiting while the sink reports
// temporary backpressure. Blocking here stalls the subscription, which is
// what keeps the order.
func (q *Queue) handle(ctx context.Context, data []byte, sink ports.EventSink) {
	var event domain.InboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		q.logger.Error("event_decode_failed", slog.String("error", err.Error()))
		return
	}

	for attempt := 1; ; attempt++ {
		err := sink.Submit(ctx, event)
		if err == nil {
			return
		}
		if !domain.IsKind(err, domain.ErrTemporary) || attempt >= q.submitAttempts {
			q.logger.Error("event_dropped",
				slog.String("event_id", event.ID),
				slog.String("user_id", event.UserID),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.submitBackoff):
		}
	}
}
