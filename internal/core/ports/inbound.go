package ports

import (
	"context"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// EventHandler runs one inbound chat event through the workflow.
type EventHandler interface {
	HandleEvent(ctx context.Context, event domain.InboundEvent) error
}

// EventSink accepts inbound chat events for asynchronous processing.
type EventSink interface {
	Submit(ctx context.Context, event domain.InboundEvent) error
}
