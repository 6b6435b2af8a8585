package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// SessionStore owns the per-user Session records.
type SessionStore interface {
	// Get returns a snapshot of the user's session, creating an idle one when absent.
	Get(ctx context.Context, userID string) (domain.Session, error)
	// Update shallow-merges the non-nil patch fields; last writer wins.
	Update(ctx context.Context, userID string, patch domain.SessionPatch) error
}

// MediaClassifier suggests a category for a file.
type MediaClassifier interface {
	Classify(ctx context.Context, media domain.MediaContent) (domain.ClassificationResult, error)
}

// ArchiveStorage is the hierarchical storage receiving confirmed files.
type ArchiveStorage interface {
	ResolveOrCreateFolder(ctx context.Context, name, parentID string) (string, error)
	ListFileNames(ctx context.Context, folderID, prefix string) ([]string, error)
	Upload(ctx context.Context, content []byte, file domain.ArchiveFile, folderID string) (string, error)
}

// MediaFetcher downloads the raw bytes behind an inbound file reference.
type MediaFetcher interface {
	Fetch(ctx context.Context, file domain.FilePayload) ([]byte, error)
}

// Messenger sends messages back over the chat channel.
type Messenger interface {
	Send(ctx context.Context, userID string, msg domain.OutboundMessage) error
}

// ContentStore stages queued file bytes until the entry is consumed.
type ContentStore interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type WorkflowObserver interface {
	ObserveTransition(from, to domain.State)
	ObserveClassification(duration time.Duration, err error)
	ObserveUpload(duration time.Duration, err error)
	ObserveEntryFinished(outcome string)
	ObserveQueueDepth(depth int)
	ObserveSendFailure()
}
