package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// describeMedia derives the original name and mimetype from a file payload.
// Unknown media kinds get a timestamped name and a generic mimetype.
func describeMedia(file domain.FilePayload, now time.Time) (name, mimeType string) {
	mimeType = baseMimeType(file.MimeType)
	idName := func(defaultExt string) string {
		if file.MediaID == "" {
			return ""
		}
		ext := defaultExt
		if sub := mimeSubtype(mimeType); sub != "" {
			ext = sub
		}
		return file.MediaID + "." + ext
	}

	switch file.Kind {
	case domain.MediaImage:
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		name = idName("jpg")
	case domain.MediaDocument:
		if mimeType == "" {
			mimeType = "application/pdf"
		}
		name = strings.TrimSpace(file.Filename)
		if name == "" {
			name = idName("dat")
		}
	case domain.MediaVideo:
		if mimeType == "" {
			mimeType = "video/mp4"
		}
		name = idName("mp4")
	case domain.MediaAudio:
		if mimeType == "" {
			mimeType = "audio/ogg"
		}
		name = idName("ogg")
	default:
		mimeType = "application/octet-stream"
	}

	if name == "" {
		name = fmt.Sprintf("media_%d", now.UnixMilli())
	}
	return name, mimeType
}

// intake downloads an inbound file, stages it and appends it to the queue.
func (e *Engine) intake(ctx context.Context, s *domain.Session, event domain.InboundEvent) error {
	if event.File == nil {
		return domain.WrapError(domain.ErrInvalidInput, "intake file", errors.New("file payload is required"))
	}
	file := *event.File
	name, mimeType := describeMedia(file, e.now())

	e.notify(ctx, s.UserID, textMessage("Archivo '%s' recibido. Procesando...", name))

	data, err := e.download(ctx, file)
	if err != nil {
		e.logger.Warn("media_download_failed",
			slog.String("user_id", s.UserID),
			slog.String("file_name", name),
			slog.String("reference", file.Reference()),
			slog.String("error", err.Error()),
		)
		e.notify(ctx, s.UserID, textMessage("No pude descargar el archivo: %s. Intenta de nuevo.", name))
		return nil
	}

	entry := domain.QueueEntry{
		ID:              e.newID(),
		OriginalName:    name,
		MimeType:        mimeType,
		Size:            int64(len(data)),
		SourceReference: file.Reference(),
		ReceivedAt:      event.ReceivedAt,
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = e.now()
	}
	entry.ContentKey = entry.ID
	if err := e.content.Save(ctx, entry.ContentKey, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("stage file content: %w", err)
	}

	queue := append(append([]domain.QueueEntry{}, s.Queue...), entry)
	if _, active := s.ActiveEntry(); active {
		if err := e.save(ctx, s, domain.SessionPatch{Queue: &queue}); err != nil {
			e.release(ctx, entry)
			return err
		}
		e.observer.ObserveQueueDepth(s.Pending() + 1)
		e.notify(ctx, s.UserID, textMessage(
			"He añadido '%s' a la cola (posición %d). %d archivos en total.",
			name, len(queue)-s.ActiveIndex-1, len(queue),
		))
		return nil
	}

	patch := domain.SessionPatch{
		State:       ptr(domain.StateMediaReceived),
		Queue:       &queue,
		ActiveIndex: ptr(len(queue) - 1),
		Scratch:     &domain.Scratch{},
	}
	if err := e.save(ctx, s, patch); err != nil {
		e.release(ctx, entry)
		return err
	}
	e.observer.ObserveQueueDepth(s.Pending() + 1)
	return nil
}

func (e *Engine) download(ctx context.Context, file domain.FilePayload) ([]byte, error) {
	if strings.TrimSpace(file.Reference()) == "" {
		return nil, domain.WrapError(domain.ErrDownloadFailed, "download media", errors.New("file reference is empty"))
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.DownloadTimeout)
	defer cancel()

	data, err := e.fetcher.Fetch(ctx, file)
	if err != nil {
		return nil, domain.WrapError(domain.ErrDownloadFailed, "download media", err)
	}
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrDownloadFailed, "download media", errors.New("empty content"))
	}
	return data, nil
}
