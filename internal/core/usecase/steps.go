package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// classifyActive runs the MEDIA_RECEIVED step for the active entry.
func (e *Engine) classifyActive(ctx context.Context, s *domain.Session) error {
	entry, _ := s.ActiveEntry()
	e.notify(ctx, s.UserID, textMessage("Clasificando '%s' con IA... 🤖", entry.OriginalName))

	cls, err := e.classify(ctx, entry)
	if err != nil {
		e.logger.Warn("classification_failed",
			slog.String("user_id", s.UserID),
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()),
		)
		e.notify(ctx, s.UserID, textMessage(
			"Hubo un error clasificando '%s': %s. Envía el archivo de nuevo si quieres guardarlo.",
			entry.OriginalName, failureReason(err),
		))
		return e.advance(ctx, s, OutcomeClassificationFailed)
	}

	cls.Category = e.catalog.Normalize(cls.Category)
	e.logger.Info("classification_completed",
		slog.String("user_id", s.UserID),
		slog.String("entry_id", entry.ID),
		slog.String("category", cls.Category),
		slog.Float64("confidence", cls.Confidence),
	)
	return e.advanceTo(ctx, s, domain.StateAwaitingClassificationConfirmation, domain.Scratch{Classification: &cls})
}

func (e *Engine) classify(ctx context.Context, entry domain.QueueEntry) (domain.ClassificationResult, error) {
	data, err := e.readContent(ctx, entry)
	if err != nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassificationFailed, "read staged content", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.ClassificationTimeout)
	defer cancel()

	started := time.Now()
	cls, err := e.classifier.Classify(ctx, domain.MediaContent{
		Filename: entry.OriginalName,
		MimeType: entry.MimeType,
		Data:     data,
	})
	e.observer.ObserveClassification(time.Since(started), err)
	if err != nil {
		if domain.IsKind(err, domain.ErrClassificationFailed) {
			return domain.ClassificationResult{}, err
		}
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassificationFailed, "classify media", err)
	}
	return cls, nil
}

// uploadActive runs the UPLOADING_FILE step. The queue advances whatever the result.
func (e *Engine) uploadActive(ctx context.Context, s *domain.Session) error {
	entry, _ := s.ActiveEntry()
	category := s.Scratch.ConfirmedCategory
	if category == "" {
		e.notify(ctx, s.UserID, textMessage("No se encontró la categoría para subir '%s'. El archivo no se guardó.", entry.OriginalName))
		return e.advance(ctx, s, OutcomeUploadFailed)
	}

	e.notify(ctx, s.UserID, textMessage("Subiendo '%s' a la categoría '%s'...", entry.OriginalName, category))

	name, fileID, err := e.archive(ctx, entry, s.Scratch)
	if err != nil {
		e.logger.Warn("upload_failed",
			slog.String("user_id", s.UserID),
			slog.String("entry_id", entry.ID),
			slog.String("category", category),
			slog.String("error", err.Error()),
		)
		e.notify(ctx, s.UserID, textMessage("❌ Error al subir el archivo '%s': %s", entry.OriginalName, failureReason(err)))
		return e.advance(ctx, s, OutcomeUploadFailed)
	}

	e.logger.Info("upload_completed",
		slog.String("user_id", s.UserID),
		slog.String("entry_id", entry.ID),
		slog.String("file_id", fileID),
		slog.String("file_name", name),
	)
	e.notify(ctx, s.UserID, textMessage("✔️ ¡Listo! Guardé '%s' en la categoría '%s'.\nID: %s", name, category, fileID))
	return e.advance(ctx, s, OutcomeUploaded)
}

func (e *Engine) archive(ctx context.Context, entry domain.QueueEntry, scratch domain.Scratch) (string, string, error) {
	data, err := e.readContent(ctx, entry)
	if err != nil {
		return "", "", domain.WrapError(domain.ErrUploadFailed, "read staged content", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.UploadTimeout)
	defer cancel()

	started := time.Now()
	name, fileID, err := e.storeFile(ctx, entry, scratch, data)
	e.observer.ObserveUpload(time.Since(started), err)
	return name, fileID, err
}

func (e *Engine) storeFile(ctx context.Context, entry domain.QueueEntry, scratch domain.Scratch, data []byte) (string, string, error) {
	now := e.now()
	folderID, err := e.storage.ResolveOrCreateFolder(ctx, e.catalog.FolderFor(scratch.ConfirmedCategory), e.opts.RootFolderID)
	if err != nil {
		return "", "", domain.WrapError(domain.ErrUploadFailed, "resolve folder", err)
	}

	name, err := e.finalFileName(ctx, entry, scratch, folderID, now.In(e.opts.Location))
	if err != nil {
		return "", "", err
	}

	file := domain.ArchiveFile{
		Name:     name,
		MimeType: entry.MimeType,
		Metadata: domain.NewMetadataEnvelope(entry, scratch, e.opts.SourceTag, now),
	}
	fileID, err := e.storage.Upload(ctx, data, file, folderID)
	if err != nil {
		return "", "", domain.WrapError(domain.ErrUploadFailed, "upload file", err)
	}
	return name, fileID, nil
}

// finalFileName uses the custom name when present, else the next free
// auto name in the target folder.
func (e *Engine) finalFileName(ctx context.Context, entry domain.QueueEntry, scratch domain.Scratch, folderID string, now time.Time) (string, error) {
	if scratch.CustomFileName != "" {
		return customFileName(scratch.CustomFileName, entry.OriginalName, entry.MimeType), nil
	}
	prefix := autoNamePrefix(scratch.ConfirmedCategory, now)
	existing, err := e.storage.ListFileNames(ctx, folderID, prefix)
	if err != nil {
		return "", domain.WrapError(domain.ErrUploadFailed, "list existing files", err)
	}
	ext := inferExtension(entry.OriginalName, entry.MimeType)
	return autoFileName(scratch.ConfirmedCategory, now, nextSequence(existing, prefix), ext), nil
}

func (e *Engine) readContent(ctx context.Context, entry domain.QueueEntry) ([]byte, error) {
	rc, err := e.content.Open(ctx, entry.ContentKey)
	if err != nil {
		return nil, fmt.Errorf("open content %s: %w", entry.ContentKey, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", entry.ContentKey, err)
	}
	return data, nil
}

// failureReason is the user-facing form of an external failure: the innermost cause.
func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "tiempo de espera agotado"
	}
	cause := err
	for {
		switch u := cause.(type) {
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 {
				return cause.Error()
			}
			cause = errs[len(errs)-1]
		case interface{ Unwrap() error }:
			next := u.Unwrap()
			if next == nil {
				return cause.Error()
			}
			cause = next
		default:
			return cause.Error()
		}
	}
}
