package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

// Request is what a provider sends to its model.
type Request struct {
	Prompt string
	Media  domain.MediaContent
	// Excerpt is the extracted text of documents; providers that cannot read
	// a mimetype inline rely on it.
	Excerpt string
}

// Model returns the raw text answer of a generative model.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// TextExtractor produces a text excerpt for supported document types and an
// empty string for everything else.
type TextExtractor interface {
	Extract(ctx context.Context, mimeType string, data []byte) (string, error)
}

type Classifier struct {
	model     Model
	catalog   domain.CategoryCatalog
	extractor TextExtractor
	logger    *slog.Logger
}

func New(model Model, catalog domain.CategoryCatalog, extractor TextExtractor, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{model: model, catalog: catalog, extractor: extractor, logger: logger}
}

func (c *Classifier) Classify(ctx context.Context, media domain.MediaContent) (domain.ClassificationResult, error) {
	if len(media.Data) == 0 {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassificationFailed, "classify media", fmt.Errorf("media content is empty"))
	}

	excerpt := c.excerpt(ctx, media)
	raw, err := c.model.Generate(ctx, Request{
		Prompt:  buildPrompt(c.catalog, media.Filename, media.MimeType, excerpt),
		Media:   media,
		Excerpt: excerpt,
	})
	if err != nil {
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassificationFailed, "classify media", err)
	}

	result, err := parseResult(raw, c.catalog)
	if err != nil {
		c.logger.Warn("classification_response_rejected",
			slog.String("filename", media.Filename),
			slog.String("raw", truncateRunes(raw, 500)),
			slog.String("error", err.Error()),
		)
		return domain.ClassificationResult{}, domain.WrapError(domain.ErrClassificationFailed, "parse classification", err)
	}
	return result, nil
}

func (c *Classifier) excerpt(ctx context.Context, media domain.MediaContent) string {
	if c.extractor == nil {
		return ""
	}
	text, err := c.extractor.Extract(ctx, media.MimeType, media.Data)
	if err != nil {
		c.logger.Warn("text_extraction_failed",
			slog.String("filename", media.Filename),
			slog.String("mime_type", media.MimeType),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return text
}
