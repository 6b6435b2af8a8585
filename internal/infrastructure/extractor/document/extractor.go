package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

const (
	mimePDF  = "application/pdf"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeCSV  = "text/csv"
	mimeJSON = "application/json"
)

// Extractor pulls a bounded text excerpt out of documents so that models
// without native support for the format can still classify them.
type Extractor struct {
	maxChars int
}

func NewExtractor(maxChars int) *Extractor {
	if maxChars <= 0 {
		maxChars = 4000
	}
	return &Extractor{maxChars: maxChars}
}

// Extract returns an empty string for unsupported mimetypes.
func (e *Extractor) Extract(ctx context.Context, mimeType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", nil
	}

	var text string
	switch {
	case mediaType == mimePDF:
		text, err = e.extractPDF(data)
	case mediaType == mimeXLSX:
		text, err = e.extractXLSX(data)
	case strings.HasPrefix(mediaType, "text/"), mediaType == mimeJSON:
		text, err = extractPlainText(data)
	default:
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return e.truncate(strings.TrimSpace(text)), nil
}

func (e *Extractor) extractPDF(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(plain, int64(e.maxChars)*4))
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return strings.ToValidUTF8(string(raw), ""), nil
}

func (e *Extractor) extractXLSX(data []byte) (string, error) {
	book, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open spreadsheet: %w", err)
	}
	defer book.Close()

	var b strings.Builder
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		fmt.Fprintf(&b, "[%s]\n", sheet)
		for _, row := range rows {
			b.WriteString(strings.Join(row, " | "))
			b.WriteString("\n")
			if b.Len() > e.maxChars*4 {
				return b.String(), nil
			}
		}
	}
	return b.String(), nil
}

func extractPlainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("text document is not valid utf-8")
	}
	return string(data), nil
}

func (e *Extractor) truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= e.maxChars {
		return text
	}
	return string(runes[:e.maxChars])
}
