package document

import (
	"context"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractSpreadsheet(t *testing.T) {
	book := excelize.NewFile()
	for cell, value := range map[string]string{"A1": "Producto", "B1": "Cantidad", "A2": "Jabón", "B2": "12"} {
		if err := book.SetCellValue("Sheet1", cell, value); err != nil {
			t.Fatalf("SetCellValue() error = %v", err)
		}
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer() error = %v", err)
	}

	text, err := NewExtractor(0).Extract(context.Background(), mimeXLSX, buf.Bytes())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	for _, want := range []string{"[Sheet1]", "Producto | Cantidad", "Jabón | 12"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
}

func TestExtractPlainText(t *testing.T) {
	ex := NewExtractor(5)
	text, err := ex.Extract(context.Background(), "text/plain; charset=utf-8", []byte("  añadido extra  "))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "añadi" {
		t.Fatalf("expected rune-truncated text, got %q", text)
	}

	if _, err := ex.Extract(context.Background(), "text/csv", []byte{0xff, 0xfe}); err == nil {
		t.Fatalf("expected error for invalid utf-8")
	}
}

func TestExtractUnsupportedReturnsEmpty(t *testing.T) {
	for _, mimeType := range []string{"image/jpeg", "video/mp4", "", "not a mime"} {
		text, err := NewExtractor(0).Extract(context.Background(), mimeType, []byte("binary"))
		if err != nil || text != "" {
			t.Fatalf("Extract(%q) = %q, %v", mimeType, text, err)
		}
	}
}

func TestExtractMalformedDocumentsFail(t *testing.T) {
	ex := NewExtractor(0)
	if _, err := ex.Extract(context.Background(), mimePDF, []byte("%PDF-1.4 truncated")); err == nil {
		t.Fatalf("expected error for malformed pdf")
	}
	if _, err := ex.Extract(context.Background(), mimeXLSX, []byte("not a zip")); err == nil {
		t.Fatalf("expected error for malformed spreadsheet")
	}
}

func TestExtractHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewExtractor(0).Extract(ctx, "text/plain", []byte("x")); err == nil {
		t.Fatalf("expected context error")
	}
}
