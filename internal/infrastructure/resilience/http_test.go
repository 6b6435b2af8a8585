package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

var _ net.Error = timeoutNetError{}

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClassification
	}{
		{name: "nil", err: nil, want: ErrorClassification{}},
		{name: "cancelled", err: context.Canceled, want: ErrorClassification{}},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: ErrorClassification{}},
		{name: "503", err: &HTTPStatusError{StatusCode: 503}, want: ErrorClassification{Retryable: true, RecordFailure: true}},
		{name: "429 wrapped", err: fmt.Errorf("x: %w", &HTTPStatusError{StatusCode: 429}), want: ErrorClassification{Retryable: true, RecordFailure: true}},
		{name: "404", err: &HTTPStatusError{StatusCode: 404}, want: ErrorClassification{}},
		{name: "network", err: fmt.Errorf("dial: %w", timeoutNetError{}), want: ErrorClassification{Retryable: true, RecordFailure: true}},
		{name: "other", err: errors.New("decode"), want: ErrorClassification{RecordFailure: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyHTTPError(tc.err); got != tc.want {
				t.Fatalf("ClassifyHTTPError() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestNewHTTPStatusError(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Status:     "429 Too Many Requests",
		Header:     http.Header{"Retry-After": []string{"3"}},
		Body:       io.NopCloser(strings.NewReader(strings.Repeat("x", 4096))),
	}
	err := NewHTTPStatusError("gemini", "generate", resp)
	if err.RetryAfter != 3*time.Second {
		t.Fatalf("expected retry after 3s, got %s", err.RetryAfter)
	}
	if len(err.Body) != 2048 {
		t.Fatalf("expected body capped at 2048 bytes, got %d", len(err.Body))
	}
	if !strings.HasPrefix(err.Error(), "gemini generate status: 429 Too Many Requests: ") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestWrapTemporary(t *testing.T) {
	retryable := WrapTemporary("drive upload", &HTTPStatusError{StatusCode: 500}, nil)
	if !errors.Is(retryable, domain.ErrTemporary) {
		t.Fatalf("expected temporary kind, got %v", retryable)
	}

	permanent := &HTTPStatusError{StatusCode: 403}
	if got := WrapTemporary("drive upload", permanent, nil); got != error(permanent) {
		t.Fatalf("expected permanent error untouched, got %v", got)
	}
	if WrapTemporary("op", nil, nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
