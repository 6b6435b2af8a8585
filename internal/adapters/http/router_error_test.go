package httpadapter

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/intake-assistant/internal/config"
	"github.com/kirillkom/intake-assistant/internal/core/domain"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: domain.WrapError(domain.ErrInvalidInput, "op", errors.New("x")), want: http.StatusBadRequest},
		{err: domain.WrapError(domain.ErrUnauthorized, "op", errors.New("x")), want: http.StatusUnauthorized},
		{err: domain.WrapError(domain.ErrTemporary, "op", errors.New("x")), want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Fatalf("mapErrorToHTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWebhookMapsTemporarySubmitFailureTo503(t *testing.T) {
	sink := &sinkFake{err: domain.WrapError(domain.ErrTemporary, "dispatch event", errors.New("mailbox full"))}
	handler := newTestHandler(config.Config{WebhookDedupeTTLSeconds: 60}, sink)

	res := postWebhook(handler, textNotification("wamid.1", "521", "hola"), "")
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}

	// The failed id is released so the redelivery is not dropped as duplicate.
	sink.err = nil
	res = postWebhook(handler, textNotification("wamid.1", "521", "hola"), "")
	if res.Code != http.StatusOK || len(sink.events) != 1 {
		t.Fatalf("expected redelivery to be accepted, code=%d events=%d", res.Code, len(sink.events))
	}
}

func TestWebhookKeepsGoingAfterPermanentSubmitFailure(t *testing.T) {
	sink := &sinkFake{err: domain.WrapError(domain.ErrInvalidInput, "dispatch event", errors.New("user id is required"))}
	handler := newTestHandler(config.Config{}, sink)

	res := postWebhook(handler, textNotification("wamid.2", "521", "hola"), "")
	if res.Code != http.StatusOK {
		t.Fatalf("permanent failures must not trigger redelivery, got %d", res.Code)
	}
}

func TestWebhookRejectsMalformedJSON(t *testing.T) {
	handler := newTestHandler(config.Config{}, &sinkFake{})
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	handler := newTestHandler(config.Config{}, &sinkFake{})
	body := strings.Repeat("a", maxWebhookBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
}
