package httpadapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/kirillkom/intake-assistant/internal/config"
	"github.com/kirillkom/intake-assistant/internal/core/domain"
	"github.com/kirillkom/intake-assistant/internal/core/ports"
	"github.com/kirillkom/intake-assistant/internal/observability/metrics"
)

const (
	signatureHeader  = "X-Hub-Signature-256"
	maxWebhookBytes  = 1 << 20
	outcomeAccepted  = "accepted"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeRejected  = "rejected"
)

type Router struct {
	sink    ports.EventSink
	metrics *metrics.HTTPServerMetrics
	logger  *slog.Logger
	now     func() time.Time

	verifyToken string
	appSecret   string
	dedupe      *cache.Cache

	limiter          *rate.Limiter
	maxInFlight      int
	backpressureWait time.Duration
}

// NewRouter serves the WhatsApp webhook. httpMetrics may be nil.
func NewRouter(cfg config.Config, sink ports.EventSink, httpMetrics *metrics.HTTPServerMetrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Router{
		sink:             sink,
		metrics:          httpMetrics,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
		verifyToken:      cfg.WhatsAppVerifyToken,
		appSecret:        cfg.WhatsAppAppSecret,
		maxInFlight:      cfg.APIMaxInFlight,
		backpressureWait: time.Duration(cfg.APIBackpressureWaitMS) * time.Millisecond,
	}
	if cfg.WebhookDedupeTTLSeconds > 0 {
		ttl := time.Duration(cfg.WebhookDedupeTTLSeconds) * time.Second
		rt.dedupe = cache.New(ttl, ttl)
	}
	if cfg.APIRateLimitRPS > 0 {
		rt.limiter = rate.NewLimiter(rate.Limit(cfg.APIRateLimitRPS), max(cfg.APIRateLimitBurst, 1))
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	webhook := http.NewServeMux()
	webhook.HandleFunc("GET /webhook", rt.verifyWebhook)
	webhook.HandleFunc("POST /webhook", rt.receiveWebhook)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.Handle("/webhook", backpressureMiddleware(rateLimitMiddleware(webhook, rt.limiter), rt.maxInFlight, rt.backpressureWait))
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = accessLogMiddleware(rt.logger, mux)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// verifyWebhook answers the subscription handshake of the Cloud API.
func (rt *Router) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	if q.Get("hub.mode") != "subscribe" || rt.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(rt.verifyToken)) != 1 {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "verification failed"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

func (rt *Router) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "read webhook", err))
		return
	}
	if len(body) > maxWebhookBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
		return
	}
	if rt.appSecret != "" && !validSignature(r.Header.Get(signatureHeader), body, rt.appSecret) {
		writeError(w, domain.WrapError(domain.ErrUnauthorized, "verify webhook", errors.New("signature mismatch")))
		return
	}

	messages, err := parseWebhook(body, rt.now())
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "parse webhook", err))
		return
	}

	for _, msg := range messages {
		if msg.Event == nil {
			rt.record(msg.Type, outcomeIgnored)
			continue
		}
		duplicate, err := rt.submit(r.Context(), *msg.Event)
		switch {
		case err != nil:
			rt.record(msg.Type, outcomeRejected)
			rt.logger.Warn("webhook_event_rejected",
				"request_id", requestIDFromContext(r.Context()),
				"event_id", msg.Event.ID,
				"user_id", msg.Event.UserID,
				"error", err.Error(),
			)
			// Later messages may belong to the same user; stop so the
			// redelivery keeps their order.
			if domain.IsKind(err, domain.ErrTemporary) {
				writeError(w, err)
				return
			}
		case duplicate:
			rt.record(msg.Type, outcomeDuplicate)
		default:
			rt.record(msg.Type, outcomeAccepted)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// submit forwards an event unless its message id was accepted within the
// dedupe window. A failed submit releases the id so a redelivery goes through.
func (rt *Router) submit(ctx context.Context, event domain.InboundEvent) (bool, error) {
	tracked := rt.dedupe != nil && event.ID != ""
	if tracked {
		if err := rt.dedupe.Add(event.ID, struct{}{}, cache.DefaultExpiration); err != nil {
			return true, nil
		}
	}
	if err := rt.sink.Submit(ctx, event); err != nil {
		if tracked {
			rt.dedupe.Delete(event.ID)
		}
		return false, err
	}
	return false, nil
}

func (rt *Router) record(kind, outcome string) {
	if rt.metrics != nil {
		rt.metrics.RecordWebhookEvent(kind, outcome)
	}
}

// validSignature checks the "sha256=<hex>" HMAC of the raw body.
func validSignature(header string, body []byte, secret string) bool {
	signature, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
