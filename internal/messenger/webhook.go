package messenger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/thanhhuynhk17/messenger-agent/internal/domain"
)

const ackBody = "EVENT_RECEIVED"

// EventSink consumes a batch of normalized webhook events. Processing must
// absorb per-event failures; the webhook acknowledges the delivery either way.
type EventSink interface {
	Process(ctx context.Context, events []domain.InboundEvent)
}

// Webhook serves the Messenger verification and event-ingestion endpoints.
type Webhook struct {
	verifyToken string
	appSecret   string
	sink        EventSink
	logger      *slog.Logger
}

type WebhookConfig struct {
	VerifyToken string
	AppSecret   string // optional: enables X-Hub-Signature-256 verification
	Sink        EventSink
	Logger      *slog.Logger
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	return &Webhook{
		verifyToken: cfg.VerifyToken,
		appSecret:   cfg.AppSecret,
		sink:        cfg.Sink,
		logger:      cfg.Logger,
	}
}

// Register mounts the webhook endpoints on the given mux.
func (w *Webhook) Register(mux *http.ServeMux, path string) {
	if path == "" {
		path = "/webhook"
	}
	mux.HandleFunc("GET "+path, w.handleVerify)
	mux.HandleFunc("POST "+path, w.handleEvents)
}

// handleVerify answers the Messenger subscription challenge.
func (w *Webhook) handleVerify(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.verifyToken {
		w.logger.Info("webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, challenge)
		return
	}

	w.logger.Warn("webhook verification failed", "mode", mode)
	http.Error(rw, "Verification token mismatch", http.StatusForbidden)
}

// handleEvents ingests one webhook delivery. Per-event failures never fail
// the delivery; only unparseable JSON (or a bad signature) is rejected, so
// the platform does not retry-storm on our own processing errors.
func (w *Webhook) handleEvents(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if w.appSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.verifySignature(body, sig) {
			w.logger.Warn("invalid webhook signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("malformed webhook payload", "err", err)
		http.Error(rw, "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	// Valid JSON for some other platform object: acknowledge and ignore.
	if payload.Object != "page" {
		w.logger.Debug("ignoring non-page payload", "object", payload.Object)
		fmt.Fprint(rw, ackBody)
		return
	}

	events := payload.Events()
	w.logger.Info("webhook delivery received", "entries", len(payload.Entry), "events", len(events))

	w.sink.Process(r.Context(), events)

	fmt.Fprint(rw, ackBody)
}

// verifySignature checks the X-Hub-Signature-256 header.
func (w *Webhook) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(w.appSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature[7:]), []byte(computed))
}
