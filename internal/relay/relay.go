// Package relay routes normalized webhook events to the agent backend and
// returns replies to the user, one serialized turn per sender at a time.
package relay

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/thanhhuynhk17/messenger-agent/internal/domain"
	"github.com/thanhhuynhk17/messenger-agent/internal/metrics"
)

const defaultMaxConcurrent = 8

// Relay orchestrates one event end to end: dedup claim, per-sender
// serialization, thread continuity, the agent turn, and outbound notices.
type Relay struct {
	threads  domain.ThreadStore
	dedup    domain.DedupStore
	gateway  domain.Gateway
	notifier domain.Notifier
	locks    *senderLocks
	logger   *slog.Logger

	maxConcurrent    int
	processingNotice string
	apologyNotice    string
	textOnlyNotice   string

	eventsTotal  *metrics.Counter
	duplicates   *metrics.Counter
	turnsOK      *metrics.Counter
	agentErrors  *metrics.Counter
	notifyErrors *metrics.Counter
}

type Config struct {
	Threads  domain.ThreadStore
	Dedup    domain.DedupStore
	Gateway  domain.Gateway
	Notifier domain.Notifier
	Logger   *slog.Logger
	Metrics  *metrics.Collector

	// MaxConcurrent bounds how many events of one delivery run at once.
	MaxConcurrent int
	// ProcessingNotice is sent before the agent call; empty disables it.
	ProcessingNotice string
	ApologyNotice    string
	TextOnlyNotice   string
}

func New(cfg Config) *Relay {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Relay{
		threads:          cfg.Threads,
		dedup:            cfg.Dedup,
		gateway:          cfg.Gateway,
		notifier:         cfg.Notifier,
		locks:            newSenderLocks(),
		logger:           cfg.Logger,
		maxConcurrent:    cfg.MaxConcurrent,
		processingNotice: cfg.ProcessingNotice,
		apologyNotice:    cfg.ApologyNotice,
		textOnlyNotice:   cfg.TextOnlyNotice,
		eventsTotal:      cfg.Metrics.Counter("relay_events_total", "Inbound events handled"),
		duplicates:       cfg.Metrics.Counter("relay_duplicate_events_total", "Redelivered events dropped by dedup"),
		turnsOK:          cfg.Metrics.Counter("relay_turns_completed_total", "Agent turns that produced a reply"),
		agentErrors:      cfg.Metrics.Counter("relay_agent_errors_total", "Agent turns that failed"),
		notifyErrors:     cfg.Metrics.Counter("relay_notify_errors_total", "Outbound sends that failed"),
	}
}

// Process handles one webhook batch. Events run concurrently up to the
// configured limit; the per-sender lock keeps one user's turns sequential.
// Process returns when every event of the batch has been handled.
func (r *Relay) Process(ctx context.Context, events []domain.InboundEvent) {
	g := new(errgroup.Group)
	g.SetLimit(r.maxConcurrent)
	for _, ev := range events {
		g.Go(func() error {
			r.handleEvent(ctx, ev)
			return nil
		})
	}
	g.Wait()
}

// handleEvent absorbs every per-event failure: nothing it does may fail the
// webhook delivery or block the rest of the batch.
func (r *Relay) handleEvent(ctx context.Context, ev domain.InboundEvent) {
	r.eventsTotal.Inc()

	if ev.Notification {
		r.logger.Debug("skip delivery/read event", "sender", ev.SenderID)
		return
	}
	if ev.SenderID == "" {
		r.logger.Debug("skip event without sender id")
		return
	}
	if ev.Echo {
		r.logger.Debug("skip echo message", "sender", ev.SenderID)
		return
	}

	// Claim the event id before any other side effect, so a redelivery
	// racing this event cannot trigger a second agent call. Events without
	// an id cannot be deduplicated and are processed as-is.
	if ev.MessageID != "" {
		claimed, err := r.dedup.TryClaim(ctx, ev.MessageID)
		if err != nil {
			r.logger.Error("dedup claim failed, dropping event", "mid", ev.MessageID, "err", err)
			return
		}
		if !claimed {
			r.logger.Warn("duplicate event dropped", "mid", ev.MessageID, "sender", ev.SenderID)
			r.duplicates.Inc()
			return
		}
	}

	if ev.Kind == domain.KindUnsupported {
		r.logger.Info("unsupported message type", "sender", ev.SenderID)
		r.notify(ctx, ev.SenderID, r.textOnlyNotice)
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		r.logger.Debug("skip empty text message", "sender", ev.SenderID)
		return
	}

	r.logger.Info("user message", "sender", ev.SenderID, "text_len", len(text))

	if r.processingNotice != "" {
		r.notify(ctx, ev.SenderID, r.processingNotice)
	}

	unlock := r.locks.lock(ev.SenderID)
	defer unlock()
	r.runTurn(ctx, ev.SenderID, text)
}

// runTurn executes one agent turn for a sender. The caller holds the
// sender's lock, so the reply is sent before the next queued turn starts.
func (r *Relay) runTurn(ctx context.Context, senderID, text string) {
	threadID, err := r.threads.GetThread(ctx, senderID)
	if err != nil {
		// A fresh thread is attached by the gateway, so a failed lookup
		// costs continuity but not the turn.
		r.logger.Warn("thread lookup failed, starting fresh", "sender", senderID, "err", err)
		threadID = ""
	}

	result, err := r.gateway.Converse(ctx, text, threadID)
	if err != nil {
		r.logger.Error("agent turn failed", "sender", senderID, "err", err)
		r.agentErrors.Inc()
		r.notify(ctx, senderID, r.apologyNotice)
		return
	}

	if err := r.threads.SetThread(ctx, senderID, result.ThreadID); err != nil {
		r.logger.Warn("thread store update failed", "sender", senderID, "err", err)
	}

	r.turnsOK.Inc()
	r.notify(ctx, senderID, strings.TrimSpace(result.Reply))
}

// notify sends and observes; delivery failures never propagate.
func (r *Relay) notify(ctx context.Context, recipientID, text string) {
	if text == "" {
		return
	}
	if err := r.notifier.Send(ctx, recipientID, text); err != nil {
		r.logger.Error("notify failed", "recipient", recipientID, "err", err)
		r.notifyErrors.Inc()
	}
}
