package dispatch

import (
	"context"
	"log/slog"
	"time"

	"unibox/internal/domain"
	"unibox/internal/metrics"
)

// SweepResult summarizes one sweeper run.
type SweepResult struct {
	Processed int       `json:"processed"`
	Timestamp time.Time `json:"timestamp"`
}

// Sweeper flushes due scheduled messages in bounded batches. Runs may
// overlap (a slow run plus the next tick); the per-message claim keeps
// two runs from delivering the same message.
type Sweeper struct {
	store     domain.Store
	adapters  domain.AdapterResolver
	notify    domain.Notifier
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

func NewSweeper(store domain.Store, adapters domain.AdapterResolver, notify domain.Notifier, batchSize int, logger *slog.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 50
	}
	if notify == nil {
		notify = domain.NopNotifier{}
	}
	return &Sweeper{
		store:     store,
		adapters:  adapters,
		notify:    notify,
		logger:    logger,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run claims and delivers due scheduled messages. One message's failure
// never aborts the batch: the message is marked FAILED with the captured
// detail and the sweep moves on. There is no global rollback.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	started := s.now()
	metrics.SweepRuns.Inc()

	due, err := s.store.DueScheduled(ctx, started, s.batchSize)
	if err != nil {
		return SweepResult{Timestamp: started}, err
	}
	s.logger.Info("sweep started", "due", len(due), "batchSize", s.batchSize)

	processed := 0
	for i := range due {
		msg := &due[i]

		claimed, err := s.store.ClaimScheduled(ctx, msg.ID)
		if err != nil {
			s.logger.Error("claim failed", "message", msg.ID, "err", err)
			continue
		}
		if !claimed {
			// Another overlapping run won this message.
			s.logger.Debug("message already claimed", "message", msg.ID)
			continue
		}

		s.process(ctx, msg)
		processed++
	}

	result := SweepResult{Processed: processed, Timestamp: s.now()}
	s.logger.Info("sweep finished", "processed", processed,
		"elapsed", result.Timestamp.Sub(started).String())
	return result, nil
}

// process delivers one claimed message and records its terminal state.
func (s *Sweeper) process(ctx context.Context, msg *domain.Message) {
	adapter, ok := s.adapters.Get(msg.Channel)
	if !ok || !adapter.Configured() {
		s.fail(ctx, msg, "Integration not configured")
		return
	}

	contact, err := s.store.GetContact(ctx, msg.ContactID)
	if err != nil {
		s.fail(ctx, msg, "Contact no longer exists")
		return
	}

	to := contact.AddressFor(msg.Channel)
	if to == "" {
		s.fail(ctx, msg, "No recipient contact information")
		return
	}

	result := adapter.Send(ctx, domain.OutboundPayload{
		To:        to,
		Content:   msg.Content,
		MediaURLs: msg.MediaURLs,
	})

	now := s.now()
	day := domain.DayKey(now)
	// Attempt-level counter, success or not.
	if err := s.store.IncrementSent(ctx, day, msg.Channel); err != nil {
		s.logger.Warn("sent counter increment failed", "channel", msg.Channel, "err", err)
	}
	metrics.MessagesSent.Inc()

	if !result.Success {
		if err := s.store.IncrementFailed(ctx, day, msg.Channel); err != nil {
			s.logger.Warn("failed counter increment failed", "channel", msg.Channel, "err", err)
		}
		metrics.MessagesFailed.Inc()
		detail := result.ErrorDetail
		if detail == "" {
			detail = "Unknown error"
		}
		s.fail(ctx, msg, detail)
		return
	}

	if err := s.store.MarkSent(ctx, msg.ID, result.ExternalID, now); err != nil {
		s.logger.Error("mark sent failed", "message", msg.ID, "err", err)
		return
	}
	msg.Status = domain.StatusSent
	msg.ExternalID = result.ExternalID
	msg.SentAt = &now
	s.logger.Info("scheduled message sent",
		"message", msg.ID, "channel", msg.Channel, "externalId", result.ExternalID)
	s.notify.MessageUpdated(*msg)
}

func (s *Sweeper) fail(ctx context.Context, msg *domain.Message, reason string) {
	if err := s.store.MarkFailed(ctx, msg.ID, reason); err != nil {
		s.logger.Error("mark failed failed", "message", msg.ID, "err", err)
		return
	}
	msg.Status = domain.StatusFailed
	msg.ErrorMessage = reason
	s.logger.Warn("scheduled message failed",
		"message", msg.ID, "channel", msg.Channel, "reason", reason)
	s.notify.MessageUpdated(*msg)
}
