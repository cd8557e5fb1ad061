// Package dispatch holds the three message paths: outbound dispatch,
// inbound normalization, and the scheduled-message sweep.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"unibox/internal/domain"
	"unibox/internal/metrics"
)

// TemplateRenderer resolves a canned-reply template into message text.
type TemplateRenderer interface {
	Render(name string, vars map[string]string) (string, error)
}

// SendRequest is one outbound dispatch call.
type SendRequest struct {
	ContactID    string
	Channel      domain.Channel
	Content      string
	MediaURLs    []string
	Template     string // optional: template name; rendered text replaces Content
	TemplateVars map[string]string
	ScheduledFor *time.Time
}

// Dispatcher resolves a contact and channel, performs (or schedules) one
// delivery attempt, and records the outcome.
type Dispatcher struct {
	store     domain.Store
	adapters  domain.AdapterResolver
	templates TemplateRenderer // may be nil
	notify    domain.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewDispatcher(store domain.Store, adapters domain.AdapterResolver, templates TemplateRenderer, notify domain.Notifier, logger *slog.Logger) *Dispatcher {
	if notify == nil {
		notify = domain.NopNotifier{}
	}
	return &Dispatcher{
		store:     store,
		adapters:  adapters,
		templates: templates,
		notify:    notify,
		logger:    logger,
		now:       time.Now,
	}
}

// Send runs one outbound dispatch.
//
// A future ScheduledFor parks the message as SCHEDULED without touching
// the provider. A missing or unconfigured channel parks it as PENDING —
// that is a successful enqueue, not a failure, so development setups
// without provider credentials keep working. A contact with no usable
// address on the channel rejects the whole call and persists nothing.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (*domain.Message, error) {
	contact, err := d.store.GetContact(ctx, req.ContactID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrContactNotFound, req.ContactID)
	}

	content := req.Content
	if req.Template != "" && d.templates != nil {
		rendered, err := d.templates.Render(req.Template, req.TemplateVars)
		if err != nil {
			return nil, fmt.Errorf("render template %q: %w", req.Template, err)
		}
		content = rendered
	}

	thread, err := d.store.GetOrCreateThread(ctx, contact.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve thread: %w", err)
	}

	if req.ScheduledFor != nil {
		msg := &domain.Message{
			ThreadID:     thread.ID,
			ContactID:    contact.ID,
			Channel:      req.Channel,
			Direction:    domain.DirectionOutbound,
			Status:       domain.StatusScheduled,
			Content:      content,
			MediaURLs:    req.MediaURLs,
			ScheduledFor: req.ScheduledFor,
		}
		if err := d.store.CreateMessage(ctx, msg); err != nil {
			return nil, err
		}
		d.logger.Info("message scheduled",
			"message", msg.ID, "channel", req.Channel, "for", req.ScheduledFor)
		d.notify.MessageCreated(*msg)
		return msg, nil
	}

	adapter, ok := d.adapters.Get(req.Channel)
	if !ok || !adapter.Configured() {
		msg := &domain.Message{
			ThreadID:     thread.ID,
			ContactID:    contact.ID,
			Channel:      req.Channel,
			Direction:    domain.DirectionOutbound,
			Status:       domain.StatusPending,
			Content:      content,
			MediaURLs:    req.MediaURLs,
			ErrorMessage: "channel not configured",
		}
		if err := d.store.CreateMessage(ctx, msg); err != nil {
			return nil, err
		}
		d.logger.Warn("channel not configured, message stored as pending",
			"message", msg.ID, "channel", req.Channel)
		d.notify.MessageCreated(*msg)
		return msg, nil
	}

	to := contact.AddressFor(req.Channel)
	if to == "" {
		return nil, fmt.Errorf("%w: contact %s on %s", domain.ErrNoRecipient, contact.ID, req.Channel)
	}

	started := d.now()
	result := adapter.Send(ctx, domain.OutboundPayload{
		To:        to,
		Content:   content,
		MediaURLs: req.MediaURLs,
	})
	metrics.SendLatency.Observe(d.now().Sub(started).Seconds())

	now := d.now()
	msg := &domain.Message{
		ThreadID:  thread.ID,
		ContactID: contact.ID,
		Channel:   req.Channel,
		Direction: domain.DirectionOutbound,
		Content:   content,
		MediaURLs: req.MediaURLs,
		SentAt:    &now,
	}
	if result.Success {
		msg.Status = domain.StatusSent
		msg.ExternalID = result.ExternalID
	} else {
		msg.Status = domain.StatusFailed
		msg.ErrorMessage = result.ErrorDetail
	}

	if err := d.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	d.recordAttempt(ctx, contact.ID, thread.ID, msg)

	if result.Success {
		d.logger.Info("message sent",
			"message", msg.ID, "channel", req.Channel, "externalId", result.ExternalID)
	} else {
		d.logger.Warn("message send failed",
			"message", msg.ID, "channel", req.Channel, "err", result.ErrorDetail)
	}
	d.notify.MessageCreated(*msg)
	return msg, nil
}

// recordAttempt does the per-attempt bookkeeping: thread and contact
// activity stamps plus day/channel counters. Counter errors are logged,
// not surfaced — the message row is already the source of truth.
func (d *Dispatcher) recordAttempt(ctx context.Context, contactID, threadID string, msg *domain.Message) {
	now := d.now()
	if err := d.store.TouchThread(ctx, threadID, now); err != nil {
		d.logger.Warn("touch thread failed", "thread", threadID, "err", err)
	}
	if err := d.store.TouchContact(ctx, contactID, now); err != nil {
		d.logger.Warn("touch contact failed", "contact", contactID, "err", err)
	}

	day := domain.DayKey(now)
	// The sent counter counts attempts; failures additionally bump the
	// failed counter so attempt volume stays visible.
	if err := d.store.IncrementSent(ctx, day, msg.Channel); err != nil {
		d.logger.Warn("sent counter increment failed", "channel", msg.Channel, "err", err)
	}
	metrics.MessagesSent.Inc()
	if msg.Status == domain.StatusFailed {
		if err := d.store.IncrementFailed(ctx, day, msg.Channel); err != nil {
			d.logger.Warn("failed counter increment failed", "channel", msg.Channel, "err", err)
		}
		metrics.MessagesFailed.Inc()
	}
}
