package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"unibox/internal/domain"
	"unibox/internal/metrics"
)

// InboundResult reports how one provider callback was handled.
type InboundResult struct {
	// Message is nil when the payload was ignored or a duplicate.
	Message   *domain.Message
	Ignored   bool // payload was not a deliverable user message
	Duplicate bool // external id already processed for this channel
}

// Normalizer turns raw provider callbacks into persisted inbound messages.
type Normalizer struct {
	store    domain.Store
	adapters domain.AdapterResolver
	notify   domain.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewNormalizer(store domain.Store, adapters domain.AdapterResolver, notify domain.Notifier, logger *slog.Logger) *Normalizer {
	if notify == nil {
		notify = domain.NopNotifier{}
	}
	return &Normalizer{
		store:    store,
		adapters: adapters,
		notify:   notify,
		logger:   logger,
		now:      time.Now,
	}
}

// Process handles one raw callback body for a channel.
//
// Non-message payloads are acknowledged without persisting anything.
// Contacts are deduplicated by exact normalized-address match and created
// on first contact, the sender's raw address doubling as the placeholder
// display name. An already-seen external id is acknowledged and skipped,
// so provider retries never produce duplicate rows.
func (n *Normalizer) Process(ctx context.Context, ch domain.Channel, raw []byte) (*InboundResult, error) {
	adapter, ok := n.adapters.Get(ch)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownChannel, ch)
	}

	metrics.WebhooksReceived.Inc()

	inbound, err := adapter.NormalizeInbound(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize %s callback: %w", ch, err)
	}
	if inbound == nil {
		n.logger.Debug("inbound payload ignored", "channel", ch)
		return &InboundResult{Ignored: true}, nil
	}

	contact, err := n.resolveContact(ctx, inbound)
	if err != nil {
		return nil, err
	}

	thread, err := n.store.GetOrCreateThread(ctx, contact.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve thread: %w", err)
	}

	now := n.now()
	receivedAt := inbound.Timestamp
	if receivedAt.IsZero() {
		receivedAt = now
	}

	msg := &domain.Message{
		ThreadID:    thread.ID,
		ContactID:   contact.ID,
		ExternalID:  inbound.ExternalID,
		Channel:     inbound.Channel,
		Direction:   domain.DirectionInbound,
		Status:      domain.StatusDelivered,
		Content:     inbound.Content,
		MediaURLs:   inbound.MediaURLs,
		Metadata:    inbound.Metadata,
		SentAt:      &receivedAt,
		DeliveredAt: &receivedAt,
	}
	if err := n.store.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicateMessage) {
			n.logger.Info("duplicate inbound skipped",
				"channel", ch, "externalId", inbound.ExternalID)
			return &InboundResult{Duplicate: true}, nil
		}
		return nil, err
	}

	if err := n.store.TouchThread(ctx, thread.ID, now); err != nil {
		n.logger.Warn("touch thread failed", "thread", thread.ID, "err", err)
	}
	if err := n.store.IncrementReceived(ctx, domain.DayKey(now), inbound.Channel); err != nil {
		n.logger.Warn("received counter increment failed", "channel", inbound.Channel, "err", err)
	}
	metrics.MessagesReceived.Inc()

	n.logger.Info("inbound message stored",
		"message", msg.ID, "channel", inbound.Channel, "contact", contact.ID)
	n.notify.MessageCreated(*msg)
	return &InboundResult{Message: msg}, nil
}

func (n *Normalizer) resolveContact(ctx context.Context, inbound *domain.InboundMessage) (*domain.Contact, error) {
	contact, err := n.store.FindContactByAddress(ctx, inbound.Channel, inbound.From)
	if err == nil {
		if terr := n.store.TouchContact(ctx, contact.ID, n.now()); terr != nil {
			n.logger.Warn("touch contact failed", "contact", contact.ID, "err", terr)
		}
		return contact, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find contact: %w", err)
	}

	now := n.now()
	contact = &domain.Contact{
		Name:            inbound.From,
		LastContactedAt: &now,
	}
	switch inbound.Channel {
	case domain.ChannelSMS:
		contact.Phone = inbound.From
	case domain.ChannelWhatsApp:
		contact.WhatsApp = inbound.From
	case domain.ChannelEmail:
		contact.Email = inbound.From
	case domain.ChannelTwitter:
		contact.Twitter = inbound.From
	case domain.ChannelFacebook:
		contact.Facebook = inbound.From
	case domain.ChannelTelegram:
		contact.Telegram = inbound.From
	}
	if err := n.store.CreateContact(ctx, contact); err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	n.logger.Info("contact created from inbound message",
		"contact", contact.ID, "channel", inbound.Channel)
	return contact, nil
}
