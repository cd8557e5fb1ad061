package domain

import (
	"strings"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Status is the message delivery state.
//
// SCHEDULED and PENDING are the only states the system acts on later;
// SENDING marks a scheduled message claimed by a sweep run so that
// overlapping runs cannot deliver it twice. SENT, FAILED and DELIVERED
// are terminal. There is no automatic PENDING -> SENT transition: a
// message parked because its channel was unconfigured stays parked until
// re-sent explicitly.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusSending   Status = "SENDING"
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusFailed    Status = "FAILED"
	StatusDelivered Status = "DELIVERED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusDelivered
}

// CanTransition reports whether s -> to is a legal state change.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusScheduled:
		return to == StatusSending || to == StatusSent || to == StatusFailed || to == StatusPending
	case StatusSending:
		// A claimed message either completes or is released back.
		return to == StatusSent || to == StatusFailed || to == StatusScheduled
	case StatusPending:
		return to == StatusSent || to == StatusFailed
	}
	return false
}

// Contact is an identity the business talks to. A contact is reachable on
// a channel only if it carries a usable address for it; dedup on inbound
// traffic matches addresses exactly (phone numbers compared digits-only).
type Contact struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone,omitempty"`
	WhatsApp        string     `json:"whatsapp,omitempty"`
	Email           string     `json:"email,omitempty"`
	Twitter         string     `json:"twitter,omitempty"`
	Facebook        string     `json:"facebook,omitempty"`
	Telegram        string     `json:"telegram,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	LastContactedAt *time.Time `json:"lastContactedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// AddressFor resolves the outbound destination for a channel.
//
// Chat-style channels prefer their own handle and fall back to the phone
// number; every other channel falls back phone then email. The order is
// deterministic and load-bearing: changing it changes which address a
// scheduled message is delivered to.
func (c *Contact) AddressFor(ch Channel) string {
	switch ch {
	case ChannelWhatsApp:
		return firstNonEmpty(c.WhatsApp, c.Phone)
	case ChannelTelegram:
		return firstNonEmpty(c.Telegram, c.Phone)
	case ChannelSMS, ChannelEmail, ChannelTwitter, ChannelFacebook:
		return firstNonEmpty(c.Phone, c.Email)
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// NormalizeAddress canonicalizes an address for dedup comparison:
// digits-only for phone-shaped addresses (chat prefixes stripped),
// lowercase trim for everything else.
func NormalizeAddress(ch Channel, addr string) string {
	addr = strings.TrimSpace(addr)
	switch ch {
	case ChannelSMS, ChannelWhatsApp:
		addr = strings.TrimPrefix(addr, "whatsapp:")
		return DigitsOnly(addr)
	default:
		return strings.ToLower(addr)
	}
}

// DigitsOnly strips everything but 0-9 from a phone number.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Thread is the single conversation container per contact. Created lazily
// on first message and never deleted.
type Thread struct {
	ID           string    `json:"id"`
	ContactID    string    `json:"contactId"`
	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Message is one inbound or outbound message on a thread. Only status,
// timestamps and the error field mutate after creation.
type Message struct {
	ID           string            `json:"id"`
	ThreadID     string            `json:"threadId"`
	ContactID    string            `json:"contactId"`
	ExternalID   string            `json:"externalId,omitempty"`
	Channel      Channel           `json:"channel"`
	Direction    Direction         `json:"direction"`
	Status       Status            `json:"status"`
	Content      string            `json:"content"`
	MediaURLs    []string          `json:"mediaUrls,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ScheduledFor *time.Time        `json:"scheduledFor,omitempty"`
	SentAt       *time.Time        `json:"sentAt,omitempty"`
	DeliveredAt  *time.Time        `json:"deliveredAt,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// DayStats is the aggregate counter row for one (calendar day, channel)
// pair. Counts only ever increase.
type DayStats struct {
	Date             string  `json:"date"` // YYYY-MM-DD
	Channel          Channel `json:"channel"`
	MessagesSent     int64   `json:"messagesSent"`
	MessagesReceived int64   `json:"messagesReceived"`
	MessagesFailed   int64   `json:"messagesFailed"`
	UniqueContacts   int64   `json:"uniqueContacts"`
	Conversions      int64   `json:"conversions"`
	AvgResponseMS    int64   `json:"avgResponseTime"`
}

// DayKey formats a timestamp as the analytics day bucket.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
