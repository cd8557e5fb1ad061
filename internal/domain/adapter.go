package domain

import (
	"context"
	"time"
)

// OutboundPayload is the canonical shape handed to an adapter for one
// delivery attempt.
type OutboundPayload struct {
	To        string
	Content   string
	MediaURLs []string
	Subject   string
}

// SendResult reports one delivery attempt. Provider rejections are data,
// not Go errors: Success=false with ErrorDetail set.
type SendResult struct {
	Success     bool
	ExternalID  string // provider-assigned message identifier
	ErrorDetail string
}

// InboundMessage is the channel-agnostic shape every adapter normalizes
// provider callbacks into.
type InboundMessage struct {
	ExternalID string
	From       string
	To         string
	Channel    Channel
	Content    string
	MediaURLs  []string
	Timestamp  time.Time
	Metadata   map[string]string
}

// AckStyle tells the webhook surface how a provider expects to be answered.
type AckStyle int

const (
	// AckJSON: JSON body, real status codes.
	AckJSON AckStyle = iota
	// AckTwiML: empty TwiML document on success (Twilio).
	AckTwiML
	// AckAlwaysOK: 200 even on internal failure, so the provider never
	// enters a retry storm (Facebook).
	AckAlwaysOK
)

// Adapter is the per-channel provider integration.
//
// Send performs exactly one delivery attempt and never returns a Go error
// for ordinary provider rejections. NormalizeInbound maps one raw callback
// body to the canonical inbound shape; (nil, nil) means the payload is not
// a deliverable user message (delivery receipt, status ping) and must be
// acknowledged without persisting anything.
type Adapter interface {
	Channel() Channel
	Configured() bool
	Send(ctx context.Context, payload OutboundPayload) SendResult
	NormalizeInbound(raw []byte) (*InboundMessage, error)
	AckStyle() AckStyle
}

// SignatureValidator is an optional adapter capability verifying that a
// callback genuinely originated from the provider. Adapters without it are
// treated as always-valid; production deployments should not rely on that
// default for internet-facing webhooks.
type SignatureValidator interface {
	ValidateSignature(body []byte, signature string) bool
}

// AdapterResolver maps a channel to its adapter. Implemented by the
// channel registry; fakes implement it in tests.
type AdapterResolver interface {
	Get(ch Channel) (Adapter, bool)
}

// Notifier receives message lifecycle events for push surfaces. A no-op
// implementation is fine.
type Notifier interface {
	MessageCreated(m Message)
	MessageUpdated(m Message)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) MessageCreated(Message) {}
func (NopNotifier) MessageUpdated(Message) {}
