package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"unibox/internal/config"
	"unibox/internal/domain"
)

const twilioAPIBase = "https://api.twilio.com"

// Twilio implements domain.Adapter for the Twilio messaging API. One
// instance serves one channel variant: SMS or WhatsApp (WhatsApp rides the
// same API with a "whatsapp:" address prefix).
type Twilio struct {
	channel domain.Channel
	cfg     config.TwilioConfig
	logger  *slog.Logger
	client  *http.Client
}

func NewTwilio(ch domain.Channel, cfg config.TwilioConfig, client *http.Client, logger *slog.Logger) *Twilio {
	if cfg.APIBase == "" {
		cfg.APIBase = twilioAPIBase
	}
	return &Twilio{channel: ch, cfg: cfg, logger: logger, client: client}
}

func (t *Twilio) Channel() domain.Channel { return t.channel }

func (t *Twilio) Configured() bool {
	return t.cfg.AccountSID != "" && t.cfg.AuthToken != "" && t.senderNumber() != ""
}

// Twilio retries webhooks on non-2xx, so callers answer with an empty
// TwiML document.
func (t *Twilio) AckStyle() domain.AckStyle { return domain.AckTwiML }

func (t *Twilio) senderNumber() string {
	if t.channel == domain.ChannelWhatsApp && t.cfg.WhatsAppNumber != "" {
		return t.cfg.WhatsAppNumber
	}
	return t.cfg.PhoneNumber
}

// Send performs one delivery attempt via the Twilio Messages endpoint.
func (t *Twilio) Send(ctx context.Context, payload domain.OutboundPayload) domain.SendResult {
	form := url.Values{}
	form.Set("To", t.addressify(payload.To))
	form.Set("From", t.addressify(t.senderNumber()))
	if payload.Content != "" {
		form.Set("Body", payload.Content)
	}
	for _, u := range payload.MediaURLs {
		form.Add("MediaUrl", u)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.cfg.APIBase, t.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("build request: %v", err)}
	}
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("twilio request: %v", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("twilio API %d", resp.StatusCode)
		}
		return domain.SendResult{ErrorDetail: apiErr.Message}
	}

	var created struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("twilio response: %v", err)}
	}
	return domain.SendResult{Success: true, ExternalID: created.Sid}
}

// addressify applies the chat-prefix convention for the WhatsApp variant.
func (t *Twilio) addressify(addr string) string {
	if t.channel != domain.ChannelWhatsApp {
		return addr
	}
	if strings.HasPrefix(addr, "whatsapp:") {
		return addr
	}
	return "whatsapp:" + addr
}

// NormalizeInbound maps a form-encoded Twilio callback into the canonical
// inbound shape. Status callbacks and bodies without user content map to
// (nil, nil).
func (t *Twilio) NormalizeInbound(raw []byte) (*domain.InboundMessage, error) {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse twilio form: %w", err)
	}

	// Delivery receipts carry MessageStatus and no Body.
	if form.Get("MessageStatus") != "" && form.Get("Body") == "" {
		return nil, nil
	}

	from := form.Get("From")
	if from == "" {
		return nil, nil
	}

	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
	var media []string
	for i := 0; i < numMedia; i++ {
		if u := form.Get(fmt.Sprintf("MediaUrl%d", i)); u != "" {
			media = append(media, u)
		}
	}

	ch := domain.ChannelSMS
	if strings.HasPrefix(from, "whatsapp:") {
		ch = domain.ChannelWhatsApp
	}

	return &domain.InboundMessage{
		ExternalID: form.Get("MessageSid"),
		From:       from,
		To:         form.Get("To"),
		Channel:    ch,
		Content:    form.Get("Body"),
		MediaURLs:  media,
		Timestamp:  time.Now(),
		Metadata: map[string]string{
			"accountSid": form.Get("AccountSid"),
		},
	}, nil
}

// IsWhatsAppCallback peeks at a raw Twilio form body to tell which channel
// variant it belongs to, so the webhook surface can route it.
func IsWhatsAppCallback(raw []byte) bool {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return false
	}
	return strings.HasPrefix(form.Get("From"), "whatsapp:")
}
