package channel

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
	"time"

	"unibox/internal/config"
	"unibox/internal/domain"
)

const facebookAPIBase = "https://graph.facebook.com/v18.0"

// Facebook implements domain.Adapter for Facebook Messenger page
// conversations via the Graph API.
type Facebook struct {
	cfg    config.FacebookConfig
	logger *slog.Logger
	client *http.Client
}

func NewFacebook(cfg config.FacebookConfig, client *http.Client, logger *slog.Logger) *Facebook {
	if cfg.APIBase == "" {
		cfg.APIBase = facebookAPIBase
	}
	return &Facebook{cfg: cfg, logger: logger, client: client}
}

func (f *Facebook) Channel() domain.Channel { return domain.ChannelFacebook }

func (f *Facebook) Configured() bool {
	return f.cfg.AppID != "" && f.cfg.AppSecret != "" && f.cfg.PageAccessToken != ""
}

// Facebook re-delivers aggressively on anything but a 200, so the webhook
// surface acknowledges even when internal processing fails.
func (f *Facebook) AckStyle() domain.AckStyle { return domain.AckAlwaysOK }

// VerifyToken is the hub.verify_token expected on the GET subscription
// handshake.
func (f *Facebook) VerifyToken() string { return f.cfg.VerifyToken }

func (f *Facebook) Send(ctx context.Context, payload domain.OutboundPayload) domain.SendResult {
	message := map[string]any{"text": payload.Content}
	if len(payload.MediaURLs) > 0 {
		message = map[string]any{
			"attachment": map[string]any{
				"type":    "image",
				"payload": map[string]any{"url": payload.MediaURLs[0]},
			},
		}
	}

	body, err := json.Marshal(map[string]any{
		"recipient": map[string]string{"id": payload.To},
		"message":   message,
	})
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("marshal: %v", err)}
	}

	endpoint := fmt.Sprintf("%s/me/messages?access_token=%s", f.cfg.APIBase, f.cfg.PageAccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("facebook request: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		if apiErr.Error.Message == "" {
			apiErr.Error.Message = "failed to send Facebook message"
		}
		return domain.SendResult{ErrorDetail: apiErr.Error.Message}
	}

	var created struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("facebook response: %v", err)}
	}
	return domain.SendResult{Success: true, ExternalID: created.MessageID}
}

// NormalizeInbound maps a page webhook event. Events without a message
// body (read receipts, postbacks) map to (nil, nil).
func (f *Facebook) NormalizeInbound(raw []byte) (*domain.InboundMessage, error) {
	var payload fbPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		f.logger.Warn("facebook webhook: bad payload", "err", err)
		return nil, nil
	}
	if payload.Object != "page" || len(payload.Entry) == 0 {
		return nil, nil
	}

	entry := payload.Entry[0]
	if len(entry.Messaging) == 0 || entry.Messaging[0].Message == nil {
		return nil, nil
	}
	messaging := entry.Messaging[0]

	var media []string
	for _, a := range messaging.Message.Attachments {
		if a.Payload.URL != "" {
			media = append(media, a.Payload.URL)
		}
	}

	ts := time.Now()
	if messaging.Timestamp > 0 {
		ts = time.UnixMilli(messaging.Timestamp)
	}

	return &domain.InboundMessage{
		ExternalID: messaging.Message.MID,
		From:       messaging.Sender.ID,
		To:         messaging.Recipient.ID,
		Channel:    domain.ChannelFacebook,
		Content:    messaging.Message.Text,
		MediaURLs:  media,
		Timestamp:  ts,
		Metadata: map[string]string{
			"pageId": entry.ID,
		},
	}, nil
}

// ValidateSignature checks the X-Hub-Signature-256 header against the app
// secret.
func (f *Facebook) ValidateSignature(body []byte, signature string) bool {
	if len(signature) < 8 || signature[:7] != "sha256=" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(f.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature[7:]), []byte(computed))
}

// --- Facebook webhook payload types ---

type fbPayload struct {
	Object string    `json:"object"`
	Entry  []fbEntry `json:"entry"`
}

type fbEntry struct {
	ID        string        `json:"id"`
	Messaging []fbMessaging `json:"messaging"`
}

type fbMessaging struct {
	Sender    fbParty    `json:"sender"`
	Recipient fbParty    `json:"recipient"`
	Timestamp int64      `json:"timestamp"`
	Message   *fbMessage `json:"message,omitempty"`
}

type fbParty struct {
	ID string `json:"id"`
}

type fbMessage struct {
	MID         string         `json:"mid"`
	Text        string         `json:"text"`
	Attachments []fbAttachment `json:"attachments"`
}

type fbAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}
