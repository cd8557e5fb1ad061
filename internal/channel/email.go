package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"unibox/internal/config"
	"unibox/internal/domain"
)

const resendAPIBase = "https://api.resend.com"

// Email implements domain.Adapter on the Resend transactional email API.
type Email struct {
	cfg    config.EmailConfig
	logger *slog.Logger
	client *http.Client
}

func NewEmail(cfg config.EmailConfig, client *http.Client, logger *slog.Logger) *Email {
	if cfg.APIBase == "" {
		cfg.APIBase = resendAPIBase
	}
	return &Email{cfg: cfg, logger: logger, client: client}
}

func (e *Email) Channel() domain.Channel   { return domain.ChannelEmail }
func (e *Email) Configured() bool          { return e.cfg.APIKey != "" }
func (e *Email) AckStyle() domain.AckStyle { return domain.AckJSON }

func (e *Email) Send(ctx context.Context, payload domain.OutboundPayload) domain.SendResult {
	subject := payload.Subject
	if subject == "" {
		subject = "Message from Unified Inbox"
	}

	body, err := json.Marshal(map[string]any{
		"from":    e.cfg.From,
		"to":      payload.To,
		"subject": subject,
		"html":    payload.Content,
	})
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("marshal: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.APIBase+"/emails", bytes.NewReader(body))
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("resend request: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = "failed to send email"
		}
		return domain.SendResult{ErrorDetail: apiErr.Message}
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("resend response: %v", err)}
	}
	return domain.SendResult{Success: true, ExternalID: created.ID}
}

// NormalizeInbound maps a Resend inbound-email callback.
func (e *Email) NormalizeInbound(raw []byte) (*domain.InboundMessage, error) {
	var payload struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		To        string `json:"to"`
		Subject   string `json:"subject"`
		Text      string `json:"text"`
		HTML      string `json:"html"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		e.logger.Warn("email webhook: bad payload", "err", err)
		return nil, nil
	}
	if payload.From == "" {
		return nil, nil
	}

	content := payload.Text
	if content == "" {
		content = payload.HTML
	}

	ts := time.Now()
	if payload.CreatedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.CreatedAt); err == nil {
			ts = parsed
		}
	}

	return &domain.InboundMessage{
		ExternalID: payload.ID,
		From:       payload.From,
		To:         payload.To,
		Channel:    domain.ChannelEmail,
		Content:    content,
		Timestamp:  ts,
		Metadata: map[string]string{
			"subject": payload.Subject,
		},
	}, nil
}
