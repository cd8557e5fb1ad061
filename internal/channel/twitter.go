package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"unibox/internal/config"
	"unibox/internal/domain"
)

const twitterAPIBase = "https://api.twitter.com"

// Twitter implements domain.Adapter for X/Twitter direct messages (API v2).
type Twitter struct {
	cfg    config.TwitterConfig
	logger *slog.Logger
	client *http.Client
}

func NewTwitter(cfg config.TwitterConfig, client *http.Client, logger *slog.Logger) *Twitter {
	if cfg.APIBase == "" {
		cfg.APIBase = twitterAPIBase
	}
	return &Twitter{cfg: cfg, logger: logger, client: client}
}

func (t *Twitter) Channel() domain.Channel   { return domain.ChannelTwitter }
func (t *Twitter) Configured() bool          { return t.cfg.BearerToken != "" }
func (t *Twitter) AckStyle() domain.AckStyle { return domain.AckJSON }

func (t *Twitter) Send(ctx context.Context, payload domain.OutboundPayload) domain.SendResult {
	body, err := json.Marshal(map[string]any{"text": payload.Content})
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("marshal: %v", err)}
	}

	endpoint := fmt.Sprintf("%s/2/dm_conversations/with/%s/messages", t.cfg.APIBase, payload.To)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.BearerToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("twitter request: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		detail := "failed to send Twitter DM"
		if len(apiErr.Errors) > 0 && apiErr.Errors[0].Message != "" {
			detail = apiErr.Errors[0].Message
		}
		return domain.SendResult{ErrorDetail: detail}
	}

	var created struct {
		Data struct {
			DMEventID string `json:"dm_event_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("twitter response: %v", err)}
	}
	return domain.SendResult{Success: true, ExternalID: created.Data.DMEventID}
}

// NormalizeInbound maps an account-activity DM event.
func (t *Twitter) NormalizeInbound(raw []byte) (*domain.InboundMessage, error) {
	var payload struct {
		DirectMessageEvents []struct {
			ID               string `json:"id"`
			CreatedTimestamp string `json:"created_timestamp"`
			MessageCreate    struct {
				SenderID string `json:"sender_id"`
				Target   struct {
					RecipientID string `json:"recipient_id"`
				} `json:"target"`
				MessageData struct {
					Text string `json:"text"`
				} `json:"message_data"`
			} `json:"message_create"`
		} `json:"direct_message_events"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.logger.Warn("twitter webhook: bad payload", "err", err)
		return nil, nil
	}
	if len(payload.DirectMessageEvents) == 0 {
		return nil, nil
	}
	event := payload.DirectMessageEvents[0]
	if event.MessageCreate.SenderID == "" {
		return nil, nil
	}

	ts := time.Now()
	if ms, err := strconv.ParseInt(event.CreatedTimestamp, 10, 64); err == nil {
		ts = time.UnixMilli(ms)
	}

	return &domain.InboundMessage{
		ExternalID: event.ID,
		From:       event.MessageCreate.SenderID,
		To:         event.MessageCreate.Target.RecipientID,
		Channel:    domain.ChannelTwitter,
		Content:    event.MessageCreate.MessageData.Text,
		Timestamp:  ts,
	}, nil
}
