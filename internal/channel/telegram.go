package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"unibox/internal/config"
	"unibox/internal/domain"
)

// Telegram implements domain.Adapter for Telegram bot conversations.
// Inbound traffic arrives as bot webhook updates; outbound goes through
// the Bot API. The destination address is the numeric chat id.
type Telegram struct {
	cfg    config.TelegramConfig
	logger *slog.Logger
	client *http.Client

	initOnce sync.Once
	bot      *tgbotapi.BotAPI
	initErr  error
}

func NewTelegram(cfg config.TelegramConfig, client *http.Client, logger *slog.Logger) *Telegram {
	if cfg.APIBase == "" {
		cfg.APIBase = tgbotapi.APIEndpoint
	}
	return &Telegram{cfg: cfg, logger: logger, client: client}
}

func (t *Telegram) Channel() domain.Channel   { return domain.ChannelTelegram }
func (t *Telegram) Configured() bool          { return t.cfg.Token != "" }
func (t *Telegram) AckStyle() domain.AckStyle { return domain.AckJSON }

// connect dials the Bot API once. The handshake performs a getMe call,
// so it stays out of the constructor and failures surface as send
// failures. The shared client's timeout bounds every Bot API call,
// including this one.
func (t *Telegram) connect() (*tgbotapi.BotAPI, error) {
	t.initOnce.Do(func() {
		bot, err := tgbotapi.NewBotAPIWithClient(t.cfg.Token, t.cfg.APIBase, t.client)
		if err != nil {
			t.initErr = fmt.Errorf("telegram bot init: %w", err)
			return
		}
		t.bot = bot
		t.logger.Info("telegram bot connected", "username", bot.Self.UserName)
	})
	return t.bot, t.initErr
}

func (t *Telegram) Send(ctx context.Context, payload domain.OutboundPayload) domain.SendResult {
	bot, err := t.connect()
	if err != nil {
		return domain.SendResult{ErrorDetail: err.Error()}
	}

	chatID, err := strconv.ParseInt(payload.To, 10, 64)
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("invalid telegram chat id %q", payload.To)}
	}

	sent, err := bot.Send(tgbotapi.NewMessage(chatID, payload.Content))
	if err != nil {
		return domain.SendResult{ErrorDetail: fmt.Sprintf("telegram send: %v", err)}
	}
	return domain.SendResult{
		Success:    true,
		ExternalID: fmt.Sprintf("%d:%d", chatID, sent.MessageID),
	}
}

// NormalizeInbound maps a bot webhook update. Updates without a text
// message (edits, channel posts, callbacks) map to (nil, nil).
func (t *Telegram) NormalizeInbound(raw []byte) (*domain.InboundMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		t.logger.Warn("telegram webhook: bad payload", "err", err)
		return nil, nil
	}
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.Chat == nil {
		return nil, nil
	}

	ts := time.Now()
	if msg.Date > 0 {
		ts = time.Unix(int64(msg.Date), 0)
	}

	meta := map[string]string{}
	if msg.From != nil {
		meta["username"] = msg.From.UserName
	}

	return &domain.InboundMessage{
		// Telegram message ids are only unique per chat.
		ExternalID: fmt.Sprintf("%d:%d", msg.Chat.ID, msg.MessageID),
		From:       strconv.FormatInt(msg.Chat.ID, 10),
		Channel:    domain.ChannelTelegram,
		Content:    msg.Text,
		Timestamp:  ts,
		Metadata:   meta,
	}, nil
}
