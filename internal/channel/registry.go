package channel

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"unibox/internal/config"
	"unibox/internal/domain"
)

// Registry is the single source of truth mapping a channel variant to its
// adapter. It is constructed by the composition root and handed to every
// component that needs to resolve adapters; there is no package-level
// instance. Adapter construction runs exactly once, on first use, and is
// safe under concurrent first calls.
type Registry struct {
	cfg    *config.Config
	logger *slog.Logger

	once     sync.Once
	adapters map[domain.Channel]domain.Adapter
}

func NewRegistry(cfg *config.Config, logger *slog.Logger) *Registry {
	return &Registry{cfg: cfg, logger: logger}
}

func (r *Registry) init() {
	r.once.Do(func() {
		client := &http.Client{
			Timeout: time.Duration(r.cfg.Providers.TimeoutSeconds) * time.Second,
		}
		p := r.cfg.Providers

		r.adapters = map[domain.Channel]domain.Adapter{
			domain.ChannelSMS:      NewTwilio(domain.ChannelSMS, p.Twilio, client, r.logger),
			domain.ChannelWhatsApp: NewTwilio(domain.ChannelWhatsApp, p.Twilio, client, r.logger),
			domain.ChannelEmail:    NewEmail(p.Email, client, r.logger),
			domain.ChannelTwitter:  NewTwitter(p.Twitter, client, r.logger),
			domain.ChannelFacebook: NewFacebook(p.Facebook, client, r.logger),
			domain.ChannelTelegram: NewTelegram(p.Telegram, client, r.logger),
		}

		configured := 0
		for _, a := range r.adapters {
			if a.Configured() {
				configured++
			}
		}
		r.logger.Info("channel registry initialized",
			"channels", len(r.adapters),
			"configured", configured,
		)
	})
}

// Get resolves a channel to its adapter.
func (r *Registry) Get(ch domain.Channel) (domain.Adapter, bool) {
	r.init()
	a, ok := r.adapters[ch]
	return a, ok
}

// Status reports live configuration state per channel; nothing is cached,
// so credential changes show up on the next call.
func (r *Registry) Status() map[domain.Channel]bool {
	r.init()
	status := make(map[domain.Channel]bool, len(r.adapters))
	for ch, a := range r.adapters {
		status[ch] = a.Configured()
	}
	return status
}

// ConfiguredChannels returns the channels currently able to reach their
// provider, in the canonical order.
func (r *Registry) ConfiguredChannels() []domain.Channel {
	r.init()
	var out []domain.Channel
	for _, ch := range domain.AllChannels() {
		if a, ok := r.adapters[ch]; ok && a.Configured() {
			out = append(out, ch)
		}
	}
	return out
}
