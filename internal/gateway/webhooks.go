package gateway

import (
	"io"
	"net/http"

	"unibox/internal/channel"
	"unibox/internal/dispatch"
	"unibox/internal/domain"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return nil, false
	}
	return body, true
}

// serveWebhook runs one callback through the normalizer and answers in
// the ack style the channel's adapter declares.
func (s *Server) serveWebhook(w http.ResponseWriter, r *http.Request, ch domain.Channel, body []byte) {
	adapter, ok := s.deps.Registry.Get(ch)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown channel")
		return
	}

	result, err := s.deps.Normalizer.Process(r.Context(), ch, body)
	if err != nil {
		s.logger.Error("webhook failed", "channel", ch, "err", err)
	}
	writeAck(w, adapter.AckStyle(), result, err)
}

// writeAck renders the provider acknowledgement for one processed
// callback, honoring the adapter's declared style.
func writeAck(w http.ResponseWriter, style domain.AckStyle, result *dispatch.InboundResult, err error) {
	switch style {
	case domain.AckTwiML:
		if err != nil {
			writeError(w, http.StatusInternalServerError, "processing failed")
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, emptyTwiML)
	case domain.AckAlwaysOK:
		// A non-2xx would put the subscription into a retry storm and
		// eventually disable it, so failures still answer 200.
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "EVENT_RECEIVED")
	default:
		if err != nil {
			writeError(w, http.StatusInternalServerError, "processing failed")
			return
		}
		writeJSON(w, http.StatusOK, webhookAck(result))
	}
}

// handleTwilioWebhook receives both SMS and WhatsApp callbacks on one
// endpoint; the channel is read off the form body.
func (s *Server) handleTwilioWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	ch := domain.ChannelSMS
	if channel.IsWhatsAppCallback(body) {
		ch = domain.ChannelWhatsApp
	}
	s.serveWebhook(w, r, ch, body)
}

// handleFacebookVerify answers the one-time GET subscription handshake.
func (s *Server) handleFacebookVerify(w http.ResponseWriter, r *http.Request) {
	adapter, ok := s.deps.Registry.Get(domain.ChannelFacebook)
	if !ok {
		writeError(w, http.StatusNotFound, "facebook channel unavailable")
		return
	}
	verifier, ok := adapter.(interface{ VerifyToken() string })
	if !ok {
		writeError(w, http.StatusNotFound, "facebook channel unavailable")
		return
	}

	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == verifier.VerifyToken() && verifier.VerifyToken() != "" {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, q.Get("hub.challenge"))
		return
	}
	s.logger.Warn("facebook verification rejected")
	w.WriteHeader(http.StatusForbidden)
}

// handleFacebookWebhook verifies the payload signature before handing
// off; a forged signature is the one case that must not be acked.
func (s *Server) handleFacebookWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	adapter, ok := s.deps.Registry.Get(domain.ChannelFacebook)
	if ok {
		if validator, vok := adapter.(domain.SignatureValidator); vok {
			sig := r.Header.Get("X-Hub-Signature-256")
			if !validator.ValidateSignature(body, sig) {
				s.logger.Warn("facebook webhook signature rejected")
				writeError(w, http.StatusForbidden, "invalid signature")
				return
			}
		}
	}
	s.serveWebhook(w, r, domain.ChannelFacebook, body)
}

// channelWebhook builds the handler for providers whose callbacks need
// no routing or verification beyond the adapter itself.
func (s *Server) channelWebhook(ch domain.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		s.serveWebhook(w, r, ch, body)
	}
}

func webhookAck(result *dispatch.InboundResult) map[string]string {
	switch {
	case result.Ignored:
		return map[string]string{"status": "ignored"}
	case result.Duplicate:
		return map[string]string{"status": "duplicate"}
	default:
		return map[string]string{"status": "received", "messageId": result.Message.ID}
	}
}
