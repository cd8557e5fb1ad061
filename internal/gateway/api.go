package gateway

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"unibox/internal/dispatch"
	"unibox/internal/domain"
)

type sendMessageRequest struct {
	ContactID    string            `json:"contactId"`
	Channel      string            `json:"channel"`
	Content      string            `json:"content"`
	MediaURLs    []string          `json:"mediaUrls,omitempty"`
	Template     string            `json:"template,omitempty"`
	TemplateVars map[string]string `json:"templateVars,omitempty"`
	ScheduledFor *time.Time        `json:"scheduledFor,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ContactID == "" {
		writeError(w, http.StatusBadRequest, "contactId is required")
		return
	}
	if req.Content == "" && req.Template == "" {
		writeError(w, http.StatusBadRequest, "content or template is required")
		return
	}

	ch, err := domain.ParseChannel(req.Channel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := s.deps.Dispatcher.Send(r.Context(), dispatch.SendRequest{
		ContactID:    req.ContactID,
		Channel:      ch,
		Content:      req.Content,
		MediaURLs:    req.MediaURLs,
		Template:     req.Template,
		TemplateVars: req.TemplateVars,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrContactNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrNoRecipient), errors.Is(err, domain.ErrUnknownChannel):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("send message failed", "err", err)
			writeError(w, http.StatusInternalServerError, "send failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	contactID := r.URL.Query().Get("contactId")
	limit := queryInt(r, "limit", 50)

	msgs, err := s.deps.Store.ListMessages(r.Context(), contactID, limit)
	if err != nil {
		s.logger.Error("list messages failed", "err", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type createContactRequest struct {
	Name     string   `json:"name"`
	Phone    string   `json:"phone,omitempty"`
	WhatsApp string   `json:"whatsapp,omitempty"`
	Email    string   `json:"email,omitempty"`
	Twitter  string   `json:"twitter,omitempty"`
	Facebook string   `json:"facebook,omitempty"`
	Telegram string   `json:"telegram,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func (s *Server) handleCreateContact(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	contact := &domain.Contact{
		Name:     req.Name,
		Phone:    req.Phone,
		WhatsApp: req.WhatsApp,
		Email:    req.Email,
		Twitter:  req.Twitter,
		Facebook: req.Facebook,
		Telegram: req.Telegram,
		Tags:     req.Tags,
	}
	if err := s.deps.Store.CreateContact(r.Context(), contact); err != nil {
		s.logger.Error("create contact failed", "err", err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, contact)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.deps.Store.ListContacts(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		s.logger.Error("list contacts failed", "err", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.deps.Store.ListThreads(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		s.logger.Error("list threads failed", "err", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

type integrationStatus struct {
	Channel    domain.Channel `json:"channel"`
	Configured bool           `json:"configured"`
}

func (s *Server) handleIntegrationStatus(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Registry.Status()
	out := make([]integrationStatus, 0, len(status))
	for _, ch := range domain.AllChannels() {
		out = append(out, integrationStatus{Channel: ch, Configured: status[ch]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"integrations": out})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	if days < 1 {
		days = 1
	}

	var ch domain.Channel
	if raw := r.URL.Query().Get("channel"); raw != "" {
		parsed, err := domain.ParseChannel(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ch = parsed
	}

	since := domain.DayKey(time.Now().AddDate(0, 0, -(days - 1)))
	stats, err := s.deps.Store.StatsSince(r.Context(), since, ch)
	if err != nil {
		s.logger.Error("analytics query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "analytics failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"since":  since,
		"stats":  stats,
		"totals": summarizeStats(stats),
	})
}

type statsTotals struct {
	MessagesSent     int64 `json:"messagesSent"`
	MessagesReceived int64 `json:"messagesReceived"`
	MessagesFailed   int64 `json:"messagesFailed"`
	// UniqueContacts is the peak daily count, not a sum; the same contact
	// shows up in every day it was active.
	UniqueContacts int64 `json:"uniqueContacts"`
	Conversions    int64 `json:"conversions"`
	AvgResponseMS  int64 `json:"avgResponseTime"`
}

// summarizeStats rolls daily rows into period totals.
func summarizeStats(stats []domain.DayStats) statsTotals {
	var t statsTotals
	var responseSum int64
	for _, st := range stats {
		t.MessagesSent += st.MessagesSent
		t.MessagesReceived += st.MessagesReceived
		t.MessagesFailed += st.MessagesFailed
		t.Conversions += st.Conversions
		if st.UniqueContacts > t.UniqueContacts {
			t.UniqueContacts = st.UniqueContacts
		}
		responseSum += st.AvgResponseMS
	}
	if len(stats) > 0 {
		t.AvgResponseMS = int64(math.Round(float64(responseSum) / float64(len(stats))))
	}
	return t
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	if s.deps.Templates == nil {
		writeJSON(w, http.StatusOK, map[string]any{"templates": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": s.deps.Templates.List()})
}

// handleCronSweep triggers one sweep run. External schedulers hit this
// endpoint; the bearer secret keeps strangers from burning provider quota.
func (s *Server) handleCronSweep(w http.ResponseWriter, r *http.Request) {
	if secret := s.deps.Config.Server.CronSecret; secret != "" {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != secret {
			writeError(w, http.StatusUnauthorized, "invalid cron secret")
			return
		}
	}

	result, err := s.deps.Sweeper.Run(r.Context())
	if err != nil {
		s.logger.Error("sweep failed", "err", err)
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
