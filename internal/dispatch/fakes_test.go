package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"unibox/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeStore is an in-memory Store for exercising the dispatch paths
// without SQLite.
type fakeStore struct {
	mu       sync.Mutex
	contacts map[string]*domain.Contact
	threads  map[string]*domain.Thread // keyed by contact id
	messages []*domain.Message
	counters map[string]int64 // "day|channel|kind"

	failCreateMessage error
	nextID            int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contacts: make(map[string]*domain.Contact),
		threads:  make(map[string]*domain.Thread),
		counters: make(map[string]int64),
	}
}

func (f *fakeStore) genID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) CreateContact(_ context.Context, c *domain.Contact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		c.ID = f.genID("contact")
	}
	c.CreatedAt = time.Now()
	f.contacts[c.ID] = c
	return nil
}

func (f *fakeStore) GetContact(_ context.Context, id string) (*domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) FindContactByAddress(_ context.Context, ch domain.Channel, address string) (*domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := domain.NormalizeAddress(ch, address)
	for _, c := range f.contacts {
		for _, addr := range []string{c.Phone, c.WhatsApp, c.Email, c.Twitter, c.Facebook, c.Telegram} {
			if addr != "" && domain.NormalizeAddress(ch, addr) == want {
				return c, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) ListContacts(_ context.Context, limit int) ([]domain.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Contact
	for _, c := range f.contacts {
		out = append(out, *c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) TouchContact(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contacts[id]; ok {
		c.LastContactedAt = &at
	}
	return nil
}

func (f *fakeStore) GetOrCreateThread(_ context.Context, contactID string) (*domain.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if th, ok := f.threads[contactID]; ok {
		return th, nil
	}
	th := &domain.Thread{ID: f.genID("thread"), ContactID: contactID, CreatedAt: time.Now()}
	f.threads[contactID] = th
	return th, nil
}

func (f *fakeStore) TouchThread(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, th := range f.threads {
		if th.ID == id {
			th.LastActivity = at
		}
	}
	return nil
}

func (f *fakeStore) ListThreads(_ context.Context, limit int) ([]domain.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Thread
	for _, th := range f.threads {
		out = append(out, *th)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) CreateMessage(_ context.Context, m *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateMessage != nil {
		return f.failCreateMessage
	}
	if m.ExternalID != "" {
		for _, existing := range f.messages {
			if existing.Channel == m.Channel && existing.ExternalID == m.ExternalID {
				return domain.ErrDuplicateMessage
			}
		}
	}
	if m.ID == "" {
		m.ID = f.genID("msg")
	}
	m.CreatedAt = time.Now()
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) ListMessages(_ context.Context, contactID string, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if contactID != "" && m.ContactID != contactID {
			continue
		}
		out = append(out, *m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) MarkSent(_ context.Context, id, externalID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			m.Status = domain.StatusSent
			m.ExternalID = externalID
			m.SentAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) MarkFailed(_ context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			m.Status = domain.StatusFailed
			m.ErrorMessage = reason
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) DueScheduled(_ context.Context, now time.Time, limit int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.Status == domain.StatusScheduled && m.ScheduledFor != nil && !m.ScheduledFor.After(now) {
			out = append(out, *m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ClaimScheduled(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id && m.Status == domain.StatusScheduled {
			m.Status = domain.StatusSending
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) counterKey(day string, ch domain.Channel, kind string) string {
	return day + "|" + string(ch) + "|" + kind
}

func (f *fakeStore) IncrementSent(_ context.Context, day string, ch domain.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[f.counterKey(day, ch, "sent")]++
	return nil
}

func (f *fakeStore) IncrementReceived(_ context.Context, day string, ch domain.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[f.counterKey(day, ch, "received")]++
	return nil
}

func (f *fakeStore) IncrementFailed(_ context.Context, day string, ch domain.Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[f.counterKey(day, ch, "failed")]++
	return nil
}

func (f *fakeStore) StatsSince(context.Context, string, domain.Channel) ([]domain.DayStats, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) counter(ch domain.Channel, kind string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[f.counterKey(domain.DayKey(time.Now()), ch, kind)]
}

func (f *fakeStore) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// fakeAdapter scripts send results and normalized inbound messages.
type fakeAdapter struct {
	channel    domain.Channel
	configured bool
	results    []domain.SendResult // consumed in order; last one repeats
	sent       []domain.OutboundPayload

	inbound    *domain.InboundMessage
	inboundErr error
}

func (a *fakeAdapter) Channel() domain.Channel { return a.channel }
func (a *fakeAdapter) Configured() bool        { return a.configured }

func (a *fakeAdapter) Send(_ context.Context, p domain.OutboundPayload) domain.SendResult {
	a.sent = append(a.sent, p)
	if len(a.results) == 0 {
		return domain.SendResult{Success: true, ExternalID: "ext-default"}
	}
	r := a.results[0]
	if len(a.results) > 1 {
		a.results = a.results[1:]
	}
	return r
}

func (a *fakeAdapter) NormalizeInbound([]byte) (*domain.InboundMessage, error) {
	return a.inbound, a.inboundErr
}

func (a *fakeAdapter) AckStyle() domain.AckStyle { return domain.AckJSON }

// fakeResolver maps channels to scripted adapters.
type fakeResolver struct {
	adapters map[domain.Channel]domain.Adapter
}

func (r *fakeResolver) Get(ch domain.Channel) (domain.Adapter, bool) {
	a, ok := r.adapters[ch]
	return a, ok
}

func resolverWith(adapters ...*fakeAdapter) *fakeResolver {
	r := &fakeResolver{adapters: make(map[domain.Channel]domain.Adapter)}
	for _, a := range adapters {
		r.adapters[a.channel] = a
	}
	return r
}

// recordingNotifier captures events emitted by the dispatch paths.
type recordingNotifier struct {
	mu      sync.Mutex
	created []domain.Message
	updated []domain.Message
}

func (n *recordingNotifier) MessageCreated(m domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, m)
}

func (n *recordingNotifier) MessageUpdated(m domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, m)
}
