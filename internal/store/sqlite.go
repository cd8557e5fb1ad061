package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"unibox/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLite implements domain.Store.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLite(dbPath string, logger *slog.Logger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway, and one
	// connection keeps the atomic upsert-increments free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		phone            TEXT DEFAULT '',
		phone_digits     TEXT DEFAULT '',
		whatsapp         TEXT DEFAULT '',
		whatsapp_digits  TEXT DEFAULT '',
		email            TEXT DEFAULT '',
		twitter          TEXT DEFAULT '',
		facebook         TEXT DEFAULT '',
		telegram         TEXT DEFAULT '',
		tags             TEXT DEFAULT '[]',
		last_contacted_at DATETIME,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(phone_digits);
	CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);

	CREATE TABLE IF NOT EXISTS threads (
		id            TEXT PRIMARY KEY,
		contact_id    TEXT NOT NULL UNIQUE REFERENCES contacts(id),
		last_activity DATETIME NOT NULL,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id            TEXT PRIMARY KEY,
		thread_id     TEXT NOT NULL REFERENCES threads(id),
		contact_id    TEXT NOT NULL REFERENCES contacts(id),
		external_id   TEXT,
		channel       TEXT NOT NULL,
		direction     TEXT NOT NULL,
		status        TEXT NOT NULL,
		content       TEXT NOT NULL,
		media_urls    TEXT DEFAULT '[]',
		metadata      TEXT DEFAULT '{}',
		scheduled_for DATETIME,
		sent_at       DATETIME,
		delivered_at  DATETIME,
		error_message TEXT DEFAULT '',
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_external
		ON messages(channel, external_id) WHERE external_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_messages_due ON messages(status, scheduled_for);
	CREATE INDEX IF NOT EXISTS idx_messages_contact ON messages(contact_id, created_at);

	CREATE TABLE IF NOT EXISTS analytics (
		date              TEXT NOT NULL,
		channel           TEXT NOT NULL,
		messages_sent     INTEGER NOT NULL DEFAULT 0,
		messages_received INTEGER NOT NULL DEFAULT 0,
		messages_failed   INTEGER NOT NULL DEFAULT 0,
		unique_contacts   INTEGER NOT NULL DEFAULT 0,
		conversions       INTEGER NOT NULL DEFAULT 0,
		avg_response_ms   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, channel)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Close() error { return s.db.Close() }

// --- Contacts ---

func (s *SQLite) CreateContact(ctx context.Context, c *domain.Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, name, phone, phone_digits, whatsapp, whatsapp_digits,
		                       email, twitter, facebook, telegram, tags, last_contacted_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name,
		c.Phone, domain.DigitsOnly(c.Phone),
		c.WhatsApp, domain.DigitsOnly(strings.TrimPrefix(c.WhatsApp, "whatsapp:")),
		strings.ToLower(c.Email), c.Twitter, c.Facebook, c.Telegram,
		string(tags), nullTime(c.LastContactedAt), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

const contactCols = `id, name, phone, whatsapp, email, twitter, facebook, telegram, tags, last_contacted_at, created_at`

func (s *SQLite) scanContact(row interface{ Scan(...any) error }) (*domain.Contact, error) {
	var c domain.Contact
	var tags string
	var last sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.WhatsApp, &c.Email,
		&c.Twitter, &c.Facebook, &c.Telegram, &tags, &last, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		c.Tags = nil
	}
	if last.Valid {
		c.LastContactedAt = &last.Time
	}
	return &c, nil
}

func (s *SQLite) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contactCols+` FROM contacts WHERE id = ?`, id)
	return s.scanContact(row)
}

func (s *SQLite) FindContactByAddress(ctx context.Context, ch domain.Channel, address string) (*domain.Contact, error) {
	norm := domain.NormalizeAddress(ch, address)
	if norm == "" {
		return nil, domain.ErrNotFound
	}

	var where string
	args := []any{norm}
	switch ch {
	case domain.ChannelSMS, domain.ChannelWhatsApp:
		// A contact may be stored under either number field; both sides of
		// a Twilio number count as a match.
		where = `phone_digits = ? OR whatsapp_digits = ?`
		args = append(args, norm)
	case domain.ChannelEmail:
		where = `email = ?`
	case domain.ChannelTwitter:
		where = `twitter = ?`
	case domain.ChannelFacebook:
		where = `facebook = ?`
	case domain.ChannelTelegram:
		where = `telegram = ?`
	default:
		return nil, domain.ErrUnknownChannel
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactCols+` FROM contacts WHERE `+where+` LIMIT 1`, args...)
	return s.scanContact(row)
}

func (s *SQLite) ListContacts(ctx context.Context, limit int) ([]domain.Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactCols+` FROM contacts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		c, err := s.scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLite) TouchContact(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET last_contacted_at = ? WHERE id = ?`, at, id)
	return err
}

// --- Threads ---

func (s *SQLite) GetOrCreateThread(ctx context.Context, contactID string) (*domain.Thread, error) {
	now := time.Now()
	// UNIQUE(contact_id) makes this race-safe: a concurrent insert is a
	// no-op and the follow-up select sees the winner's row.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO threads (id, contact_id, last_activity, created_at)
		 VALUES (?, ?, ?, ?)`,
		uuid.NewString(), contactID, now, now)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	var t domain.Thread
	err = s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, last_activity, created_at FROM threads WHERE contact_id = ?`,
		contactID,
	).Scan(&t.ID, &t.ContactID, &t.LastActivity, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLite) TouchThread(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE threads SET last_activity = ? WHERE id = ?`, at, id)
	return err
}

func (s *SQLite) ListThreads(ctx context.Context, limit int) ([]domain.Thread, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contact_id, last_activity, created_at
		 FROM threads ORDER BY last_activity DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Thread
	for rows.Next() {
		var t domain.Thread
		if err := rows.Scan(&t.ID, &t.ContactID, &t.LastActivity, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Messages ---

func (s *SQLite) CreateMessage(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	media, err := json.Marshal(m.MediaURLs)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, contact_id, external_id, channel, direction,
		                       status, content, media_urls, metadata, scheduled_for,
		                       sent_at, delivered_at, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.ContactID, nullString(m.ExternalID),
		string(m.Channel), string(m.Direction), string(m.Status),
		m.Content, string(media), string(meta),
		nullTime(m.ScheduledFor), nullTime(m.SentAt), nullTime(m.DeliveredAt),
		m.ErrorMessage, m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s on %s", domain.ErrDuplicateMessage, m.ExternalID, m.Channel)
		}
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

const messageCols = `id, thread_id, contact_id, external_id, channel, direction, status,
	content, media_urls, metadata, scheduled_for, sent_at, delivered_at, error_message, created_at`

func (s *SQLite) scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	var m domain.Message
	var extID sql.NullString
	var media, meta string
	var sched, sent, delivered sql.NullTime
	err := row.Scan(&m.ID, &m.ThreadID, &m.ContactID, &extID, &m.Channel, &m.Direction,
		&m.Status, &m.Content, &media, &meta, &sched, &sent, &delivered,
		&m.ErrorMessage, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.ExternalID = extID.String
	_ = json.Unmarshal([]byte(media), &m.MediaURLs)
	_ = json.Unmarshal([]byte(meta), &m.Metadata)
	if sched.Valid {
		m.ScheduledFor = &sched.Time
	}
	if sent.Valid {
		m.SentAt = &sent.Time
	}
	if delivered.Valid {
		m.DeliveredAt = &delivered.Time
	}
	return &m, nil
}

func (s *SQLite) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageCols+` FROM messages WHERE id = ?`, id)
	return s.scanMessage(row)
}

func (s *SQLite) ListMessages(ctx context.Context, contactID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE contact_id = ? ORDER BY created_at ASC LIMIT ?`, contactID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *SQLite) MarkSent(ctx context.Context, id, externalID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, sent_at = ?, external_id = ?, error_message = ''
		 WHERE id = ?`,
		string(domain.StatusSent), at, nullString(externalID), id)
	return err
}

func (s *SQLite) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, error_message = ? WHERE id = ?`,
		string(domain.StatusFailed), reason, id)
	return err
}

func (s *SQLite) DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE status = ? AND scheduled_for <= ?
		 ORDER BY scheduled_for ASC LIMIT ?`,
		string(domain.StatusScheduled), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ClaimScheduled is the compare-and-swap that keeps overlapping sweep runs
// from delivering the same message twice.
func (s *SQLite) ClaimScheduled(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE id = ? AND status = ?`,
		string(domain.StatusSending), id, string(domain.StatusScheduled))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// --- Analytics ---

func (s *SQLite) increment(ctx context.Context, column, day string, ch domain.Channel) error {
	// Single-statement upsert so concurrent increments never read-modify-write.
	q := fmt.Sprintf(
		`INSERT INTO analytics (date, channel, %s) VALUES (?, ?, 1)
		 ON CONFLICT(date, channel) DO UPDATE SET %s = %s + 1`,
		column, column, column)
	_, err := s.db.ExecContext(ctx, q, day, string(ch))
	return err
}

func (s *SQLite) IncrementSent(ctx context.Context, day string, ch domain.Channel) error {
	return s.increment(ctx, "messages_sent", day, ch)
}

func (s *SQLite) IncrementReceived(ctx context.Context, day string, ch domain.Channel) error {
	return s.increment(ctx, "messages_received", day, ch)
}

func (s *SQLite) IncrementFailed(ctx context.Context, day string, ch domain.Channel) error {
	return s.increment(ctx, "messages_failed", day, ch)
}

func (s *SQLite) StatsSince(ctx context.Context, since string, ch domain.Channel) ([]domain.DayStats, error) {
	q := `SELECT date, channel, messages_sent, messages_received, messages_failed,
	             unique_contacts, conversions, avg_response_ms
	      FROM analytics WHERE date >= ?`
	args := []any{since}
	if ch != "" {
		q += ` AND channel = ?`
		args = append(args, string(ch))
	}
	q += ` ORDER BY date ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DayStats
	for rows.Next() {
		var d domain.DayStats
		if err := rows.Scan(&d.Date, &d.Channel, &d.MessagesSent, &d.MessagesReceived,
			&d.MessagesFailed, &d.UniqueContacts, &d.Conversions, &d.AvgResponseMS); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- helpers ---

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
