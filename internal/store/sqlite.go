package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	// Run migrations
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		Policies:      &SQLitePolicyRepo{db: db},
		Members:       &SQLiteMemberRepo{db: db},
		RelayMappings: &SQLiteRelayMappingRepo{db: db},
		RelaySettings: &SQLiteRelaySettingsRepo{db: db},
		Filters:       &SQLiteFilterRepo{db: db},
		Logs:          &SQLiteLogRepo{db: db},
		close:         db.Close,
	}, nil
}

func runMigrations(db *sql.DB) error {
	migration := `
	-- Group policies
	CREATE TABLE IF NOT EXISTS group_policies (
		chat_id INTEGER PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		original_title TEXT NOT NULL DEFAULT '',
		welcome_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		welcome_message TEXT NOT NULL DEFAULT '',
		goodbye_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		goodbye_message TEXT NOT NULL DEFAULT '',
		anti_spam_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		anti_flood_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		anti_link_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		captcha_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		service_delete_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		locks TEXT NOT NULL DEFAULT '{}',
		bad_words TEXT NOT NULL DEFAULT '[]',
		whitelist_users TEXT NOT NULL DEFAULT '[]',
		keep_service_types TEXT NOT NULL DEFAULT '[]',
		log_channel_id INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Member state
	CREATE TABLE IF NOT EXISTS members (
		chat_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		warnings INTEGER NOT NULL DEFAULT 0,
		muted_until TIMESTAMP,
		is_whitelisted BOOLEAN NOT NULL DEFAULT FALSE,
		verification_pending BOOLEAN NOT NULL DEFAULT FALSE,
		verification_deadline TIMESTAMP,
		verified_at TIMESTAMP,
		is_deleted_likely BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (chat_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_members_username ON members(chat_id, username);
	CREATE INDEX IF NOT EXISTS idx_members_pending ON members(verification_deadline) WHERE verification_pending = TRUE;

	-- Relay correlation
	CREATE TABLE IF NOT EXISTS relay_mappings (
		relay_chat_id INTEGER NOT NULL,
		relay_message_id INTEGER NOT NULL,
		original_chat_id INTEGER NOT NULL,
		original_message_id INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (relay_chat_id, relay_message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_relay_mappings_created ON relay_mappings(created_at);

	-- Relay settings singleton
	CREATE TABLE IF NOT EXISTS relay_settings (
		name TEXT PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		mode TEXT NOT NULL DEFAULT 'private',
		channel_id INTEGER,
		updated_at TIMESTAMP NOT NULL
	);

	-- Filters
	CREATE TABLE IF NOT EXISTS filters (
		chat_id INTEGER NOT NULL,
		trigger_text TEXT NOT NULL,
		response TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (chat_id, trigger_text)
	);

	-- Moderation log
	CREATE TABLE IF NOT EXISTS moderation_logs (
		id TEXT PRIMARY KEY,
		chat_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		actor_id INTEGER,
		target_id INTEGER,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_moderation_logs_chat ON moderation_logs(chat_id, created_at DESC);
	`
	_, err := db.Exec(migration)
	return err
}

// SQLitePolicyRepo implements PolicyRepository.
type SQLitePolicyRepo struct {
	db *sql.DB
}

const policyColumns = `chat_id, title, original_title, welcome_enabled, welcome_message, goodbye_enabled, goodbye_message,
	anti_spam_enabled, anti_flood_enabled, anti_link_enabled, captcha_enabled, service_delete_enabled,
	locks, bad_words, whitelist_users, keep_service_types, log_channel_id, created_at, updated_at`

func (r *SQLitePolicyRepo) FindOrDefault(ctx context.Context, chatID int64, title string) (*GroupPolicy, error) {
	p, err := r.Get(ctx, chatID)
	if err == nil {
		if title != "" && p.Title != title {
			p.Title = title
			if err := r.Save(ctx, p); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p = NewGroupPolicy(chatID, title)
	p.OriginalTitle = title
	if err := r.insertDefault(ctx, p); err != nil {
		return nil, err
	}
	// Another update may have created the row first.
	return r.Get(ctx, chatID)
}

func (r *SQLitePolicyRepo) insertDefault(ctx context.Context, p *GroupPolicy) error {
	args, err := policyArgs(p)
	if err != nil {
		return err
	}
	query := `INSERT INTO group_policies (` + policyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO NOTHING`
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *SQLitePolicyRepo) Get(ctx context.Context, chatID int64) (*GroupPolicy, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM group_policies WHERE chat_id = ?`, chatID)
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *SQLitePolicyRepo) Save(ctx context.Context, p *GroupPolicy) error {
	p.UpdatedAt = time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	args, err := policyArgs(p)
	if err != nil {
		return err
	}
	query := `INSERT INTO group_policies (` + policyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			title = excluded.title,
			original_title = excluded.original_title,
			welcome_enabled = excluded.welcome_enabled,
			welcome_message = excluded.welcome_message,
			goodbye_enabled = excluded.goodbye_enabled,
			goodbye_message = excluded.goodbye_message,
			anti_spam_enabled = excluded.anti_spam_enabled,
			anti_flood_enabled = excluded.anti_flood_enabled,
			anti_link_enabled = excluded.anti_link_enabled,
			captcha_enabled = excluded.captcha_enabled,
			service_delete_enabled = excluded.service_delete_enabled,
			locks = excluded.locks,
			bad_words = excluded.bad_words,
			whitelist_users = excluded.whitelist_users,
			keep_service_types = excluded.keep_service_types,
			log_channel_id = excluded.log_channel_id,
			updated_at = excluded.updated_at`
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *SQLitePolicyRepo) List(ctx context.Context) ([]GroupPolicy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+policyColumns+` FROM group_policies ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []GroupPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

func (r *SQLitePolicyRepo) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT chat_id FROM group_policies ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func policyArgs(p *GroupPolicy) ([]any, error) {
	locks, err := json.Marshal(p.Locks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode locks: %w", err)
	}
	badWords, err := marshalList(p.BadWords)
	if err != nil {
		return nil, err
	}
	whitelist, err := marshalList(p.WhitelistUsers)
	if err != nil {
		return nil, err
	}
	keep, err := marshalList(p.KeepServiceTypes)
	if err != nil {
		return nil, err
	}
	return []any{
		p.ChatID, p.Title, p.OriginalTitle, p.WelcomeEnabled, p.WelcomeMessage, p.GoodbyeEnabled, p.GoodbyeMessage,
		p.AntiSpamEnabled, p.AntiFloodEnabled, p.AntiLinkEnabled, p.CaptchaEnabled, p.ServiceDeleteEnabled,
		string(locks), badWords, whitelist, keep, p.LogChannelID, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	}, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*GroupPolicy, error) {
	var p GroupPolicy
	var locks, badWords, whitelist, keep string
	var logChannel sql.NullInt64

	err := row.Scan(
		&p.ChatID, &p.Title, &p.OriginalTitle, &p.WelcomeEnabled, &p.WelcomeMessage, &p.GoodbyeEnabled, &p.GoodbyeMessage,
		&p.AntiSpamEnabled, &p.AntiFloodEnabled, &p.AntiLinkEnabled, &p.CaptchaEnabled, &p.ServiceDeleteEnabled,
		&locks, &badWords, &whitelist, &keep, &logChannel, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(locks), &p.Locks); err != nil {
		return nil, fmt.Errorf("failed to decode locks: %w", err)
	}
	if err := json.Unmarshal([]byte(badWords), &p.BadWords); err != nil {
		return nil, fmt.Errorf("failed to decode bad words: %w", err)
	}
	if err := json.Unmarshal([]byte(whitelist), &p.WhitelistUsers); err != nil {
		return nil, fmt.Errorf("failed to decode whitelist: %w", err)
	}
	if err := json.Unmarshal([]byte(keep), &p.KeepServiceTypes); err != nil {
		return nil, fmt.Errorf("failed to decode keep service types: %w", err)
	}
	if logChannel.Valid {
		id := logChannel.Int64
		p.LogChannelID = &id
	}
	return &p, nil
}

func marshalList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(data), nil
}

// SQLiteMemberRepo implements MemberRepository.
type SQLiteMemberRepo struct {
	db *sql.DB
}

const memberColumns = `chat_id, user_id, username, first_name, last_name, warnings, muted_until, is_whitelisted,
	verification_pending, verification_deadline, verified_at, is_deleted_likely, updated_at`

func (r *SQLiteMemberRepo) FindOrDefault(ctx context.Context, chatID, userID int64) (*MemberState, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return &MemberState{ChatID: chatID, UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *SQLiteMemberRepo) Upsert(ctx context.Context, chatID, userID int64, patch MemberPatch) (*MemberState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		m = &MemberState{ChatID: chatID, UserID: userID}
	} else if err != nil {
		return nil, err
	}

	patch.Apply(m)
	m.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO members (` + memberColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			warnings = excluded.warnings,
			muted_until = excluded.muted_until,
			is_whitelisted = excluded.is_whitelisted,
			verification_pending = excluded.verification_pending,
			verification_deadline = excluded.verification_deadline,
			verified_at = excluded.verified_at,
			is_deleted_likely = excluded.is_deleted_likely,
			updated_at = excluded.updated_at`
	_, err = tx.ExecContext(ctx, query,
		m.ChatID, m.UserID, m.Username, m.FirstName, m.LastName, m.Warnings, utcPtr(m.MutedUntil), m.IsWhitelisted,
		m.VerificationPending, utcPtr(m.VerificationDeadline), utcPtr(m.VerifiedAt), m.IsDeletedLikely, m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit member upsert: %w", err)
	}
	return m, nil
}

func (r *SQLiteMemberRepo) IncrementWarnings(ctx context.Context, chatID, userID int64) (int, error) {
	query := `INSERT INTO members (chat_id, user_id, warnings, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			warnings = members.warnings + 1,
			updated_at = excluded.updated_at`
	if _, err := r.db.ExecContext(ctx, query, chatID, userID, time.Now().UTC()); err != nil {
		return 0, err
	}

	var warnings int
	err := r.db.QueryRowContext(ctx, `SELECT warnings FROM members WHERE chat_id = ? AND user_id = ?`, chatID, userID).Scan(&warnings)
	return warnings, err
}

func (r *SQLiteMemberRepo) FindByUsername(ctx context.Context, chatID int64, username string) (*MemberState, error) {
	username = strings.TrimPrefix(username, "@")
	row := r.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE chat_id = ? AND lower(username) = lower(?) ORDER BY updated_at DESC LIMIT 1`,
		chatID, username)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *SQLiteMemberRepo) ListPendingExpired(ctx context.Context, before time.Time) ([]MemberState, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members
		WHERE verification_pending = TRUE AND verification_deadline IS NOT NULL AND verification_deadline <= ?
		ORDER BY verification_deadline`,
		before.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []MemberState
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (r *SQLiteMemberRepo) CountDeletedLikely(ctx context.Context, chatID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM members WHERE chat_id = ? AND is_deleted_likely = TRUE", chatID).Scan(&count)
	return count, err
}

func (r *SQLiteMemberRepo) Count(ctx context.Context, chatIDs []int64) (int, error) {
	if len(chatIDs) == 0 {
		return 0, nil
	}
	placeholders, args := inClause(chatIDs)
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM members WHERE chat_id IN ("+placeholders+")", args...).Scan(&count)
	return count, err
}

func scanMember(row rowScanner) (*MemberState, error) {
	var m MemberState
	var mutedUntil, deadline, verifiedAt sql.NullTime

	err := row.Scan(
		&m.ChatID, &m.UserID, &m.Username, &m.FirstName, &m.LastName, &m.Warnings, &mutedUntil, &m.IsWhitelisted,
		&m.VerificationPending, &deadline, &verifiedAt, &m.IsDeletedLikely, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if mutedUntil.Valid {
		m.MutedUntil = &mutedUntil.Time
	}
	if deadline.Valid {
		m.VerificationDeadline = &deadline.Time
	}
	if verifiedAt.Valid {
		m.VerifiedAt = &verifiedAt.Time
	}
	return &m, nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

// SQLiteRelayMappingRepo implements RelayMappingRepository.
type SQLiteRelayMappingRepo struct {
	db *sql.DB
}

func (r *SQLiteRelayMappingRepo) Save(ctx context.Context, m *RelayMapping) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO relay_mappings (relay_chat_id, relay_message_id, original_chat_id, original_message_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(relay_chat_id, relay_message_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, m.RelayChatID, m.RelayMessageID, m.OriginalChatID, m.OriginalMessageID, m.CreatedAt.UTC())
	return err
}

func (r *SQLiteRelayMappingRepo) Find(ctx context.Context, relayChatID int64, relayMessageID int) (*RelayMapping, error) {
	query := `SELECT relay_chat_id, relay_message_id, original_chat_id, original_message_id, created_at
		FROM relay_mappings WHERE relay_chat_id = ? AND relay_message_id = ?`

	var m RelayMapping
	err := r.db.QueryRowContext(ctx, query, relayChatID, relayMessageID).Scan(
		&m.RelayChatID, &m.RelayMessageID, &m.OriginalChatID, &m.OriginalMessageID, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *SQLiteRelayMappingRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM relay_mappings WHERE created_at < ?", before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SQLiteRelaySettingsRepo implements RelaySettingsRepository.
type SQLiteRelaySettingsRepo struct {
	db *sql.DB
}

func (r *SQLiteRelaySettingsRepo) Get(ctx context.Context) (*RelaySettings, error) {
	defaults := DefaultRelaySettings()
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO relay_settings (name, enabled, mode, channel_id, updated_at) VALUES (?, ?, ?, NULL, ?)`,
		defaults.Key, defaults.Enabled, defaults.Mode, defaults.UpdatedAt)
	if err != nil {
		return nil, err
	}

	var s RelaySettings
	var channelID sql.NullInt64
	err = r.db.QueryRowContext(ctx,
		`SELECT name, enabled, mode, channel_id, updated_at FROM relay_settings WHERE name = ?`, RelaySettingsKey,
	).Scan(&s.Key, &s.Enabled, &s.Mode, &channelID, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if channelID.Valid {
		id := channelID.Int64
		s.ChannelID = &id
	}
	return &s, nil
}

func (r *SQLiteRelaySettingsRepo) Save(ctx context.Context, s *RelaySettings) error {
	s.Key = RelaySettingsKey
	s.UpdatedAt = time.Now().UTC()
	query := `INSERT INTO relay_settings (name, enabled, mode, channel_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			enabled = excluded.enabled,
			mode = excluded.mode,
			channel_id = excluded.channel_id,
			updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query, s.Key, s.Enabled, s.Mode, s.ChannelID, s.UpdatedAt)
	return err
}

// SQLiteFilterRepo implements FilterRepository.
type SQLiteFilterRepo struct {
	db *sql.DB
}

func (r *SQLiteFilterRepo) Upsert(ctx context.Context, f *Filter) error {
	f.Trigger = strings.ToLower(strings.TrimSpace(f.Trigger))
	f.UpdatedAt = time.Now().UTC()
	query := `INSERT INTO filters (chat_id, trigger_text, response, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id, trigger_text) DO UPDATE SET
			response = excluded.response,
			updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query, f.ChatID, f.Trigger, f.Response, f.UpdatedAt)
	return err
}

func (r *SQLiteFilterRepo) Find(ctx context.Context, chatID int64, trigger string) (*Filter, error) {
	var f Filter
	err := r.db.QueryRowContext(ctx,
		`SELECT chat_id, trigger_text, response, updated_at FROM filters WHERE chat_id = ? AND trigger_text = ?`,
		chatID, strings.ToLower(strings.TrimSpace(trigger)),
	).Scan(&f.ChatID, &f.Trigger, &f.Response, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *SQLiteFilterRepo) List(ctx context.Context, chatID int64) ([]Filter, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT chat_id, trigger_text, response, updated_at FROM filters WHERE chat_id = ? ORDER BY trigger_text`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var filters []Filter
	for rows.Next() {
		var f Filter
		if err := rows.Scan(&f.ChatID, &f.Trigger, &f.Response, &f.UpdatedAt); err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, rows.Err()
}

func (r *SQLiteFilterRepo) Delete(ctx context.Context, chatID int64, trigger string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM filters WHERE chat_id = ? AND trigger_text = ?",
		chatID, strings.ToLower(strings.TrimSpace(trigger)))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteFilterRepo) Count(ctx context.Context, chatIDs []int64) (int, error) {
	if len(chatIDs) == 0 {
		return 0, nil
	}
	placeholders, args := inClause(chatIDs)
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM filters WHERE chat_id IN ("+placeholders+")", args...).Scan(&count)
	return count, err
}

// SQLiteLogRepo implements LogRepository.
type SQLiteLogRepo struct {
	db *sql.DB
}

func (r *SQLiteLogRepo) Append(ctx context.Context, e *LogEntry) error {
	metadata := "{}"
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(data)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO moderation_logs (id, chat_id, action, actor_id, target_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, e.ID, e.ChatID, e.Action, e.ActorID, e.TargetID, metadata, e.CreatedAt.UTC())
	return err
}

func (r *SQLiteLogRepo) List(ctx context.Context, chatID int64, limit int) ([]LogEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, chat_id, action, actor_id, target_id, metadata, created_at
		FROM moderation_logs WHERE chat_id = ? ORDER BY created_at DESC LIMIT ?`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var actor, target sql.NullInt64
		var metadata string
		if err := rows.Scan(&e.ID, &e.ChatID, &e.Action, &actor, &target, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actor.Valid {
			id := actor.Int64
			e.ActorID = &id
		}
		if target.Valid {
			id := target.Int64
			e.TargetID = &id
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
