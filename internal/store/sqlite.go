// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides messaging-core persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/chat-core/internal/model"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

var schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	handle TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	public_key BLOB,
	password_hash BLOB,
	status TEXT NOT NULL DEFAULT 'offline',
	custom_message TEXT,
	custom_emoji TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL CHECK (kind IN ('direct', 'group')),
	display_name TEXT,
	direct_key TEXT,
	created_at TEXT NOT NULL,
	last_activity_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_direct_key ON conversations(direct_key) WHERE direct_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	joined_at TEXT NOT NULL,
	PRIMARY KEY (conversation_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	media_ref TEXT,
	parent_message_id TEXT,
	read_receipts_enabled INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	deleted_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS delivery_records (
	message_id TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	state TEXT NOT NULL,
	queued_at TEXT NOT NULL,
	sent_at TEXT,
	delivered_at TEXT,
	read_at TEXT,
	PRIMARY KEY (message_id, recipient_id)
);
CREATE INDEX IF NOT EXISTS idx_delivery_recipient_state ON delivery_records(recipient_id, state);
CREATE INDEX IF NOT EXISTS idx_delivery_conversation_recipient ON delivery_records(conversation_id, recipient_id);

CREATE TABLE IF NOT EXISTS reactions (
	message_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	emoji TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (message_id, user_id, emoji)
);

CREATE TABLE IF NOT EXISTS offline_queue (
	id TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	conversation_id TEXT,
	event_type TEXT NOT NULL,
	payload BLOB,
	message_id TEXT,
	enqueued_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_offline_recipient_enqueued ON offline_queue(recipient_id, enqueued_at);

CREATE TABLE IF NOT EXISTS push_subscriptions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	endpoint TEXT NOT NULL UNIQUE,
	p256dh_key TEXT NOT NULL,
	auth_key TEXT NOT NULL,
	user_agent TEXT,
	created_at TEXT NOT NULL,
	last_fail_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user ON push_subscriptions(user_id);

CREATE TABLE IF NOT EXISTS notification_settings (
	user_id TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL DEFAULT 1,
	quiet_hours_start TEXT,
	quiet_hours_end TEXT,
	muted_convos_json TEXT
);

CREATE TABLE IF NOT EXISTS notification_history (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	sent_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notification_history_sent ON notification_history(sent_at);

CREATE TABLE IF NOT EXISTS status_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_history_user ON status_history(user_id, at);
`

func (s *SQLiteStore) createSchema() error {
	_, err := s.db.Exec(schemaSQL)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ---- Users ----

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, handle, display_name, public_key, password_hash, status, custom_message, custom_emoji, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Handle, u.DisplayName, u.PublicKey, u.PasswordHash, string(u.Status), u.CustomMessage, u.CustomEmoji, formatTime(u.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanUser(row interface {
	Scan(dest ...any) error
}) (*model.User, error) {
	var u model.User
	var status string
	var customMessage, customEmoji sql.NullString
	var createdAtStr string

	err := row.Scan(&u.ID, &u.Handle, &u.DisplayName, &u.PublicKey, &u.PasswordHash, &status, &customMessage, &customEmoji, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.Status = model.PresenceStatus(status)
	u.CustomMessage = customMessage.String
	u.CustomEmoji = customEmoji.String
	u.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, handle, display_name, public_key, password_hash, status, custom_message, custom_emoji, created_at
		FROM users WHERE id = ?
	`, id)
	return s.scanUser(row)
}

func (s *SQLiteStore) GetUserByHandle(ctx context.Context, handle string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, handle, display_name, public_key, password_hash, status, custom_message, custom_emoji, created_at
		FROM users WHERE handle = ?
	`, handle)
	return s.scanUser(row)
}

func (s *SQLiteStore) ListUsers(ctx context.Context, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`
		SELECT id, handle, display_name, public_key, password_hash, status, custom_message, custom_emoji, created_at
		FROM users WHERE id IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) UpdateUserStatus(ctx context.Context, userID string, status model.PresenceStatus, customMessage, customEmoji string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = ?, custom_message = ?, custom_emoji = ? WHERE id = ?
	`, string(status), customMessage, customEmoji, userID)
	if err != nil {
		return fmt.Errorf("updating user status: %w", err)
	}
	return requireRowsAffected(res)
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- Conversations ----

func directKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return ids[0] + "|" + ids[1]
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var dKey any
	if conv.Kind == model.ConversationDirect && len(conv.Participants) == 2 {
		dKey = directKey(conv.Participants[0], conv.Participants[1])
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, kind, display_name, direct_key, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conv.ID, string(conv.Kind), nullString(conv.DisplayName), dKey, formatTime(conv.CreatedAt), formatTime(conv.LastActivityAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for _, userID := range conv.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			VALUES (?, ?, ?)
		`, conv.ID, userID, formatTime(conv.CreatedAt)); err != nil {
			return fmt.Errorf("inserting participant: %w", err)
		}
	}

	return tx.Commit()
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *SQLiteStore) loadParticipants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY joined_at
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) scanConversation(ctx context.Context, row interface {
	Scan(dest ...any) error
}) (*model.Conversation, error) {
	var conv model.Conversation
	var kind string
	var displayName sql.NullString
	var createdAtStr, lastActivityStr string

	err := row.Scan(&conv.ID, &kind, &displayName, &createdAtStr, &lastActivityStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	conv.Kind = model.ConversationKind(kind)
	conv.DisplayName = displayName.String
	conv.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.LastActivityAt, err = parseTime(lastActivityStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}

	conv.Participants, err = s.loadParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, display_name, created_at, last_activity_at FROM conversations WHERE id = ?
	`, id)
	return s.scanConversation(ctx, row)
}

func (s *SQLiteStore) GetDirectConversation(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, display_name, created_at, last_activity_at FROM conversations WHERE direct_key = ?
	`, directKey(userA, userB))
	return s.scanConversation(ctx, row)
}

func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.kind, c.display_name, c.created_at, c.last_activity_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.last_activity_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations for user: %w", err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		conv, err := s.scanConversation(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddParticipant(ctx context.Context, conversationID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`, conversationID, userID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("adding participant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM conversation_participants WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("removing participant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET last_activity_at = ? WHERE id = ?
	`, formatTime(at), conversationID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *SQLiteStore) RenameConversation(ctx context.Context, conversationID, displayName string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET display_name = ? WHERE id = ? AND kind = 'group'
	`, displayName, conversationID)
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	return requireRowsAffected(res)
}

// ---- Messages ----

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *model.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, payload, media_ref, parent_message_id, read_receipts_enabled, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Payload, nullString(msg.MediaRef), nullString(msg.ParentMessageID),
		boolToInt(msg.ReadReceiptsEnabled), formatTime(msg.CreatedAt), formatTimePtr(msg.DeletedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) scanMessage(row interface {
	Scan(dest ...any) error
}) (*model.Message, error) {
	var msg model.Message
	var mediaRef, parentID sql.NullString
	var readReceipts int
	var createdAtStr string
	var deletedAtStr sql.NullString

	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Payload, &mediaRef, &parentID,
		&readReceipts, &createdAtStr, &deletedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	msg.MediaRef = mediaRef.String
	msg.ParentMessageID = parentID.String
	msg.ReadReceiptsEnabled = readReceipts != 0
	msg.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	msg.DeletedAt, err = parseTimePtr(deletedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing deleted_at: %w", err)
	}
	return &msg, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, payload, media_ref, parent_message_id, read_receipts_enabled, created_at, deleted_at
		FROM messages WHERE id = ?
	`, id)
	return s.scanMessage(row)
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, payload, media_ref, parent_message_id, read_receipts_enabled, created_at, deleted_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?
	`, conversationID, formatTime(before), limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("tombstoning message: %w", err)
	}
	return requireRowsAffected(res)
}

// ---- Delivery records ----

func (s *SQLiteStore) UpsertDeliveryRecord(ctx context.Context, rec *model.DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_records (message_id, recipient_id, conversation_id, sender_id, state, queued_at, sent_at, delivered_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id, recipient_id) DO UPDATE SET
			state = excluded.state,
			sent_at = excluded.sent_at,
			delivered_at = excluded.delivered_at,
			read_at = excluded.read_at
	`, rec.MessageID, rec.RecipientID, rec.ConversationID, rec.SenderID, string(rec.State),
		formatTime(rec.QueuedAt), formatTimePtr(rec.SentAt), formatTimePtr(rec.DeliveredAt), formatTimePtr(rec.ReadAt))
	if err != nil {
		return fmt.Errorf("upserting delivery record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanDeliveryRecord(row interface {
	Scan(dest ...any) error
}) (*model.DeliveryRecord, error) {
	var rec model.DeliveryRecord
	var state string
	var queuedAtStr string
	var sentAt, deliveredAt, readAt sql.NullString

	err := row.Scan(&rec.MessageID, &rec.RecipientID, &rec.ConversationID, &rec.SenderID, &state,
		&queuedAtStr, &sentAt, &deliveredAt, &readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning delivery record: %w", err)
	}
	rec.State = model.DeliveryState(state)
	rec.QueuedAt, err = parseTime(queuedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing queued_at: %w", err)
	}
	if rec.SentAt, err = parseTimePtr(sentAt); err != nil {
		return nil, fmt.Errorf("parsing sent_at: %w", err)
	}
	if rec.DeliveredAt, err = parseTimePtr(deliveredAt); err != nil {
		return nil, fmt.Errorf("parsing delivered_at: %w", err)
	}
	if rec.ReadAt, err = parseTimePtr(readAt); err != nil {
		return nil, fmt.Errorf("parsing read_at: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) GetDeliveryRecord(ctx context.Context, messageID, recipientID string) (*model.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT message_id, recipient_id, conversation_id, sender_id, state, queued_at, sent_at, delivered_at, read_at
		FROM delivery_records WHERE message_id = ? AND recipient_id = ?
	`, messageID, recipientID)
	return s.scanDeliveryRecord(row)
}

func (s *SQLiteStore) ListDeliveryRecordsForMessage(ctx context.Context, messageID string) ([]*model.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, recipient_id, conversation_id, sender_id, state, queued_at, sent_at, delivered_at, read_at
		FROM delivery_records WHERE message_id = ?
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying delivery records: %w", err)
	}
	defer rows.Close()

	var out []*model.DeliveryRecord
	for rows.Next() {
		rec, err := s.scanDeliveryRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListUndeliveredForRecipient(ctx context.Context, recipientID string) ([]*model.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, recipient_id, conversation_id, sender_id, state, queued_at, sent_at, delivered_at, read_at
		FROM delivery_records WHERE recipient_id = ? AND state IN ('queued', 'sent')
		ORDER BY queued_at
	`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("querying undelivered records: %w", err)
	}
	defer rows.Close()

	var out []*model.DeliveryRecord
	for rows.Next() {
		rec, err := s.scanDeliveryRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, recipientID string, at time.Time) ([]*model.DeliveryRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT message_id, recipient_id, conversation_id, sender_id, state, queued_at, sent_at, delivered_at, read_at
		FROM delivery_records
		WHERE conversation_id = ? AND recipient_id = ? AND state IN ('queued', 'sent', 'delivered')
	`, conversationID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("querying unread records: %w", err)
	}
	var promoted []*model.DeliveryRecord
	for rows.Next() {
		rec, err := s.scanDeliveryRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		promoted = append(promoted, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rec := range promoted {
		rec.State = model.DeliveryRead
		rec.ReadAt = &at
		if rec.SentAt == nil {
			rec.SentAt = &at
		}
		if rec.DeliveredAt == nil {
			rec.DeliveredAt = &at
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE delivery_records SET state = 'read', read_at = ?, sent_at = COALESCE(sent_at, ?), delivered_at = COALESCE(delivered_at, ?)
			WHERE message_id = ? AND recipient_id = ?
		`, formatTime(at), formatTime(at), formatTime(at), rec.MessageID, rec.RecipientID); err != nil {
			return nil, fmt.Errorf("promoting delivery record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing mark-conversation-read: %w", err)
	}
	return promoted, nil
}

// ---- Reactions ----

func (s *SQLiteStore) AddReaction(ctx context.Context, r *model.Reaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO reactions (message_id, user_id, emoji, created_at)
		VALUES (?, ?, ?, ?)
	`, r.MessageID, r.UserID, r.Emoji, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting reaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?
	`, messageID, userID, emoji)
	if err != nil {
		return fmt.Errorf("removing reaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListReactions(ctx context.Context, messageID string) ([]*model.Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, user_id, emoji, created_at FROM reactions WHERE message_id = ?
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("querying reactions: %w", err)
	}
	defer rows.Close()

	var out []*model.Reaction
	for rows.Next() {
		var r model.Reaction
		var createdAtStr string
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning reaction: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ---- Offline queue ----

func (s *SQLiteStore) EnqueueOffline(ctx context.Context, item *model.OfflineItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_queue (id, recipient_id, conversation_id, event_type, payload, message_id, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.RecipientID, nullString(item.ConversationID), item.EventType, item.Payload, nullString(item.MessageID), formatTime(item.EnqueuedAt))
	if err != nil {
		return fmt.Errorf("enqueuing offline item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DrainOffline(ctx context.Context, recipientID string, limit int) ([]*model.OfflineItem, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_id, conversation_id, event_type, payload, message_id, enqueued_at
		FROM offline_queue WHERE recipient_id = ? ORDER BY enqueued_at LIMIT ?
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying offline queue: %w", err)
	}
	defer rows.Close()

	var out []*model.OfflineItem
	for rows.Next() {
		var item model.OfflineItem
		var conversationID, messageID sql.NullString
		var enqueuedAtStr string
		if err := rows.Scan(&item.ID, &item.RecipientID, &conversationID, &item.EventType, &item.Payload, &messageID, &enqueuedAtStr); err != nil {
			return nil, fmt.Errorf("scanning offline item: %w", err)
		}
		item.ConversationID = conversationID.String
		item.MessageID = messageID.String
		if item.EnqueuedAt, err = parseTime(enqueuedAtStr); err != nil {
			return nil, fmt.Errorf("parsing enqueued_at: %w", err)
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteOfflineItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting offline item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountOffline(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue WHERE recipient_id = ?`, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting offline queue: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) TrimOldestOffline(ctx context.Context, recipientID string, keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM offline_queue WHERE id IN (
			SELECT id FROM offline_queue WHERE recipient_id = ? ORDER BY enqueued_at DESC
			LIMIT -1 OFFSET ?
		)
	`, recipientID, keep)
	if err != nil {
		return fmt.Errorf("trimming offline queue: %w", err)
	}
	return nil
}

// ---- Push subscriptions and preferences ----

func (s *SQLiteStore) SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh_key, auth_key, user_agent, created_at, last_fail_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (endpoint) DO UPDATE SET p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, user_agent = excluded.user_agent
	`, sub.ID, sub.UserID, sub.Endpoint, sub.P256dhKey, sub.AuthKey, nullString(sub.UserAgent), formatTime(sub.CreatedAt), formatTimePtr(sub.LastFailAt))
	if err != nil {
		return fmt.Errorf("saving push subscription: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanPushSubscription(row interface {
	Scan(dest ...any) error
}) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	var userAgent sql.NullString
	var createdAtStr string
	var lastFailAt sql.NullString

	err := row.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &userAgent, &createdAtStr, &lastFailAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning push subscription: %w", err)
	}
	sub.UserAgent = userAgent.String
	if sub.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sub.LastFailAt, err = parseTimePtr(lastFailAt); err != nil {
		return nil, fmt.Errorf("parsing last_fail_at: %w", err)
	}
	return &sub, nil
}

func (s *SQLiteStore) ListPushSubscriptions(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh_key, auth_key, user_agent, created_at, last_fail_at
		FROM push_subscriptions WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying push subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*model.PushSubscription
	for rows.Next() {
		sub, err := s.scanPushSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeletePushSubscription(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting push subscription: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeletePushSubscriptionByEndpoint(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("deleting push subscription by endpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordPushFailure(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE push_subscriptions SET last_fail_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("recording push failure: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListStalePushSubscriptions(ctx context.Context, olderThan time.Time) ([]*model.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh_key, auth_key, user_agent, created_at, last_fail_at
		FROM push_subscriptions WHERE last_fail_at IS NOT NULL AND last_fail_at < ?
	`, formatTime(olderThan))
	if err != nil {
		return nil, fmt.Errorf("querying stale push subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*model.PushSubscription
	for rows.Next() {
		sub, err := s.scanPushSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetNotificationSettings(ctx context.Context, userID string) (*model.NotificationSettings, error) {
	var settings model.NotificationSettings
	var enabled int
	var quietStart, quietEnd, mutedJSON sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, enabled, quiet_hours_start, quiet_hours_end, muted_convos_json
		FROM notification_settings WHERE user_id = ?
	`, userID).Scan(&settings.UserID, &enabled, &quietStart, &quietEnd, &mutedJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying notification settings: %w", err)
	}
	settings.Enabled = enabled != 0
	settings.QuietHoursStart = quietStart.String
	settings.QuietHoursEnd = quietEnd.String
	if mutedJSON.Valid && mutedJSON.String != "" {
		if err := json.Unmarshal([]byte(mutedJSON.String), &settings.MutedConvos); err != nil {
			return nil, fmt.Errorf("decoding muted conversations: %w", err)
		}
	}
	return &settings, nil
}

func (s *SQLiteStore) SaveNotificationSettings(ctx context.Context, set *model.NotificationSettings) error {
	mutedJSON, err := json.Marshal(set.MutedConvos)
	if err != nil {
		return fmt.Errorf("encoding muted conversations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_settings (user_id, enabled, quiet_hours_start, quiet_hours_end, muted_convos_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = excluded.enabled,
			quiet_hours_start = excluded.quiet_hours_start,
			quiet_hours_end = excluded.quiet_hours_end,
			muted_convos_json = excluded.muted_convos_json
	`, set.UserID, boolToInt(set.Enabled), nullString(set.QuietHoursStart), nullString(set.QuietHoursEnd), string(mutedJSON))
	if err != nil {
		return fmt.Errorf("saving notification settings: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordNotificationSent(ctx context.Context, userID, messageID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_history (id, user_id, message_id, sent_at) VALUES (?, ?, ?, ?)
	`, userID+":"+messageID+":"+formatTime(at), userID, messageID, formatTime(at))
	if err != nil {
		return fmt.Errorf("recording notification history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeNotificationHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notification_history WHERE sent_at < ?`, formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("purging notification history: %w", err)
	}
	return res.RowsAffected()
}

// ---- Presence history ----

func (s *SQLiteStore) RecordStatusChange(ctx context.Context, userID string, status model.PresenceStatus, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_history (user_id, status, at) VALUES (?, ?, ?)
	`, userID, string(status), formatTime(at))
	if err != nil {
		return fmt.Errorf("recording status change: %w", err)
	}
	return nil
}
