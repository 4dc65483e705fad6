// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Owns sequence assignment, the single-active-conversation guard, and atomic append+transition

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS customers (
			customer_id   INTEGER PRIMARY KEY AUTOINCREMENT,
			visitor_id    TEXT NOT NULL UNIQUE,
			customer_name TEXT NOT NULL DEFAULT '',
			email         TEXT NOT NULL DEFAULT '',
			ip_address    TEXT NOT NULL DEFAULT '',
			user_agent    TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
			last_visit_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_customers_visitor ON customers(visitor_id);

		CREATE TABLE IF NOT EXISTS operators (
			operator_id  INTEGER PRIMARY KEY AUTOINCREMENT,
			username     TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'active',
			created_at   TEXT NOT NULL,

			CHECK (status IN ('active', 'disabled'))
		);

		CREATE TABLE IF NOT EXISTS conversations (
			conversation_id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id     INTEGER NOT NULL REFERENCES customers(customer_id),
			operator_id     INTEGER NOT NULL DEFAULT 0,
			subject         TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'open',
			priority        TEXT NOT NULL DEFAULT 'medium',
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			closed_at       TEXT,

			CHECK (status IN ('open', 'pending', 'closed', 'resolved')),
			CHECK (priority IN ('low', 'medium', 'high', 'urgent'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status, updated_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_customer ON conversations(customer_id);

		-- The authoritative guard for the single-active-conversation rule:
		-- a customer can hold at most one open/pending conversation.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_active_customer
			ON conversations(customer_id) WHERE status IN ('open', 'pending');

		CREATE TABLE IF NOT EXISTS messages (
			message_id      INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL REFERENCES conversations(conversation_id),
			sequence        INTEGER NOT NULL,
			sender_type     TEXT NOT NULL,
			sender_id       INTEGER NOT NULL,
			message_type    TEXT NOT NULL DEFAULT 'text',
			content         TEXT NOT NULL DEFAULT '',
			attachment_url  TEXT,
			attachment_name TEXT,
			attachment_size INTEGER,
			is_read         INTEGER NOT NULL DEFAULT 0,
			sent_at         TEXT NOT NULL,

			UNIQUE (conversation_id, sequence),
			CHECK (sender_type IN ('customer', 'operator')),
			CHECK (message_type IN ('text', 'image', 'file', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq
			ON messages(conversation_id, sequence);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
// mentioning the given table or index fragment
func isConstraintViolation(err error, fragment string) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "constraint failed") && strings.Contains(errStr, fragment)
}

// CreateConversation inserts a new conversation and fills in its ID and
// timestamps. Returns ErrActiveConversation if the customer already has an
// open/pending conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.Status == "" {
		conv.Status = StatusOpen
	}
	if conv.Priority == "" {
		conv.Priority = PriorityMedium
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = conv.CreatedAt

	query := `
		INSERT INTO conversations (customer_id, operator_id, subject, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		conv.CustomerID,
		conv.OperatorID,
		conv.Subject,
		conv.Status,
		conv.Priority,
		conv.CreatedAt.Format(time.RFC3339),
		conv.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err, "conversations.customer_id") {
			return ErrActiveConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	conv.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting conversation id: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "customer_id", conv.CustomerID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	query := `
		SELECT conversation_id, customer_id, operator_id, subject, status, priority, created_at, updated_at, closed_at
		FROM conversations
		WHERE conversation_id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string
	var closedAtStr sql.NullString

	err := row.Scan(
		&conv.ID,
		&conv.CustomerID,
		&conv.OperatorID,
		&conv.Subject,
		&conv.Status,
		&conv.Priority,
		&createdAtStr,
		&updatedAtStr,
		&closedAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if closedAtStr.Valid {
		t, err := time.Parse(time.RFC3339, closedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing closed_at: %w", err)
		}
		conv.ClosedAt = &t
	}

	return &conv, nil
}

// UpdateConversationStatus applies a conditional status transition. When
// expected is non-empty the update only applies if the current status is one
// of the expected values; a mismatch returns ErrStatusConflict so the caller
// can detect a lost race. Transitioning to closed sets closed_at; any other
// target status clears it (closed_at is set iff status is closed).
func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, id int64, expected []string, update StatusUpdate) (*Conversation, error) {
	if !ValidStatus(update.Status) {
		return nil, fmt.Errorf("invalid status %q", update.Status)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	var closedAt any
	if update.Status == StatusClosed {
		closedAt = now
	}

	query := `UPDATE conversations SET status = ?, updated_at = ?, closed_at = ?`
	args := []any{update.Status, now, closedAt}

	if update.OperatorID != nil {
		query += `, operator_id = ?`
		args = append(args, *update.OperatorID)
	}

	query += ` WHERE conversation_id = ?`
	args = append(args, id)

	if len(expected) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(expected)-1) + `)`
		for _, st := range expected {
			args = append(args, st)
		}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isConstraintViolation(err, "conversations.customer_id") {
			return nil, ErrActiveConversation
		}
		return nil, fmt.Errorf("updating conversation status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Distinguish a missing conversation from a lost status race
		current, getErr := s.GetConversation(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return current, ErrStatusConflict
	}

	s.logger.Debug("updated conversation status", "id", id, "status", update.Status)
	return s.GetConversation(ctx, id)
}

// ListConversationsByStatus returns one page of conversations in the given
// status, most recently updated first, along with the total count.
func (s *SQLiteStore) ListConversationsByStatus(ctx context.Context, status string, page, perPage int) (*ConversationPage, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	offset := (page - 1) * perPage

	query := `
		SELECT conversation_id, customer_id, operator_id, subject, status, priority, created_at, updated_at, closed_at
		FROM conversations
		WHERE status = ?
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, status, perPage, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	result := &ConversationPage{}
	for rows.Next() {
		conv, err := s.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	countQuery := `SELECT COUNT(*) FROM conversations WHERE status = ?`
	if err := s.db.QueryRowContext(ctx, countQuery, status).Scan(&result.Total); err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}

	return result, nil
}

// ActiveConversationForCustomer returns the customer's open/pending
// conversation, or ErrNotFound if they have none.
func (s *SQLiteStore) ActiveConversationForCustomer(ctx context.Context, customerID int64) (*Conversation, error) {
	query := `
		SELECT conversation_id, customer_id, operator_id, subject, status, priority, created_at, updated_at, closed_at
		FROM conversations
		WHERE customer_id = ? AND status IN ('open', 'pending')
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, customerID))
}

// ConversationStats returns conversation counts by status.
func (s *SQLiteStore) ConversationStats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = 'open' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'closed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'resolved' THEN 1 ELSE 0 END)
		FROM conversations
	`

	var stats Stats
	var open, pending, closed, resolved sql.NullInt64
	err := s.db.QueryRowContext(ctx, query).Scan(&stats.Total, &open, &pending, &closed, &resolved)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	stats.Open = int(open.Int64)
	stats.Pending = int(pending.Int64)
	stats.Closed = int(closed.Int64)
	stats.Resolved = int(resolved.Int64)

	return &stats, nil
}

// AppendMessage appends a message to the conversation's log, assigning the
// next sequence number, and applies the given status transition in the same
// transaction. A nil transition leaves the status alone (the updated_at
// timestamp is always bumped). Returns ErrSequenceConflict if the sequence
// assignment collides with a concurrent writer — callers retry with a fresh
// sequence — and ErrActiveConversation if a reopen transition would give the
// customer a second active conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message, transition *StatusUpdate) (*Message, error) {
	if msg.Type == "" {
		msg.Type = MessageTypeText
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if transition != nil && !ValidStatus(transition.Status) {
		return nil, fmt.Errorf("invalid transition %q", transition.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var attURL, attName any
	var attSize any
	if msg.Attachment != nil {
		attURL = msg.Attachment.URL
		attName = msg.Attachment.Name
		attSize = msg.Attachment.Size
	}

	insert := `
		INSERT INTO messages (conversation_id, sequence, sender_type, sender_id, message_type,
			content, attachment_url, attachment_name, attachment_size, is_read, sent_at)
		VALUES (?, (SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE conversation_id = ?),
			?, ?, ?, ?, ?, ?, ?, 0, ?)
	`

	result, err := tx.ExecContext(ctx, insert,
		msg.ConversationID,
		msg.ConversationID,
		msg.SenderType,
		msg.SenderID,
		msg.Type,
		msg.Content,
		attURL,
		attName,
		attSize,
		msg.SentAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err, "messages.conversation_id") {
			return nil, ErrSequenceConflict
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	msg.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting message id: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT sequence FROM messages WHERE message_id = ?`, msg.ID).Scan(&msg.Sequence); err != nil {
		return nil, fmt.Errorf("reading assigned sequence: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if transition != nil {
		var closedAt any
		if transition.Status == StatusClosed {
			closedAt = now
		}
		update := `UPDATE conversations SET status = ?, updated_at = ?, closed_at = ?`
		args := []any{transition.Status, now, closedAt}
		if transition.OperatorID != nil {
			update += `, operator_id = ?`
			args = append(args, *transition.OperatorID)
		}
		update += ` WHERE conversation_id = ?`
		args = append(args, msg.ConversationID)

		_, err = tx.ExecContext(ctx, update, args...)
		if err != nil {
			if isConstraintViolation(err, "conversations.customer_id") {
				return nil, ErrActiveConversation
			}
			return nil, fmt.Errorf("applying status transition: %w", err)
		}
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE conversation_id = ?`,
			now, msg.ConversationID,
		)
		if err != nil {
			return nil, fmt.Errorf("bumping conversation timestamp: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isConstraintViolation(err, "messages.conversation_id") {
			return nil, ErrSequenceConflict
		}
		return nil, fmt.Errorf("committing append: %w", err)
	}

	s.logger.Debug("appended message",
		"conversation_id", msg.ConversationID,
		"sequence", msg.Sequence,
		"sender_type", msg.SenderType,
		"transition", transition)
	return msg, nil
}

// ListMessagesSince returns messages with sequence > since in ascending
// sequence order, up to limit.
func (s *SQLiteStore) ListMessagesSince(ctx context.Context, conversationID, since int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT message_id, conversation_id, sequence, sender_type, sender_id, message_type,
			content, attachment_url, attachment_name, attachment_size, is_read, sent_at
		FROM messages
		WHERE conversation_id = ? AND sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListRecentMessages returns the most recent limit messages in ascending
// sequence order. Used for the initial backlog window on first contact.
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 10
	}

	// Get the N most recent messages, but return them in ascending order
	query := `
		SELECT message_id, conversation_id, sequence, sender_type, sender_id, message_type,
			content, attachment_url, attachment_name, attachment_size, is_read, sent_at
		FROM (
			SELECT message_id, conversation_id, sequence, sender_type, sender_id, message_type,
				content, attachment_url, attachment_name, attachment_size, is_read, sent_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY sequence DESC
			LIMIT ?
		)
		ORDER BY sequence ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		var msg Message
		var sentAtStr string
		var attURL, attName sql.NullString
		var attSize sql.NullInt64
		var isRead int

		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Sequence,
			&msg.SenderType,
			&msg.SenderID,
			&msg.Type,
			&msg.Content,
			&attURL,
			&attName,
			&attSize,
			&isRead,
			&sentAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		var err error
		msg.SentAt, err = time.Parse(time.RFC3339, sentAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing sent_at: %w", err)
		}
		msg.Read = isRead != 0
		if attURL.Valid {
			msg.Attachment = &Attachment{
				URL:  attURL.String,
				Name: attName.String,
				Size: attSize.Int64,
			}
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// MaxSequence returns the highest assigned sequence for the conversation,
// or 0 if it has no messages.
func (s *SQLiteStore) MaxSequence(ctx context.Context, conversationID int64) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM messages WHERE conversation_id = ?`,
		conversationID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying max sequence: %w", err)
	}
	return max, nil
}

// UnreadCount returns the number of unread messages sent by the other side.
func (s *SQLiteStore) UnreadCount(ctx context.Context, conversationID int64, readerType string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND sender_type != ? AND is_read = 0`,
		conversationID, readerType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

// MarkConversationRead marks all messages sent by the other side as read.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID int64, readerType string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE conversation_id = ? AND sender_type != ? AND is_read = 0`,
		conversationID, readerType,
	)
	if err != nil {
		return fmt.Errorf("marking conversation read: %w", err)
	}
	return nil
}

// CreateCustomer inserts a new customer record and fills in its ID.
func (s *SQLiteStore) CreateCustomer(ctx context.Context, c *Customer) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastVisitAt.IsZero() {
		c.LastVisitAt = c.CreatedAt
	}

	query := `
		INSERT INTO customers (visitor_id, customer_name, email, ip_address, user_agent, created_at, last_visit_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		c.VisitorID,
		c.Name,
		c.Email,
		c.IPAddress,
		c.UserAgent,
		c.CreatedAt.Format(time.RFC3339),
		c.LastVisitAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting customer: %w", err)
	}

	c.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting customer id: %w", err)
	}

	s.logger.Debug("created customer", "id", c.ID, "visitor_id", c.VisitorID)
	return nil
}

// GetCustomer retrieves a customer by ID.
// Returns ErrNotFound if the customer doesn't exist.
func (s *SQLiteStore) GetCustomer(ctx context.Context, id int64) (*Customer, error) {
	query := `
		SELECT customer_id, visitor_id, customer_name, email, ip_address, user_agent, created_at, last_visit_at
		FROM customers
		WHERE customer_id = ?
	`
	return s.scanCustomer(s.db.QueryRowContext(ctx, query, id))
}

// GetCustomerByVisitorID retrieves a customer by their visitor token.
// Returns ErrNotFound if no customer exists for the token.
func (s *SQLiteStore) GetCustomerByVisitorID(ctx context.Context, visitorID string) (*Customer, error) {
	query := `
		SELECT customer_id, visitor_id, customer_name, email, ip_address, user_agent, created_at, last_visit_at
		FROM customers
		WHERE visitor_id = ?
	`
	return s.scanCustomer(s.db.QueryRowContext(ctx, query, visitorID))
}

func (s *SQLiteStore) scanCustomer(row rowScanner) (*Customer, error) {
	var c Customer
	var createdAtStr, lastVisitStr string

	err := row.Scan(
		&c.ID,
		&c.VisitorID,
		&c.Name,
		&c.Email,
		&c.IPAddress,
		&c.UserAgent,
		&createdAtStr,
		&lastVisitStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning customer: %w", err)
	}

	c.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	c.LastVisitAt, err = time.Parse(time.RFC3339, lastVisitStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_visit_at: %w", err)
	}

	return &c, nil
}

// TouchCustomer bumps the customer's last-visit timestamp.
func (s *SQLiteStore) TouchCustomer(ctx context.Context, id int64, lastVisit time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE customers SET last_visit_at = ? WHERE customer_id = ?`,
		lastVisit.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("touching customer: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateOperator inserts a new operator record and fills in its ID.
func (s *SQLiteStore) CreateOperator(ctx context.Context, op *Operator) error {
	if op.Status == "" {
		op.Status = "active"
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO operators (username, display_name, status, created_at) VALUES (?, ?, ?, ?)`,
		op.Username, op.DisplayName, op.Status, op.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting operator: %w", err)
	}

	op.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting operator id: %w", err)
	}

	s.logger.Debug("created operator", "id", op.ID, "username", op.Username)
	return nil
}

// GetOperator retrieves an operator by ID.
// Returns ErrNotFound if the operator doesn't exist.
func (s *SQLiteStore) GetOperator(ctx context.Context, id int64) (*Operator, error) {
	var op Operator
	var createdAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT operator_id, username, display_name, status, created_at FROM operators WHERE operator_id = ?`,
		id,
	).Scan(&op.ID, &op.Username, &op.DisplayName, &op.Status, &createdAtStr)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying operator: %w", err)
	}

	op.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &op, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
