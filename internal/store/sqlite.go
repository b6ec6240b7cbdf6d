package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Options tunes the SQLite connections.
type Options struct {
	MaxReadConns int
	BusyTimeout  time.Duration
	CacheSizeKB  int
}

// DefaultOptions returns the connection settings used by the service.
func DefaultOptions() Options {
	return Options{
		MaxReadConns: 5,
		BusyTimeout:  5 * time.Second,
		CacheSizeKB:  64000,
	}
}

// pragmas are applied to every connection through the DSN so pooled read
// connections get them too.
func (o Options) pragmas() []string {
	return []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"temp_store(memory)",
		"foreign_keys(ON)",
		fmt.Sprintf("busy_timeout(%d)", o.BusyTimeout.Milliseconds()),
		fmt.Sprintf("cache_size(-%d)", o.CacheSizeKB),
	}
}

func (o Options) dsn(path string) string {
	q := url.Values{}
	for _, p := range o.pragmas() {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// SQLiteStore is the entity store. Writes go through a single connection,
// reads through a small pool.
type SQLiteStore struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string
	logger  *zap.Logger
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(path string, opts Options, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	writeDB, err := sql.Open("sqlite", opts.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", opts.dsn(path))
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to open read database: %w", err)
	}
	if opts.MaxReadConns < 1 {
		opts.MaxReadConns = 1
	}
	readDB.SetMaxOpenConns(opts.MaxReadConns)
	readDB.SetMaxIdleConns(opts.MaxReadConns)

	s := &SQLiteStore{writeDB: writeDB, readDB: readDB, path: path, logger: logger}
	if err := s.createTables(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Debug("store opened", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	for _, q := range schema {
		if _, err := s.writeDB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes both connection pools.
func (s *SQLiteStore) Close() error {
	return errors.Join(s.writeDB.Close(), s.readDB.Close())
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.readDB.PingContext(ctx)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func newID() string {
	return uuid.NewString()
}

// CreateConversation inserts a conversation, assigning an id when empty.
func (s *SQLiteStore) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = newID()
	}
	c.CreatedAt = nowIfZero(c.CreatedAt)
	c.UpdatedAt = c.CreatedAt

	_, err := s.writeDB.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.UserID, toMillis(c.CreatedAt), toMillis(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetConversation returns the conversation or ErrNotFound.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var (
		c                Conversation
		created, updated int64
	)
	err := s.readDB.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

// AppendMessages adds messages to a conversation in one transaction.
func (s *SQLiteStore) AppendMessages(ctx context.Context, conversationID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range msgs {
		msgs[i].ConversationID = conversationID
		msgs[i].CreatedAt = nowIfZero(msgs[i].CreatedAt)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		toMillis(msgs[len(msgs)-1].CreatedAt), conversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	for i := range msgs {
		m := &msgs[i]
		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			conversationID, m.Role, m.Content, toMillis(m.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		if m.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}
	}
	return tx.Commit()
}

// ListMessages returns a conversation's messages in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.readDB.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m       Message
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = fromMillis(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
