// ABOUTME: SQLite implementation of the Store interface
// ABOUTME: Supports the pure-Go modernc driver and the cgo mattn driver with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names registered by the imported SQLite packages.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// timeLayout is fixed-width so lexical ordering of the stored text matches
// chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the default driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return Open(DriverModernc, path)
}

// Open creates a SQLite store at the given path with the named driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func Open(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	switch driver {
	case DriverModernc, DriverMattn:
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps :memory: databases and pragmas consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

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

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			title TEXT NOT NULL,
			chat_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_owner_updated
			ON conversations(owner, updated_at);

		CREATE TABLE IF NOT EXISTS turns (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			model TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			web_search INTEGER NOT NULL DEFAULT 0,
			response TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation_created
			ON turns(conversation_id, created_at, seq);

		CREATE TABLE IF NOT EXISTS bookmarks (
			owner TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (owner, conversation_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateConversation inserts a new conversation.
// Returns ErrDuplicateConversation if the ID is already taken.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, owner, title, chat_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.Owner,
		conv.Title,
		conv.ChatName,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "owner", conv.Owner)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY constraint violation
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

const conversationColumns = `id, owner, title, chat_name, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string

	if err := row.Scan(
		&conv.ID,
		&conv.Owner,
		&conv.Title,
		&conv.ChatName,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}

	var err error
	conv.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversations retrieves an owner's conversations, most recent activity first.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListConversations(ctx context.Context, owner string, limit int) ([]*Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE owner = ?
		ORDER BY updated_at DESC, created_at DESC
		LIMIT ?`

	return s.queryConversations(ctx, query, owner, clampLimit(limit))
}

func (s *SQLiteStore) queryConversations(ctx context.Context, query string, args ...any) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return convs, nil
}

// TouchConversation bumps the last-activity timestamp.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
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

// AppendTurn records a turn and sets its Seq to the assigned insertion index.
// Returns ErrNotFound if the conversation doesn't exist and ErrDuplicateTurn
// if the turn ID was already recorded.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *Turn) error {
	query := `
		INSERT INTO turns (id, conversation_id, prompt, model, system_prompt, web_search, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		turn.ID,
		turn.ConversationID,
		turn.Prompt,
		turn.Model,
		turn.SystemPrompt,
		boolToInt(turn.WebSearch),
		turn.Response,
		formatTime(turn.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		if isConstraintViolation(err) {
			return ErrDuplicateTurn
		}
		return fmt.Errorf("inserting turn: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading turn seq: %w", err)
	}
	turn.Seq = seq

	s.logger.Debug("appended turn", "id", turn.ID, "conversation_id", turn.ConversationID, "seq", seq)
	return nil
}

// ListTurns returns all turns of a conversation ordered by creation time,
// ties broken by insertion order.
func (s *SQLiteStore) ListTurns(ctx context.Context, conversationID string) ([]*Turn, error) {
	query := `
		SELECT seq, id, conversation_id, prompt, model, system_prompt, web_search, response, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var turn Turn
		var webSearch int
		var createdAtStr string

		if err := rows.Scan(
			&turn.Seq,
			&turn.ID,
			&turn.ConversationID,
			&turn.Prompt,
			&turn.Model,
			&turn.SystemPrompt,
			&webSearch,
			&turn.Response,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}

		turn.WebSearch = webSearch != 0
		turn.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		turns = append(turns, &turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}

	return turns, nil
}

// SetBookmark adds or removes a conversation from the owner's bookmark set and
// returns the resulting membership. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SetBookmark(ctx context.Context, owner, conversationID string, bookmarked bool) (bool, error) {
	if bookmarked {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO bookmarks (owner, conversation_id, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT (owner, conversation_id) DO NOTHING
		`, owner, conversationID, formatTime(time.Now()))
		if err != nil {
			if isForeignKeyViolation(err) {
				return false, ErrNotFound
			}
			return false, fmt.Errorf("inserting bookmark: %w", err)
		}
		return true, nil
	}

	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return false, err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE owner = ? AND conversation_id = ?`, owner, conversationID); err != nil {
		return false, fmt.Errorf("deleting bookmark: %w", err)
	}
	return false, nil
}

// ListBookmarkedConversations returns the owner's bookmarked conversations,
// most recent activity first.
func (s *SQLiteStore) ListBookmarkedConversations(ctx context.Context, owner string) ([]*Conversation, error) {
	query := `SELECT c.id, c.owner, c.title, c.chat_name, c.created_at, c.updated_at
		FROM bookmarks b
		JOIN conversations c ON c.id = b.conversation_id
		WHERE b.owner = ?
		ORDER BY c.updated_at DESC, c.created_at DESC`

	return s.queryConversations(ctx, query, owner)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
