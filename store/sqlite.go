package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chatcore/model"
)

// SQLiteStore persists conversation snapshots in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) conversations.db under dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	dbPath := filepath.Join(dataDir, "conversations.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		provider TEXT NOT NULL,
		model_id TEXT NOT NULL,
		capabilities TEXT NOT NULL,
		tags TEXT,
		pinned INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		status TEXT NOT NULL,
		tool_calls TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, position);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save writes one snapshot transactionally, replacing the stored message
// sequence. Snapshots are full-fidelity, so replace-on-write keeps ordering
// authoritative without diffing.
func (s *SQLiteStore) Save(ctx context.Context, snapshot ConversationSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	conv := snapshot.Conversation
	caps, err := json.Marshal(conv.Model.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	tags, err := json.Marshal(conv.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, title, provider, model_id, capabilities, tags, pinned, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			provider = excluded.provider,
			model_id = excluded.model_id,
			capabilities = excluded.capabilities,
			tags = excluded.tags,
			pinned = excluded.pinned,
			archived = excluded.archived,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Title, string(conv.Model.Provider), conv.Model.ModelID,
		string(caps), string(tags), boolToInt(conv.Pinned), boolToInt(conv.Archived),
		conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	for i, msg := range snapshot.Messages {
		var toolCalls sql.NullString
		if len(msg.ToolCalls) > 0 {
			raw, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(raw), Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, position, role, content, status, tool_calls, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, conv.ID, i, string(msg.Role), msg.Content, string(msg.Status),
			toolCalls, msg.CreatedAt, msg.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save message: %w", err)
		}
	}

	return tx.Commit()
}

// Load reads one conversation snapshot.
func (s *SQLiteStore) Load(ctx context.Context, conversationID string) (*ConversationSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, provider, model_id, capabilities, tags, pinned, archived, created_at, updated_at
		FROM conversations WHERE id = ?`, conversationID)

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	messages, err := s.loadMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return &ConversationSnapshot{Conversation: conv, Messages: messages}, nil
}

// LoadAll reads every stored conversation snapshot.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]ConversationSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, provider, model_id, capabilities, tags, pinned, archived, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var snapshots []ConversationSnapshot
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			continue // skip corrupted rows, matching load-tolerant startup
		}
		snapshots = append(snapshots, ConversationSnapshot{Conversation: conv})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	for i := range snapshots {
		messages, err := s.loadMessages(ctx, snapshots[i].Conversation.ID)
		if err != nil {
			return nil, err
		}
		snapshots[i].Messages = messages
	}

	return snapshots, nil
}

// Delete removes a conversation and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) loadMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, status, tool_calls, created_at, updated_at
		FROM messages WHERE conversation_id = ? ORDER BY position`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		var role, status string
		var toolCalls sql.NullString
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &status, &toolCalls, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ConversationID = conversationID
		msg.Role = model.Role(role)
		msg.Status = model.MessageStatus(status)
		msg.CreatedAt = createdAt
		msg.UpdatedAt = updatedAt
		if toolCalls.Valid {
			_ = json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (model.Conversation, error) {
	var conv model.Conversation
	var provider, capsRaw string
	var tagsRaw sql.NullString
	var pinned, archived int
	var createdAt, updatedAt time.Time

	err := row.Scan(&conv.ID, &conv.Title, &provider, &conv.Model.ModelID,
		&capsRaw, &tagsRaw, &pinned, &archived, &createdAt, &updatedAt)
	if err != nil {
		return model.Conversation{}, err
	}

	conv.Model.Provider = model.ProviderKind(provider)
	_ = json.Unmarshal([]byte(capsRaw), &conv.Model.Capabilities)
	if tagsRaw.Valid {
		_ = json.Unmarshal([]byte(tagsRaw.String), &conv.Tags)
	}
	conv.Pinned = pinned != 0
	conv.Archived = archived != 0
	conv.CreatedAt = createdAt
	conv.UpdatedAt = updatedAt
	return conv, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
