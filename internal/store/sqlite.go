package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/jspark2504/gugudan-ai-server/internal/models"
)

// SQLiteStore handles SQLite database operations for single-node and
// development deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/gugudan.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/gugudan.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_rooms (
		id TEXT PRIMARY KEY,
		account_id INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'GENERAL',
		division TEXT NOT NULL DEFAULT 'DEFAULT',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		external INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		last_active_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
		account_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		body BLOB NOT NULL,
		iv BLOB NOT NULL,
		cipher_version INTEGER NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'TEXT',
		parent_id TEXT,
		partial INTEGER NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_rooms_account ON chat_rooms(account_id);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room_id, id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateRoom creates a new ACTIVE room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, id string, accountID int64, title, category, division string, external bool) (*models.Room, error) {
	now := time.Now().UTC()

	externalInt := 0
	if external {
		externalInt = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_rooms (id, account_id, title, category, division, status, external, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, 'ACTIVE', ?, ?, ?)
	`, id, accountID, title, category, division, externalInt, now, now)
	if err != nil {
		return nil, err
	}

	return s.FindRoomByID(ctx, id)
}

func (s *SQLiteStore) scanRoom(row *sql.Row) (*models.Room, error) {
	room := &models.Room{}
	var externalInt int
	err := row.Scan(
		&room.ID,
		&room.AccountID,
		&room.Title,
		&room.Category,
		&room.Division,
		&room.Status,
		&externalInt,
		&room.CreatedAt,
		&room.LastActiveAt,
	)
	if err != nil {
		return nil, err
	}
	room.External = externalInt == 1
	return room, nil
}

// FindRoomByID retrieves a room by ID.
func (s *SQLiteStore) FindRoomByID(ctx context.Context, id string) (*models.Room, error) {
	room, err := s.scanRoom(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, title, category, division, status, external, created_at, last_active_at
		FROM chat_rooms WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// FindRoomsByAccount retrieves all rooms owned by an account, newest first.
func (s *SQLiteStore) FindRoomsByAccount(ctx context.Context, accountID int64) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, title, category, division, status, external, created_at, last_active_at
		FROM chat_rooms
		WHERE account_id = ?
		ORDER BY last_active_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var room models.Room
		var externalInt int
		err := rows.Scan(
			&room.ID,
			&room.AccountID,
			&room.Title,
			&room.Category,
			&room.Division,
			&room.Status,
			&externalInt,
			&room.CreatedAt,
			&room.LastActiveAt,
		)
		if err != nil {
			return nil, err
		}
		room.External = externalInt == 1
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// EndRoom marks a room ENDED.
func (s *SQLiteStore) EndRoom(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_rooms SET status = 'ENDED', last_active_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	return err
}

// DeleteRoom removes a room and, via cascade, its messages.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_rooms WHERE id = ?`, id)
	return err
}

// AppendMessage stores a message, assigning a ULID and creation timestamp.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	msg.ID = ulid.Make().String()
	msg.CreatedAt = time.Now().UTC()

	var parent *string
	if msg.ParentID != "" {
		parent = &msg.ParentID
	}

	partialInt := 0
	if msg.Partial {
		partialInt = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, room_id, account_id, role, body, iv, cipher_version, content_type, parent_id, partial, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.RoomID, msg.AccountID, msg.Role, msg.Body, msg.IV,
		msg.CipherVersion, msg.ContentType, parent, partialInt, msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE chat_rooms SET last_active_at = ? WHERE id = ?
	`, msg.CreatedAt, msg.RoomID)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// FindMessagesByRoom retrieves a room's messages in creation order.
func (s *SQLiteStore) FindMessagesByRoom(ctx context.Context, roomID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, account_id, role, body, iv, cipher_version, content_type, parent_id, partial, feedback, created_at
		FROM chat_messages
		WHERE room_id = ?
		ORDER BY id ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var parent *string
		var partialInt int
		err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.AccountID,
			&msg.Role,
			&msg.Body,
			&msg.IV,
			&msg.CipherVersion,
			&msg.ContentType,
			&parent,
			&partialInt,
			&msg.Feedback,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if parent != nil {
			msg.ParentID = *parent
		}
		msg.Partial = partialInt == 1
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// UpdateMessageFeedback records feedback on a message. Returns false when the
// message does not exist in the given room.
func (s *SQLiteStore) UpdateMessageFeedback(ctx context.Context, roomID, messageID, feedback string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET feedback = ? WHERE id = ? AND room_id = ?
	`, feedback, messageID, roomID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
