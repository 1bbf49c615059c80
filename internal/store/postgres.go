package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/jspark2504/gugudan-ai-server/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool and
// initializes the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_rooms (
		id TEXT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'GENERAL',
		division TEXT NOT NULL DEFAULT 'DEFAULT',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		external BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_active_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
		account_id BIGINT NOT NULL,
		role TEXT NOT NULL,
		body BYTEA NOT NULL,
		iv BYTEA NOT NULL,
		cipher_version INTEGER NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'TEXT',
		parent_id TEXT,
		partial BOOLEAN NOT NULL DEFAULT FALSE,
		feedback TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_chat_rooms_account ON chat_rooms(account_id);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_room ON chat_messages(room_id, id);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const roomColumns = `id, account_id, title, category, division, status, external, created_at, last_active_at`

func scanRoom(row pgx.Row) (*models.Room, error) {
	room := &models.Room{}
	err := row.Scan(
		&room.ID,
		&room.AccountID,
		&room.Title,
		&room.Category,
		&room.Division,
		&room.Status,
		&room.External,
		&room.CreatedAt,
		&room.LastActiveAt,
	)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// CreateRoom creates a new ACTIVE room.
func (s *PostgresStore) CreateRoom(ctx context.Context, id string, accountID int64, title, category, division string, external bool) (*models.Room, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO chat_rooms (id, account_id, title, category, division, status, external)
		VALUES ($1, $2, $3, $4, $5, 'ACTIVE', $6)
		RETURNING `+roomColumns+`
	`, id, accountID, title, category, division, external)
	return scanRoom(row)
}

// FindRoomByID retrieves a room by ID.
func (s *PostgresStore) FindRoomByID(ctx context.Context, id string) (*models.Room, error) {
	room, err := scanRoom(s.pool.QueryRow(ctx, `
		SELECT `+roomColumns+` FROM chat_rooms WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// FindRoomsByAccount retrieves all rooms owned by an account, newest first.
func (s *PostgresStore) FindRoomsByAccount(ctx context.Context, accountID int64) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+roomColumns+`
		FROM chat_rooms
		WHERE account_id = $1
		ORDER BY last_active_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

// EndRoom marks a room ENDED. Ended rooms reject new turns.
func (s *PostgresStore) EndRoom(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_rooms SET status = 'ENDED', last_active_at = NOW() WHERE id = $1
	`, id)
	return err
}

// DeleteRoom removes a room and, via cascade, its messages.
func (s *PostgresStore) DeleteRoom(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chat_rooms WHERE id = $1`, id)
	return err
}

// AppendMessage stores a message, assigning a ULID and creation timestamp.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	msg.ID = ulid.Make().String()
	msg.CreatedAt = time.Now().UTC()

	var parent *string
	if msg.ParentID != "" {
		parent = &msg.ParentID
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, room_id, account_id, role, body, iv, cipher_version, content_type, parent_id, partial, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, msg.ID, msg.RoomID, msg.AccountID, msg.Role, msg.Body, msg.IV,
		msg.CipherVersion, msg.ContentType, parent, msg.Partial, msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE chat_rooms SET last_active_at = NOW() WHERE id = $1
	`, msg.RoomID)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// FindMessagesByRoom retrieves a room's messages in creation order. ULIDs
// sort lexicographically by creation time, so ordering by id is stable even
// for messages created within the same timestamp tick.
func (s *PostgresStore) FindMessagesByRoom(ctx context.Context, roomID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, account_id, role, body, iv, cipher_version, content_type, parent_id, partial, feedback, created_at
		FROM chat_messages
		WHERE room_id = $1
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
			&msg.Partial,
			&msg.Feedback,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if parent != nil {
			msg.ParentID = *parent
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// UpdateMessageFeedback records feedback on a message. Returns false when the
// message does not exist in the given room.
func (s *PostgresStore) UpdateMessageFeedback(ctx context.Context, roomID, messageID, feedback string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chat_messages SET feedback = $1 WHERE id = $2 AND room_id = $3
	`, feedback, messageID, roomID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
