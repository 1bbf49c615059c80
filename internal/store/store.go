package store

import (
	"context"

	"github.com/jspark2504/gugudan-ai-server/internal/models"
)

// DataStore defines the interface for persistent storage of rooms and
// messages. Both PostgresStore and SQLiteStore implement this interface.
// Find operations return (nil, nil) when the record does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Room operations
	CreateRoom(ctx context.Context, id string, accountID int64, title, category, division string, external bool) (*models.Room, error)
	FindRoomByID(ctx context.Context, id string) (*models.Room, error)
	FindRoomsByAccount(ctx context.Context, accountID int64) ([]models.Room, error)
	EndRoom(ctx context.Context, id string) error
	DeleteRoom(ctx context.Context, id string) error

	// Message operations. AppendMessage assigns the message ID and creation
	// timestamp and returns the stored record.
	AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	FindMessagesByRoom(ctx context.Context, roomID string) ([]models.Message, error)
	UpdateMessageFeedback(ctx context.Context, roomID, messageID, feedback string) (bool, error)
}
