package internal

import (
	"context"

	"coderoom/internal/storage"
)

// RoomDirectory is the external room metadata service. GetRoom returns nil,
// nil for an unknown id.
type RoomDirectory interface {
	GetRoom(ctx context.Context, id string) (*storage.Room, error)
}

// HistoryStore receives accepted broadcast messages for durable history.
type HistoryStore interface {
	AppendMessage(ctx context.Context, message storage.Message) error
}

// SequenceSource is implemented by history stores that can report the highest
// sequence number recorded for a room. Rooms re-created after eviction or a
// restart continue numbering after it.
type SequenceSource interface {
	LastSeq(ctx context.Context, roomID string) (int64, error)
}
