package internal

import (
	"errors"
	"fmt"
	"log/slog"
)

// CodeSynchronizer applies last-write-wins code changes and fans them out.
type CodeSynchronizer struct {
	hub          *Hub
	maxCodeBytes int
	metrics      *Metrics
	log          *slog.Logger
}

func NewCodeSynchronizer(hub *Hub, maxCodeBytes int, metrics *Metrics, log *slog.Logger) *CodeSynchronizer {
	return &CodeSynchronizer{hub: hub, maxCodeBytes: maxCodeBytes, metrics: metrics, log: log}
}

// ApplyChange overwrites the room's buffer and sends it to every other member.
// sender must be a member of the room; a nil sender is treated as the server
// itself and the update goes to everyone.
func (c *CodeSynchronizer) ApplyChange(roomID string, sender *Conn, code string) error {
	if c.maxCodeBytes > 0 && len(code) > c.maxCodeBytes {
		return fmt.Errorf("%w: code is %d bytes, limit %d", ErrPayloadTooLarge, len(code), c.maxCodeBytes)
	}
	room := c.hub.getRoom(roomID)
	if room == nil {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	frame, err := encodeEvent(EventCodeUpdate, CodeUpdate{RoomID: roomID, Code: code})
	if err != nil {
		return err
	}
	err = room.exec(func(state *roomState) error {
		if sender != nil && state.memberByConn(sender) == nil {
			return errNotMember
		}
		state.code = code
		state.fanout(frame, sender)
		return nil
	})
	if errors.Is(err, errRoomClosed) {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return err
	}
	c.metrics.IncCodeUpdate()
	return nil
}

// CurrentCode returns the latest accepted buffer for roomID.
func (c *CodeSynchronizer) CurrentCode(roomID string) (string, error) {
	room := c.hub.getRoom(roomID)
	if room == nil {
		return "", fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	var code string
	err := room.exec(func(state *roomState) error {
		code = state.code
		return nil
	})
	if errors.Is(err, errRoomClosed) {
		return "", fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return code, err
}
