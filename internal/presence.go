package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// PresenceTracker owns roster mutation: joins, leaves, and the roster
// broadcasts they trigger. It also keeps a count of live memberships per user.
type PresenceTracker struct {
	hub       *Hub
	directory RoomDirectory
	log       *slog.Logger

	mu     sync.Mutex
	online map[string]int
}

// NewPresenceTracker builds a tracker over hub. A non-nil directory makes joins
// to rooms it does not know fail with ErrRoomNotFound.
func NewPresenceTracker(hub *Hub, directory RoomDirectory, log *slog.Logger) *PresenceTracker {
	return &PresenceTracker{
		hub:       hub,
		directory: directory,
		log:       log,
		online:    make(map[string]int),
	}
}

// Join binds userID to conn in roomID, replacing any earlier entry for the same
// user, then sends the full roster to everyone in the room and the current code
// buffer to the joiner.
func (p *PresenceTracker) Join(ctx context.Context, roomID string, participant Participant, conn *Conn) error {
	if strings.TrimSpace(roomID) == "" || strings.TrimSpace(participant.UserID) == "" {
		return fmt.Errorf("%w: join needs a room id and a user id", ErrMalformedEvent)
	}
	if conn == nil {
		return fmt.Errorf("%w: join without a connection", ErrMalformedEvent)
	}
	if participant.UserName == "" {
		participant.UserName = participant.UserID
	}
	if p.directory != nil {
		room, err := p.directory.GetRoom(ctx, roomID)
		if err != nil {
			return fmt.Errorf("lookup room %s: %w", roomID, err)
		}
		if room == nil {
			return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
		}
	}
	entry := participant
	entry.conn = conn

	for {
		var replaced *Participant
		room := p.hub.getOrCreateRoom(roomID)
		err := room.exec(func(state *roomState) error {
			replaced = state.upsert(&entry)
			state.broadcastRoster()
			state.sendCode(conn)
			return nil
		})
		if errors.Is(err, errRoomClosed) {
			// lost a race with eviction; the next lookup creates a fresh room
			continue
		}
		if err != nil {
			return err
		}
		if replaced == nil {
			p.increment(participant.UserID)
		}
		p.log.Info("Participant joined", "room", roomID, "user", participant.UserID, "replaced", replaced != nil)
		return nil
	}
}

// Leave removes userID from roomID whatever connection it is bound to.
// Leaving a room the user is not in is a no-op.
func (p *PresenceTracker) Leave(roomID, userID string) {
	p.leave(roomID, userID, nil)
}

// leaveConn only removes the entry if it still belongs to conn, so a stale
// connection cannot evict the user's newer one.
func (p *PresenceTracker) leaveConn(roomID, userID string, conn *Conn) {
	p.leave(roomID, userID, conn)
}

func (p *PresenceTracker) leave(roomID, userID string, conn *Conn) {
	room := p.hub.getRoom(roomID)
	if room == nil {
		return
	}
	removed := false
	err := room.exec(func(state *roomState) error {
		if removed = state.remove(userID, conn); removed {
			state.broadcastRoster()
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRoomClosed) {
		p.log.Error("Leave failed", "room", roomID, "user", userID, "error", err)
	}
	if removed {
		p.decrement(userID)
		p.log.Info("Participant left", "room", roomID, "user", userID)
	}
	p.hub.evictIfEmpty(roomID)
}

// Roster returns the current participants of roomID, or false if the room is
// not live.
func (p *PresenceTracker) Roster(roomID string) ([]ParticipantView, bool) {
	room := p.hub.getRoom(roomID)
	if room == nil {
		return nil, false
	}
	var roster []ParticipantView
	if err := room.exec(func(state *roomState) error {
		roster = state.participants()
		return nil
	}); err != nil {
		return nil, false
	}
	return roster, true
}

func (p *PresenceTracker) increment(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID]++
}

func (p *PresenceTracker) decrement(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if count, ok := p.online[userID]; ok {
		if count <= 1 {
			delete(p.online, userID)
			return
		}
		p.online[userID] = count - 1
	}
}

// Online reports whether userID is present in at least one room.
func (p *PresenceTracker) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID] > 0
}

// ActiveCount is the number of distinct users present in any room.
func (p *PresenceTracker) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online)
}
