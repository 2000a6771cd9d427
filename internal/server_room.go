package internal

import (
	"errors"
	"log/slog"

	"github.com/samber/lo"
)

var errRoomNotEmpty = errors.New("room not empty")

// Participant is one roster entry. conn is a delivery back-reference only.
type Participant struct {
	UserID   string
	UserName string
	Role     string
	conn     *Conn
}

// roomState is the authoritative data of a room. It is only touched from the
// room's run goroutine, so none of its methods lock.
type roomState struct {
	id     string
	code   string
	roster []*Participant
	seq    uint64
	recent *dedupWindow
	closed bool
	log    *slog.Logger
}

func (s *roomState) indexOf(userID string) int {
	for i, p := range s.roster {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// upsert inserts p at the end of the roster or replaces the entry with the
// same user id in place. The replaced entry is returned.
func (s *roomState) upsert(p *Participant) *Participant {
	if i := s.indexOf(p.UserID); i >= 0 {
		old := s.roster[i]
		s.roster[i] = p
		return old
	}
	s.roster = append(s.roster, p)
	return nil
}

// remove drops userID from the roster. A non-nil conn only removes the entry
// when it is still bound to that connection.
func (s *roomState) remove(userID string, conn *Conn) bool {
	i := s.indexOf(userID)
	if i < 0 {
		return false
	}
	if conn != nil && s.roster[i].conn != conn {
		return false
	}
	s.roster = append(s.roster[:i], s.roster[i+1:]...)
	return true
}

func (s *roomState) memberByConn(conn *Conn) *Participant {
	p, _ := lo.Find(s.roster, func(p *Participant) bool { return p.conn == conn })
	return p
}

// findRecipient matches a user id first, then a display name.
func (s *roomState) findRecipient(key string) *Participant {
	if p, ok := lo.Find(s.roster, func(p *Participant) bool { return p.UserID == key }); ok {
		return p
	}
	p, _ := lo.Find(s.roster, func(p *Participant) bool { return p.UserName == key })
	return p
}

func (s *roomState) participants() []ParticipantView {
	return lo.Map(s.roster, func(p *Participant, _ int) ParticipantView {
		return ParticipantView{UserID: p.UserID, UserName: p.UserName, Role: p.Role}
	})
}

func (s *roomState) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// fanout enqueues frame on every member except skip and reports how many
// connections accepted it.
func (s *roomState) fanout(frame []byte, skip *Conn) int {
	delivered := 0
	for _, p := range s.roster {
		if p.conn == nil || p.conn == skip {
			continue
		}
		if p.conn.enqueue(frame) {
			delivered++
		} else {
			s.log.Debug("Frame dropped for slow connection", "room", s.id, "user", p.UserID, "conn", p.conn.ID())
		}
	}
	return delivered
}

func (s *roomState) broadcastRoster() {
	frame, err := encodeEvent(EventParticipantsUpdate, ParticipantsUpdate{RoomID: s.id, Participants: s.participants()})
	if err != nil {
		s.log.Error("Encode roster", "room", s.id, "error", err)
		return
	}
	s.fanout(frame, nil)
}

func (s *roomState) sendCode(conn *Conn) {
	frame, err := encodeEvent(EventCodeUpdate, CodeUpdate{RoomID: s.id, Code: s.code})
	if err != nil {
		s.log.Error("Encode code", "room", s.id, "error", err)
		return
	}
	conn.enqueue(frame)
}

// Room serializes every operation on its state through a single goroutine.
// Different rooms run fully in parallel.
type Room struct {
	key   string
	ops   chan func(*roomState)
	quit  chan struct{}
	state *roomState
}

func newRoom(key string, seq uint64, dedupSize int, log *slog.Logger) *Room {
	return &Room{
		key:  key,
		ops:  make(chan func(*roomState)),
		quit: make(chan struct{}),
		state: &roomState{
			id:     key,
			seq:    seq,
			recent: newDedupWindow(dedupSize),
			log:    log,
		},
	}
}

func (room *Room) run() {
	defer close(room.quit)
	for op := range room.ops {
		op(room.state)
		if room.state.closed {
			return
		}
	}
}

// exec runs op on the room goroutine and waits for it. Once the room has been
// closed every call returns errRoomClosed.
func (room *Room) exec(op func(*roomState) error) error {
	result := make(chan error, 1)
	select {
	case room.ops <- func(state *roomState) { result <- op(state) }:
	case <-room.quit:
		return errRoomClosed
	}
	return <-result
}

// stopped reports whether the run goroutine has exited.
func (room *Room) stopped() bool {
	select {
	case <-room.quit:
		return true
	default:
		return false
	}
}

// finalSeq is the last sequence number handed out. Only valid once stopped.
func (room *Room) finalSeq() uint64 {
	if !room.stopped() {
		return 0
	}
	return room.state.seq
}

func (room *Room) size() int {
	n := 0
	if err := room.exec(func(state *roomState) error {
		n = len(state.roster)
		return nil
	}); err != nil {
		return 0
	}
	return n
}

// closeIfEmpty stops the room when nobody is in it. It reports whether the
// room is closed after the call.
func (room *Room) closeIfEmpty() bool {
	err := room.exec(func(state *roomState) error {
		if len(state.roster) > 0 {
			return errRoomNotEmpty
		}
		state.closed = true
		return nil
	})
	return err == nil || errors.Is(err, errRoomClosed)
}

func (room *Room) close() {
	_ = room.exec(func(state *roomState) error {
		state.closed = true
		return nil
	})
}
