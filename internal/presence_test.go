package internal

import (
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"coderoom/internal/storage"
)

func TestPresence_RosterKeepsJoinOrder(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(0)
	defer hub.Close()
	conns := map[string]*Conn{"alice": newConn(nil, 16), "bob": newConn(nil, 16), "carol": newConn(nil, 16)}

	// When three users join one after the other
	for _, user := range []string{"alice", "bob", "carol"} {
		req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: user, UserName: user, Role: "member"}, conns[user]))
	}

	// Then every roster broadcast lists the members in join order
	updates := named(drain(conns["alice"]), EventParticipantsUpdate)
	req.Len(updates, 3)
	req.Equal([]string{"alice"}, rosterIDs(payloadOf[ParticipantsUpdate](t, updates[0])))
	req.Equal([]string{"alice", "bob"}, rosterIDs(payloadOf[ParticipantsUpdate](t, updates[1])))
	req.Equal([]string{"alice", "bob", "carol"}, rosterIDs(payloadOf[ParticipantsUpdate](t, updates[2])))
	last := payloadOf[ParticipantsUpdate](t, updates[2])
	req.Equal("r1", last.RoomID)
	req.Equal("member", last.Participants[0].Role)
	req.Len(named(drain(conns["carol"]), EventParticipantsUpdate), 1)
}

func TestPresence_JoinerIsSeededWithCurrentCode(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(0)
	defer hub.Close()
	code := NewCodeSynchronizer(hub, 0, nil, logs.GetLoggerFromLevel(slog.LevelDebug))
	writer := newConn(nil, 16)
	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a"}, writer))
	req.NoError(code.ApplyChange("r1", writer, "fmt.Println(1)"))

	// When a second user joins
	joiner := newConn(nil, 16)
	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "b"}, joiner))

	// Then the roster arrives first, then the current buffer
	frames := drain(joiner)
	req.Len(frames, 2)
	req.Equal(EventParticipantsUpdate, frames[0].Event)
	req.Equal(EventCodeUpdate, frames[1].Event)
	req.Equal("fmt.Println(1)", payloadOf[CodeUpdate](t, frames[1]).Code)
}

func TestPresence_ReconnectReplacesEntry(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(0)
	defer hub.Close()
	stale, fresh, other := newConn(nil, 16), newConn(nil, 16), newConn(nil, 16)

	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a", UserName: "A"}, stale))
	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "b"}, other))
	drain(stale)

	// When a reconnects on a new connection
	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a", UserName: "A2"}, fresh))

	// Then a keeps one entry in its original position and the old conn hears nothing
	roster, ok := presence.Roster("r1")
	req.True(ok)
	req.Equal([]ParticipantView{{UserID: "a", UserName: "A2"}, {UserID: "b", UserName: "b"}}, roster)
	req.Empty(drain(stale))

	// When the stale connection goes away, the fresh entry stays
	presence.leaveConn("r1", "a", stale)
	roster, _ = presence.Roster("r1")
	req.Len(roster, 2)
	req.True(presence.Online("a"))
	req.Equal(2, presence.ActiveCount())
}

func TestPresence_LeaveWhenAbsentIsNoop(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(0)
	defer hub.Close()
	member := newConn(nil, 16)
	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a"}, member))
	drain(member)

	presence.Leave("r1", "ghost")
	presence.Leave("nowhere", "a")

	req.Empty(drain(member))
	roster, ok := presence.Roster("r1")
	req.True(ok)
	req.Len(roster, 1)
}

func TestPresence_RejectsMalformedIdentity(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(0)
	defer hub.Close()

	err := presence.Join(t.Context(), "r1", Participant{UserID: " "}, newConn(nil, 16))

	req.ErrorIs(err, ErrMalformedEvent)
	req.False(hub.Exists("r1"))
}

func TestPresence_DirectoryGuardsUnknownRooms(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	hub := NewHub(log, HubConfig{})
	defer hub.Close()
	directory := fakeDirectory{rooms: map[string]*storage.Room{"known": {ID: "known", Name: "Known"}}}
	presence := NewPresenceTracker(hub, directory, log)

	req.ErrorIs(presence.Join(t.Context(), "unknown", Participant{UserID: "a"}, newConn(nil, 16)), ErrRoomNotFound)
	req.NoError(presence.Join(t.Context(), "known", Participant{UserID: "a"}, newConn(nil, 16)))
	req.False(hub.Exists("unknown"))
}

func TestPresence_DefaultsDisplayNameToUserID(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(0)
	defer hub.Close()

	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "42"}, newConn(nil, 16)))

	roster, _ := presence.Roster("r1")
	req.Equal("42", roster[0].UserName)
}
