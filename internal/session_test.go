package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSession_StateMachine(t *testing.T) {
	req := require.New(t)
	coord := newTestCoordinator(CoordinatorConfig{}, nil, nil)
	defer coord.Close()
	session := coord.NewSession(newConn(nil, 16))

	// Given a fresh connection, events are refused before authentication
	req.Equal(StateConnecting, session.State())
	req.ErrorIs(session.Handle(Envelope{Event: EventJoinRoom}), ErrAuthRejected)

	// When it authenticates and joins
	req.NoError(session.Authenticate(Identity{UserID: "u1", UserName: "ann", Role: "owner"}))
	req.Equal(StateAuthenticated, session.State())
	session.HandleFrame(mustFrame(t, EventJoinRoom, JoinRoomPayload{RoomID: "r1"}))
	req.Equal(StateJoinedRoom, session.State())
	req.Equal("r1", session.RoomID())
	roster, _ := coord.Presence.Roster("r1")
	req.Equal([]ParticipantView{{UserID: "u1", UserName: "ann", Role: "owner"}}, roster)

	// When it leaves, it is back to Authenticated
	session.HandleFrame(mustFrame(t, EventLeaveRoom, LeaveRoomPayload{RoomID: "r1"}))
	req.Equal(StateAuthenticated, session.State())
	req.Empty(session.RoomID())

	// Then closing is terminal
	session.Close()
	req.Equal(StateDisconnected, session.State())
	req.ErrorIs(session.Handle(Envelope{Event: EventJoinRoom}), errSessionClosed)
	req.ErrorIs(session.Authenticate(Identity{UserID: "u1"}), errSessionClosed)
	select {
	case <-session.conn.Done():
	default:
		req.Fail("connection still open after close")
	}
	session.Close()
}

func TestSession_EmptyIdentityIsRejected(t *testing.T) {
	req := require.New(t)
	coord := newTestCoordinator(CoordinatorConfig{}, nil, nil)
	defer coord.Close()
	session := coord.NewSession(newConn(nil, 16))

	err := session.Authenticate(Identity{})

	req.ErrorIs(err, ErrAuthRejected)
	req.Equal(StateDisconnected, session.State())
}

func TestSession_DisconnectActsAsLeave(t *testing.T) {
	req := require.New(t)
	coord := newTestCoordinator(CoordinatorConfig{}, nil, nil)
	defer coord.Close()
	stayer := joinedSession(t, coord, "r1", Identity{UserID: "a"})
	leaver := joinedSession(t, coord, "r1", Identity{UserID: "b"})
	quitter := joinedSession(t, coord, "r1", Identity{UserID: "c"})
	drain(stayer.conn)

	// When b leaves explicitly and c drops its connection
	leaver.HandleFrame(mustFrame(t, EventLeaveRoom, LeaveRoomPayload{RoomID: "r1", UserID: "b"}))
	quitter.Close()

	// Then a sees the same kind of roster update for both
	updates := named(drain(stayer.conn), EventParticipantsUpdate)
	req.Len(updates, 2)
	req.Equal([]string{"a", "c"}, rosterIDs(payloadOf[ParticipantsUpdate](t, updates[0])))
	req.Equal([]string{"a"}, rosterIDs(payloadOf[ParticipantsUpdate](t, updates[1])))
	req.False(coord.Presence.Online("c"))
}

func TestSession_StaleConnectionCloseKeepsReconnectedUser(t *testing.T) {
	req := require.New(t)
	coord := newTestCoordinator(CoordinatorConfig{}, nil, nil)
	defer coord.Close()
	old := joinedSession(t, coord, "r1", Identity{UserID: "a"})
	fresh := joinedSession(t, coord, "r1", Identity{UserID: "a"})

	old.Close()

	roster, ok := coord.Presence.Roster("r1")
	req.True(ok)
	req.Equal([]string{"a"}, rosterIDs(ParticipantsUpdate{Participants: roster}))
	req.Equal(StateJoinedRoom, fresh.State())
}

func TestSession_ReportsRecipientNotFound(t *testing.T) {
	req := require.New(t)
	coord := newTestCoordinator(CoordinatorConfig{}, nil, nil)
	defer coord.Close()
	sender := joinedSession(t, coord, "r1", Identity{UserID: "a"})
	drain(sender.conn)

	sender.HandleFrame(mustFrame(t, EventSendDirectMessage, SendDirectMessagePayload{RoomID: "r1", Message: "yo", To: "nobody"}))

	frames := drain(sender.conn)
	req.Len(frames, 1)
	req.Equal(EventError, frames[0].Event)
	errEvent := payloadOf[ErrorEvent](t, frames[0])
	req.Equal("RecipientNotFound", errEvent.Code)
	req.Equal(EventSendDirectMessage, errEvent.Event)
}

func TestSession_ReportsPayloadTooLarge(t *testing.T) {
	req := require.New(t)
	coord := newTestCoordinator(CoordinatorConfig{MaxCodeBytes: 4}, nil, nil)
	defer coord.Close()
	sender := joinedSession(t, coord, "r1", Identity{UserID: "a"})
	drain(sender.conn)

	sender.HandleFrame(mustFrame(t, EventCodeChange, CodeChangePayload{RoomID: "r1", Code: "too long"}))

	frames := drain(sender.conn)
	req.Len(frames, 1)
	req.Equal("PayloadTooLarge", payloadOf[ErrorEvent](t, frames[0]).Code)
	code, err := coord.Code.CurrentCode("r1")
	req.NoError(err)
	req.Empty(code)
}

func TestSession_SilentlyAbsorbsOtherFailures(t *testing.T) {
	req := require.New(t)
	coord := newTestCoordinator(CoordinatorConfig{}, nil, nil)
	defer coord.Close()
	session := joinedSession(t, coord, "r1", Identity{UserID: "a"})
	drain(session.conn)

	session.HandleFrame([]byte("{not json"))
	session.HandleFrame(mustFrame(t, "danceParty", map[string]string{}))
	session.HandleFrame(mustFrame(t, EventSendMessage, SendMessagePayload{RoomID: "r1"}))
	session.HandleFrame(mustFrame(t, EventCodeChange, CodeChangePayload{RoomID: "other", Code: "x"}))
	session.HandleFrame(mustFrame(t, EventJoinRoom, JoinRoomPayload{RoomID: "r2", UserID: "impostor"}))

	req.Empty(drain(session.conn))
	req.Equal(StateJoinedRoom, session.State())
	req.Equal("r1", session.RoomID())
}

func TestSession_EventsAfterLeaveAreIgnored(t *testing.T) {
	req := require.New(t)
	coord := newTestCoordinator(CoordinatorConfig{}, nil, nil)
	defer coord.Close()
	watcher := joinedSession(t, coord, "r1", Identity{UserID: "w"})
	session := joinedSession(t, coord, "r1", Identity{UserID: "a"})
	session.HandleFrame(mustFrame(t, EventLeaveRoom, LeaveRoomPayload{RoomID: "r1"}))
	drain(watcher.conn)

	session.HandleFrame(mustFrame(t, EventCodeChange, CodeChangePayload{RoomID: "r1", Code: "late"}))
	session.HandleFrame(mustFrame(t, EventSendMessage, SendMessagePayload{RoomID: "r1", Message: "late"}))

	req.Empty(drain(watcher.conn))
}

func TestSession_SwitchingRoomsLeavesThePreviousOne(t *testing.T) {
	req := require.New(t)
	coord := newTestCoordinator(CoordinatorConfig{}, nil, nil)
	defer coord.Close()
	watcher := joinedSession(t, coord, "r1", Identity{UserID: "w"})
	session := joinedSession(t, coord, "r1", Identity{UserID: "a"})
	drain(watcher.conn)

	session.HandleFrame(mustFrame(t, EventJoinRoom, JoinRoomPayload{RoomID: "r2", UserName: "Alias"}))

	req.Equal("r2", session.RoomID())
	updates := named(drain(watcher.conn), EventParticipantsUpdate)
	req.Len(updates, 1)
	req.Equal([]string{"w"}, rosterIDs(payloadOf[ParticipantsUpdate](t, updates[0])))
	roster, _ := coord.Presence.Roster("r2")
	req.Equal("Alias", roster[0].UserName)
}

func TestSession_ChatRateLimit(t *testing.T) {
	req := require.New(t)
	coord := newTestCoordinator(CoordinatorConfig{ChatRateLimit: 2, ChatRateWindow: time.Minute}, nil, nil)
	defer coord.Close()
	session := joinedSession(t, coord, "r1", Identity{UserID: "a"})
	drain(session.conn)

	for _, text := range []string{"one", "two", "three"} {
		session.HandleFrame(mustFrame(t, EventSendMessage, SendMessagePayload{RoomID: "r1", Message: text}))
	}

	frames := drain(session.conn)
	req.Len(named(frames, EventNewMessage), 2)
	errs := named(frames, EventError)
	req.Len(errs, 1)
	req.Equal("RateLimited", payloadOf[ErrorEvent](t, errs[0]).Code)
}

func TestSession_BroadcastIsPersisted(t *testing.T) {
	req := require.New(t)
	history := &recordingHistory{}
	coord := newTestCoordinator(CoordinatorConfig{}, nil, history)
	defer coord.Close()
	session := joinedSession(t, coord, "r1", Identity{UserID: "a", Name: "Ann"})

	session.HandleFrame(mustFrame(t, EventSendMessage, SendMessagePayload{RoomID: "r1", Message: "saved", Timestamp: 42}))

	stored := history.all()
	req.Len(stored, 1)
	req.Equal("r1", stored[0].RoomID)
	req.Equal("Ann", stored[0].SenderName)
	req.Equal("saved", stored[0].Body)
	req.Equal(int64(42), stored[0].SentAt.UnixMilli())
}

func TestSessionState_String(t *testing.T) {
	req := require.New(t)
	req.Equal("connecting", StateConnecting.String())
	req.Equal("joined", StateJoinedRoom.String())
	req.Equal("SessionState(9)", SessionState(9).String())
}
