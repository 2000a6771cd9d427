package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type routerFixture struct {
	hub     *Hub
	router  *MessageRouter
	history *recordingHistory
	conns   map[string]*Conn
}

func newRouterFixture(t *testing.T, moderator *Moderator, members ...Participant) routerFixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	hub, presence := newTestHub(0)
	t.Cleanup(hub.Close)
	history := &recordingHistory{}
	router := NewMessageRouter(hub, moderator, history, 64, NewMetrics(), log)
	router.now = func() time.Time { return time.UnixMilli(5000) }
	conns := make(map[string]*Conn, len(members))
	for _, member := range members {
		conns[member.UserID] = newConn(nil, 64)
		require.NoError(t, presence.Join(t.Context(), "r1", member, conns[member.UserID]))
	}
	for _, conn := range conns {
		drain(conn)
	}
	return routerFixture{hub: hub, router: router, history: history, conns: conns}
}

var (
	alice = Participant{UserID: "1", UserName: "alice"}
	bob   = Participant{UserID: "2", UserName: "bob"}
	carol = Participant{UserID: "3", UserName: "carol"}
)

func TestRouter_BroadcastReachesEveryoneIncludingSender(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, nil, alice, bob, carol)

	delivery, err := f.router.Broadcast(t.Context(), "r1", f.conns["1"], ChatMessage{Text: "hello"})

	req.NoError(err)
	req.False(delivery.Duplicate)
	req.Equal(3, delivery.Recipients)
	req.Equal(uint64(1), delivery.Message.Seq)
	req.NotEmpty(delivery.Message.ID)
	for _, conn := range f.conns {
		messages := named(drain(conn), EventNewMessage)
		req.Len(messages, 1)
		event := payloadOf[ChatEvent](t, messages[0])
		req.Equal("hello", event.Message)
		req.Equal(UserRef{ID: "1", Name: "alice"}, event.User)
		req.Equal(int64(5000), event.Timestamp)
		req.False(event.IsDM)
	}
}

func TestRouter_RetransmissionIsDeliveredOnce(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, nil, alice, bob)
	msg := ChatMessage{Text: "same", Timestamp: 1234}

	first, err := f.router.Broadcast(t.Context(), "r1", f.conns["1"], msg)
	req.NoError(err)
	second, err := f.router.Broadcast(t.Context(), "r1", f.conns["1"], msg)
	req.NoError(err)

	req.True(second.Duplicate)
	req.Equal(first.Message.Seq, second.Message.Seq)
	req.Len(named(drain(f.conns["2"]), EventNewMessage), 1)
	req.Len(f.history.all(), 1)

	// a new timestamp is a new message
	msg.Timestamp = 1235
	third, err := f.router.Broadcast(t.Context(), "r1", f.conns["1"], msg)
	req.NoError(err)
	req.False(third.Duplicate)
	req.Equal(uint64(2), third.Message.Seq)
}

func TestRouter_ClientIDWinsOverContent(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, nil, alice, bob)

	_, err := f.router.Broadcast(t.Context(), "r1", f.conns["1"], ChatMessage{Text: "retry me", Timestamp: 1, ClientID: "x"})
	req.NoError(err)
	retry, err := f.router.Broadcast(t.Context(), "r1", f.conns["1"], ChatMessage{Text: "retry me", Timestamp: 2, ClientID: "x"})
	req.NoError(err)

	req.True(retry.Duplicate)
	req.Len(named(drain(f.conns["2"]), EventNewMessage), 1)
}

func TestRouter_DirectMessageOnlyReachesRecipient(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, nil, alice, bob, carol)

	// When alice addresses bob by name and carol by id
	_, err := f.router.DirectMessage(t.Context(), "r1", f.conns["1"], "bob", ChatMessage{Text: "to bob"})
	req.NoError(err)
	_, err = f.router.DirectMessage(t.Context(), "r1", f.conns["1"], "3", ChatMessage{Text: "to carol"})
	req.NoError(err)

	// Then each recipient gets exactly its own message and the sender gets nothing
	req.Empty(drain(f.conns["1"]))
	bobFrames := drain(f.conns["2"])
	req.Len(bobFrames, 1)
	req.Equal(EventDirectMessage, bobFrames[0].Event)
	event := payloadOf[ChatEvent](t, bobFrames[0])
	req.True(event.IsDM)
	req.Equal("bob", event.To)
	req.Equal("to bob", event.Message)
	carolFrames := named(drain(f.conns["3"]), EventDirectMessage)
	req.Len(carolFrames, 1)
	req.Equal("to carol", payloadOf[ChatEvent](t, carolFrames[0]).Message)

	// direct messages are not kept in room history
	req.Empty(f.history.all())
}

func TestRouter_UnknownRecipientDeliversNothing(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, nil, alice, bob)

	_, err := f.router.DirectMessage(t.Context(), "r1", f.conns["1"], "mallory", ChatMessage{Text: "hello?"})

	req.ErrorIs(err, ErrRecipientNotFound)
	for _, conn := range f.conns {
		req.Empty(drain(conn))
	}

	// the failed attempt does not consume a sequence number
	delivery, err := f.router.Broadcast(t.Context(), "r1", f.conns["1"], ChatMessage{Text: "next"})
	req.NoError(err)
	req.Equal(uint64(1), delivery.Message.Seq)
}

func TestRouter_SequenceIsFIFOPerRoom(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, nil, alice, bob)

	for i := 0; i < 20; i++ {
		sender := f.conns["1"]
		if i%2 == 1 {
			sender = f.conns["2"]
		}
		_, err := f.router.Broadcast(t.Context(), "r1", sender, ChatMessage{Text: fmt.Sprintf("m%d", i)})
		req.NoError(err)
	}

	messages := named(drain(f.conns["2"]), EventNewMessage)
	req.Len(messages, 20)
	for i, env := range messages {
		event := payloadOf[ChatEvent](t, env)
		req.Equal(uint64(i+1), event.Seq)
		req.Equal(fmt.Sprintf("m%d", i), event.Message)
	}
}

func TestRouter_SenderIdentityComesFromRoster(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, nil, alice, bob)

	delivery, err := f.router.Broadcast(t.Context(), "r1", f.conns["2"], ChatMessage{SenderID: "1", SenderName: "alice", Text: "spoof"})

	req.NoError(err)
	req.Equal("2", delivery.Message.SenderID)
	req.Equal("bob", delivery.Message.SenderName)
	stored := f.history.all()
	req.Len(stored, 1)
	req.Equal("2", stored[0].SenderID)
	req.Equal(int64(1), stored[0].Seq)
}

func TestRouter_RejectsBadInput(t *testing.T) {
	req := require.New(t)
	f := newRouterFixture(t, nil, alice)

	_, err := f.router.Broadcast(t.Context(), "r1", f.conns["1"], ChatMessage{Text: "  "})
	req.ErrorIs(err, ErrMalformedEvent)
	_, err = f.router.Broadcast(t.Context(), "r1", f.conns["1"], ChatMessage{Text: strings.Repeat("y", 65)})
	req.ErrorIs(err, ErrPayloadTooLarge)
	_, err = f.router.Broadcast(t.Context(), "elsewhere", f.conns["1"], ChatMessage{Text: "hi"})
	req.ErrorIs(err, ErrRoomNotFound)
	_, err = f.router.Broadcast(t.Context(), "r1", newConn(nil, 4), ChatMessage{Text: "hi"})
	req.ErrorIs(err, errNotMember)
	_, err = f.router.DirectMessage(t.Context(), "r1", f.conns["1"], "", ChatMessage{Text: "hi"})
	req.ErrorIs(err, ErrMalformedEvent)
	req.Empty(drain(f.conns["1"]))
}

func TestRouter_CensorsBeforeFanout(t *testing.T) {
	req := require.New(t)
	moderator, err := NewModerator([]string{"darn"}, '#')
	req.NoError(err)
	f := newRouterFixture(t, moderator, alice, bob)

	_, err = f.router.Broadcast(t.Context(), "r1", f.conns["1"], ChatMessage{Text: "well DARN it"})
	req.NoError(err)

	messages := named(drain(f.conns["2"]), EventNewMessage)
	req.Len(messages, 1)
	req.Equal("well #### it", payloadOf[ChatEvent](t, messages[0]).Message)
	req.Equal("well #### it", f.history.all()[0].Body)
}
