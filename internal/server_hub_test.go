package internal

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newTestHub(grace time.Duration) (*Hub, *PresenceTracker) {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	hub := NewHub(log, HubConfig{EvictionGrace: grace})
	return hub, NewPresenceTracker(hub, nil, log)
}

func TestHub_ConcurrentJoinsShareOneRoom(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(0)
	defer hub.Close()

	// When fifty users join the same room at once
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			errs <- presence.Join(t.Context(), "shared", Participant{UserID: user}, newConn(nil, 256))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	// Then a single room holds all of them
	req.Equal(1, hub.RoomCount())
	roster, ok := presence.Roster("shared")
	req.True(ok)
	req.Len(roster, 50)
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(0)
	defer hub.Close()
	first, second := newConn(nil, 16), newConn(nil, 16)

	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a"}, first))
	req.NoError(presence.Join(t.Context(), "r2", Participant{UserID: "b"}, second))

	req.Equal([]string{"r1", "r2"}, hub.ActiveRooms())
	for _, env := range named(drain(first), EventParticipantsUpdate) {
		req.Equal([]string{"a"}, rosterIDs(payloadOf[ParticipantsUpdate](t, env)))
	}
}

func TestHub_EvictsEmptyRoomRightAway(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(0)
	defer hub.Close()

	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a"}, newConn(nil, 16)))
	req.True(hub.Exists("r1"))

	presence.Leave("r1", "a")

	req.False(hub.Exists("r1"))
	req.Equal(0, hub.RoomCount())
}

func TestHub_GracePeriodDelaysEviction(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(40 * time.Millisecond)
	defer hub.Close()

	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a"}, newConn(nil, 16)))
	presence.Leave("r1", "a")

	// Then the room survives the leave and goes away once the grace expires
	req.True(hub.Exists("r1"))
	req.Eventually(func() bool { return !hub.Exists("r1") }, time.Second, 10*time.Millisecond)
}

func TestHub_RejoinWithinGraceKeepsRoom(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(30 * time.Millisecond)
	defer hub.Close()

	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a"}, newConn(nil, 16)))
	presence.Leave("r1", "a")
	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a"}, newConn(nil, 16)))

	time.Sleep(90 * time.Millisecond)
	req.True(hub.Exists("r1"))
}

func TestHub_JoinAfterEvictionGetsFreshRoom(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(0)
	defer hub.Close()
	code := NewCodeSynchronizer(hub, 0, nil, logs.GetLoggerFromLevel(slog.LevelDebug))

	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a"}, newConn(nil, 16)))
	req.NoError(code.ApplyChange("r1", nil, "old"))
	presence.Leave("r1", "a")
	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a"}, newConn(nil, 16)))

	current, err := code.CurrentCode("r1")
	req.NoError(err)
	req.Empty(current)
}

func TestHub_CreateRoomAheadOfJoin(t *testing.T) {
	req := require.New(t)
	hub, _ := newTestHub(time.Minute)
	defer hub.Close()

	hub.CreateRoom("planned")

	req.True(hub.Exists("planned"))
}

func TestHub_CreateRoomWithoutGraceWaitsForFirstJoin(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(0)
	defer hub.Close()

	hub.CreateRoom("planned")
	req.True(hub.Exists("planned"))

	req.NoError(presence.Join(t.Context(), "planned", Participant{UserID: "a"}, newConn(nil, 16)))
	presence.Leave("planned", "a")
	req.False(hub.Exists("planned"))
}

func TestHub_SequenceContinuesAfterEviction(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	hub, presence := newTestHub(0)
	defer hub.Close()
	router := NewMessageRouter(hub, nil, nil, 0, nil, log)

	// Given A broadcast once and left, evicting the room
	a := newConn(nil, 16)
	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a"}, a))
	first, err := router.Broadcast(t.Context(), "r1", a, ChatMessage{Text: "first"})
	req.NoError(err)
	presence.Leave("r1", "a")
	req.False(hub.Exists("r1"))

	// When B joins the re-created room and broadcasts
	b := newConn(nil, 16)
	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "b"}, b))
	second, err := router.Broadcast(t.Context(), "r1", b, ChatMessage{Text: "second"})
	req.NoError(err)

	// Then numbering carries on instead of restarting
	req.Equal(uint64(1), first.Message.Seq)
	req.Equal(uint64(2), second.Message.Seq)
	req.NotEqual(first.Message.ID, second.Message.ID)
}

func TestHub_SequenceSeededFromLastSeq(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	hub := NewHub(log, HubConfig{LastSeq: func(key string) uint64 {
		if key == "r1" {
			return 41
		}
		return 0
	}})
	defer hub.Close()
	presence := NewPresenceTracker(hub, nil, log)
	router := NewMessageRouter(hub, nil, nil, 0, nil, log)

	a := newConn(nil, 16)
	req.NoError(presence.Join(t.Context(), "r1", Participant{UserID: "a"}, a))
	delivery, err := router.Broadcast(t.Context(), "r1", a, ChatMessage{Text: "after restart"})

	req.NoError(err)
	req.Equal(uint64(42), delivery.Message.Seq)
}

func TestHub_BusyRoomDoesNotBlockOtherRooms(t *testing.T) {
	req := require.New(t)
	hub, presence := newTestHub(0)
	defer hub.Close()
	req.NoError(presence.Join(t.Context(), "busy", Participant{UserID: "a"}, newConn(nil, 16)))

	// Given the busy room's goroutine is held up
	busy := hub.getRoom("busy")
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = busy.exec(func(*roomState) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	// When an eviction check for it is pending
	go hub.evictIfEmpty("busy")

	// Then other rooms can still be created and joined
	done := make(chan error, 1)
	go func() {
		done <- presence.Join(t.Context(), "other", Participant{UserID: "b"}, newConn(nil, 16))
	}()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("join of another room waited on a busy room")
	}
}
