package internal

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// HubConfig tunes room lifetime and per-room buffers.
type HubConfig struct {
	// EvictionGrace is how long an empty room survives before it is removed.
	// Zero evicts as soon as the last participant leaves.
	EvictionGrace time.Duration
	DedupWindow   int
	// LastSeq reports the highest sequence number already handed out for a
	// room, typically from chat history. A new room continues after it.
	LastSeq func(key string) uint64
}

// Hub is the room registry: the only state shared across rooms.
type Hub struct {
	mutex sync.RWMutex
	rooms map[string]*Room
	// lastSeq keeps the counter of evicted rooms so a re-created room never
	// reuses a sequence number.
	lastSeq map[string]uint64
	config  HubConfig
	log     *slog.Logger
}

// builds an empty hub ready to serve websocket sessions
func NewHub(log *slog.Logger, config HubConfig) *Hub {
	if config.DedupWindow <= 0 {
		config.DedupWindow = 256
	}
	return &Hub{
		rooms:   make(map[string]*Room),
		lastSeq: make(map[string]uint64),
		config:  config,
		log:     log,
	}
}

// Exists takes a peek into the room map without creating anything.
func (hub *Hub) Exists(key string) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.rooms[key]
	return ok
}

// getOrCreateRoom returns the single live Room for key, starting one if needed.
// A room that is closed but not yet unregistered is replaced.
func (hub *Hub) getOrCreateRoom(key string) *Room {
	if room := hub.getRoom(key); room != nil && !room.stopped() {
		return room
	}
	// the seed lookup may hit storage, so it runs outside the registry lock
	var seed uint64
	if hub.config.LastSeq != nil {
		seed = hub.config.LastSeq(key)
	}

	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[key]; exists {
		if !room.stopped() {
			return room
		}
		hub.retire(key, room)
	}
	seed = max(seed, hub.lastSeq[key])
	room := newRoom(key, seed, hub.config.DedupWindow, hub.log)
	hub.rooms[key] = room
	go room.run()
	hub.log.Info("Room created", "room", key, "seq", seed)
	return room
}

// retire records the final counter of a stopped room. Callers hold the lock.
func (hub *Hub) retire(key string, room *Room) {
	hub.lastSeq[key] = max(hub.lastSeq[key], room.finalSeq())
	if hub.rooms[key] == room {
		delete(hub.rooms, key)
	}
}

// getRoom retrieves a room by key (may return nil)
func (hub *Hub) getRoom(key string) *Room {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return hub.rooms[key]
}

// CreateRoom makes a room live ahead of its first join. With a grace period it
// is evicted like any other room if nobody joins in time; with none it stays
// until its first participant leaves.
func (hub *Hub) CreateRoom(key string) {
	hub.getOrCreateRoom(key)
	if hub.config.EvictionGrace > 0 {
		hub.evictIfEmpty(key)
	}
}

// evictIfEmpty removes the room once its roster is empty, either right away or
// after the configured grace period.
func (hub *Hub) evictIfEmpty(key string) {
	if hub.config.EvictionGrace <= 0 {
		hub.deleteRoomIfEmpty(key)
		return
	}
	time.AfterFunc(hub.config.EvictionGrace, func() {
		hub.deleteRoomIfEmpty(key)
	})
}

// deleteRoomIfEmpty stops the room outside the registry lock, so a busy room
// never holds up lookups of other rooms, then unregisters that same instance.
func (hub *Hub) deleteRoomIfEmpty(key string) bool {
	room := hub.getRoom(key)
	if room == nil {
		return false
	}
	if !room.closeIfEmpty() {
		return false
	}
	<-room.quit

	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	hub.retire(key, room)
	hub.log.Info("Room evicted", "room", key)
	return true
}

// RoomCount is the number of rooms currently held in memory.
func (hub *Hub) RoomCount() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.rooms)
}

// ActiveRooms lists live room ids in lexical order.
func (hub *Hub) ActiveRooms() []string {
	hub.mutex.RLock()
	keys := lo.Keys(hub.rooms)
	hub.mutex.RUnlock()
	sort.Strings(keys)
	return keys
}

// Close stops every room. Used on shutdown after connections are gone.
func (hub *Hub) Close() {
	hub.mutex.Lock()
	rooms := hub.rooms
	hub.rooms = make(map[string]*Room)
	hub.mutex.Unlock()
	for _, room := range rooms {
		room.close()
	}
}
