package internal

import (
	"context"
	"log/slog"
	"time"
)

// CoordinatorConfig holds the limits of the real-time room coordinator.
type CoordinatorConfig struct {
	EvictionGrace   time.Duration
	DedupWindow     int
	MaxCodeBytes    int
	MaxMessageBytes int
	ChatRateLimit   int
	ChatRateWindow  time.Duration
	SendBuffer      int
	ReadLimit       int64
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.DedupWindow <= 0 {
		c.DedupWindow = 256
	}
	if c.MaxCodeBytes <= 0 {
		c.MaxCodeBytes = 256 << 10
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 4 << 10
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	// the transport limit stays above the payload limits so oversized content
	// is reported instead of dropping the connection
	if floor := int64(c.MaxCodeBytes) + 4096; c.ReadLimit < floor {
		c.ReadLimit = floor
	}
	return c
}

// Coordinator wires the registry, presence tracking, code sync, and chat
// routing together and hands out sessions for new connections.
type Coordinator struct {
	Hub      *Hub
	Presence *PresenceTracker
	Code     *CodeSynchronizer
	Router   *MessageRouter

	chatLimiter *RateLimiter
	metrics     *Metrics
	config      CoordinatorConfig
	log         *slog.Logger
}

// NewCoordinator builds a coordinator. directory may be nil, in which case any
// room id can be joined. history may be nil to skip chat persistence.
func NewCoordinator(config CoordinatorConfig, directory RoomDirectory, history HistoryStore, moderator *Moderator, metrics *Metrics, log *slog.Logger) *Coordinator {
	config = config.withDefaults()
	hubConfig := HubConfig{EvictionGrace: config.EvictionGrace, DedupWindow: config.DedupWindow}
	if source, ok := history.(SequenceSource); ok {
		hubConfig.LastSeq = lastSeqFrom(source, log)
	}
	hub := NewHub(log, hubConfig)
	return &Coordinator{
		Hub:         hub,
		Presence:    NewPresenceTracker(hub, directory, log),
		Code:        NewCodeSynchronizer(hub, config.MaxCodeBytes, metrics, log),
		Router:      NewMessageRouter(hub, moderator, history, config.MaxMessageBytes, metrics, log),
		chatLimiter: NewRateLimiter(config.ChatRateLimit, config.ChatRateWindow),
		metrics:     metrics,
		config:      config,
		log:         log,
	}
}

func lastSeqFrom(source SequenceSource, log *slog.Logger) func(string) uint64 {
	return func(roomID string) uint64 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		seq, err := source.LastSeq(ctx, roomID)
		if err != nil {
			log.Warn("Chat history sequence lookup failed", "room", roomID, "error", err)
			return 0
		}
		return uint64(max(seq, 0))
	}
}

// Config returns the effective configuration after defaults.
func (c *Coordinator) Config() CoordinatorConfig {
	return c.config
}

// NewSession starts the lifecycle of conn in the Connecting state.
func (c *Coordinator) NewSession(conn *Conn) *Session {
	conn.metrics = c.metrics
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		state:  StateConnecting,
		conn:   conn,
		coord:  c,
		ctx:    ctx,
		cancel: cancel,
		log:    c.log.With("conn", conn.ID()),
	}
}

// Close stops every room. Sessions should be closed first.
func (c *Coordinator) Close() {
	c.Hub.Close()
}
