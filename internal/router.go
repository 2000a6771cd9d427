package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"coderoom/internal/storage"
)

// ChatMessage is one accepted chat entry. Recipient is empty for broadcasts.
type ChatMessage struct {
	ID         string
	RoomID     string
	Seq        uint64
	SenderID   string
	SenderName string
	Text       string
	Timestamp  int64 // unix milliseconds
	Recipient  string
	ClientID   string
}

// dedupKey identifies a logical message across retransmissions.
func (m ChatMessage) dedupKey() string {
	if m.ClientID != "" {
		return m.SenderID + "\x00client\x00" + m.ClientID
	}
	return strings.Join([]string{m.SenderID, m.Recipient, strconv.FormatInt(m.Timestamp, 10), m.Text}, "\x00")
}

func (m ChatMessage) event(recipientName string) ChatEvent {
	return ChatEvent{
		ID:        m.ID,
		Seq:       m.Seq,
		RoomID:    m.RoomID,
		User:      UserRef{ID: m.SenderID, Name: m.SenderName},
		Message:   m.Text,
		Timestamp: m.Timestamp,
		To:        recipientName,
		IsDM:      m.Recipient != "",
	}
}

// Delivery describes what the router did with a message.
type Delivery struct {
	Message    ChatMessage
	Duplicate  bool
	Recipients int
}

// MessageRouter sequences chat messages per room, drops retransmissions, and
// delivers to the whole room or to a single participant.
type MessageRouter struct {
	hub             *Hub
	moderator       *Moderator
	history         HistoryStore
	maxMessageBytes int
	metrics         *Metrics
	log             *slog.Logger
	now             func() time.Time
}

func NewMessageRouter(hub *Hub, moderator *Moderator, history HistoryStore, maxMessageBytes int, metrics *Metrics, log *slog.Logger) *MessageRouter {
	return &MessageRouter{
		hub:             hub,
		moderator:       moderator,
		history:         history,
		maxMessageBytes: maxMessageBytes,
		metrics:         metrics,
		log:             log,
		now:             time.Now,
	}
}

// Broadcast delivers msg to every participant of roomID, sender included.
func (r *MessageRouter) Broadcast(ctx context.Context, roomID string, sender *Conn, msg ChatMessage) (Delivery, error) {
	delivery, err := r.route(roomID, sender, "", msg)
	if err != nil {
		return delivery, err
	}
	if !delivery.Duplicate {
		r.metrics.IncChatMessage(false)
		r.persist(ctx, delivery.Message)
	} else {
		r.metrics.IncDuplicate()
	}
	return delivery, nil
}

// DirectMessage delivers msg only to the participant whose user id or display
// name equals recipientKey. Nothing is delivered when there is no such
// participant and ErrRecipientNotFound is returned.
func (r *MessageRouter) DirectMessage(ctx context.Context, roomID string, sender *Conn, recipientKey string, msg ChatMessage) (Delivery, error) {
	if strings.TrimSpace(recipientKey) == "" {
		return Delivery{}, fmt.Errorf("%w: direct message without recipient", ErrMalformedEvent)
	}
	delivery, err := r.route(roomID, sender, recipientKey, msg)
	if err != nil {
		return delivery, err
	}
	if delivery.Duplicate {
		r.metrics.IncDuplicate()
	} else {
		r.metrics.IncChatMessage(true)
	}
	return delivery, nil
}

func (r *MessageRouter) route(roomID string, sender *Conn, recipientKey string, msg ChatMessage) (Delivery, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return Delivery{}, fmt.Errorf("%w: empty message", ErrMalformedEvent)
	}
	if r.maxMessageBytes > 0 && len(msg.Text) > r.maxMessageBytes {
		return Delivery{}, fmt.Errorf("%w: message is %d bytes, limit %d", ErrPayloadTooLarge, len(msg.Text), r.maxMessageBytes)
	}
	room := r.hub.getRoom(roomID)
	if room == nil {
		return Delivery{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	msg.RoomID = roomID
	msg.Text = r.moderator.Censor(msg.Text)
	if msg.Timestamp == 0 {
		msg.Timestamp = r.now().UnixMilli()
	}

	var delivery Delivery
	err := room.exec(func(state *roomState) error {
		if sender != nil {
			member := state.memberByConn(sender)
			if member == nil {
				return errNotMember
			}
			msg.SenderID = member.UserID
			msg.SenderName = member.UserName
		}
		var target *Participant
		if recipientKey != "" {
			if target = state.findRecipient(recipientKey); target == nil {
				return fmt.Errorf("%w: %s", ErrRecipientNotFound, recipientKey)
			}
			msg.Recipient = target.UserID
		}

		key := msg.dedupKey()
		if seq, ok := state.recent.seen(key); ok {
			msg.Seq = seq
			delivery = Delivery{Message: msg, Duplicate: true}
			return nil
		}
		msg.Seq = state.nextSeq()
		msg.ID = uuid.NewString()
		state.recent.add(key, msg.Seq)

		delivery = Delivery{Message: msg}
		if target == nil {
			frame, err := encodeEvent(EventNewMessage, msg.event(""))
			if err != nil {
				return err
			}
			delivery.Recipients = state.fanout(frame, nil)
			return nil
		}
		frame, err := encodeEvent(EventDirectMessage, msg.event(target.UserName))
		if err != nil {
			return err
		}
		if target.conn != nil && target.conn.enqueue(frame) {
			delivery.Recipients = 1
		}
		return nil
	})
	if errors.Is(err, errRoomClosed) {
		return Delivery{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return Delivery{}, err
	}
	return delivery, nil
}

// persist hands a broadcast to the history collaborator. Failures are logged;
// delivery has already happened.
func (r *MessageRouter) persist(ctx context.Context, msg ChatMessage) {
	if r.history == nil {
		return
	}
	stored := storage.Message{
		ID:         msg.ID,
		RoomID:     msg.RoomID,
		Seq:        int64(msg.Seq),
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Body:       msg.Text,
		SentAt:     time.UnixMilli(msg.Timestamp).UTC(),
	}
	if err := r.history.AppendMessage(ctx, stored); err != nil {
		r.log.Warn("Chat history append failed", "room", msg.RoomID, "message", msg.ID, "error", err)
	}
}
