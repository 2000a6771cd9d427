package internal

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// client -> coordinator
const (
	EventJoinRoom          = "joinRoom"
	EventLeaveRoom         = "leaveRoom"
	EventCodeChange        = "codeChange"
	EventSendMessage       = "sendMessage"
	EventSendDirectMessage = "sendDirectMessage"
)

// coordinator -> client
const (
	EventParticipantsUpdate = "participantsUpdate"
	EventCodeUpdate         = "codeUpdate"
	EventNewMessage         = "newMessage"
	EventDirectMessage      = "directMessage"
	EventError              = "error"
)

var validate = validator.New()

// Envelope is the JSON frame exchanged over the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type UserRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type JoinRoomPayload struct {
	RoomID   string `json:"roomId" validate:"required"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

type LeaveRoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
	UserID string `json:"userId,omitempty"`
}

type CodeChangePayload struct {
	RoomID string `json:"roomId" validate:"required"`
	Code   string `json:"code"`
}

type SendMessagePayload struct {
	RoomID    string   `json:"roomId" validate:"required"`
	Message   string   `json:"message" validate:"required"`
	User      *UserRef `json:"user,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
	ClientID  string   `json:"clientId,omitempty"`
}

type SendDirectMessagePayload struct {
	RoomID    string   `json:"roomId" validate:"required"`
	Message   string   `json:"message" validate:"required"`
	User      *UserRef `json:"user,omitempty"`
	To        string   `json:"to" validate:"required"`
	Timestamp int64    `json:"timestamp,omitempty"`
	ClientID  string   `json:"clientId,omitempty"`
}

type ParticipantView struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Role     string `json:"role"`
}

type ParticipantsUpdate struct {
	RoomID       string            `json:"roomId"`
	Participants []ParticipantView `json:"participants"`
}

type CodeUpdate struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// ChatEvent is delivered as newMessage or, with IsDM set, as directMessage.
type ChatEvent struct {
	ID        string  `json:"id"`
	Seq       uint64  `json:"seq"`
	RoomID    string  `json:"roomId"`
	User      UserRef `json:"user"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp"`
	To        string  `json:"to,omitempty"`
	IsDM      bool    `json:"isDM,omitempty"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

func encodeEvent(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: name, Data: raw})
}

func decodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	return env, nil
}

// decodePayload unmarshals the envelope data into out and checks required fields.
func decodePayload(env Envelope, out any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformedEvent, env.Event)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Event, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Event, err)
	}
	return nil
}
