package internal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// SessionState is a step in a connection's lifecycle.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateJoinedRoom
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoinedRoom:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// Session drives one connection from accept to teardown. Disconnected is
// terminal; a reconnect gets a new Session.
type Session struct {
	mu       sync.Mutex
	state    SessionState
	conn     *Conn
	identity Identity
	roomID   string

	coord  *Coordinator
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RoomID is the room the session is joined to, or "".
func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Authenticate moves a connecting session to Authenticated. An identity
// without a user id rejects the session for good.
func (s *Session) Authenticate(identity Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return fmt.Errorf("%w: authenticate in state %s", errSessionClosed, s.state)
	}
	if identity.UserID == "" {
		s.disconnectLocked()
		return fmt.Errorf("%w: empty user id", ErrAuthRejected)
	}
	s.identity = identity
	s.state = StateAuthenticated
	s.log = s.log.With("user", identity.UserID)
	return nil
}

// Reject ends a session whose credential exchange failed.
func (s *Session) Reject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked()
}

// Close runs the same cleanup as an explicit leave and then releases the
// connection. Calling it more than once is harmless.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return
	}
	if s.state == StateJoinedRoom {
		s.coord.Presence.leaveConn(s.roomID, s.identity.UserID, s.conn)
		s.roomID = ""
	}
	s.disconnectLocked()
	s.log.Debug("Session closed")
}

func (s *Session) disconnectLocked() {
	s.state = StateDisconnected
	s.cancel()
	s.coord.chatLimiter.Forget(s.conn.ID())
	s.conn.Close()
}

// HandleFrame decodes and applies one inbound frame. Failures the sender
// should learn about come back as an error event; the rest are only logged.
func (s *Session) HandleFrame(frame []byte) {
	env, err := decodeEnvelope(frame)
	if err == nil {
		err = s.Handle(env)
	}
	if err == nil {
		return
	}
	if code := errorCode(err); code != "" {
		s.sendError(code, env.Event, err)
		return
	}
	s.log.Debug("Event dropped", "event", env.Event, "error", err)
}

func (s *Session) sendError(code, event string, cause error) {
	frame, err := encodeEvent(EventError, ErrorEvent{Code: code, Event: event, Message: cause.Error()})
	if err != nil {
		s.log.Error("Encode error event", "error", err)
		return
	}
	s.conn.enqueue(frame)
}

// Handle applies one decoded event according to the current state.
func (s *Session) Handle(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateDisconnected:
		return errSessionClosed
	case StateConnecting:
		return fmt.Errorf("%w: %s before authentication", ErrAuthRejected, env.Event)
	}

	switch env.Event {
	case EventJoinRoom:
		var payload JoinRoomPayload
		if err := decodePayload(env, &payload); err != nil {
			return err
		}
		return s.join(payload)
	case EventLeaveRoom:
		var payload LeaveRoomPayload
		if err := decodePayload(env, &payload); err != nil {
			return err
		}
		return s.leave(payload)
	case EventCodeChange:
		var payload CodeChangePayload
		if err := decodePayload(env, &payload); err != nil {
			return err
		}
		if err := s.requireRoom(payload.RoomID); err != nil {
			return err
		}
		return s.coord.Code.ApplyChange(s.roomID, s.conn, payload.Code)
	case EventSendMessage:
		var payload SendMessagePayload
		if err := decodePayload(env, &payload); err != nil {
			return err
		}
		if err := s.requireChat(payload.RoomID); err != nil {
			return err
		}
		msg := ChatMessage{Text: payload.Message, Timestamp: payload.Timestamp, ClientID: payload.ClientID}
		_, err := s.coord.Router.Broadcast(s.ctx, s.roomID, s.conn, msg)
		return err
	case EventSendDirectMessage:
		var payload SendDirectMessagePayload
		if err := decodePayload(env, &payload); err != nil {
			return err
		}
		if err := s.requireChat(payload.RoomID); err != nil {
			return err
		}
		msg := ChatMessage{Text: payload.Message, Timestamp: payload.Timestamp, ClientID: payload.ClientID}
		_, err := s.coord.Router.DirectMessage(s.ctx, s.roomID, s.conn, payload.To, msg)
		return err
	}
	return fmt.Errorf("%w: unknown event %q", ErrMalformedEvent, env.Event)
}

// Join is the programmatic form of a joinRoom event, used when the room is
// named on the upgrade request.
func (s *Session) Join(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return errSessionClosed
	}
	if s.state == StateConnecting {
		return fmt.Errorf("%w: join before authentication", ErrAuthRejected)
	}
	return s.join(JoinRoomPayload{RoomID: roomID})
}

func (s *Session) join(payload JoinRoomPayload) error {
	if payload.UserID != "" && payload.UserID != s.identity.UserID {
		return fmt.Errorf("%w: joinRoom for user %s on a connection of %s", ErrMalformedEvent, payload.UserID, s.identity.UserID)
	}
	name := s.identity.DisplayName()
	if payload.UserName != "" {
		name = payload.UserName
	}
	// one room per connection
	if s.state == StateJoinedRoom && s.roomID != payload.RoomID {
		s.coord.Presence.leaveConn(s.roomID, s.identity.UserID, s.conn)
		s.state = StateAuthenticated
		s.roomID = ""
	}
	participant := Participant{UserID: s.identity.UserID, UserName: name, Role: s.identity.Role}
	if err := s.coord.Presence.Join(s.ctx, payload.RoomID, participant, s.conn); err != nil {
		return err
	}
	s.state = StateJoinedRoom
	s.roomID = payload.RoomID
	return nil
}

func (s *Session) leave(payload LeaveRoomPayload) error {
	if payload.UserID != "" && payload.UserID != s.identity.UserID {
		return fmt.Errorf("%w: leaveRoom for user %s on a connection of %s", ErrMalformedEvent, payload.UserID, s.identity.UserID)
	}
	if s.state != StateJoinedRoom || s.roomID != payload.RoomID {
		return nil
	}
	s.coord.Presence.leaveConn(s.roomID, s.identity.UserID, s.conn)
	s.state = StateAuthenticated
	s.roomID = ""
	return nil
}

func (s *Session) requireRoom(roomID string) error {
	if s.state != StateJoinedRoom || s.roomID != roomID {
		return errNotMember
	}
	return nil
}

func (s *Session) requireChat(roomID string) error {
	if err := s.requireRoom(roomID); err != nil {
		return err
	}
	if !s.coord.chatLimiter.Allow(s.conn.ID()) {
		return ErrRateLimited
	}
	return nil
}
