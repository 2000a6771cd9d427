package internal

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"coderoom/internal/storage"
)

type createRoomRequest struct {
	Name string `json:"name" validate:"required,max=80"`
}

type joinRoomRequest struct {
	Code string `json:"code" validate:"required"`
}

type roomResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Code         string            `json:"code,omitempty"`
	OwnerID      string            `json:"ownerId"`
	Live         bool              `json:"live"`
	Participants []ParticipantView `json:"participants"`
}

func (s *Server) roomView(room *storage.Room, withCode bool) roomResponse {
	roster, live := s.coord.Presence.Roster(room.ID)
	if roster == nil {
		roster = []ParticipantView{}
	}
	resp := roomResponse{
		ID:           room.ID,
		Name:         room.Name,
		OwnerID:      strconv.FormatInt(room.OwnerID, 10),
		Live:         live,
		Participants: roster,
	}
	if withCode {
		resp.Code = room.Code
	}
	return resp
}

func newInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// HandleRooms serves /api/rooms: POST creates a room, GET lists live rooms.
func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticateRequest(r)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string][]string{"rooms": s.coord.Hub.ActiveRooms()})
	case http.MethodPost:
		s.createRoom(w, r, identity)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request, identity Identity) {
	ownerID, err := strconv.ParseInt(identity.UserID, 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("room name is required"))
		return
	}
	room := storage.Room{ID: uuid.NewString(), Name: req.Name, Code: newInviteCode(), OwnerID: ownerID}
	if err := s.store.CreateRoom(r.Context(), room); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.coord.Hub.CreateRoom(room.ID)
	s.log.Info("Room registered", "room", room.ID, "owner", identity.UserID)
	writeJSON(w, http.StatusCreated, s.roomView(&room, true))
}

// HandleRoom serves /api/rooms/{id}, /api/rooms/{id}/join and
// /api/rooms/{id}/participants.
func (s *Server) HandleRoom(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticateRequest(r)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/rooms/"), "/")
	roomID, action, _ := strings.Cut(path, "/")
	if roomID == "" {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	if action == "participants" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		roster, _ := s.coord.Presence.Roster(roomID)
		if roster == nil {
			roster = []ParticipantView{}
		}
		writeJSON(w, http.StatusOK, ParticipantsUpdate{RoomID: roomID, Participants: roster})
		return
	}

	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if room == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	isOwner := strconv.FormatInt(room.OwnerID, 10) == identity.UserID

	switch {
	case action == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.roomView(room, isOwner))
	case action == "" && r.Method == http.MethodDelete:
		if !isOwner {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		if _, err := s.store.DeleteRoom(r.Context(), room.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.log.Info("Room deleted", "room", room.ID, "owner", identity.UserID)
		w.WriteHeader(http.StatusNoContent)
	case action == "join" && r.Method == http.MethodPost:
		var req joinRoomRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invite code is required"))
			return
		}
		if !strings.EqualFold(strings.TrimSpace(req.Code), room.Code) {
			writeError(w, http.StatusForbidden, errors.New("invalid invite code"))
			return
		}
		writeJSON(w, http.StatusOK, s.roomView(room, isOwner))
	case action == "":
		methodNotAllowed(w, "GET, DELETE")
	case action == "join":
		methodNotAllowed(w, http.MethodPost)
	default:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
}

// HandleChatMessages returns the persisted broadcast history of a room,
// oldest first.
func (s *Server) HandleChatMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if _, err := s.authenticateRequest(r); err != nil {
		writeAuthError(w, err)
		return
	}
	roomID := strings.TrimSpace(r.URL.Query().Get("roomId"))
	if roomID == "" {
		writeError(w, http.StatusBadRequest, errors.New("roomId is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := s.store.ListMessages(r.Context(), roomID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	events := lo.Map(messages, func(m storage.Message, _ int) ChatEvent {
		return ChatEvent{
			ID:        m.ID,
			Seq:       uint64(m.Seq),
			RoomID:    m.RoomID,
			User:      UserRef{ID: m.SenderID, Name: m.SenderName},
			Message:   m.Body,
			Timestamp: m.SentAt.UnixMilli(),
		}
	})
	writeJSON(w, http.StatusOK, map[string][]ChatEvent{"messages": events})
}

// HandleRun forwards code to the external execution service.
func (s *Server) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	identity, err := s.authenticateRequest(r)
	if err != nil {
		writeAuthError(w, err)
		return
	}
	var req RunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("language and code are required"))
		return
	}
	if s.executor == nil {
		writeError(w, http.StatusServiceUnavailable, ErrExecutorUnavailable)
		return
	}
	result, err := s.executor.Run(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrExecutorUnavailable) {
			status = http.StatusServiceUnavailable
		}
		s.log.Warn("Code execution failed", "user", identity.UserID, "language", req.Language, "error", err)
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
