package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type (
	authDoneMsg struct {
		resp *loginResponse
		err  error
	}
	signupDoneMsg    struct{ err error }
	connectedMsg     struct{ conn *websocket.Conn }
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	disconnectedMsg  struct {
		conn *websocket.Conn
		err  error
	}
	// serverFrameMsg carries a decoded frame together with the connection it
	// was read from, so frames from a replaced connection can be dropped.
	serverFrameMsg struct {
		conn *websocket.Conn
		msg  tea.Msg
	}
	rosterMsg      ParticipantsUpdate
	codeMsg        CodeUpdate
	chatMsg        ChatEvent
	serverErrorMsg ErrorEvent
	ignoredMsg     struct{}
	historyMsg     struct {
		roomID string
		events []ChatEvent
		err    error
	}
	roomCreatedMsg struct {
		room *roomResponse
		err  error
	}
	runDoneMsg struct {
		result RunResult
		err    error
	}
	sendFailedMsg struct{ err error }
)

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *TUIModel) loginCmd(username, password string) tea.Cmd {
	base := model.httpBase
	return func() tea.Msg {
		resp, err := apiLogin(base, username, password)
		return authDoneMsg{resp: resp, err: err}
	}
}

func (model *TUIModel) signupCmd(username, password string) tea.Cmd {
	base := model.httpBase
	return func() tea.Msg {
		return signupDoneMsg{err: apiSignup(base, username, password)}
	}
}

func (model *TUIModel) createRoomCmd(name string) tea.Cmd {
	base, token := model.httpBase, model.token
	return func() tea.Msg {
		room, err := apiCreateRoom(base, token, name)
		return roomCreatedMsg{room: room, err: err}
	}
}

func (model *TUIModel) historyCmd(roomID string) tea.Cmd {
	base, token := model.httpBase, model.token
	return func() tea.Msg {
		events, err := apiHistory(base, token, roomID)
		return historyMsg{roomID: roomID, events: events, err: err}
	}
}

func (model *TUIModel) runCmd(language string) tea.Cmd {
	base, token, code := model.httpBase, model.token, model.code
	return func() tea.Msg {
		result, err := apiRun(base, token, language, code)
		return runDoneMsg{result: result, err: err}
	}
}

// connectCmd dials the coordinator with the bearer token and joins the room.
func (model *TUIModel) connectCmd() tea.Cmd {
	serverURL, token, roomID := model.serverURL, model.token, model.roomID
	return func() tea.Msg {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		conn, resp, err := websocket.DefaultDialer.Dial(serverURL, header)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				err = errUnauthorized
			}
			return connectFailedMsg{err: err}
		}
		frame, err := encodeEvent(EventJoinRoom, JoinRoomPayload{RoomID: roomID})
		if err == nil {
			err = conn.WriteMessage(websocket.TextMessage, frame)
		}
		if err != nil {
			_ = conn.Close()
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

func readOnceCmd(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			return disconnectedMsg{conn: conn, err: err}
		}
		if messageType != websocket.TextMessage {
			return serverFrameMsg{conn: conn, msg: ignoredMsg{}}
		}
		return serverFrameMsg{conn: conn, msg: decodeServerFrame(frame)}
	}
}

// decodeServerFrame turns one coordinator frame into a tea message.
func decodeServerFrame(frame []byte) tea.Msg {
	env, err := decodeEnvelope(frame)
	if err != nil {
		return ignoredMsg{}
	}
	var target any
	switch env.Event {
	case EventParticipantsUpdate:
		target = &ParticipantsUpdate{}
	case EventCodeUpdate:
		target = &CodeUpdate{}
	case EventNewMessage, EventDirectMessage:
		target = &ChatEvent{}
	case EventError:
		target = &ErrorEvent{}
	default:
		return ignoredMsg{}
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return ignoredMsg{}
	}
	switch v := target.(type) {
	case *ParticipantsUpdate:
		return rosterMsg(*v)
	case *CodeUpdate:
		return codeMsg(*v)
	case *ChatEvent:
		if env.Event == EventDirectMessage {
			v.IsDM = true
		}
		return chatMsg(*v)
	case *ErrorEvent:
		return serverErrorMsg(*v)
	}
	return ignoredMsg{}
}

func (model *TUIModel) sendEventCmd(event string, payload any) tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return sendFailedMsg{err: fmt.Errorf("websocket not connected")}
		}
		frame, err := encodeEvent(event, payload)
		if err != nil {
			return sendFailedMsg{err: err}
		}
		model.writeMutex.Lock()
		err = conn.WriteMessage(websocket.TextMessage, frame)
		model.writeMutex.Unlock()
		if err != nil {
			return sendFailedMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) sendChatCmd(text string) tea.Cmd {
	return model.sendEventCmd(EventSendMessage, SendMessagePayload{
		RoomID:    model.roomID,
		Message:   text,
		User:      &UserRef{ID: model.userID, Name: model.displayName},
		Timestamp: time.Now().UnixMilli(),
		ClientID:  uuid.NewString(),
	})
}

func (model *TUIModel) sendDirectCmd(to, text string) tea.Cmd {
	return model.sendEventCmd(EventSendDirectMessage, SendDirectMessagePayload{
		RoomID:    model.roomID,
		Message:   text,
		User:      &UserRef{ID: model.userID, Name: model.displayName},
		To:        to,
		Timestamp: time.Now().UnixMilli(),
		ClientID:  uuid.NewString(),
	})
}

// slashCommand is a parsed "/name args" input line.
type slashCommand struct {
	Name string
	Args string
}

func parseSlashCommand(input string) (slashCommand, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		return slashCommand{}, false
	}
	name, args, _ := strings.Cut(trimmed[1:], " ")
	return slashCommand{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}

// unescapeCode lets a single input line carry newlines and tabs.
func unescapeCode(text string) string {
	return strings.NewReplacer(`\n`, "\n", `\t`, "\t").Replace(text)
}

const helpText = `/code <text>   replace the shared code (\n for newlines)
/dm <user> <message>   direct message a participant
/run <language>   run the shared code
/leave   leave the room
/quit   exit`

// RunClient is the Bubble Tea entry point.
func RunClient(serverURL, roomID, username string) error {
	program := tea.NewProgram(NewTUIModel(serverURL, roomID, username))
	_, err := program.Run()
	return err
}
