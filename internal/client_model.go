package internal

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// chatEntry is one rendered line in the room log.
type chatEntry struct {
	Seq       uint64
	From      string
	To        string
	Body      string
	Timestamp int64
	System    bool
	Direct    bool
}

// TUIModel is the Bubble Tea model of the terminal client.
type TUIModel struct {
	textInput   textinput.Model
	serverURL   string
	httpBase    string
	sessionPath string

	username    string
	password    string
	token       string
	userID      string
	displayName string
	authIntent  authIntent

	roomID          string
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error

	entries   []chatEntry
	seen      map[string]struct{}
	notices   []string
	roster    []ParticipantView
	code      string
	runOutput string

	mode    appMode
	loading bool
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeRoomPrompt
	modeRoom
)

type authIntent int

const (
	authIntentLogin authIntent = iota
	authIntentSignup
)

func NewTUIModel(serverURL, roomID, username string) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0
	input.Blur()

	httpBase, _ := httpBaseFromWSURL(serverURL)
	model := &TUIModel{
		textInput:   input,
		serverURL:   serverURL,
		httpBase:    httpBase,
		sessionPath: defaultSessionPath(),
		username:    username,
		roomID:      roomID,
		seen:        make(map[string]struct{}),
		mode:        modeAuthMenu,
	}
	if session, err := loadSessionFromDisk(model.sessionPath); err == nil && (username == "" || username == session.Username) {
		model.username = session.Username
		model.token = session.Token
		model.userID = session.UserID
		model.displayName = session.DisplayName
		model.enterRoomPrompt()
	}
	return model
}

// defaultSessionPath is where the last login token is kept between runs.
func defaultSessionPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "coderoom", "session.json")
	}
	return filepath.Join(".", ".coderoom", "session.json")
}

func (model *TUIModel) Init() tea.Cmd {
	if model.mode == modeRoomPrompt && model.roomID != "" {
		return model.enterRoom(model.roomID)
	}
	return nil
}

func (model *TUIModel) setPrompt(prompt, placeholder string) tea.Cmd {
	model.textInput.SetValue("")
	model.textInput.Prompt = prompt
	model.textInput.Placeholder = placeholder
	return model.textInput.Focus()
}

func (model *TUIModel) enterRoomPrompt() tea.Cmd {
	model.mode = modeRoomPrompt
	return model.setPrompt("room> ", "Room id, or /new <name> to create one…")
}

// enterRoom switches to the room view and dials the coordinator.
func (model *TUIModel) enterRoom(roomID string) tea.Cmd {
	model.roomID = roomID
	model.mode = modeRoom
	model.entries = nil
	model.seen = make(map[string]struct{})
	model.roster = nil
	model.code = ""
	model.runOutput = ""
	focus := model.setPrompt("> ", "Type a message or /help…")
	return tea.Batch(focus, model.connectCmd(), model.historyCmd(roomID))
}

func (model *TUIModel) addNotice(text string) {
	model.notices = append(model.notices, text)
	if len(model.notices) > 5 {
		model.notices = model.notices[len(model.notices)-5:]
	}
}

func (model *TUIModel) addSystem(text string) {
	model.entries = append(model.entries, chatEntry{Body: text, System: true})
}

// addChat appends a chat event unless a message with the same id is already
// shown. History and the live stream overlap around a join.
func (model *TUIModel) addChat(event ChatEvent) {
	if event.ID != "" {
		if _, ok := model.seen[event.ID]; ok {
			return
		}
		model.seen[event.ID] = struct{}{}
	}
	model.entries = append(model.entries, chatEntry{
		Seq:       event.Seq,
		From:      event.User.Name,
		To:        event.To,
		Body:      event.Message,
		Timestamp: event.Timestamp,
		Direct:    event.IsDM,
	})
}

func (model *TUIModel) closeConnection() {
	if model.websocketConn != nil {
		model.writeMutex.Lock()
		_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client quit"))
		model.writeMutex.Unlock()
		_ = model.websocketConn.Close()
		model.websocketConn = nil
	}
	model.isConnected = false
}
