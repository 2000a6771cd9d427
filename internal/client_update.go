package internal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := message.(type) {
	case tea.KeyMsg:
		if typed.Type == tea.KeyCtrlC {
			model.closeConnection()
			return model, tea.Quit
		}
		return model.handleKey(typed)

	case signupDoneMsg:
		model.loading = false
		if typed.err != nil {
			model.addNotice("Sign up failed: " + typed.err.Error())
			model.mode = modeAuthMenu
			model.textInput.Blur()
			return model, nil
		}
		model.addNotice("Account created. Logging in…")
		model.loading = true
		return model, model.loginCmd(model.username, model.password)

	case authDoneMsg:
		model.loading = false
		model.password = ""
		if typed.err != nil {
			model.addNotice("Login failed: " + typed.err.Error())
			model.mode = modeAuthMenu
			model.textInput.Blur()
			return model, nil
		}
		model.token = typed.resp.Token
		model.userID = typed.resp.UserID
		model.username = typed.resp.Username
		model.displayName = typed.resp.DisplayName
		if err := saveSessionToDisk(model.sessionPath, sessionFile{
			Username:    model.username,
			UserID:      model.userID,
			DisplayName: model.displayName,
			Token:       model.token,
		}); err != nil {
			model.addNotice("Could not save session: " + err.Error())
		}
		if model.roomID != "" {
			return model, model.enterRoom(model.roomID)
		}
		return model, model.enterRoomPrompt()

	case roomCreatedMsg:
		model.loading = false
		if typed.err != nil {
			model.addNotice("Could not create room: " + typed.err.Error())
			return model, nil
		}
		model.addNotice(fmt.Sprintf("Room %q created. Invite code %s", typed.room.Name, typed.room.Code))
		return model, model.enterRoom(typed.room.ID)

	case connectedMsg:
		model.websocketConn = typed.conn
		model.isConnected = true
		model.connectionError = nil
		return model, readOnceCmd(typed.conn)

	case connectFailedMsg:
		model.connectionError = typed.err
		if errors.Is(typed.err, errUnauthorized) {
			return model, model.logout("Session expired, please log in again.")
		}
		if model.mode == modeRoom {
			return model, model.scheduleReconnect()
		}
		return model, nil

	case disconnectedMsg:
		if typed.conn != model.websocketConn {
			return model, nil
		}
		model.isConnected = false
		model.websocketConn = nil
		if model.mode != modeRoom {
			return model, nil
		}
		model.connectionError = typed.err
		return model, model.scheduleReconnect()

	case reconnectMsg:
		if model.mode == modeRoom && !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case serverFrameMsg:
		if typed.conn != model.websocketConn {
			return model, nil
		}
		model.applyServerMsg(typed.msg)
		return model, readOnceCmd(typed.conn)

	case historyMsg:
		if typed.err != nil || typed.roomID != model.roomID {
			return model, nil
		}
		history := make([]chatEntry, 0, len(typed.events)+len(model.entries))
		live := model.entries
		model.entries = history
		for _, event := range typed.events {
			model.addChat(event)
		}
		model.entries = append(model.entries, live...)
		return model, nil

	case runDoneMsg:
		model.loading = false
		switch {
		case typed.err != nil:
			model.runOutput = "Error: " + typed.err.Error()
		case typed.result.Error != "":
			model.runOutput = "Error: " + typed.result.Error
		case typed.result.Output == "":
			model.runOutput = "No output."
		default:
			model.runOutput = typed.result.Output
		}
		return model, nil

	case sendFailedMsg:
		model.addSystem("Send failed: " + typed.err.Error())
		return model, nil
	}
	return model, nil
}

// applyServerMsg folds one coordinator event into the room view.
func (model *TUIModel) applyServerMsg(msg tea.Msg) {
	switch typed := msg.(type) {
	case rosterMsg:
		if typed.RoomID == model.roomID {
			model.roster = typed.Participants
		}
	case codeMsg:
		if typed.RoomID == model.roomID {
			model.code = typed.Code
		}
	case chatMsg:
		model.addChat(ChatEvent(typed))
	case serverErrorMsg:
		model.addSystem(fmt.Sprintf("%s: %s", typed.Code, typed.Message))
	}
}

func (model *TUIModel) logout(reason string) tea.Cmd {
	model.closeConnection()
	_ = deleteSessionFile(model.sessionPath)
	model.token = ""
	model.mode = modeAuthMenu
	model.textInput.Blur()
	model.addNotice(reason)
	return nil
}

func (model *TUIModel) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch model.mode {
	case modeAuthMenu:
		switch key.String() {
		case "1":
			model.authIntent = authIntentLogin
		case "2":
			model.authIntent = authIntentSignup
		case "q", "Q":
			return model, tea.Quit
		default:
			return model, nil
		}
		model.mode = modeAuthUsername
		focus := model.setPrompt("user> ", "Username…")
		model.textInput.SetValue(model.username)
		return model, focus

	case modeAuthUsername, modeAuthPassword:
		switch key.Type {
		case tea.KeyEsc:
			model.mode = modeAuthMenu
			model.textInput.EchoMode = textinput.EchoNormal
			model.textInput.Blur()
			return model, nil
		case tea.KeyEnter:
			return model.submitAuthField()
		}

	case modeRoomPrompt:
		switch key.Type {
		case tea.KeyEsc:
			return model, model.logout("Logged out.")
		case tea.KeyEnter:
			value := strings.TrimSpace(model.textInput.Value())
			if value == "" {
				return model, nil
			}
			if cmd, ok := parseSlashCommand(value); ok {
				switch cmd.Name {
				case "new":
					if cmd.Args == "" {
						model.addNotice("Usage: /new <room name>")
						return model, nil
					}
					model.loading = true
					return model, model.createRoomCmd(cmd.Args)
				case "logout":
					return model, model.logout("Logged out.")
				case "quit", "exit":
					return model, tea.Quit
				}
				model.addNotice("Unknown command " + value)
				return model, nil
			}
			return model, model.enterRoom(value)
		}

	case modeRoom:
		switch key.Type {
		case tea.KeyEsc:
			return model, model.leaveRoom()
		case tea.KeyEnter:
			value := strings.TrimSpace(model.textInput.Value())
			if value == "" {
				return model, nil
			}
			model.textInput.SetValue("")
			if cmd, ok := parseSlashCommand(value); ok {
				return model.runSlashCommand(cmd)
			}
			if !model.isConnected {
				model.addSystem("Not connected yet.")
				return model, nil
			}
			return model, model.sendChatCmd(value)
		}
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) submitAuthField() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(model.textInput.Value())
	if value == "" {
		return model, nil
	}
	if model.mode == modeAuthUsername {
		model.username = value
		model.mode = modeAuthPassword
		focus := model.setPrompt("pass> ", "Password…")
		model.textInput.EchoMode = textinput.EchoPassword
		return model, focus
	}
	model.password = value
	model.textInput.SetValue("")
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.Blur()
	model.loading = true
	if model.authIntent == authIntentSignup {
		return model, model.signupCmd(model.username, model.password)
	}
	return model, model.loginCmd(model.username, model.password)
}

func (model *TUIModel) leaveRoom() tea.Cmd {
	var leave tea.Cmd
	if model.isConnected {
		leave = model.sendEventCmd(EventLeaveRoom, LeaveRoomPayload{RoomID: model.roomID, UserID: model.userID})
	}
	conn := model.websocketConn
	model.websocketConn = nil
	model.isConnected = false
	model.roomID = ""
	model.roster = nil
	prompt := model.enterRoomPrompt()
	closeConn := func() tea.Msg {
		if conn != nil {
			model.writeMutex.Lock()
			_ = conn.Close()
			model.writeMutex.Unlock()
		}
		return nil
	}
	return tea.Sequence(leave, closeConn, prompt)
}

func (model *TUIModel) runSlashCommand(cmd slashCommand) (tea.Model, tea.Cmd) {
	switch cmd.Name {
	case "quit", "exit":
		model.closeConnection()
		return model, tea.Quit
	case "leave":
		return model, model.leaveRoom()
	case "help":
		for _, line := range strings.Split(helpText, "\n") {
			model.addSystem(line)
		}
		return model, nil
	case "code":
		code := unescapeCode(cmd.Args)
		model.code = code
		return model, model.sendEventCmd(EventCodeChange, CodeChangePayload{RoomID: model.roomID, Code: code})
	case "dm":
		to, text, ok := strings.Cut(cmd.Args, " ")
		if !ok || strings.TrimSpace(text) == "" {
			model.addSystem("Usage: /dm <user> <message>")
			return model, nil
		}
		model.addChat(ChatEvent{User: UserRef{Name: model.displayOrUsername()}, To: to, Message: strings.TrimSpace(text), IsDM: true})
		return model, model.sendDirectCmd(to, strings.TrimSpace(text))
	case "run":
		if cmd.Args == "" {
			model.addSystem("Usage: /run <language>")
			return model, nil
		}
		if strings.TrimSpace(model.code) == "" {
			model.runOutput = "No code to run."
			return model, nil
		}
		model.loading = true
		model.runOutput = "Running..."
		return model, model.runCmd(cmd.Args)
	}
	model.addSystem("Unknown command /" + cmd.Name + ", try /help")
	return model, nil
}

func (model *TUIModel) displayOrUsername() string {
	if model.displayName != "" {
		return model.displayName
	}
	return model.username
}
