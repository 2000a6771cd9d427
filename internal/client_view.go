package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
)

// pre styled colors, all from lipgloss
var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 1).MarginTop(1)
	codeBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("36")).Padding(0, 1).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	directStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("177")).Italic(true)
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

const visibleChatLines = 15

func (model *TUIModel) View() string {
	switch model.mode {
	case modeAuthMenu:
		return model.renderAuthMenuView()
	case modeAuthUsername, modeAuthPassword:
		title := "Log in"
		if model.authIntent == authIntentSignup {
			title = "Create an account"
		}
		hint := "Enter your username"
		if model.mode == modeAuthPassword {
			hint = "Enter your password"
		}
		return model.renderPrompt(title, hint)
	case modeRoomPrompt:
		return model.renderPrompt(fmt.Sprintf("Welcome, %s", model.displayOrUsername()), "Enter a room id to join, /new <name> to create one, Esc to log out.")
	default:
		return model.renderRoomView()
	}
}

func (model *TUIModel) renderAuthMenuView() string {
	title := appTitleStyle.Render("CodeRoom")
	subtitle := subtitleStyle.Render("Pair on code and chat from your terminal")

	options := []string{
		renderMenuOption("1", "Log in"),
		renderMenuOption("2", "Sign up"),
		renderMenuOption("q", "Quit"),
	}
	viewSections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}
	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Working…"))
	}
	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}
	viewSections = append(viewSections, menuHintStyle.Render("1) Log in  •  2) Sign up  •  q) Quit"))
	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderPrompt(title, hint string) string {
	viewSections := []string{appTitleStyle.Render(title), menuHintStyle.Render(hint)}
	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Working…"))
	}
	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}
	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))
	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderRoomView() string {
	headerSegments := []string{"CodeRoom", fmt.Sprintf("Room %s", model.roomID), fmt.Sprintf("User %s", model.displayOrUsername())}
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case model.connectionError != nil && !model.isConnected:
		statusLine = errorStyle.Render("Connection error: " + model.connectionError.Error())
	case model.isConnected:
		statusLine = connectedStyle.Render("Connected")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	names := lo.Map(model.roster, func(p ParticipantView, _ int) string {
		if p.UserID == model.userID {
			return activeUserStyle.Render(p.UserName)
		}
		return usernameStyle.Copy().Foreground(colorForUser(p.UserName)).Render(p.UserName)
	})
	rosterLine := subtitleStyle.Render(fmt.Sprintf("In room (%d): ", len(names))) + strings.Join(names, ", ")

	code := model.code
	if code == "" {
		code = menuHintStyle.Render("(empty buffer, /code <text> to write)")
	}
	codeView := codeBoxStyle.Render(code)

	entries := model.entries
	if len(entries) > visibleChatLines {
		entries = entries[len(entries)-visibleChatLines:]
	}
	messageLines := lo.Map(entries, func(entry chatEntry, _ int) string {
		return model.renderChatEntry(entry)
	})
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}
	messagesView := messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...))

	sections := []string{header, statusLine, rosterLine, codeView}
	if model.runOutput != "" {
		sections = append(sections, noticeBoxStyle.Render("Output:\n"+model.runOutput))
	}
	sections = append(sections,
		messagesView,
		inputBoxStyle.Render(model.textInput.View()),
		menuHintStyle.Render("Esc or /leave to leave the room • /help for commands"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

func (model *TUIModel) renderSystemNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	lines := lo.Map(model.notices, func(notice string, _ int) string {
		return systemMessageStyle.Render(notice)
	})
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderChatEntry renders a single log line with a timestamp, a colored
// sender, and multi-line bodies indented.
func (model *TUIModel) renderChatEntry(entry chatEntry) string {
	if entry.System {
		return systemMessageStyle.Render(entry.Body)
	}
	ts := time.Now()
	if entry.Timestamp > 0 {
		ts = time.UnixMilli(entry.Timestamp)
	}
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", ts.Format("15:04:05")))

	nameStyle := usernameStyle.Copy().Foreground(colorForUser(entry.From))
	if entry.From == model.displayOrUsername() {
		nameStyle = activeUserStyle
	}
	name := nameStyle.Render(entry.From)
	if entry.Direct {
		target := "you"
		if entry.To != "" && entry.From == model.displayOrUsername() {
			target = entry.To
		}
		name += directStyle.Render(" → " + target + " (dm)")
	}
	bodyText := messageBodyStyle.Render(strings.ReplaceAll(entry.Body, "\n", "\n   "))
	return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", name, ": ", bodyText)
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
