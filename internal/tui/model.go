// Package tui is the terminal chat client.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/ligochat/internal/model/chat"
	"github.com/zhouzirui/ligochat/internal/model/view"
	"github.com/zhouzirui/ligochat/internal/service/session"
)

// Session is the controller surface the chat screen drives.
type Session interface {
	Start(ctx context.Context) error
	Close() error
	Snapshot() chat.SessionState
	Watch() (<-chan struct{}, func())
	SendChatMessage(text string, mode chat.TranslationMode) error
	RequestGrammarCheck(text string) error
	RequestBotAnswer(text string) error
}

// SessionFactory creates an unstarted session for username.
type SessionFactory func(username string) (Session, error)

type screen int

const (
	screenLogin screen = iota
	screenChat
)

const helpText = "enter send · ctrl+t translation · ctrl+g grammar · ctrl+b LigoBot · ctrl+x/ctrl+y hide · esc quit"

type (
	startedMsg struct{ err error }
	changedMsg struct{}
)

// Model is the bubbletea model for both screens.
type Model struct {
	ctx        context.Context
	newSession SessionFactory

	screen   screen
	width    int
	height   int
	username textinput.Model
	input    textinput.Model
	feed     viewport.Model

	sess       Session
	changes    <-chan struct{}
	stopWatch  func()
	mode       chat.TranslationMode
	dismissals *view.Dismissals
	vm         view.ViewModel
	notice     string
	quitting   bool
}

// New returns a model showing the username screen.
func New(ctx context.Context, newSession SessionFactory) Model {
	name := textinput.New()
	name.Placeholder = "Enter your username"
	name.CharLimit = 32
	name.Width = 32
	name.Focus()

	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.CharLimit = 1000

	return Model{
		ctx:        ctx,
		newSession: newSession,
		screen:     screenLogin,
		width:      80,
		height:     24,
		username:   name,
		input:      input,
		feed:       viewport.New(80, 16),
		mode:       chat.TranslationNone,
		dismissals: &view.Dismissals{},
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-6, 10)
		m.layout()
		return m, nil

	case startedMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
		}
		m.refresh()
		return m, nil

	case changedMsg:
		m.refresh()
		return m, m.waitForChange()

	case tea.KeyMsg:
		if m.screen == screenLogin {
			return m.updateLogin(msg)
		}
		return m.updateChat(msg)
	}

	return m, nil
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "enter":
		name := strings.TrimSpace(m.username.Value())
		if name == "" {
			return m, nil
		}
		sess, err := m.newSession(name)
		if err != nil {
			m.notice = err.Error()
			return m, nil
		}

		m.sess = sess
		m.changes, m.stopWatch = sess.Watch()
		m.screen = screenChat
		m.notice = ""
		m.username.Blur()
		m.input.Focus()
		m.refresh()
		return m, tea.Batch(m.start(), m.waitForChange())
	}

	var cmd tea.Cmd
	m.username, cmd = m.username.Update(msg)
	return m, cmd
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.notice = ""

	switch msg.String() {
	case "ctrl+c", "esc":
		return m.quit()

	case "enter":
		if err := m.sess.SendChatMessage(m.input.Value(), m.mode); err != nil {
			m.notice = describe(err)
			return m, nil
		}
		m.input.Reset()
		return m, nil

	case "ctrl+t":
		m.mode = m.mode.Next()
		return m, nil

	case "ctrl+g":
		if err := m.sess.RequestGrammarCheck(m.input.Value()); err != nil {
			m.notice = describe(err)
			return m, nil
		}
		m.dismissals.Restore(view.BannerGrammar)
		m.refresh()
		return m, nil

	case "ctrl+b":
		if err := m.sess.RequestBotAnswer(m.input.Value()); err != nil {
			m.notice = describe(err)
			return m, nil
		}
		m.dismissals.Restore(view.BannerBot)
		m.refresh()
		return m, nil

	case "ctrl+x":
		m.dismissals.Dismiss(view.BannerGrammar)
		m.refresh()
		return m, nil

	case "ctrl+y":
		m.dismissals.Dismiss(view.BannerBot)
		m.refresh()
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.feed, cmd = m.feed.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.stopWatch != nil {
		m.stopWatch()
	}
	if err := m.sess.Close(); err != nil {
		m.notice = err.Error()
	}
	m.refresh()
	m.quitting = true
	return m, tea.Quit
}

func (m Model) start() tea.Cmd {
	sess, ctx := m.sess, m.ctx
	return func() tea.Msg {
		return startedMsg{err: sess.Start(ctx)}
	}
}

func (m Model) waitForChange() tea.Cmd {
	ch, ctx := m.changes, m.ctx
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case <-ch:
			return changedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Model) refresh() {
	if m.sess == nil {
		return
	}
	m.vm = m.dismissals.Apply(view.Project(m.sess.Snapshot()))
	m.layout()
	m.feed.SetContent(renderRows(m.vm.Rows, m.feed.Width))
	m.feed.GotoBottom()
}

// layout sizes the feed to whatever the header, banners and input leave.
func (m *Model) layout() {
	used := 1 + 3 + 1 + 1
	for _, b := range m.vm.Banners {
		used += lipgloss.Height(renderBanner(b, m.width))
	}
	m.feed.Width = m.width
	m.feed.Height = max(m.height-used, 3)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.screen == screenLogin {
		return m.viewLogin()
	}
	return m.viewChat()
}

func (m Model) viewLogin() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("LigoChat"))
	b.WriteString("\n\n")
	b.WriteString(m.username.View())
	b.WriteString("\n\n")
	if m.notice != "" {
		b.WriteString(errorStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("enter join · esc quit"))
	return b.String()
}

func (m Model) viewChat() string {
	header := fmt.Sprintf("%s  %s  %s",
		statusStyle(m.vm.Status).Render(m.vm.StatusLabel),
		mutedStyle.Render("as "+m.vm.Username),
		mutedStyle.Render("translate: "+m.mode.Label()),
	)

	parts := []string{header, m.feed.View()}
	for _, banner := range m.vm.Banners {
		parts = append(parts, renderBanner(banner, m.width))
	}
	parts = append(parts, inputStyle.Width(max(m.width-2, 10)).Render(m.input.View()))

	if m.notice != "" {
		parts = append(parts, errorStyle.Render(m.notice))
	} else {
		parts = append(parts, helpStyle.Render(helpText))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderRows(rows []view.Row, width int) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, renderRow(row, width))
	}
	return strings.Join(lines, "\n")
}

func renderRow(row view.Row, width int) string {
	if row.Kind == view.RowNotice {
		return lipgloss.PlaceHorizontal(width, lipgloss.Center, noticeStyle(row.Tone).Render(row.Text))
	}

	color := bubbleColor(row.Self)
	name := avatarStyle.Background(color).Render(row.Initials) + " " + senderStyle.Render(row.Sender)
	if row.Self {
		name = senderStyle.Render(row.Sender) + " " + avatarStyle.Background(color).Render(row.Initials)
	}
	if row.TranslationMode != "" && row.TranslationMode != chat.TranslationNone {
		name += mutedStyle.Render(" → " + row.TranslationMode.Label())
	}

	bubbleWidth := min(lipgloss.Width(row.Text)+2, max(width*3/5, 20))
	body := bubbleStyle.Background(color).Width(bubbleWidth).Render(row.Text)
	block := lipgloss.JoinVertical(lipgloss.Left, name, body)

	pos := lipgloss.Left
	if row.Self {
		pos = lipgloss.Right
	}
	return lipgloss.PlaceHorizontal(width, pos, block)
}

func renderBanner(b view.Banner, width int) string {
	return bannerStyle.Width(max(width-2, 10)).Render(bannerTitleStyle.Render(b.Title) + "\n" + b.Text)
}

func describe(err error) string {
	switch {
	case errors.Is(err, session.ErrEmptyText):
		return "Type something first"
	case errors.Is(err, session.ErrNotConnected):
		return "Not connected"
	default:
		return err.Error()
	}
}
