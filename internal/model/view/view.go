// Package view projects session state into a render-ready view model.
package view

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/zhouzirui/ligochat/internal/model/chat"
)

// RowKind distinguishes presence notices from chat bubbles.
type RowKind string

const (
	RowNotice RowKind = "notice"
	RowBubble RowKind = "bubble"
)

// Tone colours a presence notice.
type Tone string

const (
	ToneJoin  Tone = "join"
	ToneLeave Tone = "leave"
)

// Row is one display line derived from a feed record.
type Row struct {
	Kind            RowKind              `json:"kind"`
	Sender          string               `json:"sender"`
	Self            bool                 `json:"self"`
	Text            string               `json:"text"`
	Initials        string               `json:"initials,omitempty"`
	TranslationMode chat.TranslationMode `json:"translationMode,omitempty"`
	Tone            Tone                 `json:"tone,omitempty"`
}

// BannerKind names a dismissible result banner.
type BannerKind string

const (
	BannerGrammar BannerKind = "grammar"
	BannerBot     BannerKind = "bot"
)

// BannerKinds lists banners in display order.
var BannerKinds = []BannerKind{BannerGrammar, BannerBot}

// ParseBannerKind validates a banner name.
func ParseBannerKind(s string) (BannerKind, error) {
	for _, k := range BannerKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown banner %q", s)
}

// Title is the heading shown above the banner text.
func (k BannerKind) Title() string {
	switch k {
	case BannerGrammar:
		return "Checked"
	case BannerBot:
		return "LigoBot"
	default:
		return string(k)
	}
}

type Banner struct {
	Kind  BannerKind `json:"kind"`
	Title string     `json:"title"`
	Text  string     `json:"text"`
}

// ViewModel is everything a surface needs to draw a session.
type ViewModel struct {
	SessionID   string      `json:"sessionId"`
	Username    string      `json:"username"`
	Status      chat.Status `json:"status"`
	StatusLabel string      `json:"statusLabel"`
	CanSend     bool        `json:"canSend"`
	Rows        []Row       `json:"rows"`
	Banners     []Banner    `json:"banners"`
}

// Banner returns the banner of the given kind, if shown.
func (vm ViewModel) Banner(kind BannerKind) (Banner, bool) {
	for _, b := range vm.Banners {
		if b.Kind == kind {
			return b, true
		}
	}
	return Banner{}, false
}

// StatusLabel returns the user-visible text for a lifecycle state.
func StatusLabel(s chat.Status) string {
	switch s {
	case chat.StatusConnecting:
		return "Connecting..."
	case chat.StatusConnected:
		return "Connected"
	case chat.StatusDisconnected:
		return "Disconnected"
	case chat.StatusFailed:
		return "Failed to connect"
	default:
		return string(s)
	}
}

// Project derives the view model from state. It has no side effects.
func Project(s chat.SessionState) ViewModel {
	vm := ViewModel{
		SessionID:   s.ID,
		Username:    s.Username,
		Status:      s.Status,
		StatusLabel: StatusLabel(s.Status),
		CanSend:     s.Status == chat.StatusConnected,
		Rows:        make([]Row, 0, len(s.Feed)),
		Banners:     make([]Banner, 0, len(BannerKinds)),
	}

	for _, msg := range s.Feed {
		vm.Rows = append(vm.Rows, projectRow(msg, s.Username))
	}

	if s.LastGrammarResult != nil && *s.LastGrammarResult != "" {
		vm.Banners = append(vm.Banners, Banner{Kind: BannerGrammar, Title: BannerGrammar.Title(), Text: *s.LastGrammarResult})
	}
	if s.LastBotAnswer != nil && *s.LastBotAnswer != "" {
		vm.Banners = append(vm.Banners, Banner{Kind: BannerBot, Title: BannerBot.Title(), Text: *s.LastBotAnswer})
	}
	return vm
}

func projectRow(msg chat.Message, username string) Row {
	row := Row{
		Sender: msg.Sender,
		Self:   msg.Sender == username,
	}

	switch msg.Kind {
	case chat.KindConnect:
		row.Kind = RowNotice
		row.Tone = ToneJoin
		row.Text = msg.Sender + " connected"
	case chat.KindDisconnect:
		row.Kind = RowNotice
		row.Tone = ToneLeave
		row.Text = msg.Sender + " disconnected"
	default:
		row.Kind = RowBubble
		row.Text = msg.Content
		row.Initials = Initials(msg.Sender)
		row.TranslationMode = msg.TranslationMode
	}
	return row
}

// Initials returns up to two upper-case initials of name's words.
func Initials(name string) string {
	out := make([]rune, 0, 2)
	for _, word := range strings.Fields(name) {
		out = append(out, unicode.ToUpper([]rune(word)[0]))
		if len(out) == 2 {
			break
		}
	}
	return string(out)
}

// Dismissals tracks which banners a surface has hidden. It is local to the
// surface and never touches session state. The zero value is ready to use.
type Dismissals struct {
	mu     sync.Mutex
	hidden map[BannerKind]bool
}

func (d *Dismissals) Dismiss(kind BannerKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hidden == nil {
		d.hidden = make(map[BannerKind]bool, len(BannerKinds))
	}
	d.hidden[kind] = true
}

// Restore shows the banner again; surfaces call it when issuing a new request.
func (d *Dismissals) Restore(kind BannerKind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.hidden, kind)
}

func (d *Dismissals) Dismissed(kind BannerKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hidden[kind]
}

// Apply returns vm without the dismissed banners.
func (d *Dismissals) Apply(vm ViewModel) ViewModel {
	d.mu.Lock()
	defer d.mu.Unlock()

	banners := make([]Banner, 0, len(vm.Banners))
	for _, b := range vm.Banners {
		if !d.hidden[b.Kind] {
			banners = append(banners, b)
		}
	}
	vm.Banners = banners
	return vm
}
