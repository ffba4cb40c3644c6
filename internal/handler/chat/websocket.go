package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/ligochat/internal/model/chat"
	"github.com/zhouzirui/ligochat/internal/model/view"
	chatService "github.com/zhouzirui/ligochat/internal/service/chat"
	pkglog "github.com/zhouzirui/ligochat/pkg/log"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 54 * time.Second
	wsMaxMessage   = 64 << 10
)

// ErrUnsupportedIntent is reported for an intent type the socket does not know.
var ErrUnsupportedIntent = errors.New("unsupported intent")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Intent is a client request received over the session socket.
type Intent struct {
	Type            string `json:"type"`
	Text            string `json:"text,omitempty"`
	TranslationMode string `json:"translationMode,omitempty"`
	Banner          string `json:"banner,omitempty"`
}

// Frame is a server push on the session socket.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type errorData struct {
	Intent  string `json:"intent,omitempty"`
	Message string `json:"message"`
}

// handleSocket drives a session over one WebSocket. Views are pushed on every
// change; intents are read from the client and applied to the session.
func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	logger := pkglog.Ctx(r.Context()).With().Str(pkglog.FieldSessionID, sess.ID()).Logger()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger.Debug().Msg("session socket opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rejects := make(chan errorData, 8)
	go func() {
		defer cancel()
		h.readIntents(ctx, conn, sess, rejects, logger)
	}()

	h.writeFrames(ctx, conn, sess, rejects, logger)
}

func (h *Handler) readIntents(ctx context.Context, conn *websocket.Conn, sess *chatService.Session, rejects chan<- errorData, logger zerolog.Logger) {
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("session socket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var intent Intent
		if err := sonic.Unmarshal(raw, &intent); err != nil {
			reject(ctx, rejects, errorData{Message: "invalid intent payload"})
			continue
		}
		if err := applyIntent(sess, intent); err != nil {
			logger.Debug().Err(err).Str(pkglog.FieldIntent, intent.Type).Msg("intent rejected")
			reject(ctx, rejects, errorData{Intent: intent.Type, Message: err.Error()})
		}
	}
}

func reject(ctx context.Context, rejects chan<- errorData, data errorData) {
	select {
	case rejects <- data:
	case <-ctx.Done():
	}
}

// writeFrames owns every write on conn.
func (h *Handler) writeFrames(ctx context.Context, conn *websocket.Conn, sess *chatService.Session, rejects <-chan errorData, logger zerolog.Logger) {
	changes, stop := sess.Watch()
	defer stop()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	send := func(frame Frame) bool {
		frame.SessionID = sess.ID()
		frame.Timestamp = time.Now().Unix()
		payload, err := sonic.Marshal(frame)
		if err != nil {
			logger.Error().Err(err).Msg("encode socket frame")
			return false
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Debug().Err(err).Msg("session socket write failed")
			return false
		}
		return true
	}

	pushView := func() bool {
		vm := sess.View()
		if !send(Frame{Type: "view", Data: vm}) {
			return false
		}
		if vm.Status.Terminal() {
			deadline := time.Now().Add(wsWriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(vm.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
			logger.Debug().Str(pkglog.FieldState, string(vm.Status)).Msg("session socket finished")
			return false
		}
		return true
	}

	if !pushView() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("session socket closed by client")
			return
		case <-changes:
			if !pushView() {
				return
			}
		case data := <-rejects:
			if !send(Frame{Type: "error", Data: data}) {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// applyIntent performs intent on sess. Banner changes wake the session
// watchers, so every open stream and socket redraws.
func applyIntent(sess *chatService.Session, intent Intent) error {
	switch intent.Type {
	case "send":
		return sess.SendChatMessage(intent.Text, chat.TranslationMode(intent.TranslationMode))
	case "grammar":
		if err := sess.RequestGrammarCheck(intent.Text); err != nil {
			return err
		}
		sess.Restore(view.BannerGrammar)
		return nil
	case "bot":
		if err := sess.RequestBotAnswer(intent.Text); err != nil {
			return err
		}
		sess.Restore(view.BannerBot)
		return nil
	case "dismiss":
		kind, err := view.ParseBannerKind(intent.Banner)
		if err != nil {
			return err
		}
		sess.Dismiss(kind)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedIntent, intent.Type)
	}
}
