package chat

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/ligochat/internal/model/chat"
	"github.com/zhouzirui/ligochat/internal/model/view"
	chatService "github.com/zhouzirui/ligochat/internal/service/chat"
	"github.com/zhouzirui/ligochat/internal/service/session"
	pkglog "github.com/zhouzirui/ligochat/pkg/log"
	"github.com/zhouzirui/ligochat/pkg/utils"
)

const defaultKeepAlive = 15 * time.Second

// Handler exposes chat sessions over HTTP, Server-Sent Events and WebSocket.
type Handler struct {
	sessions  *chatService.Service
	keepAlive time.Duration
}

// New creates a session handler.
func New(sessions *chatService.Service) *Handler {
	return &Handler{sessions: sessions, keepAlive: defaultKeepAlive}
}

// WithKeepAlive sets the SSE keep-alive interval.
func (h *Handler) WithKeepAlive(d time.Duration) *Handler {
	if d > 0 {
		h.keepAlive = d
	}
	return h
}

// RegisterRoutes mounts the session routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Delete("/", h.handleCloseSession)
			r.Get("/stats", h.handleStats)
			r.Get("/stream", h.handleStream)
			r.Get("/ws", h.handleSocket)
			r.Post("/messages", h.handleSendMessage)
			r.Post("/grammar", h.handleGrammarCheck)
			r.Post("/bot", h.handleAskBot)
			r.Post("/banners/{kind}/dismiss", h.handleDismissBanner)
		})
	})
}

type createSessionRequest struct {
	Username string `json:"username"`
}

type createSessionResponse struct {
	ID   string         `json:"id"`
	View view.ViewModel `json:"view"`
}

type textRequest struct {
	Text            string               `json:"text"`
	TranslationMode chat.TranslationMode `json:"translationMode"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload createSessionRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.sessions.CreateSession(r.Context(), payload.Username)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, createSessionResponse{ID: sess.ID(), View: sess.View()})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess.View())
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess.Stats())
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.CloseSession(chi.URLParam(r, "sessionID")); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	h.handleText(w, r, func(sess *chatService.Session, req textRequest) error {
		return sess.SendChatMessage(req.Text, req.TranslationMode)
	})
}

func (h *Handler) handleGrammarCheck(w http.ResponseWriter, r *http.Request) {
	h.handleText(w, r, func(sess *chatService.Session, req textRequest) error {
		if err := sess.RequestGrammarCheck(req.Text); err != nil {
			return err
		}
		sess.Restore(view.BannerGrammar)
		return nil
	})
}

func (h *Handler) handleAskBot(w http.ResponseWriter, r *http.Request) {
	h.handleText(w, r, func(sess *chatService.Session, req textRequest) error {
		if err := sess.RequestBotAnswer(req.Text); err != nil {
			return err
		}
		sess.Restore(view.BannerBot)
		return nil
	})
}

func (h *Handler) handleText(w http.ResponseWriter, r *http.Request, do func(*chatService.Session, textRequest) error) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var payload textRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := do(sess, payload); err != nil {
		respondErr(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) handleDismissBanner(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	kind, err := view.ParseBannerKind(chi.URLParam(r, "kind"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	sess.Dismiss(kind)
	w.WriteHeader(http.StatusNoContent)
}

// handleStream pushes a "view" event on every session change until the
// client goes away or the session reaches a terminal state.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookup(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	changes, stop := sess.Watch()
	defer stop()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	logger := pkglog.Ctx(r.Context()).With().Str(pkglog.FieldSessionID, sess.ID()).Logger()
	logger.Debug().Msg("view stream opened")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		vm := sess.View()
		if err := utils.SendSSEEvent(w, flusher, "view", vm); err != nil {
			logger.Debug().Err(err).Msg("view stream write failed")
			return
		}
		if vm.Status.Terminal() {
			logger.Debug().Str(pkglog.FieldState, string(vm.Status)).Msg("view stream finished")
			return
		}

	wait:
		for {
			select {
			case <-r.Context().Done():
				logger.Debug().Msg("view stream closed by client")
				return
			case <-ticker.C:
				if err := utils.SendSSEComment(w, flusher, "keep-alive"); err != nil {
					return
				}
			case <-changes:
				break wait
			}
		}
	}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*chatService.Session, bool) {
	sess, err := h.sessions.GetSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondErr(w, r, err)
		return nil, false
	}
	return sess, true
}

func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger := pkglog.Ctx(r.Context())
		logger.Error().Err(err).Msg("session request failed")
	}
	utils.RespondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatService.ErrUsernameRequired),
		errors.Is(err, session.ErrUsernameRequired):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, session.ErrGuardRejected):
		return http.StatusBadRequest
	case errors.Is(err, chatService.ErrServiceClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
