package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/ligochat/internal/model/view"
	"github.com/zhouzirui/ligochat/internal/service/session"
	pkglog "github.com/zhouzirui/ligochat/pkg/log"
)

var (
	ErrUsernameRequired = errors.New("username is required")
	ErrSessionNotFound  = errors.New("session not found")
	ErrServiceClosed    = errors.New("chat service is closed")
)

// TransportFactory builds a fresh, unconnected transport for one session.
type TransportFactory func() session.Transport

// Session is a registered controller plus the surface-local banner state of
// the client driving it.
type Session struct {
	*session.Controller
	Dismissals *view.Dismissals
	CreatedAt  time.Time
}

// Dismiss hides a banner for the clients of this session and wakes its watchers.
func (s *Session) Dismiss(kind view.BannerKind) {
	s.Dismissals.Dismiss(kind)
	s.Notify()
}

// Restore shows a dismissed banner again and wakes the watchers.
func (s *Session) Restore(kind view.BannerKind) {
	s.Dismissals.Restore(kind)
	s.Notify()
}

// View projects the current state with dismissed banners hidden.
func (s *Session) View() view.ViewModel {
	return s.Dismissals.Apply(view.Project(s.Snapshot()))
}

// Service keeps the live chat sessions of the HTTP bridge.
type Service struct {
	newTransport TransportFactory
	opts         []session.Option
	logger       zerolog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewService creates a registry. opts are applied to every controller.
func NewService(newTransport TransportFactory, logger zerolog.Logger, opts ...session.Option) *Service {
	base, cancel := context.WithCancel(context.Background())
	return &Service{
		newTransport: newTransport,
		opts:         opts,
		logger:       logger.With().Str(pkglog.FieldComponent, "sessions").Logger(),
		base:         base,
		cancel:       cancel,
		sessions:     make(map[string]*Session),
	}
}

// CreateSession registers a controller for username and starts connecting it
// in the background. The returned session is still CONNECTING; connect
// failures show up in its state, not as an error here.
func (s *Service) CreateSession(_ context.Context, username string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUsernameRequired
	}

	id := uuid.NewString()
	opts := append([]session.Option{
		session.WithID(id),
		session.WithLogger(s.logger),
	}, s.opts...)

	ctrl, err := session.NewController(username, s.newTransport(), opts...)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		Controller: ctrl,
		Dismissals: &view.Dismissals{},
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	s.sessions[id] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := ctrl.Start(s.base); err != nil {
			s.logger.Warn().Err(err).Str(pkglog.FieldSessionID, id).Msg("session failed to start")
		}
	}()

	s.logger.Info().Str(pkglog.FieldSessionID, id).Str(pkglog.FieldUsername, username).Msg("session created")
	return sess, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// CloseSession closes and forgets a session.
func (s *Service) CloseSession(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.logger.Info().Str(pkglog.FieldSessionID, id).Msg("session closed")
	return sess.Close()
}

// Len reports the number of registered sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CloseAll closes every session and waits for pending connects to return.
// The service accepts no new sessions afterwards.
func (s *Service) CloseAll() error {
	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.cancel()
	s.wg.Wait()
	return errors.Join(errs...)
}
