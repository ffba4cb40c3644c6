// Package session implements the per-connection chat session controller.
//
// A Controller owns the lifecycle state machine
//
//	CONNECTING -> CONNECTED -> DISCONNECTED | FAILED
//	CONNECTING -> FAILED
//
// and routes inbound payloads into SessionState. All state changes and all
// publishes are serialized by a single mutex, so no publish can follow the
// transition into a terminal state.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/ligochat/internal/model/chat"
	"github.com/zhouzirui/ligochat/internal/service/codec"
	pkglog "github.com/zhouzirui/ligochat/pkg/log"
)

// DefaultConnectTimeout bounds Start when no timeout is configured.
const DefaultConnectTimeout = 10 * time.Second

// Transport is the publish/subscribe binding a Controller drives.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(destination string, handler func(payload []byte)) error
	Publish(destination string, payload []byte) error
	Disconnect() error
	// Done is closed when the transport ends; Err is nil for a clean close.
	Done() <-chan struct{}
	Err() error
}

// Stats counts controller activity.
type Stats struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Ignored   uint64 `json:"ignored"`
	Rejected  uint64 `json:"rejected"`
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for lifecycle and drop events.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithConnectTimeout bounds how long Start waits for the transport.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithFeedLimit keeps only the newest n feed records. Zero means unbounded.
func WithFeedLimit(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.feedLimit = n
		}
	}
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.state.ID = id
		}
	}
}

// Controller is the session state machine. It is safe for concurrent use.
type Controller struct {
	transport      Transport
	logger         zerolog.Logger
	connectTimeout time.Duration
	feedLimit      int

	mu          sync.Mutex
	state       chat.SessionState
	cause       error
	stats       Stats
	watchers    map[int]chan struct{}
	nextWatcher int
}

// NewController creates a controller in the CONNECTING state.
func NewController(username string, transport Transport, opts ...Option) (*Controller, error) {
	if strings.TrimSpace(username) == "" {
		return nil, ErrUsernameRequired
	}
	if transport == nil {
		return nil, ErrTransportRequired
	}

	c := &Controller{
		transport:      transport,
		logger:         zerolog.Nop(),
		connectTimeout: DefaultConnectTimeout,
		state: chat.SessionState{
			ID:       uuid.NewString(),
			Username: username,
			Status:   chat.StatusConnecting,
			Feed:     make([]chat.Message, 0, 32),
		},
		watchers: make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With().
		Str(pkglog.FieldSessionID, c.state.ID).
		Str(pkglog.FieldUsername, username).
		Logger()
	return c, nil
}

// ID returns the session identifier.
func (c *Controller) ID() string {
	return c.state.ID
}

// Username returns the identity the session publishes as.
func (c *Controller) Username() string {
	return c.state.Username
}

// Start connects the transport, bounded by the connect timeout, and keeps
// watching it until it closes or ctx is cancelled. ctx bounds the whole
// session, not just the connect attempt.
func (c *Controller) Start(ctx context.Context) error {
	if status := c.Status(); status != chat.StatusConnecting {
		return fmt.Errorf("%w: start in state %s", ErrInvalidTransition, status)
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	err := c.transport.Connect(connectCtx)
	cancel()
	if err != nil {
		c.HandleConnectError(err)
		return c.Err()
	}

	if err := c.HandleConnected(); err != nil {
		return err
	}

	go c.watch(ctx)
	return nil
}

func (c *Controller) watch(ctx context.Context) {
	select {
	case <-c.transport.Done():
		c.HandleClosed(c.transport.Err())
	case <-ctx.Done():
		if err := c.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("close on context cancellation")
		}
	}
}

// HandleConnected applies the transport's connect signal: CONNECTING -> CONNECTED,
// then announces the user and subscribes to the three inbound routes.
func (c *Controller) HandleConnected() error {
	c.mu.Lock()
	if !c.transitionLocked(chat.StatusConnected, nil) {
		status := c.state.Status
		c.mu.Unlock()
		// Nobody wants this connection any more.
		_ = c.transport.Disconnect()
		return fmt.Errorf("%w: connected signal in state %s", ErrInvalidTransition, status)
	}

	err := c.publishLocked(chat.DestinationAnnounce, chat.Message{
		Sender: c.state.Username,
		Kind:   chat.KindConnect,
	})
	if err == nil {
		for _, route := range chat.Routes {
			route := route
			if subErr := c.transport.Subscribe(route.Destination(), func(payload []byte) {
				_ = c.Deliver(route, payload)
			}); subErr != nil {
				err = fmt.Errorf("subscribe %s: %w", route, subErr)
				break
			}
		}
	}
	if err != nil {
		c.transitionLocked(chat.StatusFailed, &ConnectError{Err: err})
	}
	c.mu.Unlock()

	if err != nil {
		_ = c.transport.Disconnect()
		return c.Err()
	}
	return nil
}

// HandleConnectError applies a failed connect attempt: CONNECTING -> FAILED.
func (c *Controller) HandleConnectError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitionLocked(chat.StatusFailed, &ConnectError{Err: err})
}

// HandleClosed applies the transport's close signal. A nil err is a clean or
// abrupt close (DISCONNECTED); anything else is a connection error (FAILED).
func (c *Controller) HandleClosed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil && c.state.Status == chat.StatusConnected {
		c.transitionLocked(chat.StatusDisconnected, ErrDisconnected)
		return
	}
	if err == nil {
		err = ErrDisconnected
	}
	c.transitionLocked(chat.StatusFailed, &ConnectError{Err: err})
}

// Deliver routes one inbound payload. Malformed payloads are dropped and
// counted; payloads arriving outside CONNECTED are ignored.
func (c *Controller) Deliver(route chat.Route, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != chat.StatusConnected {
		c.stats.Ignored++
		return ErrNotAccepting
	}

	var err error
	switch route {
	case chat.RoutePublicFeed:
		var msg chat.Message
		if msg, err = codec.DecodeMessage(payload); err == nil {
			c.appendLocked(msg)
		}
	case chat.RouteGrammarResult, chat.RouteBotResult:
		var res chat.AssistResult
		if res, err = codec.DecodeResult(payload); err == nil {
			text := res.Content
			if route == chat.RouteGrammarResult {
				c.state.LastGrammarResult = &text
			} else {
				c.state.LastBotAnswer = &text
			}
		}
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownRoute, route)
	}

	if err != nil {
		c.stats.Dropped++
		c.logger.Warn().Err(err).Str(pkglog.FieldRoute, route.String()).Msg("dropping inbound payload")
		return err
	}

	c.stats.Delivered++
	c.notifyLocked()
	return nil
}

func (c *Controller) appendLocked(msg chat.Message) {
	c.state.Feed = append(c.state.Feed, msg)
	if c.feedLimit > 0 && len(c.state.Feed) > c.feedLimit {
		overflow := len(c.state.Feed) - c.feedLimit
		c.state.Feed = append(c.state.Feed[:0:0], c.state.Feed[overflow:]...)
	}
}

// SendChatMessage publishes a CHAT record to the public room.
// An empty mode means no translation.
func (c *Controller) SendChatMessage(text string, mode chat.TranslationMode) error {
	if mode == "" {
		mode = chat.TranslationNone
	}
	if !mode.Valid() {
		return c.reject(ErrInvalidTranslationMode)
	}
	return c.request(text, chat.DestinationSend, func(sender string) any {
		return chat.Message{
			Sender:          sender,
			Content:         text,
			Kind:            chat.KindChat,
			TranslationMode: mode,
		}
	})
}

// RequestGrammarCheck asks the server to check text. The previous result
// stays in place until the new one arrives.
func (c *Controller) RequestGrammarCheck(text string) error {
	return c.request(text, chat.DestinationGrammarCheck, func(sender string) any {
		return chat.AssistRequest{Sender: sender, Content: text}
	})
}

// RequestBotAnswer asks the bot about text. The previous answer stays in
// place until the new one arrives.
func (c *Controller) RequestBotAnswer(text string) error {
	return c.request(text, chat.DestinationBotAsk, func(sender string) any {
		return chat.AssistRequest{Sender: sender, Content: text}
	})
}

func (c *Controller) request(text, destination string, record func(sender string) any) error {
	if text == "" {
		return c.reject(ErrEmptyText)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != chat.StatusConnected {
		c.stats.Rejected++
		return ErrNotConnected
	}
	return c.publishLocked(destination, record(c.state.Username))
}

func (c *Controller) reject(err error) error {
	c.mu.Lock()
	c.stats.Rejected++
	c.mu.Unlock()
	return err
}

func (c *Controller) publishLocked(destination string, record any) error {
	payload, err := codec.Encode(record)
	if err != nil {
		return err
	}
	if err := c.transport.Publish(destination, payload); err != nil {
		c.logger.Error().Err(err).Str(pkglog.FieldDestination, destination).Msg("publish failed")
		return err
	}
	c.stats.Published++
	return nil
}

// Close releases the transport. A connected session becomes DISCONNECTED; a
// session still connecting becomes FAILED. Close is idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	switch c.state.Status {
	case chat.StatusConnecting:
		c.transitionLocked(chat.StatusFailed, &ConnectError{Err: ErrAbandoned})
	case chat.StatusConnected:
		c.transitionLocked(chat.StatusDisconnected, ErrDisconnected)
	}
	c.mu.Unlock()

	return c.transport.Disconnect()
}

func (c *Controller) transitionLocked(to chat.Status, cause error) bool {
	from := c.state.Status
	if !chat.CanTransition(from, to) {
		return false
	}

	c.state.Status = to
	c.cause = cause

	evt := c.logger.Info()
	if to == chat.StatusFailed {
		evt = c.logger.Warn()
	}
	evt.Str("from", string(from)).Str(pkglog.FieldState, string(to)).AnErr("cause", cause).Msg("session state changed")

	c.notifyLocked()
	return true
}

// Status returns the current lifecycle state.
func (c *Controller) Status() chat.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}

// Err returns why the session left CONNECTED or CONNECTING, if it has.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Snapshot returns a deep copy of the session state.
func (c *Controller) Snapshot() chat.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Stats returns the activity counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Watch registers for change notifications. Notifications coalesce: a
// receiver that falls behind sees one pending signal, then reads Snapshot.
// The returned func unregisters the watcher.
func (c *Controller) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.mu.Lock()
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// Notify wakes every watcher without changing state. Surfaces call it after a
// change they keep outside the controller, such as a dismissed banner.
func (c *Controller) Notify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyLocked()
}

func (c *Controller) notifyLocked() {
	for _, ch := range c.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
