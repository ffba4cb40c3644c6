// Package transport binds a chat session to a STOMP broker reached over WebSocket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/rs/zerolog"

	pkglog "github.com/zhouzirui/ligochat/pkg/log"
)

var (
	ErrNotConnected      = errors.New("transport: not connected")
	ErrClosed            = errors.New("transport: closed")
	ErrAlreadyConnected  = errors.New("transport: already connected")
	ErrDisconnectTimeout = errors.New("transport: disconnect receipt timed out")
)

// Options configures a Client.
type Options struct {
	URL      string
	Login    string
	Passcode string
	// Host is the STOMP virtual host; defaults to the URL host name.
	Host string

	HeartBeatSend     time.Duration
	HeartBeatRecv     time.Duration
	DisconnectTimeout time.Duration
	ContentType       string

	Conn ConnOptions
}

// Client is a single-use STOMP session over WebSocket. Once disconnected it
// cannot be reconnected; construct a new Client instead.
type Client struct {
	opts   Options
	logger zerolog.Logger

	mu     sync.Mutex
	ws     *wsConn
	conn   *stomp.Conn
	closed bool

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

// New creates an unconnected Client.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.DisconnectTimeout <= 0 {
		opts.DisconnectTimeout = 3 * time.Second
	}
	if opts.ContentType == "" {
		opts.ContentType = "application/json"
	}
	return &Client{
		opts:   opts,
		logger: logger.With().Str(pkglog.FieldComponent, "transport").Logger(),
		done:   make(chan struct{}),
	}
}

// Connect dials the broker and completes the STOMP handshake. ctx bounds both.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.conn != nil:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	ws, err := dial(ctx, c.opts.URL, c.opts.Conn)
	if err != nil {
		return err
	}

	type result struct {
		conn *stomp.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := stomp.Connect(ws, c.connectOptions()...)
		ch <- result{conn: conn, err: err}
	}()

	var conn *stomp.Conn
	select {
	case r := <-ch:
		if r.err != nil {
			_ = ws.Close()
			return fmt.Errorf("stomp connect: %w", r.err)
		}
		conn = r.conn
	case <-ctx.Done():
		// Closing the socket unblocks the handshake goroutine.
		_ = ws.Close()
		return ctx.Err()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.conn = conn
	c.mu.Unlock()

	c.logger.Debug().Str("url", c.opts.URL).Str("server", conn.Server()).Msg("stomp session established")

	go func() {
		<-ws.Done()
		c.finish(ws.Err())
	}()
	return nil
}

func (c *Client) connectOptions() []func(*stomp.Conn) error {
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(c.opts.HeartBeatSend, c.opts.HeartBeatRecv),
	}

	host := c.opts.Host
	if host == "" {
		if u, err := url.Parse(c.opts.URL); err == nil {
			host = u.Hostname()
		}
	}
	if host != "" {
		opts = append(opts, stomp.ConnOpt.Host(host))
	}
	if c.opts.Login != "" {
		opts = append(opts, stomp.ConnOpt.Login(c.opts.Login, c.opts.Passcode))
	}
	return opts
}

// Subscribe registers handler for destination. Payloads are delivered one at a
// time, in arrival order, until the client disconnects.
func (c *Client) Subscribe(destination string, handler func(payload []byte)) error {
	conn, ws, err := c.active()
	if err != nil {
		return err
	}

	sub, err := conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", destination, err)
	}

	go c.deliver(ws, sub, handler)
	return nil
}

func (c *Client) deliver(ws *wsConn, sub *stomp.Subscription, handler func([]byte)) {
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			if msg.Err != nil {
				select {
				case <-ws.Done():
					c.finish(ws.Err())
				default:
					c.logger.Error().Err(msg.Err).Str(pkglog.FieldDestination, sub.Destination()).Msg("broker reported error")
					c.finish(msg.Err)
					_ = ws.Close()
				}
				return
			}

			select {
			case <-c.done:
				return
			default:
			}
			handler(msg.Body)
		}
	}
}

// Publish sends payload to destination.
func (c *Client) Publish(destination string, payload []byte) error {
	conn, _, err := c.active()
	if err != nil {
		return err
	}
	if err := conn.Send(destination, c.opts.ContentType, payload); err != nil {
		return fmt.Errorf("publish %s: %w", destination, err)
	}
	return nil
}

// Disconnect ends the STOMP session and releases the socket. It is idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, ws := c.conn, c.ws
	c.mu.Unlock()

	if conn == nil {
		c.finish(nil)
		return nil
	}

	select {
	case <-c.done:
		_ = ws.Close()
		return nil
	default:
	}

	// The session ends cleanly from here on, whatever the socket reports
	// while the STOMP goodbye runs.
	c.finish(nil)

	errCh := make(chan error, 1)
	go func() { errCh <- conn.Disconnect() }()

	select {
	case err := <-errCh:
		if err != nil {
			c.logger.Debug().Err(err).Msg("stomp disconnect")
		}
	case <-time.After(c.opts.DisconnectTimeout):
		c.logger.Warn().Err(ErrDisconnectTimeout).Msg("forcing socket close")
	}

	return ws.Close()
}

// Done is closed when the session ends for any reason.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the session ended: nil for a local disconnect or a close
// from the peer, non-nil for a connection error.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) active() (*stomp.Conn, *wsConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil {
		return nil, nil, ErrNotConnected
	}
	select {
	case <-c.done:
		return nil, nil, ErrNotConnected
	default:
	}
	return c.conn, c.ws, nil
}

func (c *Client) finish(err error) {
	c.doneOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}
