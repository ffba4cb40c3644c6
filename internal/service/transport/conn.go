package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnOptions configures the WebSocket underneath the STOMP session.
type ConnOptions struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	Header           http.Header
}

// DefaultConnOptions returns the options used when none are configured.
func DefaultConnOptions() ConnOptions {
	return ConnOptions{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
	}
}

// wsConn exposes a WebSocket as the byte stream a STOMP client expects.
// Every Write becomes one text message; Read drains messages in order.
type wsConn struct {
	ws   *websocket.Conn
	opts ConnOptions

	readMu sync.Mutex
	reader io.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// dial opens a WebSocket to url and starts its keepalive loop.
func dial(ctx context.Context, url string, opts ConnOptions) (*wsConn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
		Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	}

	ws, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return newWSConn(ws, opts), nil
}

func newWSConn(ws *websocket.Conn, opts ConnOptions) *wsConn {
	c := &wsConn{
		ws:   ws,
		opts: opts,
		done: make(chan struct{}),
	}

	c.extendReadDeadline()
	ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	if opts.PingInterval > 0 {
		go c.pingLoop()
	}
	return c
}

func (c *wsConn) extendReadDeadline() {
	if c.opts.ReadTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}
}

// Read implements io.Reader across WebSocket message boundaries.
func (c *wsConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				c.fail(err)
				return 0, err
			}
			c.extendReadDeadline()
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends p as a single text message.
func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.opts.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		c.fail(err)
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and releases the socket. Safe to call repeatedly.
// The socket is marked done first so reads failing on the closed socket are
// not recorded as errors.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.markDone(nil)
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	return err
}

// Done is closed once the socket stops delivering data.
func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

// Err returns the failure that ended the socket, or nil for an orderly close.
func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) fail(err error) {
	// A close frame, or a dropped socket reported as 1006, is a disconnect, not a failure.
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		err = nil
	}
	select {
	case <-c.done:
		// Errors after a local Close are expected.
		return
	default:
	}
	c.markDone(err)
	_ = c.ws.Close()
}

func (c *wsConn) markDone(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.err = err
	close(c.done)
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if c.opts.WriteTimeout <= 0 {
				deadline = time.Now().Add(10 * time.Second)
			}
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.fail(err)
				return
			}
		}
	}
}
