// Package sessiontest provides an in-memory session.Transport for tests.
package sessiontest

import (
	"context"
	"sync"
)

// Publish is one recorded outbound publish.
type Publish struct {
	Destination string
	Payload     []byte
}

// Transport records what a controller does with it and lets tests play the
// broker's side. The zero value is not usable; call NewTransport.
type Transport struct {
	mu           sync.Mutex
	connectErr   error
	blockConnect bool
	subscribeErr error
	publishErr   error
	published    []Publish
	handlers     map[string]func([]byte)
	subscribed   []string
	disconnects  int

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

func NewTransport() *Transport {
	return &Transport{
		handlers: make(map[string]func([]byte)),
		done:     make(chan struct{}),
	}
}

// FailConnect makes Connect return err.
func (t *Transport) FailConnect(err error) {
	t.mu.Lock()
	t.connectErr = err
	t.mu.Unlock()
}

// BlockConnect makes Connect wait for its context to end.
func (t *Transport) BlockConnect() {
	t.mu.Lock()
	t.blockConnect = true
	t.mu.Unlock()
}

// FailSubscribe makes Subscribe return err.
func (t *Transport) FailSubscribe(err error) {
	t.mu.Lock()
	t.subscribeErr = err
	t.mu.Unlock()
}

// FailPublish makes Publish return err.
func (t *Transport) FailPublish(err error) {
	t.mu.Lock()
	t.publishErr = err
	t.mu.Unlock()
}

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	block, err := t.blockConnect, t.connectErr
	t.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (t *Transport) Subscribe(destination string, handler func([]byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subscribeErr != nil {
		return t.subscribeErr
	}
	t.handlers[destination] = handler
	t.subscribed = append(t.subscribed, destination)
	return nil
}

func (t *Transport) Publish(destination string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.publishErr != nil {
		return t.publishErr
	}
	t.published = append(t.published, Publish{
		Destination: destination,
		Payload:     append([]byte(nil), payload...),
	})
	return nil
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.disconnects++
	t.mu.Unlock()
	t.Close(nil)
	return nil
}

func (t *Transport) Done() <-chan struct{} { return t.done }

func (t *Transport) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Close ends the transport as the broker would; err nil is a clean close.
func (t *Transport) Close(err error) {
	t.doneOnce.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Push delivers payload through the handler subscribed to destination. It
// reports false when nothing is subscribed there.
func (t *Transport) Push(destination, payload string) bool {
	t.mu.Lock()
	h := t.handlers[destination]
	t.mu.Unlock()
	if h == nil {
		return false
	}
	h([]byte(payload))
	return true
}

func (t *Transport) Published() []Publish {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Publish(nil), t.published...)
}

func (t *Transport) Subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.subscribed...)
}

func (t *Transport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}
