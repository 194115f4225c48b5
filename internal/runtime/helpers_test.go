package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// fakeProvider serves the queued batches in order and then blocks until the
// fetch context is done.
type fakeProvider struct {
	mu         sync.Mutex
	batches    [][]Message
	fetchErr   error
	confirmErr error
	fetches    int
	confirmed  []Message
	released   []Message
	stopped    int
	fetchHook  func(ctx context.Context) error
}

func newFakeProvider(batches ...[]Message) *fakeProvider {
	return &fakeProvider{batches: batches}
}

func (p *fakeProvider) FetchMessages(ctx context.Context) ([]Message, error) {
	p.mu.Lock()
	p.fetches++
	hook := p.fetchHook
	if p.fetchErr != nil {
		err := p.fetchErr
		p.mu.Unlock()
		return nil, err
	}
	if len(p.batches) > 0 {
		batch := p.batches[0]
		p.batches = p.batches[1:]
		p.mu.Unlock()
		return batch, nil
	}
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *fakeProvider) ConfirmMessage(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, msg)
	return p.confirmErr
}

func (p *fakeProvider) MessageNotProcessed(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, msg)
	return nil
}

func (p *fakeProvider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
}

func (p *fakeProvider) snapshot() (fetches int, confirmed, released []Message, stopped int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches, append([]Message(nil), p.confirmed...), append([]Message(nil), p.released...), p.stopped
}

// recordingHandler records every call and answers with result/err.
type recordingHandler struct {
	mu      sync.Mutex
	calls   []any
	md      []Metadata
	result  bool
	err     error
	stopped int
}

func (h *recordingHandler) Handle(_ context.Context, content any, md Metadata) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, content)
	h.md = append(h.md, md)
	return h.result, h.err
}

func (h *recordingHandler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped++
}

func (h *recordingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type recordingErrorHandler struct {
	mu     sync.Mutex
	calls  []ErrorContext
	msgs   []Message
	result bool
}

func (h *recordingErrorHandler) HandleError(_ context.Context, ec ErrorContext, msg Message) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, ec)
	h.msgs = append(h.msgs, msg)
	return h.result
}

func newTestRoute(t *testing.T, name string, provider Provider, handler Handler, opts ...func(*RouteConfig)) *Route {
	t.Helper()
	cfg := RouteConfig{Name: name, Provider: provider, Handler: handler}
	for _, opt := range opts {
		opt(&cfg)
	}
	route, err := NewRoute(cfg)
	if err != nil {
		t.Fatalf("NewRoute: %v", err)
	}
	return route
}

func newTestDispatcher(t *testing.T, routes ...*Route) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(DispatcherConfig{Routes: routes})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

type testPublisher struct {
	mu       sync.Mutex
	messages map[string][]*message.Message
	err      error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.messages == nil {
		p.messages = make(map[string][]*message.Message)
	}
	p.messages[topic] = append(p.messages[topic], messages...)
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) published(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages[topic]...)
}

var errBoom = errors.New("boom")
