package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/workerflow/internal/runtime/errors"
)

func TestNewDispatcherDefaults(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{})
	assert.ErrorIs(t, err, errspkg.ErrRoutesRequired)

	_, err = NewDispatcher(DispatcherConfig{Routes: []*Route{nil}})
	assert.Error(t, err)

	routes := make([]*Route, 7)
	for i := range routes {
		routes[i] = newTestRoute(t, fmt.Sprintf("r%d", i), newFakeProvider(), &recordingHandler{})
	}

	d := newTestDispatcher(t, routes[:2]...)
	assert.Equal(t, 5, d.Workers())
	assert.Equal(t, 20, d.QueueSize())

	d = newTestDispatcher(t, routes...)
	assert.Equal(t, 7, d.Workers())
	assert.Equal(t, 70, d.QueueSize())

	d, err = NewDispatcher(DispatcherConfig{Routes: routes[:1], Workers: 2, QueueSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Workers())
	assert.Equal(t, 3, d.QueueSize())
	assert.Len(t, d.Routes(), 1)
}

func TestDispatchMessageIgnoresEmptyMessages(t *testing.T) {
	handler := &recordingHandler{result: true}
	route := newTestRoute(t, "orders", newFakeProvider(), handler)
	d := newTestDispatcher(t, route)

	for _, msg := range []Message{nil, "", []byte{}, map[string]any{}} {
		ok, err := d.DispatchMessage(context.Background(), msg, route)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 0, handler.callCount())
}

func TestDispatchMessageReturnsHandlerResult(t *testing.T) {
	for _, want := range []bool{true, false} {
		route := newTestRoute(t, "orders", newFakeProvider(), &recordingHandler{result: want})
		d := newTestDispatcher(t, route)

		ok, err := d.DispatchMessage(context.Background(), "m1", route)
		require.NoError(t, err)
		assert.Equal(t, want, ok)
	}
}

func TestDispatchMessageDeleteSignalConfirms(t *testing.T) {
	eh := &recordingErrorHandler{}
	route := newTestRoute(t, "orders", newFakeProvider(),
		&recordingHandler{err: fmt.Errorf("duplicate order: %w", errspkg.ErrDeleteMessage)},
		func(c *RouteConfig) { c.ErrorHandler = eh },
	)
	d := newTestDispatcher(t, route)

	ok, err := d.DispatchMessage(context.Background(), "m1", route)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, eh.calls, "delete signal must not reach the error handler")
}

func TestDispatchMessagePropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	eh := &recordingErrorHandler{result: true}
	route := newTestRoute(t, "orders", newFakeProvider(), HandlerFunc(func(ctx context.Context, _ any, _ Metadata) (bool, error) {
		cancel()
		return false, ctx.Err()
	}), func(c *RouteConfig) { c.ErrorHandler = eh })
	d := newTestDispatcher(t, route)

	ok, err := d.DispatchMessage(ctx, "m1", route)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, eh.calls)
}

func TestDispatchMessageHandlerOwnCancellationIsProcessingError(t *testing.T) {
	eh := &recordingErrorHandler{result: false}
	route := newTestRoute(t, "orders", newFakeProvider(), HandlerFunc(func(ctx context.Context, _ any, _ Metadata) (bool, error) {
		inner, cancel := context.WithCancel(ctx)
		cancel()
		return false, fmt.Errorf("downstream call: %w", inner.Err())
	}), func(c *RouteConfig) { c.ErrorHandler = eh })
	d := newTestDispatcher(t, route)

	ok, err := d.DispatchMessage(context.Background(), "m1", route)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, eh.calls, 1)
	assert.ErrorIs(t, eh.calls[0].Err, context.Canceled)
}

func TestDispatchMessageCancelledContextWinsOverHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	route := newTestRoute(t, "orders", newFakeProvider(), HandlerFunc(func(context.Context, any, Metadata) (bool, error) {
		cancel()
		return false, errors.New("connection reset")
	}))
	d := newTestDispatcher(t, route)

	_, err := d.DispatchMessage(ctx, "m1", route)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatchMessageDelegatesToErrorHandler(t *testing.T) {
	for _, want := range []bool{true, false} {
		eh := &recordingErrorHandler{result: want}
		route := newTestRoute(t, "orders", newFakeProvider(), &recordingHandler{err: errBoom},
			func(c *RouteConfig) { c.ErrorHandler = eh },
		)
		d := newTestDispatcher(t, route)

		ok, err := d.DispatchMessage(context.Background(), "m1", route)
		require.NoError(t, err)
		assert.Equal(t, want, ok)

		require.Len(t, eh.calls, 1)
		assert.ErrorIs(t, eh.calls[0].Err, errBoom)
		assert.Equal(t, "*errors.errorString", eh.calls[0].Type)
		assert.NotEmpty(t, eh.calls[0].Stack)
		assert.Equal(t, "m1", eh.msgs[0])
	}
}

func TestDispatchMessageTranslationFailureIsProcessingError(t *testing.T) {
	eh := &recordingErrorHandler{}
	route := newTestRoute(t, "orders", newFakeProvider(), &recordingHandler{result: true}, func(c *RouteConfig) {
		c.Translator = TranslatorFunc(func(Message) (TranslatedMessage, error) {
			return TranslatedMessage{}, nil
		})
		c.ErrorHandler = eh
	})
	d := newTestDispatcher(t, route)

	ok, err := d.DispatchMessage(context.Background(), "m1", route)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, eh.calls, 1)

	var te *TranslationError
	assert.ErrorAs(t, eh.calls[0].Err, &te)
}

func TestProcessMessageRoutesConfirmation(t *testing.T) {
	tests := []struct {
		name         string
		handler      Handler
		wantConfirm  bool
		wantReleased bool
	}{
		{"processed", &recordingHandler{result: true}, true, false},
		{"skipped", &recordingHandler{result: false}, false, true},
		{"error without error handler", &recordingHandler{err: errors.New("value error")}, false, true},
		{"delete signal", &recordingHandler{err: errspkg.ErrDeleteMessage}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newFakeProvider()
			route := newTestRoute(t, "orders", provider, tt.handler)
			d := newTestDispatcher(t, route)

			ok, err := d.ProcessMessage(context.Background(), "m1", route)
			require.NoError(t, err)
			assert.Equal(t, tt.wantConfirm, ok)

			_, confirmed, released, _ := provider.snapshot()
			if tt.wantConfirm {
				assert.Equal(t, []Message{"m1"}, confirmed)
				assert.Empty(t, released)
			}
			if tt.wantReleased {
				assert.Equal(t, []Message{"m1"}, released)
				assert.Empty(t, confirmed)
			}
		})
	}
}

func TestProcessMessageCancelledNeitherConfirmsNorReleases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := newFakeProvider()
	route := newTestRoute(t, "orders", provider, HandlerFunc(func(ctx context.Context, _ any, _ Metadata) (bool, error) {
		cancel()
		<-ctx.Done()
		return false, ctx.Err()
	}))
	d := newTestDispatcher(t, route)

	_, err := d.ProcessMessage(ctx, "m1", route)
	assert.ErrorIs(t, err, context.Canceled)

	_, confirmed, released, _ := provider.snapshot()
	assert.Empty(t, confirmed)
	assert.Empty(t, released)
}

func TestProcessMessageSurvivesConfirmFailure(t *testing.T) {
	provider := newFakeProvider()
	provider.confirmErr = errBoom
	route := newTestRoute(t, "orders", provider, &recordingHandler{result: true})
	d := newTestDispatcher(t, route)

	ok, err := d.ProcessMessage(context.Background(), "m1", route)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDispatchProvidersBoundedRun(t *testing.T) {
	provider := newFakeProvider([]Message{"m1", "m2"}, []Message{"never"})
	handler := &recordingHandler{result: true}
	route := newTestRoute(t, "orders", provider, handler)
	d := newTestDispatcher(t, route)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.DispatchProviders(ctx, false))

	fetches, confirmed, released, _ := provider.snapshot()
	assert.Equal(t, 1, fetches)
	assert.ElementsMatch(t, []Message{"m1", "m2"}, confirmed)
	assert.Empty(t, released)
	assert.Equal(t, 2, handler.callCount())
}

func TestDispatchProvidersHandlerCancellationDoesNotStopRun(t *testing.T) {
	provider := newFakeProvider([]Message{"a", "b"})
	var (
		mu      sync.Mutex
		handled []any
	)
	route := newTestRoute(t, "orders", provider, HandlerFunc(func(ctx context.Context, content any, _ Metadata) (bool, error) {
		mu.Lock()
		handled = append(handled, content)
		mu.Unlock()
		if content == "a" {
			inner, cancel := context.WithCancel(ctx)
			cancel()
			return false, fmt.Errorf("downstream call: %w", inner.Err())
		}
		return true, nil
	}))
	d, err := NewDispatcher(DispatcherConfig{Routes: []*Route{route}, Workers: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.DispatchProviders(ctx, false))

	_, confirmed, released, _ := provider.snapshot()
	assert.Equal(t, []Message{"b"}, confirmed)
	assert.Equal(t, []Message{"a"}, released)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{"a", "b"}, handled)
}

func TestDispatchProvidersTwoRoutes(t *testing.T) {
	providerA := newFakeProvider([]Message{"m1", "m2"})
	providerB := newFakeProvider([]Message{"m3"})
	handlerA := &recordingHandler{result: true}
	handlerB := &recordingHandler{result: false}

	d := newTestDispatcher(t,
		newTestRoute(t, "a", providerA, handlerA),
		newTestRoute(t, "b", providerB, handlerB),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.DispatchProviders(ctx, false))

	_, confirmedA, releasedA, _ := providerA.snapshot()
	_, confirmedB, releasedB, _ := providerB.snapshot()
	assert.ElementsMatch(t, []Message{"m1", "m2"}, confirmedA)
	assert.Empty(t, releasedA)
	assert.Empty(t, confirmedB)
	assert.Equal(t, []Message{"m3"}, releasedB)
	assert.Equal(t, 2, handlerA.callCount())
	assert.Equal(t, 1, handlerB.callCount())
}

func TestDispatchProvidersBoundedRunWithSmallQueue(t *testing.T) {
	msgs := make([]Message, 50)
	for i := range msgs {
		msgs[i] = fmt.Sprintf("m%d", i)
	}
	provider := newFakeProvider(msgs)
	var handled atomic.Int32
	route := newTestRoute(t, "orders", provider, HandlerFunc(func(context.Context, any, Metadata) (bool, error) {
		handled.Add(1)
		return true, nil
	}))

	d, err := NewDispatcher(DispatcherConfig{Routes: []*Route{route}, QueueSize: 2, Workers: 3})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.DispatchProviders(ctx, false))
	assert.EqualValues(t, 50, handled.Load())

	_, confirmed, _, _ := provider.snapshot()
	assert.ElementsMatch(t, msgs, confirmed)
}

func TestDispatchProvidersFetchErrorIsFatal(t *testing.T) {
	provider := newFakeProvider()
	provider.fetchErr = errBoom
	route := newTestRoute(t, "orders", provider, &recordingHandler{result: true})
	d := newTestDispatcher(t, route)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := d.DispatchProviders(ctx, true)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "orders", pe.Route)
	assert.ErrorIs(t, err, errBoom)

	fetches, _, _, _ := provider.snapshot()
	assert.Equal(t, 1, fetches)
}

func TestDispatchProvidersFetchErrorLetsInFlightDeliveryFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	slowProvider := newFakeProvider([]Message{"m1"})
	slowRoute := newTestRoute(t, "slow", slowProvider, HandlerFunc(func(context.Context, any, Metadata) (bool, error) {
		close(started)
		<-release
		return true, nil
	}))

	failingProvider := newFakeProvider()
	failingProvider.fetchHook = func(context.Context) error {
		<-started
		return errBoom
	}
	failingRoute := newTestRoute(t, "failing", failingProvider, &recordingHandler{})

	d := newTestDispatcher(t, slowRoute, failingRoute)

	done := make(chan error, 1)
	go func() { done <- d.DispatchProviders(context.Background(), true) }()

	waitClosed(t, started, "slow handler")
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-done:
		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "failing", pe.Route)
	case <-time.After(2 * time.Second):
		t.Fatal("DispatchProviders did not return")
	}

	_, confirmed, _, _ := slowProvider.snapshot()
	assert.Equal(t, []Message{"m1"}, confirmed)
}

func TestDispatchProvidersCancellation(t *testing.T) {
	started := make(chan struct{})
	provider := newFakeProvider([]Message{"m1"})
	route := newTestRoute(t, "orders", provider, HandlerFunc(func(ctx context.Context, _ any, _ Metadata) (bool, error) {
		close(started)
		<-ctx.Done()
		return false, ctx.Err()
	}))
	d := newTestDispatcher(t, route)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.DispatchProviders(ctx, true) }()

	waitClosed(t, started, "handler")
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("DispatchProviders did not return after cancel")
	}

	_, confirmed, released, _ := provider.snapshot()
	assert.Empty(t, confirmed, "cancelled delivery must not be confirmed")
	assert.Empty(t, released, "cancelled delivery must not be released")
}

func TestDispatcherStopStopsRoutesOnce(t *testing.T) {
	providerA, providerB := newFakeProvider(), newFakeProvider()
	d := newTestDispatcher(t,
		newTestRoute(t, "a", providerA, &recordingHandler{}),
		newTestRoute(t, "b", providerB, &recordingHandler{}),
	)

	d.Stop()
	d.Stop()

	for _, p := range []*fakeProvider{providerA, providerB} {
		_, _, _, stopped := p.snapshot()
		assert.Equal(t, 1, stopped)
	}
}

func TestDispatchMessageHooks(t *testing.T) {
	var (
		starts  []DeliveryContext
		dones   []DeliveryContext
		failure []error
	)
	hooks := DeliveryHooks{
		OnDeliveryStart: func(dc DeliveryContext) { starts = append(starts, dc) },
		OnDeliveryDone:  func(dc DeliveryContext) { dones = append(dones, dc) },
		OnDeliveryError: func(_ DeliveryContext, err error) { failure = append(failure, err) },
	}

	ok := newTestRoute(t, "ok", newFakeProvider(), &recordingHandler{result: true})
	bad := newTestRoute(t, "bad", newFakeProvider(), &recordingHandler{err: errBoom})
	d, err := NewDispatcher(DispatcherConfig{Routes: []*Route{ok, bad}, Hooks: hooks})
	require.NoError(t, err)

	_, _ = d.DispatchMessage(context.Background(), "m1", ok)
	_, _ = d.DispatchMessage(context.Background(), "m2", bad)
	_, _ = d.DispatchMessage(context.Background(), nil, ok)

	require.Len(t, starts, 2)
	assert.NotEmpty(t, starts[0].DeliveryID)
	assert.NotEqual(t, starts[0].DeliveryID, starts[1].DeliveryID)

	require.Len(t, dones, 1)
	assert.Equal(t, OutcomeConfirmed, dones[0].Outcome)
	assert.Equal(t, "ok", dones[0].Route)

	require.Len(t, failure, 1)
	assert.ErrorIs(t, failure[0], errBoom)
}
