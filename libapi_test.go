package workerflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

type sliceProvider struct {
	BaseProvider
	mu        sync.Mutex
	pending   []Message
	confirmed []Message
}

func (p *sliceProvider) FetchMessages(context.Context) ([]Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out, nil
}

func (p *sliceProvider) ConfirmMessage(_ context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, msg)
	return nil
}

func TestRouteExportsPropagateErrors(t *testing.T) {
	_, err := NewRoute(RouteConfig{})
	assert.ErrorIs(t, err, ErrProviderRequired)

	_, err = NewRoute(RouteConfig{Provider: &sliceProvider{}})
	assert.ErrorIs(t, err, ErrHandlerRequired)

	_, err = NewManager(ManagerConfig{})
	assert.ErrorIs(t, err, ErrRoutesRequired)
}

func TestManagerRunsExportedRoute(t *testing.T) {
	provider := &sliceProvider{pending: []Message{`{"id":1}`, `{"id":2}`}}
	var mu sync.Mutex
	var seen []any
	route := MustNewRoute(RouteConfig{
		Name:       "orders",
		Provider:   provider,
		Translator: JSONTranslator,
		Handler: HandlerFunc(func(_ context.Context, content any, _ Metadata) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, content)
			return true, nil
		}),
	})

	manager, err := NewManager(ManagerConfig{Routes: []*Route{route}, Logger: DiscardLogger()})
	require.NoError(t, err)
	require.NoError(t, manager.Run(context.Background(), false, false))

	assert.Len(t, provider.confirmed, 2)
	assert.ElementsMatch(t, []any{
		map[string]any{"id": float64(1)},
		map[string]any{"id": float64(2)},
	}, seen)
}

func TestTranslatorExports(t *testing.T) {
	type order struct {
		ID int `json:"id"`
	}
	out, err := JSONInto[order]().Translate([]byte(`{"id":7}`))
	require.NoError(t, err)
	assert.Equal(t, order{ID: 7}, out.Content)

	out, err = ProtoTranslator[*structpb.Struct]().Translate([]byte(`{"a":"b"}`))
	require.NoError(t, err)
	assert.Equal(t, "b", out.Content.(*structpb.Struct).GetFields()["a"].GetStringValue())

	out, err = CloudEventsTranslator.Translate([]byte(`{"specversion":"1.0","id":"1","type":"t","source":"s","data":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", out.Content)
}

func TestLoggerExports(t *testing.T) {
	logger := NewEntryServiceLogger(&stubEntry{})
	logger.Info("boot", LogFields{"component": "test"})
	logger.Error("failed", assert.AnError, nil)
}

func TestEncodingAndMetadataExports(t *testing.T) {
	payload := map[string]string{"hello": "world"}
	data, err := Marshal(payload)
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, payload, decoded)

	md := NewMetadata("key", "value")
	assert.Equal(t, "value", md["key"])
	assert.NotEmpty(t, NewID())
}

func TestErrorCategoryConstants(t *testing.T) {
	assert.Equal(t, ErrorCategoryValidation, Categorize(&TranslationError{Err: assert.AnError}))
	assert.Equal(t, ErrorCategoryOther, Categorize(assert.AnError))
	assert.True(t, IsDeleteMessage(ErrDeleteMessage))
}

type stubEntry struct {
	fields LogFields
	err    error
}

func (s *stubEntry) Error(args ...any) {}
func (s *stubEntry) Info(args ...any)  {}
func (s *stubEntry) Debug(args ...any) {}
func (s *stubEntry) Trace(args ...any) {}

func (s *stubEntry) WithError(err error) *stubEntry {
	clone := *s
	clone.err = err
	return &clone
}

func (s *stubEntry) WithField(key string, value any) *stubEntry {
	clone := *s
	clone.fields = LogFields{key: value}
	return &clone
}

func (s *stubEntry) WithFields(fields LogFields) *stubEntry {
	clone := *s
	clone.fields = fields
	return &clone
}
