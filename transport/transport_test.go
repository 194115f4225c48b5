package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"

	"github.com/drblury/workerflow/internal/runtime/config"
)

type mockPublisher struct {
	closed   int
	closeErr error
}

func (m *mockPublisher) Publish(string, ...*message.Message) error { return nil }

func (m *mockPublisher) Close() error {
	m.closed++
	return m.closeErr
}

type mockSubscriber struct{ closed int }

func (m *mockSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error {
	m.closed++
	return nil
}

var _ Config = (*config.Config)(nil)

func TestTransportCloseClosesBothSides(t *testing.T) {
	pub := &mockPublisher{closeErr: errors.New("flush failed")}
	sub := &mockSubscriber{}

	err := Transport{Publisher: pub, Subscriber: sub}.Close()

	assert.ErrorContains(t, err, "flush failed")
	assert.Equal(t, 1, pub.closed)
	assert.Equal(t, 1, sub.closed)
}

func TestTransportCloseSharedPubSub(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	assert.NoError(t, Transport{Publisher: pubSub, Subscriber: pubSub}.Close())
	assert.NoError(t, Transport{}.Close())
}
