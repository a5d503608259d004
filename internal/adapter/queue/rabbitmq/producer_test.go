package rabbitmq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/texthub/text-processing/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testProducer wires a producer around a fake publish seam, skipping the
// broker connection entirely.
func testProducer(opts ProducerOptions, publish publishFunc) *Producer {
	p := NewProducer(Topology{Exchange: "ex", RoutingKey: "rk"}, opts, testLogger())
	p.started = true
	p.publish = publish
	return p
}

func TestProducerSendPublishesTaskMessage(t *testing.T) {
	var got amqp.Publishing
	p := testProducer(ProducerOptions{AppID: "web_api", Persistent: true}, func(_ context.Context, pub amqp.Publishing) (bool, error) {
		got = pub
		return true, nil
	})

	id, err := p.Send(context.Background(), map[string]string{"original_text": "hi", "type": "summary"}, nil)
	require.NoError(t, err)
	assert.False(t, id.IsZero())
	assert.Equal(t, id.Hex(), got.MessageId)
	assert.Equal(t, "web_api", got.AppId)
	assert.Equal(t, "application/json", got.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), got.DeliveryMode)
	assert.JSONEq(t, `{"original_text":"hi","type":"summary"}`, string(got.Body))
}

func TestProducerSendHonorsCallerTaskID(t *testing.T) {
	var got amqp.Publishing
	p := testProducer(ProducerOptions{}, func(_ context.Context, pub amqp.Publishing) (bool, error) {
		got = pub
		return true, nil
	})

	want := domain.NewTaskID()
	id, err := p.Send(context.Background(), "payload", &want)
	require.NoError(t, err)
	assert.Equal(t, want, id)
	assert.Equal(t, want.Hex(), got.MessageId)
	assert.Zero(t, got.DeliveryMode)
}

func TestProducerSendNackedByBroker(t *testing.T) {
	p := testProducer(ProducerOptions{PublisherConfirms: true}, func(_ context.Context, _ amqp.Publishing) (bool, error) {
		return false, nil
	})

	_, err := p.Send(context.Background(), "payload", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPublish)
}

func TestProducerSendPublishError(t *testing.T) {
	p := testProducer(ProducerOptions{}, func(_ context.Context, _ amqp.Publishing) (bool, error) {
		return false, errors.New("channel closed")
	})

	_, err := p.Send(context.Background(), "payload", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPublish)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestProducerSendBeforeStartup(t *testing.T) {
	p := NewProducer(Topology{}, ProducerOptions{}, testLogger())
	_, err := p.Send(context.Background(), "payload", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestProducerShutdownBeforeStartup(t *testing.T) {
	p := NewProducer(Topology{}, ProducerOptions{}, testLogger())
	err := p.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never started")
}
