package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAck records how a delivery was settled.
type fakeAck struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	f.requeue = append(f.requeue, requeue)
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error { return f.Nack(tag, false, requeue) }

type fakeChannel struct {
	keys []string
	msgs []amqp.Publishing
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestParseAnalysisRequest(t *testing.T) {
	req, err := ParseAnalysisRequest([]byte(`{"request_id":"r1","object_key":"clips/a.webm"}`))
	require.NoError(t, err)
	assert.Equal(t, AnalysisRequest{RequestID: "r1", ObjectKey: "clips/a.webm"}, req)

	_, err = ParseAnalysisRequest([]byte(`not json`))
	assert.ErrorIs(t, err, ErrPermanent)

	_, err = ParseAnalysisRequest([]byte(`{"request_id":"r1"}`))
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("bad clip")
	err := Permanent(base)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, err, Permanent(err), "wrapping twice is a no-op")
}

func TestProcessDelivery(t *testing.T) {
	tests := []struct {
		name        string
		handlerErr  error
		wantAck     bool
		wantRequeue bool
	}{
		{"success acks", nil, true, false},
		{"permanent drops", Permanent(errors.New("corrupt clip")), false, false},
		{"transient requeues", errors.New("model unavailable"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAck{}
			c := &Consumer{
				handler: func(context.Context, []byte) error { return tt.handlerErr },
				logger:  zap.NewNop(),
			}
			c.processDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 7}, zap.NewNop())

			if tt.wantAck {
				assert.Equal(t, []uint64{7}, ack.acked)
				assert.Empty(t, ack.nacked)
				return
			}
			assert.Empty(t, ack.acked)
			require.Len(t, ack.nacked, 1)
			assert.Equal(t, tt.wantRequeue, ack.requeue[0])
		})
	}
}

func TestConsumerRun_DrainsUntilClosed(t *testing.T) {
	ack := &fakeAck{}
	var mu sync.Mutex
	var bodies []string
	c := &Consumer{
		workerCount: 3,
		handler: func(_ context.Context, body []byte) error {
			mu.Lock()
			defer mu.Unlock()
			bodies = append(bodies, string(body))
			return nil
		},
		logger: zap.NewNop(),
	}

	deliveries := make(chan amqp.Delivery, 5)
	for i := 1; i <= 5; i++ {
		deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: uint64(i), Body: []byte{byte('a' + i - 1)}}
	}
	close(deliveries)

	done := make(chan struct{})
	go func() {
		c.run(context.Background(), deliveries)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not return after the delivery channel closed")
	}
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, bodies)
	assert.Len(t, ack.acked, 5)
}

func TestBackoff(t *testing.T) {
	c := &Consumer{baseDelay: time.Second}
	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 8*time.Second, c.backoff(4))
	assert.Equal(t, maxBackoff, c.backoff(20))

	assert.Equal(t, 1, attempt(amqp.Delivery{}))
	assert.Equal(t, 2, attempt(amqp.Delivery{Redelivered: true}))
	assert.Equal(t, 3, attempt(amqp.Delivery{Redelivered: true, Headers: amqp.Table{"x-death": []interface{}{"a", "b"}}}))
}

func TestPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{channel: ch, exchange: "sleepdebt.fatigue"}
	ctx := context.Background()

	redness := 0.25
	msg := SummaryMessage{
		StoredSummary: types.StoredSummary{
			RequestID: "r1",
			ClipID:    "abc",
			Summary:   types.SummaryRecord{BlinkCount: 4, MeanRedness: &redness},
		},
		ObjectKey: "clips/a.webm",
	}
	require.NoError(t, p.PublishSummary(ctx, msg))
	require.NoError(t, p.PublishFailure(ctx, FailureMessage{RequestID: "r2", Outcome: "decode_error", Error: "bad"}))
	require.NoError(t, p.PublishRequest(ctx, AnalysisRequest{RequestID: "r3", ObjectKey: "k"}))

	assert.Equal(t, []string{RoutingSummary, RoutingFailed, RoutingAnalysis}, ch.keys)
	assert.Equal(t, "application/json", ch.msgs[0].ContentType)
	assert.Equal(t, amqp.Persistent, ch.msgs[0].DeliveryMode)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(ch.msgs[0].Body, &decoded))
	assert.Equal(t, "r1", decoded["request_id"])
	assert.Equal(t, "clips/a.webm", decoded["object_key"])
	summary, ok := decoded["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(4), summary["blink_count"])
	assert.Nil(t, summary["mean_darkness"])

	ch.err = errors.New("channel closed")
	assert.Error(t, p.PublishSummary(ctx, msg))
}
