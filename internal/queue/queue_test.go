package queue

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillgraph/backend/pkg/common"
	"github.com/skillgraph/backend/pkg/leaselock"
)

type published struct {
	key string
	msg amqp091.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, published{key: key, msg: msg})
	return nil
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked, a.requeued = true, requeue
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error { return nil }

type fakeDetacher struct {
	refs []common.EntityRef
	err  error
}

func (d *fakeDetacher) DetachEntity(_ context.Context, ref common.EntityRef) (int, error) {
	d.refs = append(d.refs, ref)
	return 3, d.err
}

type fakeLocker struct {
	keys []string
	err  error
}

func (l *fakeLocker) WithLease(ctx context.Context, key string, _ leaselock.Options, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

func TestPublishDetach(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch)

	err := PublishDetach(context.Background(), p, common.EntityRef{ID: "p1", Kind: common.KindPerson})
	require.NoError(t, err)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, DetachQueue, ch.sent[0].key)
	assert.Equal(t, amqp091.Persistent, ch.sent[0].msg.DeliveryMode)
	assert.JSONEq(t, `{"entity_id":"p1","entity_kind":"person"}`, string(ch.sent[0].msg.Body))

	err = PublishDetach(context.Background(), p, common.EntityRef{ID: "p1", Kind: "team"})
	require.ErrorIs(t, err, ErrMalformed)
	assert.Len(t, ch.sent, 1)
}

func TestParseDetachMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid", `{"entity_id":"s1","entity_kind":"skill"}`, true},
		{"not json", `detach s1`, false},
		{"missing id", `{"entity_kind":"skill"}`, false},
		{"unknown kind", `{"entity_id":"t1","entity_kind":"team"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseDetachMessage([]byte(tt.body))
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, common.EntityRef{ID: "s1", Kind: common.KindSkill}, msg.Ref())
				return
			}
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestProcessDetachMessage(t *testing.T) {
	ctx := context.Background()
	body := []byte(`{"entity_id":"x","entity_kind":"project"}`)

	d := &fakeDetacher{}
	l := &fakeLocker{}
	require.NoError(t, ProcessDetachMessage(ctx, d, l, body))
	assert.Equal(t, []string{"detach:project:x"}, l.keys)
	assert.Equal(t, []common.EntityRef{{ID: "x", Kind: common.KindProject}}, d.refs)

	require.NoError(t, ProcessDetachMessage(ctx, d, nil, body))
	assert.Len(t, d.refs, 2)

	busy := &fakeLocker{err: leaselock.ErrBusy}
	require.ErrorIs(t, ProcessDetachMessage(ctx, d, busy, body), leaselock.ErrBusy)
	assert.Len(t, d.refs, 2)

	d.err = errors.New("store down")
	require.ErrorIs(t, ProcessDetachMessage(ctx, d, l, body), d.err)

	require.ErrorIs(t, ProcessDetachMessage(ctx, d, l, []byte(`{}`)), ErrMalformed)
}

func TestHandleProcessingError(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("transient")

	tests := []struct {
		name    string
		headers amqp091.Table
		cause   error
		queue   string
		outcome string
		retries any
	}{
		{"first failure", nil, cause, "entity_detach_queue_retry", OutcomeRetry, int32(1)},
		{"int32 header", amqp091.Table{RetryHeader: int32(4)}, cause, "entity_detach_queue_retry", OutcomeRetry, int32(5)},
		{"int64 header", amqp091.Table{RetryHeader: int64(9)}, cause, "entity_detach_queue_retry", OutcomeRetry, int32(10)},
		{"exhausted", amqp091.Table{RetryHeader: int32(MaxRetries)}, cause, "entity_detach_queue_dlq", OutcomeDeadLetter, int32(MaxRetries)},
		{"malformed", nil, ErrMalformed, "entity_detach_queue_dlq", OutcomeDeadLetter, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			ack := &fakeAck{}
			msg := amqp091.Delivery{Acknowledger: ack, DeliveryTag: 1, Headers: tt.headers, Body: []byte("body")}

			outcome := HandleProcessingError(ctx, ch, msg, DetachQueue, tt.cause)
			assert.Equal(t, tt.outcome, outcome)
			assert.True(t, ack.acked)
			require.Len(t, ch.sent, 1)
			assert.Equal(t, tt.queue, ch.sent[0].key)
			assert.Equal(t, []byte("body"), ch.sent[0].msg.Body)
			assert.Equal(t, tt.retries, ch.sent[0].msg.Headers[RetryHeader])
		})
	}

	t.Run("publish fails", func(t *testing.T) {
		ch := &fakeChannel{err: errors.New("closed")}
		ack := &fakeAck{}
		msg := amqp091.Delivery{Acknowledger: ack, DeliveryTag: 1}

		outcome := HandleProcessingError(ctx, ch, msg, DetachQueue, cause)
		assert.Equal(t, OutcomeRequeued, outcome)
		assert.False(t, ack.acked)
		assert.True(t, ack.nacked)
		assert.True(t, ack.requeued)
	})
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "entity_detach_queue_retry", RetryQueue(DetachQueue))
	assert.Equal(t, "entity_detach_queue_dlq", DeadLetterQueue(DetachQueue))
}
