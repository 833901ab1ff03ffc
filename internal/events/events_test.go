package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/clock"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/chao-dotcom/Ticket-Craze/internal/events/eventstest"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testTopics = Topics{Reservations: "reservations", Orders: "orders", DeadLetter: "order-dead-letter"}

func sampleReservation() domain.Reservation {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Reservation{
		ReservationID: snowflake.ID(1001),
		OrderID:       snowflake.ID(2002),
		SKUID:         "7",
		Quantity:      2,
		UserID:        "42",
		Status:        domain.ReservationStatusReserved,
		CreatedAt:     created,
		ExpiresAt:     created.Add(5 * time.Minute),
	}
}

func TestReservationEvent_WireShape(t *testing.T) {
	evt := NewReservationEvent(sampleReservation(), "trace-1")

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "1001", raw["reservationId"])
	assert.Equal(t, "2002", raw["orderId"])
	assert.Equal(t, "42", raw["userId"])
	assert.Equal(t, "7", raw["skuId"])
	assert.Equal(t, float64(2), raw["quantity"])
	assert.Equal(t, StatusReserved, raw["status"])
	assert.Equal(t, float64(evt.CreatedAt), raw["createdAt"])
	assert.NotContains(t, raw, "traceId", "trace id travels as a header")
}

func TestDecodeReservation(t *testing.T) {
	evt := NewReservationEvent(sampleReservation(), "")
	data, err := json.Marshal(evt)
	require.NoError(t, err)

	got, err := DecodeReservation(kafka.Message{
		Value:   data,
		Headers: []kafka.Header{{Key: HeaderTraceID, Value: []byte("trace-9")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "trace-9", got.TraceID)
	assert.Equal(t, evt.ReservationID, got.ReservationID)

	order := got.ToOrder()
	assert.Equal(t, snowflake.ID(2002), order.OrderID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, 2, order.Quantity())
	assert.Equal(t, sampleReservation().ExpiresAt, order.ExpiresAt)
	assert.Equal(t, "trace-9", order.TraceID)
}

func TestDecodeReservation_Invalid(t *testing.T) {
	cases := map[string][]byte{
		"not json":      []byte("{"),
		"zero quantity": []byte(`{"reservationId":"1","orderId":"2","userId":"u","skuId":"s","quantity":0}`),
		"missing order": []byte(`{"reservationId":"1","userId":"u","skuId":"s","quantity":1}`),
		"bad expiry":    []byte(`{"reservationId":"1","orderId":"2","userId":"u","skuId":"s","quantity":1,"createdAt":10,"expiresAt":5}`),
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeReservation(kafka.Message{Value: value})
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestWithoutHeaders(t *testing.T) {
	headers := []kafka.Header{
		{Key: HeaderTraceID, Value: []byte("t")},
		{Key: HeaderError, Value: []byte("boom")},
		{Key: HeaderFailedAt, Value: []byte("1")},
	}
	out := WithoutHeaders(headers, HeaderError, HeaderFailedAt)
	assert.Equal(t, []kafka.Header{{Key: HeaderTraceID, Value: []byte("t")}}, out)
	assert.Len(t, headers, 3, "input is not modified")
}

func TestKafkaProducer_PublishReservation(t *testing.T) {
	w := &eventstest.Writer{}
	p := NewKafkaProducer(w, testTopics, nil, zap.NewNop())

	evt := NewReservationEvent(sampleReservation(), "trace-1")
	require.NoError(t, p.PublishReservation(context.Background(), evt))

	msgs := w.Topic("reservations")
	require.Len(t, msgs, 1)
	assert.Equal(t, "1001", string(msgs[0].Key))
	assert.Equal(t, "trace-1", HeaderValue(msgs[0].Headers, HeaderTraceID))
}

func TestKafkaProducer_PublishOrder(t *testing.T) {
	w := &eventstest.Writer{}
	p := NewKafkaProducer(w, testTopics, nil, zap.NewNop())

	require.NoError(t, p.PublishOrder(context.Background(), NewReservationEvent(sampleReservation(), "")))

	msgs := w.Topic("orders")
	require.Len(t, msgs, 1)
	assert.Equal(t, "2002", string(msgs[0].Key))
	assert.Empty(t, msgs[0].Headers)

	var got ReservationEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
	assert.Equal(t, StatusPendingPayment, got.Status)
}

func TestKafkaProducer_PublishFailure(t *testing.T) {
	w := &eventstest.Writer{Err: errors.New("leader not available")}
	p := NewKafkaProducer(w, testTopics, nil, zap.NewNop())

	err := p.PublishReservation(context.Background(), NewReservationEvent(sampleReservation(), ""))
	assert.ErrorIs(t, err, domain.ErrChannelUnavailable)
	assert.Contains(t, err.Error(), "leader not available")
}

func TestDeadLetterProducer_Send(t *testing.T) {
	w := &eventstest.Writer{}
	now := time.UnixMilli(1700000000123)
	dlq := NewDeadLetterProducer(w, "order-dead-letter", clock.NewFixed(now), zap.NewNop())

	src := kafka.Message{
		Topic:   "reservations",
		Key:     []byte("1001"),
		Value:   []byte(`{"x":1}`),
		Headers: []kafka.Header{{Key: HeaderTraceID, Value: []byte("t")}},
		Offset:  17,
	}
	require.NoError(t, dlq.Send(context.Background(), src, errors.New("db down")))

	msgs := w.Topic("order-dead-letter")
	require.Len(t, msgs, 1)
	assert.Equal(t, src.Key, msgs[0].Key)
	assert.Equal(t, src.Value, msgs[0].Value)
	assert.Equal(t, "t", HeaderValue(msgs[0].Headers, HeaderTraceID))
	assert.Equal(t, "db down", HeaderValue(msgs[0].Headers, HeaderError))
	assert.Equal(t, "1700000000123", HeaderValue(msgs[0].Headers, HeaderFailedAt))
}

func TestReplayer_StripsDiagnosticsAndCommits(t *testing.T) {
	dead := []kafka.Message{
		{Key: []byte("a"), Value: []byte("1"), Headers: []kafka.Header{
			{Key: HeaderTraceID, Value: []byte("t-a")},
			{Key: HeaderError, Value: []byte("boom")},
			{Key: HeaderFailedAt, Value: []byte("5")},
		}},
		{Key: []byte("b"), Value: []byte("2"), Headers: []kafka.Header{{Key: HeaderError, Value: []byte("boom")}}},
	}
	r := eventstest.NewReader("order-dead-letter", dead...)
	w := &eventstest.Writer{}

	replayer := NewReplayer(r, w, ReplayOptions{Target: "reservations", IdleTimeout: 20 * time.Millisecond}, zap.NewNop())
	n, err := replayer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out := w.Topic("reservations")
	require.Len(t, out, 2)
	assert.Equal(t, []byte("a"), out[0].Key)
	assert.Equal(t, []byte("1"), out[0].Value)
	assert.Equal(t, []kafka.Header{{Key: HeaderTraceID, Value: []byte("t-a")}}, out[0].Headers)
	assert.Empty(t, out[1].Headers)
	assert.Len(t, r.Committed(), 2)
}

func TestReplayer_MaxMessages(t *testing.T) {
	r := eventstest.NewReader("order-dead-letter",
		kafka.Message{Key: []byte("a")}, kafka.Message{Key: []byte("b")}, kafka.Message{Key: []byte("c")})
	w := &eventstest.Writer{}

	n, err := NewReplayer(r, w, ReplayOptions{Target: "reservations", MaxMessages: 2, RatePerSecond: 1000}, zap.NewNop()).
		Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, r.Pending())
}

func TestReplayer_WriteFailureLeavesOffset(t *testing.T) {
	r := eventstest.NewReader("order-dead-letter", kafka.Message{Key: []byte("a")})
	w := &eventstest.Writer{Err: errors.New("unreachable")}

	n, err := NewReplayer(r, w, ReplayOptions{Target: "reservations", IdleTimeout: 20 * time.Millisecond}, zap.NewNop()).
		Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrChannelUnavailable)
	assert.Zero(t, n)
	assert.Empty(t, r.Committed())
}

func TestDefaultTopicSpecs(t *testing.T) {
	specs := DefaultTopicSpecs("reservations", "orders", "payments", "order-dead-letter")
	require.Len(t, specs, 4)
	assert.Equal(t, 32, specs[0].Partitions)
	assert.Equal(t, "snappy", specs[0].Config["compression.type"])
	assert.Equal(t, "compact", specs[1].Config["cleanup.policy"])
	assert.Equal(t, 16, specs[2].Partitions)
	assert.Equal(t, "order-dead-letter", specs[3].Name)
	assert.Equal(t, "2592000000", specs[3].Config["retention.ms"])
}
