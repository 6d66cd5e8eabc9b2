package notification_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/eventbus"
	"github.com/josh-kwaku/fooddelivery-saga/internal/service/notification"
)

type recordingSink struct {
	mu    sync.Mutex
	sent  []notification.Notification
	failN int64
}

func (s *recordingSink) Deliver(_ context.Context, userID int64, n notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userID == s.failN {
		return errors.New("sink down")
	}
	s.sent = append(s.sent, n)
	return nil
}

type memDeduper struct {
	seen map[string]bool
	err  error
}

func (d *memDeduper) Claim(_ context.Context, eventID string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

func envelope(t *testing.T, eventType string, payload any) event.Envelope {
	t.Helper()
	env, err := event.New(eventType, "test", 1, payload)
	require.NoError(t, err)
	return env
}

func TestHandle_Recipients(t *testing.T) {
	agent := int64(301)
	eta := 9

	tests := []struct {
		name       string
		eventType  string
		payload    any
		wantUsers  []int64
		wantTitles []string
		wantInMsg  string
	}{
		{
			name:       "order created notifies customer and restaurant",
			eventType:  event.OrderCreated,
			payload:    event.OrderPayload{OrderID: 7, CustomerID: 101, RestaurantID: 201, TotalAmount: decimal.RequireFromString("17.03")},
			wantUsers:  []int64{101, 201},
			wantTitles: []string{"Order Placed", "New Order"},
			wantInMsg:  "Total: $17.03",
		},
		{
			name:       "order cancelled carries the reason",
			eventType:  event.OrderCancelled,
			payload:    event.OrderPayload{OrderID: 7, CustomerID: 101, CancelReason: "changed my mind"},
			wantUsers:  []int64{101},
			wantTitles: []string{"Order Cancelled"},
			wantInMsg:  "changed my mind",
		},
		{
			name:       "payment failed",
			eventType:  event.PaymentFailed,
			payload:    event.PaymentPayload{PaymentID: 3, OrderID: 7, CustomerID: 101},
			wantUsers:  []int64{101},
			wantTitles: []string{"Payment Failed"},
			wantInMsg:  "Please retry",
		},
		{
			name:       "refund uses the refunded amount",
			eventType:  event.PaymentRefunded,
			payload:    event.PaymentPayload{PaymentID: 3, OrderID: 7, CustomerID: 101, Amount: decimal.NewFromInt(20), RefundAmount: ptr(decimal.NewFromInt(5))},
			wantUsers:  []int64{101},
			wantTitles: []string{"Refund Processed"},
			wantInMsg:  "$5.00",
		},
		{
			name:       "delivery assigned notifies the agent",
			eventType:  event.DeliveryAssigned,
			payload:    event.DeliveryPayload{DeliveryID: 9, OrderID: 7, CustomerID: 101, AgentID: &agent},
			wantUsers:  []int64{101, 301},
			wantTitles: []string{"Delivery Agent Assigned", "Delivery Assigned"},
		},
		{
			name:       "in transit includes the eta",
			eventType:  event.DeliveryInTransit,
			payload:    event.DeliveryPayload{DeliveryID: 9, OrderID: 7, CustomerID: 101, EstimatedMinutes: &eta},
			wantUsers:  []int64{101},
			wantTitles: []string{"Order On The Way"},
			wantInMsg:  "9 min",
		},
		{
			name:       "delivered pays the agent the fee",
			eventType:  event.DeliveryDelivered,
			payload:    event.DeliveryPayload{DeliveryID: 9, OrderID: 7, CustomerID: 101, AgentID: &agent, DeliveryFee: decimal.RequireFromString("2.99")},
			wantUsers:  []int64{101, 301},
			wantTitles: []string{"Order Delivered", "Delivery Completed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			svc := notification.NewService(sink, nil)
			env := envelope(t, tt.eventType, tt.payload)

			require.NoError(t, svc.Handle(context.Background(), env))

			require.Len(t, sink.sent, len(tt.wantUsers))
			for i, n := range sink.sent {
				assert.Equal(t, tt.wantUsers[i], n.UserID)
				assert.Equal(t, tt.wantTitles[i], n.Title)
				assert.Equal(t, env.EventID.String(), n.EventID)
				assert.Equal(t, tt.eventType, n.EventType)
			}
			if tt.wantInMsg != "" {
				assert.Contains(t, sink.sent[0].Message, tt.wantInMsg)
			}
		})
	}
}

func TestHandle_SuppressesDuplicates(t *testing.T) {
	sink := &recordingSink{}
	svc := notification.NewService(sink, &memDeduper{seen: map[string]bool{}})
	env := envelope(t, event.PaymentCompleted, event.PaymentPayload{PaymentID: 3, OrderID: 7, CustomerID: 101, Amount: decimal.NewFromInt(10)})

	require.NoError(t, svc.Handle(context.Background(), env))
	require.NoError(t, svc.Handle(context.Background(), env))

	assert.Len(t, sink.sent, 1)
}

func TestHandle_DedupOutageStillSends(t *testing.T) {
	sink := &recordingSink{}
	svc := notification.NewService(sink, &memDeduper{err: errors.New("redis down")})

	env := envelope(t, event.OrderConfirmed, event.OrderPayload{OrderID: 7, CustomerID: 101})
	require.NoError(t, svc.Handle(context.Background(), env))

	assert.Len(t, sink.sent, 1)
}

func TestHandle_SinkFailureIsSwallowed(t *testing.T) {
	sink := &recordingSink{failN: 101}
	svc := notification.NewService(sink, nil)

	env := envelope(t, event.OrderCreated, event.OrderPayload{OrderID: 7, CustomerID: 101, RestaurantID: 201})
	require.NoError(t, svc.Handle(context.Background(), env))

	require.Len(t, sink.sent, 1)
	assert.Equal(t, int64(201), sink.sent[0].UserID)
}

func TestHandle_IgnoresUntemplatedAndRejectsMalformed(t *testing.T) {
	sink := &recordingSink{}
	svc := notification.NewService(sink, nil)

	require.NoError(t, svc.Handle(context.Background(),
		envelope(t, event.OrderStatusChanged, event.OrderPayload{OrderID: 7, CustomerID: 101})))
	assert.Empty(t, sink.sent)

	err := svc.Handle(context.Background(), envelope(t, event.OrderCreated, map[string]any{"status": "PENDING"}))
	require.Error(t, err)
	assert.True(t, eventbus.IsPermanent(err))
}

func TestRegister(t *testing.T) {
	reg := eventbus.NewRegistry()
	notification.NewService(&recordingSink{}, nil).Register(reg)

	assert.Equal(t, []string{event.TopicDeliveryEvents, event.TopicOrderEvents, event.TopicPaymentEvents}, reg.Topics())
	_, ok := reg.Lookup(event.TopicDeliveryEvents, event.DeliveryLocationUpdated)
	assert.False(t, ok)
}

func ptr[T any](v T) *T { return &v }

// historySink keeps everything it was sent.
type historySink struct {
	recordingSink
}

func (s *historySink) History(_ context.Context, userID int64, limit int64) ([]notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notification.Notification
	for i := len(s.sent) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		if s.sent[i].UserID == userID {
			out = append(out, s.sent[i])
		}
	}
	return out, nil
}

func TestRecent(t *testing.T) {
	ctx := context.Background()
	sink := &historySink{}
	svc := notification.NewService(sink, nil)

	require.NoError(t, svc.Handle(ctx, envelope(t, event.OrderCreated, event.OrderPayload{
		OrderID: 1, CustomerID: 101, RestaurantID: 201, TotalAmount: decimal.RequireFromString("17.03"),
	})))

	got, err := svc.Recent(ctx, 101, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, event.OrderCreated, got[0].EventType)

	got, err = svc.Recent(ctx, 999, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	// a sink without history still answers
	got, err = notification.NewService(&recordingSink{}, nil).Recent(ctx, 101, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
