package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Zaroganos/goldflipper/internal/broker"
	"github.com/Zaroganos/goldflipper/internal/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() broker.CircuitBreakerSettings {
	return broker.CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Hour, // stay open for the duration of the test
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

func submitReq() broker.OrderRequest {
	return broker.OrderRequest{
		OCCSymbol: "SPY250620C00500000",
		Quantity:  1,
		Type:      broker.OrderTypeMarket,
	}
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	inner := mock.NewBroker()
	inner.SubmitErr = errors.New("connection reset")
	cb := broker.NewCircuitBreakerBrokerWithSettings(inner, nil, testSettings())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cb.SubmitOrder(ctx, submitReq())
		require.Error(t, err)
	}

	// Tripped: every call fails fast, including ones the inner broker would
	// have served.
	_, err := cb.SubmitOrder(ctx, submitReq())
	assert.ErrorIs(t, err, broker.ErrUnavailable)
	_, err = cb.GetAccount(ctx)
	assert.ErrorIs(t, err, broker.ErrUnavailable)
}

func TestCircuitIgnoresRejections(t *testing.T) {
	inner := mock.NewBroker()
	inner.Mode = mock.RejectAll
	cb := broker.NewCircuitBreakerBrokerWithSettings(inner, nil, testSettings())
	ctx := context.Background()

	// Rejections are business outcomes: they pass through unchanged and never
	// count against API health.
	for i := 0; i < 6; i++ {
		_, err := cb.SubmitOrder(ctx, submitReq())
		require.ErrorIs(t, err, broker.ErrRejected)
	}

	_, err := cb.GetAccount(ctx)
	assert.NoError(t, err, "circuit stays closed through rejections")
}

func TestCircuitPassesResultsThrough(t *testing.T) {
	inner := mock.NewBroker()
	cb := broker.NewCircuitBreakerBrokerWithSettings(inner, nil, testSettings())
	ctx := context.Background()

	assert.Equal(t, "mock", cb.Name())

	order, err := cb.SubmitOrder(ctx, submitReq())
	require.NoError(t, err)
	assert.Equal(t, broker.OrderStatusFilled, order.Status)

	got, err := cb.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = cb.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, broker.ErrNotFound)
}
