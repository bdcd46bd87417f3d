package broker

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Zaroganos/goldflipper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientOrderID(t *testing.T) {
	a := NewClientOrderID("p1", models.BuyToOpen, "SPY250620C00500000", 2)
	b := NewClientOrderID("p1", models.BuyToOpen, "SPY250620C00500000", 2)
	other := NewClientOrderID("p2", models.BuyToOpen, "SPY250620C00500000", 2)

	assert.True(t, strings.HasPrefix(a, "gf-"))
	assert.NotEqual(t, a, b, "nonce keeps resubmissions distinct")

	// Same order intent shares the hash prefix so retries correlate in logs.
	prefix := func(s string) string {
		parts := strings.SplitN(s, "-", 3)
		require.Len(t, parts, 3)
		return parts[1]
	}
	assert.Equal(t, prefix(a), prefix(b))
	assert.NotEqual(t, prefix(a), prefix(other))
}

func TestOrderStatusTerminal(t *testing.T) {
	tests := []struct {
		status OrderStatus
		want   bool
	}{
		{OrderStatusPending, false},
		{OrderStatusOpen, false},
		{OrderStatusPartiallyFilled, false},
		{OrderStatusFilled, true},
		{OrderStatusCanceled, true},
		{OrderStatusRejected, true},
		{OrderStatusExpired, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.Terminal())
		})
	}
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(&APIError{Status: 400, Body: "bad request"}))
	assert.True(t, IsPermanent(&APIError{Status: 404, Body: "not found"}))
	assert.True(t, IsPermanent(fmt.Errorf("submit: %w", &APIError{Status: 403})),
		"wrapped API errors are unwrapped")

	assert.False(t, IsPermanent(&APIError{Status: 429, Body: "rate limited"}),
		"backoff can fix a 429")
	assert.False(t, IsPermanent(&APIError{Status: 502, Body: "bad gateway"}))
	assert.False(t, IsPermanent(errors.New("connection refused")))
	assert.False(t, IsPermanent(nil))
}
