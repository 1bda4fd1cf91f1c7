package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsageEvent(t *testing.T) {
	e := NewUsageEvent("cust-1", "api_call", 42, "idem-1")

	assert.NotEqual(t, e.EventID.String(), "")
	assert.Equal(t, "cust-1", e.CustomerID)
	assert.Equal(t, "api_call", e.EventType)
	assert.Equal(t, uint64(42), e.Amount)
	assert.Equal(t, "idem-1", e.IdempotencyKey)
	assert.Greater(t, e.Timestamp, int64(0))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		event   UsageEvent
		wantErr error
	}{
		{"valid", NewUsageEvent("c1", "api_call", 1, "k1"), nil},
		{"missing customer", NewUsageEvent("", "api_call", 1, "k1"), ErrMissingCustomerID},
		{"missing event type", NewUsageEvent("c1", "", 1, "k1"), ErrMissingEventType},
		{"missing idempotency key", NewUsageEvent("c1", "api_call", 1, ""), ErrMissingIdempotencyKey},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.event.Validate()
			if tc.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestDedupeKeyIsGlobalOnIdempotencyKey(t *testing.T) {
	a := NewUsageEvent("cust-a", "api_call", 1, "shared-key")
	b := NewUsageEvent("cust-b", "api_call", 1, "shared-key")

	assert.Equal(t, a.DedupeKey(), b.DedupeKey())
	assert.Equal(t, "shared-key", a.DedupeKey())
}
