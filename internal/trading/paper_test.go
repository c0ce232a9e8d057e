package trading

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haimerb/iqbts/internal/pkg/ulid"
)

func TestPaperVerifier_Authenticate(t *testing.T) {
	v := NewPaperVerifier(map[string]string{"A@X.com": "secret"}, 0)

	tests := []struct {
		name       string
		identifier string
		secret     string
		success    bool
	}{
		{"valid", "a@x.com", "secret", true},
		{"identifier normalized", "  A@X.COM ", "secret", true},
		{"wrong secret", "a@x.com", "nope", false},
		{"unknown account", "b@x.com", "secret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := v.Authenticate(context.Background(), tt.identifier, tt.secret)
			require.NoError(t, err)
			assert.Equal(t, tt.success, res.Success)
			if tt.success {
				require.NotNil(t, res.Handle)
			} else {
				assert.Nil(t, res.Handle)
				assert.NotEmpty(t, res.Reason)
			}
		})
	}
}

func TestPaperHandle_BalanceLifecycle(t *testing.T) {
	v := NewPaperVerifier(map[string]string{"a@x.com": "secret"}, 250)
	res, err := v.Authenticate(context.Background(), "a@x.com", "secret")
	require.NoError(t, err)
	h := res.Handle.(*PaperHandle)

	_, err = ulid.Time(h.ID())
	assert.NoError(t, err)
	assert.Equal(t, 1, v.OpenSessions())

	bal, err := h.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250.0, bal)

	status, err := h.ResetPracticeBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", status)

	require.NoError(t, h.Close(context.Background()))
	require.NoError(t, h.Close(context.Background()))
	assert.Equal(t, 0, v.OpenSessions())

	_, err = h.GetBalance(context.Background())
	assert.ErrorIs(t, err, ErrHandleClosed)
}

func TestPaperVerifier_DefaultBalance(t *testing.T) {
	v := NewPaperVerifier(map[string]string{"a@x.com": "secret"}, -1)
	res, err := v.Authenticate(context.Background(), "a@x.com", "secret")
	require.NoError(t, err)

	bal, err := res.Handle.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultPaperBalance, bal)
}

func TestPaperVerifier_CanceledContext(t *testing.T) {
	v := NewPaperVerifier(map[string]string{"a@x.com": "secret"}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Authenticate(ctx, "a@x.com", "secret")
	assert.ErrorIs(t, err, context.Canceled)
}
