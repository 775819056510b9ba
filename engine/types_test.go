package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impala/lesson-engine/engine"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10", "10.00"},
		{"10.5", "10.50"},
		{"10.05", "10.05"},
		{"10.050", "10.05"},
		{"-3.20", "-3.20"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := engine.ParseMoney(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.String())
			assert.Equal(t, engine.DefaultCurrency, m.Currency)
		})
	}
}

func TestParseMoney_Rejected(t *testing.T) {
	_, err := engine.ParseMoney("10.005")
	assert.ErrorIs(t, err, engine.ErrAmountPrecision)
	assert.True(t, engine.IsClientError(err))

	_, err = engine.ParseMoney("ten")
	assert.Error(t, err)
}
