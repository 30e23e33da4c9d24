package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMoneyFromDecimalRounding(t *testing.T) {
	tests := []struct {
		in   string
		want Money
	}{
		{"124.6753246", 12468},
		{"0.005", 1},
		{"-0.005", -1},
		{"9", 900},
		{"0.004", 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, MoneyFromDecimal(decimal.RequireFromString(tt.in)), tt.in)
	}
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(Money(900))
	require.NoError(t, err)
	require.JSONEq(t, `"9.00"`, string(b))

	var m Money
	require.NoError(t, json.Unmarshal([]byte(`"12.5"`), &m))
	require.Equal(t, Money(1250), m)
	require.NoError(t, json.Unmarshal([]byte(`3.01`), &m))
	require.Equal(t, Money(301), m)
	require.Error(t, json.Unmarshal([]byte(`"abc"`), &m))
}
