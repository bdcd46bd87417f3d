package util

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		x, tick, want string
	}{
		{"1.2345", "0.01", "1.23"},
		{"1.236", "0.01", "1.24"},
		{"515.10", "1", "515"},
		{"515.50", "1", "516"},
		{"2.50", "0.05", "2.5"},
		{"2.52", "0.05", "2.5"},
		{"2.53", "0.05", "2.55"},
	}
	for _, tt := range tests {
		got := RoundToTick(dec(tt.x), dec(tt.tick))
		assert.True(t, got.Equal(dec(tt.want)), "round %s/%s: got %s want %s", tt.x, tt.tick, got, tt.want)
	}
}

func TestFloorAndCeilToTick(t *testing.T) {
	assert.True(t, FloorToTick(dec("1.239"), dec("0.01")).Equal(dec("1.23")))
	assert.True(t, CeilToTick(dec("1.231"), dec("0.01")).Equal(dec("1.24")))
	assert.True(t, FloorToTick(dec("1.23"), dec("0.01")).Equal(dec("1.23")), "exact multiple is unchanged")
	assert.True(t, CeilToTick(dec("1.23"), dec("0.01")).Equal(dec("1.23")))
}

func TestTickGuardsZeroAndNegative(t *testing.T) {
	x := dec("1.2345")
	assert.True(t, RoundToTick(x, decimal.Zero).Equal(x))
	assert.True(t, FloorToTick(x, dec("-0.01")).Equal(x))
	assert.True(t, CeilToTick(x, decimal.Zero).Equal(x))
}

func TestMid(t *testing.T) {
	assert.True(t, Mid(dec("5.90"), dec("6.10")).Equal(dec("6")))
	assert.True(t, Mid(dec("0"), dec("0.05")).Equal(dec("0.025")))
}
