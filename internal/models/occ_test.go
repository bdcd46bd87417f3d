package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOCCSymbol(t *testing.T) {
	tests := []struct {
		name       string
		underlying string
		expiration time.Time
		side       OptionSide
		strike     string
		want       string
	}{
		{"whole dollar call", "SPY", time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), OptionCall, "500", "SPY250620C00500000"},
		{"half dollar put", "F", time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC), OptionPut, "12.50", "F260116P00012500"},
		{"lowercase and spaces normalized", " aapl ", time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC), OptionCall, "182.5", "AAPL250321C00182500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildOCCSymbol(tt.underlying, tt.expiration, tt.side, dec(tt.strike))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildOCCSymbolRejects(t *testing.T) {
	exp := time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	_, err := BuildOCCSymbol("", exp, OptionCall, dec("500"))
	assert.Error(t, err)
	_, err = BuildOCCSymbol("SPY", exp, OptionSide("STRADDLE"), dec("500"))
	assert.Error(t, err)
	_, err = BuildOCCSymbol("SPY", exp, OptionCall, dec("-5"))
	assert.Error(t, err)
	// Strikes finer than a tenth of a cent cannot be encoded.
	_, err = BuildOCCSymbol("SPY", exp, OptionCall, dec("500.0005"))
	assert.Error(t, err)
}

func TestParseOCCSymbol(t *testing.T) {
	parts, err := ParseOCCSymbol("SPY250620C00500000")
	require.NoError(t, err)
	assert.Equal(t, "SPY", parts.Underlying)
	assert.Equal(t, OptionCall, parts.Side)
	assert.True(t, parts.Strike.Equal(dec("500")))
	assert.Equal(t, time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC), parts.Expiration)

	parts, err = ParseOCCSymbol("F260116P00012500")
	require.NoError(t, err)
	assert.Equal(t, "F", parts.Underlying)
	assert.Equal(t, OptionPut, parts.Side)
	assert.True(t, parts.Strike.Equal(dec("12.5")))
}

func TestParseOCCSymbolRoundTrip(t *testing.T) {
	exp := time.Date(2027, 12, 17, 0, 0, 0, 0, time.UTC)
	sym, err := BuildOCCSymbol("GOOGL", exp, OptionPut, dec("142.5"))
	require.NoError(t, err)
	parts, err := ParseOCCSymbol(sym)
	require.NoError(t, err)
	assert.Equal(t, "GOOGL", parts.Underlying)
	assert.Equal(t, exp, parts.Expiration)
	assert.Equal(t, OptionPut, parts.Side)
	assert.True(t, parts.Strike.Equal(dec("142.5")))
}

func TestParseOCCSymbolRejects(t *testing.T) {
	for _, sym := range []string{
		"",
		"SPY",
		"SPY250620X00500000", // no C/P marker
		"SPY250620C005000",   // short strike field
	} {
		_, err := ParseOCCSymbol(sym)
		assert.Error(t, err, "symbol %q", sym)
	}
}

func TestUnderlyingFromSymbol(t *testing.T) {
	assert.Equal(t, "SPY", UnderlyingFromSymbol("SPY250620C00500000"))
	assert.Equal(t, "SPY", UnderlyingFromSymbol("SPY"))
}
