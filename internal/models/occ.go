package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OCC option symbols use the OPRA convention:
// TICKER + YYMMDD + C/P + strike*1000 zero-padded to 8 digits.
// Example: SPY250620C00500000 -> SPY 2025-06-20 500 Call.

const occStrikeDigits = 8

var occStrikeScale = decimal.NewFromInt(1000)

// BuildOCCSymbol composes the exchange-standard contract identifier from its
// parts. Strike is in dollars.
func BuildOCCSymbol(underlying string, expiration time.Time, side OptionSide, strike decimal.Decimal) (string, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	if underlying == "" {
		return "", fmt.Errorf("occ symbol: underlying is empty")
	}
	if strike.Sign() <= 0 {
		return "", fmt.Errorf("occ symbol: strike must be positive, got %s", strike)
	}
	var cp string
	switch side {
	case OptionCall:
		cp = "C"
	case OptionPut:
		cp = "P"
	default:
		return "", fmt.Errorf("occ symbol: invalid option side %q", side)
	}
	milli := strike.Mul(occStrikeScale)
	if !milli.Equal(milli.Truncate(0)) {
		return "", fmt.Errorf("occ symbol: strike %s has sub-mill precision", strike)
	}
	return fmt.Sprintf("%s%s%s%0*d", underlying, expiration.Format("060102"), cp,
		occStrikeDigits, milli.IntPart()), nil
}

// OCCParts holds the decomposed fields of an OCC option symbol.
type OCCParts struct {
	Underlying string
	Expiration time.Time
	Side       OptionSide
	Strike     decimal.Decimal
}

// ParseOCCSymbol decomposes an OCC symbol into its parts. The expiration date
// is located by scanning for the first six-digit run followed by C or P, which
// tolerates tickers of any length (including tickers containing digits is not
// supported by the OPRA convention itself).
func ParseOCCSymbol(symbol string) (OCCParts, error) {
	var parts OCCParts
	if len(symbol) < 1+6+1+occStrikeDigits {
		return parts, fmt.Errorf("occ symbol too short: %q", symbol)
	}

	datePos := -1
	for i := 1; i <= len(symbol)-6-1-occStrikeDigits; i++ {
		if !isAllDigits(symbol[i : i+6]) {
			continue
		}
		cp := symbol[i+6]
		if cp == 'C' || cp == 'P' {
			datePos = i
			break
		}
	}
	if datePos == -1 {
		return parts, fmt.Errorf("occ symbol: no YYMMDD date found in %q", symbol)
	}

	exp, err := time.Parse("060102", symbol[datePos:datePos+6])
	if err != nil {
		return parts, fmt.Errorf("occ symbol: bad expiration in %q: %w", symbol, err)
	}

	switch symbol[datePos+6] {
	case 'C':
		parts.Side = OptionCall
	case 'P':
		parts.Side = OptionPut
	}

	strikeStr := symbol[datePos+7:]
	if len(strikeStr) != occStrikeDigits || !isAllDigits(strikeStr) {
		return parts, fmt.Errorf("occ symbol: bad strike field %q in %q", strikeStr, symbol)
	}
	milli, err := strconv.ParseInt(strikeStr, 10, 64)
	if err != nil {
		return parts, fmt.Errorf("occ symbol: strike parse failed for %q: %w", symbol, err)
	}

	parts.Underlying = symbol[:datePos]
	parts.Expiration = exp
	parts.Strike = decimal.NewFromInt(milli).Div(occStrikeScale)
	return parts, nil
}

// UnderlyingFromSymbol extracts the underlying ticker from an option symbol.
// Plain stock symbols are returned unchanged.
func UnderlyingFromSymbol(symbol string) string {
	parts, err := ParseOCCSymbol(symbol)
	if err != nil {
		return symbol
	}
	return parts.Underlying
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
