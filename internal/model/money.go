package model

import (
	"fmt"
	"math"
	"strconv"
)

// ParseCents converts decimal string amounts (dollars) to cents (int64).
// Use for APIs that return amounts in major currency units: the pricing API
// quotes warranty prices as "49.99", and the Price marker property uses the
// same format.
// Handles edge cases: empty strings, missing decimals, large values.
// Examples: "49.99" → 4999, "1234.5" → 123450, "" → 0
func ParseCents(s string) int64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	// math.Round handles both positive and negative numbers correctly
	return int64(math.Round(f * 100))
}

// CentsFromFloat converts a decimal currency amount to cents.
// The pricing API encodes option prices as JSON numbers.
func CentsFromFloat(f float64) int64 {
	return int64(math.Round(f * 100))
}

// ParseMinorUnits converts string amounts already in minor units to int64.
// Shopify product and cart JSON report prices this way ("8900" = $89.00).
// Examples: "8900" → 8900, "123456" → 123456, "" → 0
func ParseMinorUnits(s string) int64 {
	if s == "" {
		return 0
	}
	// Parse as float to handle potential decimal values, then truncate
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

// FormatCents renders cents as a decimal string without a currency symbol,
// e.g. 4999 → "49.99". Used for the Price marker property and for pricing
// API query parameters.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
