package market

import "strings"

// NormalizeCode maps a user-facing symbol to the canonical storage code.
// It is pure and idempotent: unknown shapes pass through unchanged.
//
// Rules (first match wins):
//  1. legacy sh/sz prefix + 6 digits -> bare 6 digits (sh600000 -> 600000)
//  2. .SS/.SZ suffix -> prefix before the dot (600000.SS -> 600000)
//  3. anything else unchanged (AAPL, 0700.HK, 600000)
//
// This is the storage key only. Provider-facing symbols are derived
// separately in the providers package and must not be conflated with it.
func NormalizeCode(symbol string) string {
	if len(symbol) == 8 && isDigits(symbol[2:]) {
		prefix := strings.ToLower(symbol[:2])
		if prefix == "sh" || prefix == "sz" {
			return symbol[2:]
		}
	}
	if strings.HasSuffix(symbol, ".SS") || strings.HasSuffix(symbol, ".SZ") {
		return symbol[:strings.Index(symbol, ".")]
	}
	return symbol
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsCNCode reports whether the symbol looks like a mainland A-share
// identifier (bare 6 digits or a legacy sh/sz prefixed code).
func IsCNCode(symbol string) bool {
	if len(symbol) == 6 && isDigits(symbol) {
		return true
	}
	if len(symbol) == 8 && isDigits(symbol[2:]) {
		prefix := strings.ToLower(symbol[:2])
		return prefix == "sh" || prefix == "sz"
	}
	return false
}
