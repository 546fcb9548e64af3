package domain

import (
	"regexp"
	"strings"
)

// marketRegex matches BASE_QUOTE market identifiers, e.g. SOL_USDC.
var marketRegex = regexp.MustCompile(`^[A-Z0-9]{2,10}_[A-Z0-9]{2,10}$`)

// ValidMarket reports whether s is a well-formed market identifier.
func ValidMarket(s string) bool {
	return marketRegex.MatchString(s)
}

// SplitMarket splits a market identifier into base and quote currencies.
// ok is false when the identifier is malformed.
func SplitMarket(s string) (base, quote string, ok bool) {
	if !ValidMarket(s) {
		return "", "", false
	}
	parts := strings.SplitN(s, "_", 2)
	return parts[0], parts[1], true
}
