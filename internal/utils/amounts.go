package utils

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseAmount parses a base-unit token amount into a big integer.
// Accepts decimal strings and 0x-prefixed hex strings. Amounts are exact
// integers end to end; fractional or negative values are rejected.
func ParseAmount(value string) (*big.Int, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("empty amount")
	}

	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		n, ok := new(big.Int).SetString(v[2:], 16)
		if !ok {
			return nil, fmt.Errorf("invalid hex amount: %s", value)
		}
		return n, nil
	}

	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", value)
	}
	return n, nil
}

// NormalizeHex lowercases a hex identifier and guarantees a 0x prefix.
// Used to canonicalize addresses, nullifiers and token ids so index
// lookups don't miss on casing or padding differences.
func NormalizeHex(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return v
	}
	if !strings.HasPrefix(v, "0x") {
		return "0x" + v
	}
	return v
}

// TruncateAddress shortens an address for log output
func TruncateAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}
