package types

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ParseAmount parses a non-negative 256-bit amount expressed in decimal or as
// 0x-prefixed hex.
func ParseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		digits := strings.TrimLeft(trimmed[2:], "0")
		if digits == "" {
			if len(trimmed) == 2 {
				return nil, fmt.Errorf("parse amount %q: empty hex", raw)
			}
			return new(uint256.Int), nil
		}
		value, err := uint256.FromHex("0x" + digits)
		if err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", raw, err)
		}
		return value, nil
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return value, nil
}

// ParseAmounts parses every entry with ParseAmount.
func ParseAmounts(raw []string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(raw))
	for i, value := range raw {
		parsed, err := ParseAmount(value)
		if err != nil {
			return nil, fmt.Errorf("amounts[%d]: %w", i, err)
		}
		out[i] = parsed
	}
	return out, nil
}

// FormatAmount renders the amount in decimal. Nil formats as zero.
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// CloneAmount returns a copy of v, treating nil as zero.
func CloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
