package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ZeroAddress is the null account identifier. It is never a valid recipient,
// asset or owner.
var ZeroAddress = common.Address{}

// ParseAddress decodes a 0x-prefixed 20 byte hex address.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

// ParseAddresses parses every entry with ParseAddress. The zero address is
// accepted here; callers decide whether it is meaningful.
func ParseAddresses(raw []string) ([]common.Address, error) {
	out := make([]common.Address, len(raw))
	for i, value := range raw {
		addr, err := ParseAddress(value)
		if err != nil {
			return nil, fmt.Errorf("recipients[%d]: %w", i, err)
		}
		out[i] = addr
	}
	return out, nil
}

// IsZeroAddress reports whether addr is the null identifier.
func IsZeroAddress(addr common.Address) bool {
	return addr == ZeroAddress
}
