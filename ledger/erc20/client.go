package erc20

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"multisender/ledger"
)

// Backend executes a contract call on behalf of caller and returns the raw
// ABI encoded return data.
type Backend interface {
	Call(ctx context.Context, caller, contract common.Address, input []byte) ([]byte, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, caller, contract common.Address, input []byte) ([]byte, error)

// Call delegates to the function.
func (f BackendFunc) Call(ctx context.Context, caller, contract common.Address, input []byte) ([]byte, error) {
	return f(ctx, caller, contract, input)
}

var errNilBackend = errors.New("erc20: backend not configured")

// Client speaks the ERC-20 ABI to token contracts reachable through a Backend.
// Calls are issued with the configured spender as the caller, so transferFrom
// draws on the allowance owners granted to the spender.
type Client struct {
	backend Backend
	spender common.Address
}

// NewClient constructs a client issuing calls as spender.
func NewClient(backend Backend, spender common.Address) *Client {
	return &Client{backend: backend, spender: spender}
}

// Spender returns the address calls are issued from.
func (c *Client) Spender() common.Address { return c.spender }

func (c *Client) call(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	if c == nil || c.backend == nil {
		return nil, errNilBackend
	}
	input, err := ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("erc20: pack %s: %w", method, err)
	}
	output, err := c.backend.Call(ctx, c.spender, token, input)
	if err != nil {
		return nil, fmt.Errorf("erc20: call %s on %s: %w", method, token.Hex(), err)
	}
	values, err := ABI.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ledger.ErrUndecodable, method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", ledger.ErrUndecodable, method, len(values))
	}
	return values, nil
}

// TransferFrom moves amount from one holder to another using the spender's
// allowance. A false result means the token declined the transfer without
// reverting.
func (c *Client) TransferFrom(ctx context.Context, token, from, to common.Address, amount *uint256.Int) (bool, error) {
	values, err := c.call(ctx, token, "transferFrom", from, to, toBig(amount))
	if err != nil {
		return false, err
	}
	ok, valid := values[0].(bool)
	if !valid {
		return false, fmt.Errorf("%w: transferFrom returned %T", ledger.ErrUndecodable, values[0])
	}
	return ok, nil
}

// BalanceOf returns the token balance of account.
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error) {
	values, err := c.call(ctx, token, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return fromBig(values[0])
}

// Allowance returns the amount spender may draw from owner.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error) {
	values, err := c.call(ctx, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return fromBig(values[0])
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(value interface{}) (*uint256.Int, error) {
	b, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: expected uint256, got %T", ledger.ErrUndecodable, value)
	}
	out, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: uint256 overflow", ledger.ErrUndecodable)
	}
	return out, nil
}
