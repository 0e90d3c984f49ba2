package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"multisender/ledger/erc20"
)

// ErrUnknownSelector is returned when calldata does not address an ERC-20
// method the host implements.
var ErrUnknownSelector = errors.New("token: execution reverted: unknown selector")

// Host executes ABI encoded ERC-20 calls against the ledger. It satisfies
// erc20.Backend so the engine reaches local tokens through the same client it
// would use for a remote chain.
type Host struct {
	ledger *Ledger
}

// NewHost wraps ledger in an ABI call host.
func NewHost(ledger *Ledger) *Host {
	return &Host{ledger: ledger}
}

// Call decodes input, runs the method against contract and returns the ABI
// encoded result.
func (h *Host) Call(ctx context.Context, caller, contract common.Address, input []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h == nil || h.ledger == nil {
		return nil, errNilLedger
	}
	if len(input) < 4 {
		return nil, ErrUnknownSelector
	}
	method, err := erc20.ABI.MethodById(input[:4])
	if err != nil {
		return nil, ErrUnknownSelector
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fmt.Errorf("token: execution reverted: bad calldata for %s: %w", method.Name, err)
	}
	var result interface{}
	switch method.Name {
	case "transfer":
		to, amount, err := addressAmount(args[0], args[1])
		if err != nil {
			return nil, err
		}
		result, err = h.ledger.Transfer(contract, caller, to, amount)
		if err != nil {
			return nil, err
		}
	case "transferFrom":
		from, ok := args[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("token: execution reverted: bad from argument")
		}
		to, amount, err := addressAmount(args[1], args[2])
		if err != nil {
			return nil, err
		}
		result, err = h.ledger.TransferFrom(contract, caller, from, to, amount)
		if err != nil {
			return nil, err
		}
	case "approve":
		spender, amount, err := addressAmount(args[0], args[1])
		if err != nil {
			return nil, err
		}
		if err := h.ledger.Approve(contract, caller, spender, amount); err != nil {
			return nil, err
		}
		result = true
	case "balanceOf":
		account, ok := args[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("token: execution reverted: bad account argument")
		}
		balance, err := h.ledger.BalanceOf(contract, account)
		if err != nil {
			return nil, err
		}
		result = balance.ToBig()
	case "allowance":
		owner, ok := args[0].(common.Address)
		spender, ok2 := args[1].(common.Address)
		if !ok || !ok2 {
			return nil, fmt.Errorf("token: execution reverted: bad allowance arguments")
		}
		allowance, err := h.ledger.Allowance(contract, owner, spender)
		if err != nil {
			return nil, err
		}
		result = allowance.ToBig()
	default:
		return nil, ErrUnknownSelector
	}
	return method.Outputs.Pack(result)
}

func addressAmount(addrArg, amountArg interface{}) (common.Address, *uint256.Int, error) {
	addr, ok := addrArg.(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("token: execution reverted: bad address argument")
	}
	raw, ok := amountArg.(*big.Int)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("token: execution reverted: bad amount argument")
	}
	amount, overflow := uint256.FromBig(raw)
	if overflow {
		return common.Address{}, nil, fmt.Errorf("token: execution reverted: amount overflow")
	}
	return addr, amount, nil
}
