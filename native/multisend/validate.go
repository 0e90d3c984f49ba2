package multisend

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Validator checks batch inputs before any state is touched. MaxRecipients
// caps the batch size; zero means unlimited.
type Validator struct {
	MaxRecipients int
}

// ValidateNative validates a native value batch.
func (v Validator) ValidateNative(recipients []common.Address, amounts []*uint256.Int) (*Batch, error) {
	return v.validate(ModeNative, common.Address{}, recipients, amounts)
}

// ValidateAsset validates a token batch. The asset must not be the zero
// address.
func (v Validator) ValidateAsset(asset common.Address, recipients []common.Address, amounts []*uint256.Int) (*Batch, error) {
	return v.validate(ModeAsset, asset, recipients, amounts)
}

func (v Validator) validate(mode Mode, asset common.Address, recipients []common.Address, amounts []*uint256.Int) (*Batch, error) {
	if len(recipients) != len(amounts) {
		return nil, ErrArrayLengthMismatch
	}
	if len(recipients) == 0 {
		return nil, ErrInvalidRecipient
	}
	if mode == ModeAsset && asset == (common.Address{}) {
		return nil, ErrInvalidRecipient
	}
	if v.MaxRecipients > 0 && len(recipients) > v.MaxRecipients {
		return nil, ErrTooManyRecipients
	}
	batch := &Batch{
		Mode:    mode,
		Asset:   asset,
		Entries: make([]Entry, len(recipients)),
		Total:   new(uint256.Int),
	}
	for i, amount := range amounts {
		if amount == nil || amount.IsZero() {
			return nil, ErrInvalidAmount
		}
		if _, overflow := batch.Total.AddOverflow(batch.Total, amount); overflow {
			return nil, ErrAmountOverflow
		}
		batch.Entries[i] = Entry{Recipient: recipients[i], Amount: new(uint256.Int).Set(amount)}
	}
	return batch, nil
}
