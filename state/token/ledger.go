package token

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"multisender/storage"
)

var (
	// ErrUnknownToken is returned for calls against an address with no
	// registered token contract.
	ErrUnknownToken = errors.New("token: no contract at address")
	// ErrZeroAddress is returned when the null address is used as a party.
	ErrZeroAddress = errors.New("token: zero address")
	// ErrSupplyOverflow is returned when minting would exceed 256 bits.
	ErrSupplyOverflow = errors.New("token: supply overflow")

	errNilLedger = errors.New("token: ledger not configured")
)

var (
	metaPrefix      = []byte("token/meta/")
	balancePrefix   = []byte("token/balance/")
	allowancePrefix = []byte("token/allowance/")
)

func joinKey(prefix []byte, parts ...common.Address) []byte {
	buf := make([]byte, 0, len(prefix)+len(parts)*common.AddressLength)
	buf = append(buf, prefix...)
	for _, part := range parts {
		buf = append(buf, part.Bytes()...)
	}
	return buf
}

// Metadata describes a registered token contract.
type Metadata struct {
	Symbol      string
	Decimals    uint8
	TotalSupply *uint256.Int
}

// Ledger stores fungible token contracts, their balances and allowances.
type Ledger struct {
	db storage.Database
	mu sync.Mutex
}

// NewLedger constructs a token ledger backed by db.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) read(key []byte, out interface{}) (bool, error) {
	if l == nil || l.db == nil {
		return false, errNilLedger
	}
	data, err := l.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("token: decode %x: %w", key, err)
	}
	return true, nil
}

func (l *Ledger) amount(key []byte) (*uint256.Int, error) {
	value := new(uint256.Int)
	if _, err := l.read(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (l *Ledger) metadata(token common.Address) (*Metadata, error) {
	meta := &Metadata{TotalSupply: new(uint256.Int)}
	ok, err := l.read(joinKey(metaPrefix, token), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownToken, token.Hex())
	}
	if meta.TotalSupply == nil {
		meta.TotalSupply = new(uint256.Int)
	}
	return meta, nil
}

// Register deploys a token contract at address. Registering an existing
// token updates its symbol and decimals but keeps the supply.
func (l *Ledger) Register(token common.Address, symbol string, decimals uint8) error {
	if token == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	meta := &Metadata{TotalSupply: new(uint256.Int)}
	if _, err := l.read(joinKey(metaPrefix, token), meta); err != nil {
		return err
	}
	meta.Symbol = strings.ToUpper(strings.TrimSpace(symbol))
	meta.Decimals = decimals
	encoded, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	return l.db.Put(joinKey(metaPrefix, token), encoded)
}

// Metadata returns the registration record for token.
func (l *Ledger) Metadata(token common.Address) (*Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metadata(token)
}

// Mint credits amount to holder and grows the total supply.
func (l *Ledger) Mint(token, holder common.Address, amount *uint256.Int) error {
	if holder == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	meta, err := l.metadata(token)
	if err != nil {
		return err
	}
	balance, err := l.amount(joinKey(balancePrefix, token, holder))
	if err != nil {
		return err
	}
	if _, overflow := meta.TotalSupply.AddOverflow(meta.TotalSupply, amount); overflow {
		return ErrSupplyOverflow
	}
	balance.Add(balance, amount)
	encodedMeta, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	encodedBalance, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	batch := l.db.NewBatch()
	batch.Put(joinKey(metaPrefix, token), encodedMeta)
	batch.Put(joinKey(balancePrefix, token, holder), encodedBalance)
	return batch.Write()
}

// Approve sets the allowance spender may draw from owner.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.metadata(token); err != nil {
		return err
	}
	value := new(uint256.Int)
	if amount != nil {
		value.Set(amount)
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return l.db.Put(joinKey(allowancePrefix, token, owner, spender), encoded)
}

// BalanceOf returns the balance of holder.
func (l *Ledger) BalanceOf(token, holder common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.metadata(token); err != nil {
		return nil, err
	}
	return l.amount(joinKey(balancePrefix, token, holder))
}

// Allowance returns the amount spender may draw from owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.metadata(token); err != nil {
		return nil, err
	}
	return l.amount(joinKey(allowancePrefix, token, owner, spender))
}

// Transfer moves amount from the caller's own balance. It returns false when
// the balance is insufficient or the recipient is the zero address.
func (l *Ledger) Transfer(token, caller, to common.Address, amount *uint256.Int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, caller, caller, to, amount, false)
}

// TransferFrom moves amount from one holder to another drawing on the
// allowance granted to spender. Like most deployed tokens it reports
// insufficient balance or allowance by returning false rather than failing.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, spender, from, to, amount, true)
}

func (l *Ledger) move(token, spender, from, to common.Address, amount *uint256.Int, useAllowance bool) (bool, error) {
	if _, err := l.metadata(token); err != nil {
		return false, err
	}
	if to == (common.Address{}) || from == (common.Address{}) {
		return false, nil
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	fromKey := joinKey(balancePrefix, token, from)
	toKey := joinKey(balancePrefix, token, to)
	allowanceKey := joinKey(allowancePrefix, token, from, spender)

	fromBalance, err := l.amount(fromKey)
	if err != nil {
		return false, err
	}
	if fromBalance.Lt(amount) {
		return false, nil
	}
	var allowance *uint256.Int
	if useAllowance && spender != from {
		allowance, err = l.amount(allowanceKey)
		if err != nil {
			return false, err
		}
		if allowance.Lt(amount) {
			return false, nil
		}
		allowance.Sub(allowance, amount)
	}
	batch := l.db.NewBatch()
	if from != to {
		toBalance, err := l.amount(toKey)
		if err != nil {
			return false, err
		}
		fromBalance.Sub(fromBalance, amount)
		toBalance.Add(toBalance, amount)
		encodedFrom, err := rlp.EncodeToBytes(fromBalance)
		if err != nil {
			return false, err
		}
		encodedTo, err := rlp.EncodeToBytes(toBalance)
		if err != nil {
			return false, err
		}
		batch.Put(fromKey, encodedFrom)
		batch.Put(toKey, encodedTo)
	}
	if allowance != nil {
		encoded, err := rlp.EncodeToBytes(allowance)
		if err != nil {
			return false, err
		}
		batch.Put(allowanceKey, encoded)
	}
	if batch.Len() == 0 {
		return true, nil
	}
	if err := batch.Write(); err != nil {
		return false, err
	}
	return true, nil
}
