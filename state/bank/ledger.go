package bank

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"multisender/storage"
)

var (
	// ErrInsufficientFunds is returned when the source account cannot cover a debit.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrRecipientRejected is returned when the destination refuses native value.
	ErrRecipientRejected = errors.New("bank: recipient rejects native value")
	// ErrZeroAddress is returned when the null address is used as a party.
	ErrZeroAddress = errors.New("bank: zero address")
	// ErrBalanceOverflow is returned when a credit would exceed 256 bits.
	ErrBalanceOverflow = errors.New("bank: balance overflow")

	errNilLedger = errors.New("bank: ledger not configured")
)

var accountPrefix = []byte("bank/account/")

func accountKey(addr common.Address) []byte {
	buf := make([]byte, len(accountPrefix)+common.AddressLength)
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr.Bytes())
	return buf
}

type accountRecord struct {
	Balance      *uint256.Int
	RejectsValue bool
}

// Ledger tracks native value balances. Each transfer is persisted as one
// atomic write covering both accounts.
type Ledger struct {
	db storage.Database
	mu sync.Mutex
}

// NewLedger constructs a ledger backed by db.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) load(addr common.Address) (*accountRecord, error) {
	if l == nil || l.db == nil {
		return nil, errNilLedger
	}
	record := &accountRecord{Balance: new(uint256.Int)}
	data, err := l.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return record, nil
	}
	if err != nil {
		return nil, err
	}
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, fmt.Errorf("bank: decode account %s: %w", addr.Hex(), err)
	}
	if record.Balance == nil {
		record.Balance = new(uint256.Int)
	}
	return record, nil
}

func encodeAccount(record *accountRecord) ([]byte, error) {
	return rlp.EncodeToBytes(record)
}

// Balance returns the native balance held by addr.
func (l *Ledger) Balance(addr common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, err := l.load(addr)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(record.Balance), nil
}

// Credit mints amount into addr. It is used for genesis allocations.
func (l *Ledger) Credit(addr common.Address, amount *uint256.Int) error {
	if addr == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	record, err := l.load(addr)
	if err != nil {
		return err
	}
	if _, overflow := record.Balance.AddOverflow(record.Balance, amount); overflow {
		return ErrBalanceOverflow
	}
	encoded, err := encodeAccount(record)
	if err != nil {
		return err
	}
	return l.db.Put(accountKey(addr), encoded)
}

// Transfer moves amount from one account to another. Zero amounts are a
// no-op.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	source, err := l.load(from)
	if err != nil {
		return err
	}
	if source.Balance.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, source.Balance.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	dest, err := l.load(to)
	if err != nil {
		return err
	}
	if dest.RejectsValue {
		return ErrRecipientRejected
	}
	if _, overflow := new(uint256.Int).AddOverflow(dest.Balance, amount); overflow {
		return ErrBalanceOverflow
	}
	source.Balance.Sub(source.Balance, amount)
	dest.Balance.Add(dest.Balance, amount)
	encodedSource, err := encodeAccount(source)
	if err != nil {
		return err
	}
	encodedDest, err := encodeAccount(dest)
	if err != nil {
		return err
	}
	batch := l.db.NewBatch()
	batch.Put(accountKey(from), encodedSource)
	batch.Put(accountKey(to), encodedDest)
	return batch.Write()
}

// SetRejecting marks addr as refusing incoming native value, the way a
// contract account without a payable entry point would.
func (l *Ledger) SetRejecting(addr common.Address, rejecting bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, err := l.load(addr)
	if err != nil {
		return err
	}
	record.RejectsValue = rejecting
	encoded, err := encodeAccount(record)
	if err != nil {
		return err
	}
	return l.db.Put(accountKey(addr), encoded)
}

// IsRejecting reports whether addr refuses native value.
func (l *Ledger) IsRejecting(addr common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, err := l.load(addr)
	if err != nil {
		return false, err
	}
	return record.RejectsValue, nil
}
