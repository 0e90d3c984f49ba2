package state

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"multisender/storage"
)

var errNilDatabase = errors.New("state: database not configured")

// Manager reads and writes the durable engine records (aggregate statistics,
// ownership and pause flags) on top of a key-value database.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Database exposes the backing store so sibling ledgers can share it.
func (m *Manager) Database() storage.Database {
	if m == nil {
		return nil
	}
	return m.db
}

// MultisendStats captures the running totals across every accepted batch.
type MultisendStats struct {
	TotalBatches    *uint256.Int
	TotalRecipients *uint256.Int
}

// Clone returns a deep copy of the statistics.
func (s *MultisendStats) Clone() *MultisendStats {
	if s == nil {
		return zeroStats()
	}
	out := zeroStats()
	if s.TotalBatches != nil {
		out.TotalBatches.Set(s.TotalBatches)
	}
	if s.TotalRecipients != nil {
		out.TotalRecipients.Set(s.TotalRecipients)
	}
	return out
}

func zeroStats() *MultisendStats {
	return &MultisendStats{TotalBatches: new(uint256.Int), TotalRecipients: new(uint256.Int)}
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, errNilDatabase
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// MultisendStats returns the aggregate statistics. Missing records read as zero.
func (m *Manager) MultisendStats() (*MultisendStats, error) {
	stats := zeroStats()
	if _, err := m.get(multisendStatsKey, stats); err != nil {
		return nil, err
	}
	return stats.Clone(), nil
}

// MultisendSenderCount returns the number of batches submitted by sender.
func (m *Manager) MultisendSenderCount(sender common.Address) (*uint256.Int, error) {
	count := new(uint256.Int)
	if _, err := m.get(multisendSenderKey(sender.Bytes()), count); err != nil {
		return nil, err
	}
	return count, nil
}

// ApplyMultisendBatch records one accepted batch: the batch counter and the
// sender counter each grow by one and the served counter grows by served. All
// three records are written in a single atomic batch.
func (m *Manager) ApplyMultisendBatch(sender common.Address, served uint64) (*MultisendStats, error) {
	stats, err := m.MultisendStats()
	if err != nil {
		return nil, err
	}
	senderCount, err := m.MultisendSenderCount(sender)
	if err != nil {
		return nil, err
	}
	one := uint256.NewInt(1)
	if _, overflow := stats.TotalBatches.AddOverflow(stats.TotalBatches, one); overflow {
		return nil, fmt.Errorf("state: batch counter overflow")
	}
	if _, overflow := stats.TotalRecipients.AddOverflow(stats.TotalRecipients, uint256.NewInt(served)); overflow {
		return nil, fmt.Errorf("state: recipient counter overflow")
	}
	if _, overflow := senderCount.AddOverflow(senderCount, one); overflow {
		return nil, fmt.Errorf("state: sender counter overflow")
	}
	encodedStats, err := rlp.EncodeToBytes(stats)
	if err != nil {
		return nil, err
	}
	encodedSender, err := rlp.EncodeToBytes(senderCount)
	if err != nil {
		return nil, err
	}
	batch := m.db.NewBatch()
	batch.Put(multisendStatsKey, encodedStats)
	batch.Put(multisendSenderKey(sender.Bytes()), encodedSender)
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("state: write batch statistics: %w", err)
	}
	return stats.Clone(), nil
}

// ResetMultisendStats zeroes the aggregate counters. Per-sender counters are
// left untouched; they are only ever created by ApplyMultisendBatch.
func (m *Manager) ResetMultisendStats() error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	encoded, err := rlp.EncodeToBytes(zeroStats())
	if err != nil {
		return err
	}
	return m.db.Put(multisendStatsKey, encoded)
}

type ownerRecord struct {
	Owner common.Address
}

// Owner returns the stored owner. The boolean reports whether ownership has
// ever been initialised; a renounced owner reads as the zero address with ok
// set.
func (m *Manager) Owner() (common.Address, bool, error) {
	var record ownerRecord
	ok, err := m.get(ownerKey, &record)
	if err != nil {
		return common.Address{}, false, err
	}
	return record.Owner, ok, nil
}

// SetOwner persists the owner address.
func (m *Manager) SetOwner(owner common.Address) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	encoded, err := rlp.EncodeToBytes(&ownerRecord{Owner: owner})
	if err != nil {
		return err
	}
	return m.db.Put(ownerKey, encoded)
}

// IsPaused reports whether module is paused. Unreadable flags are treated as
// paused.
func (m *Manager) IsPaused(module string) bool {
	var paused bool
	if _, err := m.get(pauseKey(normalizeModule(module)), &paused); err != nil {
		return true
	}
	return paused
}

// SetPaused toggles the pause flag for module.
func (m *Manager) SetPaused(module string, paused bool) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	module = normalizeModule(module)
	if module == "" {
		return fmt.Errorf("state: module required")
	}
	encoded, err := rlp.EncodeToBytes(paused)
	if err != nil {
		return err
	}
	return m.db.Put(pauseKey(module), encoded)
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}
