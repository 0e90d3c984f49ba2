package receipts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"multisender/native/multisend"
	"multisender/observability/logging"
)

// ErrNotFound is returned when no receipt exists for an identifier.
var ErrNotFound = errors.New("receipts: not found")

const maxListLimit = 500

// Open connects to the archive database and migrates the schema.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("receipts: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, openError(driver, dsn, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("receipts: migrate: %w", err)
	}
	return db, nil
}

// openError reports a failed connection without leaking the credentials in
// dsn, even when the driver echoes the connection string back.
func openError(driver, dsn string, err error) error {
	masked := logging.MaskDSN(dsn)
	if trimmed := strings.TrimSpace(dsn); trimmed != "" && trimmed != masked && strings.Contains(err.Error(), trimmed) {
		return fmt.Errorf("receipts: open %s %s: %s", driver, masked, strings.ReplaceAll(err.Error(), trimmed, masked))
	}
	return fmt.Errorf("receipts: open %s %s: %w", driver, masked, err)
}

// Store archives batch receipts.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an opened and migrated database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save archives r together with its outcomes in one transaction.
func (s *Store) Save(ctx context.Context, r *multisend.Receipt) error {
	if r == nil {
		return errors.New("receipts: nil receipt")
	}
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return fmt.Errorf("receipts: invalid id %q: %w", r.ID, err)
	}
	record := Batch{
		ID:             id,
		Mode:           string(r.Mode),
		Sender:         r.Sender.Hex(),
		DeclaredTotal:  decimal(r.DeclaredTotal),
		DeliveredTotal: decimal(r.DeliveredTotal),
		RefundFailed:   r.RefundFailed,
		Successes:      r.Successes,
		Failures:       r.Failures,
		TotalBatches:   decimal(r.TotalBatches),
		TotalServed:    decimal(r.TotalServed),
		SenderBatches:  decimal(r.SenderBatches),
		ExecutedAt:     time.Unix(r.Timestamp, 0).UTC(),
		Outcomes:       make([]Outcome, 0, len(r.Outcomes)),
	}
	if r.Mode == multisend.ModeAsset {
		record.Asset = r.Asset.Hex()
	} else {
		record.Supplied = decimal(r.Supplied)
		record.Refund = decimal(r.Refund)
	}
	for _, o := range r.Outcomes {
		record.Outcomes = append(record.Outcomes, Outcome{
			BatchID:   id,
			Position:  o.Index,
			Recipient: o.Recipient.Hex(),
			Amount:    decimal(o.Amount),
			Success:   o.Success,
			Reason:    string(o.Reason),
			Detail:    truncate(o.Detail, 512),
		})
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

// Get loads the receipt with the given identifier.
func (s *Store) Get(ctx context.Context, id string) (*multisend.Receipt, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, ErrNotFound
	}
	var record Batch
	err = s.db.WithContext(ctx).
		Preload("Outcomes", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&record, "id = ?", parsed).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record.toReceipt()
}

// ListBySender returns the most recent receipts of sender, newest first.
func (s *Store) ListBySender(ctx context.Context, sender common.Address, limit int) ([]*multisend.Receipt, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var records []Batch
	err := s.db.WithContext(ctx).
		Preload("Outcomes", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("sender = ?", sender.Hex()).
		Order("executed_at DESC").
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	out := make([]*multisend.Receipt, 0, len(records))
	for i := range records {
		r, err := records[i].toReceipt()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (b *Batch) toReceipt() (*multisend.Receipt, error) {
	r := &multisend.Receipt{
		ID:           b.ID.String(),
		Mode:         multisend.Mode(b.Mode),
		Sender:       common.HexToAddress(b.Sender),
		RefundFailed: b.RefundFailed,
		Successes:    b.Successes,
		Failures:     b.Failures,
		Timestamp:    b.ExecutedAt.Unix(),
		Outcomes:     make([]multisend.Outcome, 0, len(b.Outcomes)),
	}
	if b.Asset != "" {
		r.Asset = common.HexToAddress(b.Asset)
	}
	var err error
	fields := []struct {
		dst **uint256.Int
		src string
	}{
		{&r.DeclaredTotal, b.DeclaredTotal},
		{&r.DeliveredTotal, b.DeliveredTotal},
		{&r.Supplied, b.Supplied},
		{&r.Refund, b.Refund},
		{&r.TotalBatches, b.TotalBatches},
		{&r.TotalServed, b.TotalServed},
		{&r.SenderBatches, b.SenderBatches},
	}
	for _, f := range fields {
		if *f.dst, err = parseDecimal(f.src); err != nil {
			return nil, fmt.Errorf("receipts: batch %s: %w", b.ID, err)
		}
	}
	for _, o := range b.Outcomes {
		amount, err := parseDecimal(o.Amount)
		if err != nil {
			return nil, fmt.Errorf("receipts: batch %s outcome %d: %w", b.ID, o.Position, err)
		}
		r.Outcomes = append(r.Outcomes, multisend.Outcome{
			Index:     o.Position,
			Recipient: common.HexToAddress(o.Recipient),
			Amount:    amount,
			Success:   o.Success,
			Reason:    multisend.FailureReason(o.Reason),
			Detail:    o.Detail,
		})
	}
	return r, nil
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

// parseDecimal treats an empty column as an absent value.
func parseDecimal(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	return uint256.FromDecimal(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
