package receipts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Batch is the archived summary of one accepted batch.
type Batch struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Mode           string    `gorm:"size:16;index"`
	Sender         string    `gorm:"size:42;index"`
	Asset          string    `gorm:"size:42"`
	DeclaredTotal  string    `gorm:"size:80;not null"`
	DeliveredTotal string    `gorm:"size:80;not null"`
	Supplied       string    `gorm:"size:80"`
	Refund         string    `gorm:"size:80"`
	RefundFailed   bool
	Successes      uint64
	Failures       uint64
	TotalBatches   string    `gorm:"size:80"`
	TotalServed    string    `gorm:"size:80"`
	SenderBatches  string    `gorm:"size:80"`
	ExecutedAt     time.Time `gorm:"index"`
	CreatedAt      time.Time
	Outcomes       []Outcome `gorm:"constraint:OnDelete:CASCADE"`
}

// Outcome is one recipient result of an archived batch.
type Outcome struct {
	ID        uint      `gorm:"primaryKey"`
	BatchID   uuid.UUID `gorm:"type:uuid;index"`
	Position  int       `gorm:"not null"`
	Recipient string    `gorm:"size:42;index"`
	Amount    string    `gorm:"size:80;not null"`
	Success   bool
	Reason    string `gorm:"size:32"`
	Detail    string `gorm:"size:512"`
}

// AutoMigrate creates or updates the archive tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Batch{}, &Outcome{})
}
