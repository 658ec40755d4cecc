package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockLedgerEntry tracks current/reserved/available counts for one
// (facility, item, batch) row — the unit of lock for every stock
// mutation. Rows are created on first receipt and zeroed, never deleted.
//
// BatchNumber is "" for unbatched stock so the composite unique index
// stays enforceable; ExpiryDate is nil for batches that do not expire.
type StockLedgerEntry struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	FacilityID    uuid.UUID  `gorm:"column:facility_id;type:uuid;not null;uniqueIndex:idx_ledger_identity,priority:1"`
	ItemID        uuid.UUID  `gorm:"column:item_id;type:uuid;not null;uniqueIndex:idx_ledger_identity,priority:2"`
	BatchNumber   string     `gorm:"column:batch_number;not null;default:'';uniqueIndex:idx_ledger_identity,priority:3"`
	ExpiryDate    *time.Time `gorm:"column:expiry_date"`
	CurrentStock  int        `gorm:"column:current_stock;not null;default:0"`
	ReservedStock int        `gorm:"column:reserved_stock;not null;default:0"`
	// AvailableStock is derived (current - reserved) and maintained by
	// the ledger service on every mutation, never user-supplied.
	AvailableStock int       `gorm:"column:available_stock;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *StockLedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
