package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
)

// LedgerTransaction is the immutable audit record written alongside
// every ledger mutation. Quantity is signed (negative for outflows) and
// NewStock == PreviousStock + Quantity always holds. Rows are append-only;
// nothing in the codebase updates or deletes them.
type LedgerTransaction struct {
	ID            uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	FacilityID    uuid.UUID                   `gorm:"column:facility_id;type:uuid;not null;index"`
	ItemID        uuid.UUID                   `gorm:"column:item_id;type:uuid;not null;index"`
	BatchNumber   string                      `gorm:"column:batch_number;not null;default:''"`
	Type          enums.LedgerTransactionType `gorm:"column:type;type:text;not null"`
	Quantity      int                         `gorm:"column:quantity;not null"`
	PreviousStock int                         `gorm:"column:previous_stock;not null"`
	NewStock      int                         `gorm:"column:new_stock;not null"`
	Reference     string                      `gorm:"column:reference;not null"`
	ActorID       uuid.UUID                   `gorm:"column:actor_id;type:uuid;not null"`
	CreatedAt     time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (t *LedgerTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
