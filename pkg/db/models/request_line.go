package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestLine is one item on a fulfillment request with the quantity at
// each lifecycle stage. Invariants (enforced by the engines):
// 0 ≤ approved ≤ requested, 0 ≤ dispatched ≤ approved,
// 0 ≤ received ≤ dispatched, balance == approved - dispatched once a
// dispatch has been attempted.
type RequestLine struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	RequestID uuid.UUID `gorm:"column:request_id;type:uuid;not null;uniqueIndex:idx_request_line_item,priority:1"`
	ItemID    uuid.UUID `gorm:"column:item_id;type:uuid;not null;uniqueIndex:idx_request_line_item,priority:2"`

	QuantityRequested  int `gorm:"column:quantity_requested;not null"`
	QuantityApproved   int `gorm:"column:quantity_approved;not null;default:0"`
	QuantityDispatched int `gorm:"column:quantity_dispatched;not null;default:0"`
	QuantityReceived   int `gorm:"column:quantity_received;not null;default:0"`
	BalanceQuantity    int `gorm:"column:balance_quantity;not null;default:0"`

	UnitPriceCents int     `gorm:"column:unit_price_cents;not null;default:0"`
	DispatchNote   *string `gorm:"column:dispatch_note"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *RequestLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
