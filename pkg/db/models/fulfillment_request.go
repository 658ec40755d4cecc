package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
)

// FulfillmentRequest is the aggregate root for a facility → central
// store stock request. All status moves go through the engine services;
// the aggregate totals are recomputed and stored after every line
// mutation rather than derived on read.
type FulfillmentRequest struct {
	ID                 uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	RequestNumber      string                `gorm:"column:request_number;uniqueIndex;not null"`
	OriginFacilityID   uuid.UUID             `gorm:"column:origin_facility_id;type:uuid;not null;index"`
	DestinationStoreID uuid.UUID             `gorm:"column:destination_store_id;type:uuid;not null;index"`
	Status             enums.RequestStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	Priority           enums.RequestPriority `gorm:"column:priority;type:text;not null;default:'medium'"`

	RequestedBy  uuid.UUID  `gorm:"column:requested_by;type:uuid;not null"`
	ApprovedBy   *uuid.UUID `gorm:"column:approved_by;type:uuid"`
	DispatchedBy *uuid.UUID `gorm:"column:dispatched_by;type:uuid"`
	ReceivedBy   *uuid.UUID `gorm:"column:received_by;type:uuid"`

	RequestDate     time.Time  `gorm:"column:request_date;not null"`
	ApprovedDate    *time.Time `gorm:"column:approved_date"`
	DispatchedDate  *time.Time `gorm:"column:dispatched_date"`
	ReceivedDate    *time.Time `gorm:"column:received_date"`
	ExpectedArrival *time.Time `gorm:"column:expected_arrival"`

	RejectionReason    *string `gorm:"column:rejection_reason"`
	CancellationReason *string `gorm:"column:cancellation_reason"`

	ItemCount            int `gorm:"column:item_count;not null;default:0"`
	RequestedValueCents  int `gorm:"column:requested_value_cents;not null;default:0"`
	ApprovedValueCents   int `gorm:"column:approved_value_cents;not null;default:0"`
	DispatchedValueCents int `gorm:"column:dispatched_value_cents;not null;default:0"`
	ReceivedValueCents   int `gorm:"column:received_value_cents;not null;default:0"`

	ArchivedAt *time.Time `gorm:"column:archived_at;index"`

	Lines []RequestLine `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *FulfillmentRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Active reports whether the request should appear in working queries.
func (r *FulfillmentRequest) Active() bool {
	return r.ArchivedAt == nil
}
