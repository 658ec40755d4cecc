package requests

import (
	"time"

	"github.com/google/uuid"

	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
)

// CreateLineInput is one requested item on a new request.
type CreateLineInput struct {
	ItemID   uuid.UUID `json:"item_id" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,gt=0"`
}

// CreateInput describes a new fulfillment request.
type CreateInput struct {
	OriginFacilityID   uuid.UUID         `json:"origin_facility_id" validate:"required"`
	DestinationStoreID uuid.UUID         `json:"destination_store_id" validate:"required"`
	Priority           string            `json:"priority"`
	Lines              []CreateLineInput `json:"lines" validate:"required,min=1,dive"`
}

// StatsScope narrows aggregations to one side of the workflow. Zero
// values mean "whole system".
type StatsScope struct {
	OriginFacility uuid.UUID
	Destination    uuid.UUID
}

// Stats is the operational dashboard aggregation.
type Stats struct {
	ByStatus     map[string]int64 `json:"by_status"`
	ByPriority   map[string]int64 `json:"by_priority"`
	OverdueCount int              `json:"overdue_count"`
	GeneratedAt  time.Time        `json:"generated_at"`
}

// normalizePriority applies the default when the caller omits priority.
func normalizePriority(raw string) (enums.RequestPriority, error) {
	if raw == "" {
		return enums.RequestPriorityMedium, nil
	}
	return enums.ParseRequestPriority(raw)
}
