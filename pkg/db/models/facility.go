package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
)

// Facility is a health facility or central store known to the platform.
// Ownership of the directory lives outside this service; we keep a thin
// read model for scoping and human-readable references.
type Facility struct {
	ID        uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Name      string             `gorm:"column:name;not null"`
	Code      string             `gorm:"column:code;uniqueIndex;not null"`
	Type      enums.FacilityType `gorm:"column:type;type:text;not null;default:'facility'"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (f *Facility) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
