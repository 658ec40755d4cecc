package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
)

// Directory resolves facility identities for request validation. The
// workflow engines never join against facilities directly; they go
// through this interface so tests can stub it.
type Directory interface {
	FindFacility(ctx context.Context, facilityID uuid.UUID) (*models.Facility, error)
}

type gormDirectory struct {
	db *gorm.DB
}

func New(db *gorm.DB) Directory {
	return &gormDirectory{db: db}
}

func (d *gormDirectory) FindFacility(ctx context.Context, facilityID uuid.UUID) (*models.Facility, error) {
	var facility models.Facility
	err := d.db.WithContext(ctx).Where("id = ?", facilityID).First(&facility).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("facility %s not found", facilityID))
	}
	if err != nil {
		return nil, err
	}
	return &facility, nil
}
