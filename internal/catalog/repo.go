package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
)

// Repository is the read-only inventory catalog lookup used to price
// and describe request lines.
type Repository interface {
	FindByID(ctx context.Context, itemID uuid.UUID) (*models.InventoryItem, error)
	FindByIDs(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]models.InventoryItem, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByID(ctx context.Context, itemID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := r.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("inventory item %s not found", itemID))
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindByIDs(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]models.InventoryItem, error) {
	if len(itemIDs) == 0 {
		return map[uuid.UUID]models.InventoryItem{}, nil
	}
	var items []models.InventoryItem
	if err := r.db.WithContext(ctx).Where("id IN ?", itemIDs).Find(&items).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.InventoryItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	return byID, nil
}
