package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
)

// ListFilter narrows the request listing. Zero values mean "no filter".
type ListFilter struct {
	Status          enums.RequestStatus
	Priority        enums.RequestPriority
	OriginFacility  uuid.UUID
	DestinationID   uuid.UUID
	IncludeArchived bool
	Limit           int
	Offset          int
}

// StatusCount is one row of the stats aggregation.
type StatusCount struct {
	Status string `gorm:"column:status"`
	Count  int64  `gorm:"column:count"`
}

// PriorityCount is one row of the priority aggregation.
type PriorityCount struct {
	Priority string `gorm:"column:priority"`
	Count    int64  `gorm:"column:count"`
}

// Repository persists fulfillment requests and their lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.FulfillmentRequest) error
	// FindByID loads the request with its lines. With forUpdate set the
	// aggregate row is locked so concurrent engine calls serialize.
	FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.FulfillmentRequest, error)
	FindByNumber(ctx context.Context, number string) (*models.FulfillmentRequest, error)
	// Save persists the aggregate and every line.
	Save(ctx context.Context, request *models.FulfillmentRequest) error
	List(ctx context.Context, filter ListFilter) ([]models.FulfillmentRequest, error)
	CountByStatus(ctx context.Context, scope StatsScope) ([]StatusCount, error)
	CountByPriority(ctx context.Context, scope StatsScope) ([]PriorityCount, error)
	// ListOverdue returns dispatched requests whose expected arrival has
	// passed without a receipt.
	ListOverdue(ctx context.Context, scope StatsScope, asOf time.Time, limit int) ([]models.FulfillmentRequest, error)
	// ActiveIDsReferencing returns non-terminal requests that draw the
	// given item from the given origin facility.
	ActiveIDsReferencing(ctx context.Context, originFacilityID, itemID uuid.UUID) ([]uuid.UUID, error)
	Archive(ctx context.Context, id uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, request *models.FulfillmentRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.FulfillmentRequest, error) {
	q := r.db.WithContext(ctx)
	if forUpdate && r.db.Dialector.Name() == "postgres" {
		q = q.Clauses(lockForUpdate())
	}
	var request models.FulfillmentRequest
	err := q.Preload("Lines", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC, item_id ASC")
	}).Where("id = ?", id).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("fulfillment request %s not found", id))
	}
	if err != nil {
		if pkgerrors.IsLockTimeout(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeContention, err, "request busy")
		}
		return nil, err
	}
	return &request, nil
}

func (r *repository) FindByNumber(ctx context.Context, number string) (*models.FulfillmentRequest, error) {
	var request models.FulfillmentRequest
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("request_number = ?", number).
		First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("fulfillment request %s not found", number))
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) Save(ctx context.Context, request *models.FulfillmentRequest) error {
	if err := r.db.WithContext(ctx).Omit("Lines").Save(request).Error; err != nil {
		return err
	}
	for i := range request.Lines {
		if err := r.db.WithContext(ctx).Save(&request.Lines[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.FulfillmentRequest, error) {
	q := r.db.WithContext(ctx).Preload("Lines")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Priority != "" {
		q = q.Where("priority = ?", filter.Priority)
	}
	if filter.OriginFacility != uuid.Nil {
		q = q.Where("origin_facility_id = ?", filter.OriginFacility)
	}
	if filter.DestinationID != uuid.Nil {
		q = q.Where("destination_store_id = ?", filter.DestinationID)
	}
	if !filter.IncludeArchived {
		q = q.Where("archived_at IS NULL")
	}
	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	q = q.Order("request_date DESC").Limit(limit)
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var requests []models.FulfillmentRequest
	if err := q.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func scoped(q *gorm.DB, scope StatsScope) *gorm.DB {
	if scope.OriginFacility != uuid.Nil {
		q = q.Where("origin_facility_id = ?", scope.OriginFacility)
	}
	if scope.Destination != uuid.Nil {
		q = q.Where("destination_store_id = ?", scope.Destination)
	}
	return q
}

func (r *repository) CountByStatus(ctx context.Context, scope StatsScope) ([]StatusCount, error) {
	var counts []StatusCount
	err := scoped(r.db.WithContext(ctx).
		Model(&models.FulfillmentRequest{}), scope).
		Select("status, COUNT(*) AS count").
		Where("archived_at IS NULL").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *repository) CountByPriority(ctx context.Context, scope StatsScope) ([]PriorityCount, error) {
	var counts []PriorityCount
	err := scoped(r.db.WithContext(ctx).
		Model(&models.FulfillmentRequest{}), scope).
		Select("priority, COUNT(*) AS count").
		Where("archived_at IS NULL").
		Group("priority").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *repository) ListOverdue(ctx context.Context, scope StatsScope, asOf time.Time, limit int) ([]models.FulfillmentRequest, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	var requests []models.FulfillmentRequest
	err := scoped(r.db.WithContext(ctx), scope).
		Preload("Lines").
		Where("status IN ?", []enums.RequestStatus{
			enums.RequestStatusDispatched,
			enums.RequestStatusPartiallyDispatched,
		}).
		Where("expected_arrival IS NOT NULL AND expected_arrival < ?", asOf).
		Where("archived_at IS NULL").
		Order("expected_arrival ASC").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repository) ActiveIDsReferencing(ctx context.Context, originFacilityID, itemID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.FulfillmentRequest{}).
		Distinct().
		Joins("JOIN request_lines ON request_lines.request_id = fulfillment_requests.id").
		Where("request_lines.item_id = ?", itemID).
		Where("fulfillment_requests.origin_facility_id = ?", originFacilityID).
		Where("fulfillment_requests.status IN ?", []enums.RequestStatus{
			enums.RequestStatusPending,
			enums.RequestStatusApproved,
			enums.RequestStatusPartiallyApproved,
			enums.RequestStatusDispatched,
			enums.RequestStatusPartiallyDispatched,
		}).
		Where("fulfillment_requests.archived_at IS NULL").
		Pluck("fulfillment_requests.id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) Archive(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.FulfillmentRequest{}).
		Where("id = ? AND archived_at IS NULL", id).
		Update("archived_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("fulfillment request %s not found or already archived", id))
	}
	return nil
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func lockForUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}
