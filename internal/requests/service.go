package requests

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/internal/catalog"
	"github.com/openhealthlabs/stockflow-backend/internal/directory"
	"github.com/openhealthlabs/stockflow-backend/pkg/db"
	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
)

// Service owns the request lifecycle outside the stock-moving engines:
// creation, lookup, cancellation, archival and reporting.
type Service interface {
	Create(ctx context.Context, actorID uuid.UUID, input CreateInput) (*models.FulfillmentRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*models.FulfillmentRequest, error)
	GetByNumber(ctx context.Context, number string) (*models.FulfillmentRequest, error)
	List(ctx context.Context, filter ListFilter) ([]models.FulfillmentRequest, error)
	// Cancel is only legal before any stock has moved.
	Cancel(ctx context.Context, id, actorID uuid.UUID, reason string) (*models.FulfillmentRequest, error)
	Stats(ctx context.Context, scope StatsScope) (*Stats, error)
	Overdue(ctx context.Context, scope StatsScope, limit int) ([]models.FulfillmentRequest, error)
	Archive(ctx context.Context, id uuid.UUID) error
}

// Invalidator drops the cached availability snapshot for a request.
type Invalidator interface {
	Invalidate(ctx context.Context, requestID uuid.UUID) error
}

type service struct {
	dbClient  *db.Client
	repo      Repository
	catalog   catalog.Repository
	directory directory.Directory
	cache     Invalidator
	validate  *validator.Validate
	logg      *logger.Logger
	now       func() time.Time
}

// NewService wires the request service. cache may be nil when no
// availability cache is configured.
func NewService(
	dbClient *db.Client,
	repo Repository,
	cat catalog.Repository,
	dir directory.Directory,
	cache Invalidator,
	logg *logger.Logger,
) (Service, error) {
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("request repository required")
	}
	if cat == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if dir == nil {
		return nil, fmt.Errorf("facility directory required")
	}
	return &service{
		dbClient:  dbClient,
		repo:      repo,
		catalog:   cat,
		directory: dir,
		cache:     cache,
		validate:  validator.New(),
		logg:      logg,
		now:       time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, actorID uuid.UUID, input CreateInput) (*models.FulfillmentRequest, error) {
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request payload")
	}
	if input.OriginFacilityID == input.DestinationStoreID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "origin and destination must differ")
	}

	priority, err := normalizePriority(input.Priority)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid priority")
	}

	seen := make(map[uuid.UUID]bool, len(input.Lines))
	itemIDs := make([]uuid.UUID, 0, len(input.Lines))
	for _, line := range input.Lines {
		if seen[line.ItemID] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate item %s", line.ItemID)).
				WithDetails(map[string]any{"item_id": line.ItemID.String()})
		}
		seen[line.ItemID] = true
		itemIDs = append(itemIDs, line.ItemID)
	}

	if _, err := s.directory.FindFacility(ctx, input.OriginFacilityID); err != nil {
		return nil, err
	}
	if _, err := s.directory.FindFacility(ctx, input.DestinationStoreID); err != nil {
		return nil, err
	}

	items, err := s.catalog.FindByIDs(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range itemIDs {
		if _, ok := items[id]; !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("inventory item %s not found", id))
		}
	}

	now := s.now()
	request := &models.FulfillmentRequest{
		RequestNumber:      newRequestNumber(now),
		OriginFacilityID:   input.OriginFacilityID,
		DestinationStoreID: input.DestinationStoreID,
		Status:             enums.RequestStatusPending,
		Priority:           priority,
		RequestedBy:        actorID,
		RequestDate:        now,
	}
	for _, line := range input.Lines {
		request.Lines = append(request.Lines, models.RequestLine{
			ItemID:            line.ItemID,
			QuantityRequested: line.Quantity,
			UnitPriceCents:    items[line.ItemID].UnitPriceCents,
		})
	}
	RecomputeTotals(request)

	if err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Create(ctx, request)
	}); err != nil {
		return nil, err
	}

	if s.logg != nil {
		lctx := s.logg.WithRequestNumber(ctx, request.RequestNumber)
		s.logg.Info(lctx, "fulfillment request created")
	}
	return request, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.FulfillmentRequest, error) {
	return s.repo.FindByID(ctx, id, false)
}

func (s *service) GetByNumber(ctx context.Context, number string) (*models.FulfillmentRequest, error) {
	return s.repo.FindByNumber(ctx, strings.TrimSpace(number))
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]models.FulfillmentRequest, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status filter %q", filter.Status))
	}
	if filter.Priority != "" && !filter.Priority.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid priority filter %q", filter.Priority))
	}
	return s.repo.List(ctx, filter)
}

func (s *service) Cancel(ctx context.Context, id, actorID uuid.UUID, reason string) (*models.FulfillmentRequest, error) {
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason is required")
	}

	var request *models.FulfillmentRequest
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		request, err = repo.FindByID(ctx, id, true)
		if err != nil {
			return err
		}
		if !request.Status.IsPreDispatch() {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot cancel a request in status %s", request.Status)).
				WithDetails(map[string]any{"status": request.Status.String()})
		}
		request.Status = enums.RequestStatusCancelled
		request.CancellationReason = &reason
		return repo.Save(ctx, request)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	if s.logg != nil {
		lctx := s.logg.WithRequestNumber(ctx, request.RequestNumber)
		s.logg.Info(lctx, "fulfillment request cancelled")
	}
	return request, nil
}

func (s *service) Stats(ctx context.Context, scope StatsScope) (*Stats, error) {
	byStatus, err := s.repo.CountByStatus(ctx, scope)
	if err != nil {
		return nil, err
	}
	byPriority, err := s.repo.CountByPriority(ctx, scope)
	if err != nil {
		return nil, err
	}
	now := s.now()
	overdue, err := s.repo.ListOverdue(ctx, scope, now, maxListLimit)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		ByStatus:     make(map[string]int64, len(byStatus)),
		ByPriority:   make(map[string]int64, len(byPriority)),
		OverdueCount: len(overdue),
		GeneratedAt:  now,
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.Count
	}
	for _, row := range byPriority {
		stats.ByPriority[row.Priority] = row.Count
	}
	return stats, nil
}

func (s *service) Overdue(ctx context.Context, scope StatsScope, limit int) ([]models.FulfillmentRequest, error) {
	return s.repo.ListOverdue(ctx, scope, s.now(), limit)
}

func (s *service) Archive(ctx context.Context, id uuid.UUID) error {
	request, err := s.repo.FindByID(ctx, id, false)
	if err != nil {
		return err
	}
	if !request.Status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot archive a request in status %s", request.Status))
	}
	return s.repo.Archive(ctx, id, s.now())
}

func (s *service) invalidate(ctx context.Context, requestID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, requestID); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "request_id", requestID.String()), "availability cache invalidation failed")
	}
}

// newRequestNumber mints a human-readable identifier like
// SR-20260115-a1b2c3. Uniqueness is enforced by the DB constraint; the
// random suffix makes collisions within a day vanishingly rare.
func newRequestNumber(at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("SR-%s-%s", at.UTC().Format("20060102"), suffix)
}
