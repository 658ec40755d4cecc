package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/internal/ledger"
	"github.com/openhealthlabs/stockflow-backend/internal/notify"
	"github.com/openhealthlabs/stockflow-backend/internal/requests"
	"github.com/openhealthlabs/stockflow-backend/pkg/db"
	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
	"github.com/openhealthlabs/stockflow-backend/pkg/metrics"
)

// ApproveLineInput sets the granted quantity for one line.
type ApproveLineInput struct {
	ItemID           uuid.UUID `json:"item_id"`
	QuantityApproved int       `json:"quantity_approved"`
}

// ApproveInput is the itemized approval payload. Lines omitted from the
// payload are approved at their requested quantity; granting zero must
// be explicit.
type ApproveInput struct {
	Lines []ApproveLineInput `json:"lines"`
}

// Service decides what a pending request gets. Approval never moves
// stock; it only bounds what dispatch may later deduct.
type Service interface {
	// QuickApprove grants every line in full, but only when the origin
	// facility can cover all of them; otherwise it fails with per-line
	// shortfall details and changes nothing.
	QuickApprove(ctx context.Context, requestID, actorID uuid.UUID) (*models.FulfillmentRequest, error)
	Approve(ctx context.Context, requestID, actorID uuid.UUID, input ApproveInput) (*models.FulfillmentRequest, error)
	Reject(ctx context.Context, requestID, actorID uuid.UUID, reason string) (*models.FulfillmentRequest, error)
}

// Dispatcher triggers the post-approval dispatch attempt.
type Dispatcher interface {
	Dispatch(ctx context.Context, requestID, actorID uuid.UUID, notes map[uuid.UUID]string) (*models.FulfillmentRequest, error)
}

type service struct {
	dbClient   *db.Client
	repo       requests.Repository
	ledger     ledger.Service
	dispatcher Dispatcher
	notifier   notify.Notifier
	cache      requests.Invalidator
	metrics    *metrics.FulfillmentMetrics
	logg       *logger.Logger
	now        func() time.Time
}

// NewService wires the approval engine. dispatcher, notifier, cache and
// metrics may be nil.
func NewService(
	dbClient *db.Client,
	repo requests.Repository,
	ledgerSvc ledger.Service,
	dispatcher Dispatcher,
	notifier notify.Notifier,
	cache requests.Invalidator,
	m *metrics.FulfillmentMetrics,
	logg *logger.Logger,
) (Service, error) {
	if dbClient == nil {
		return nil, fmt.Errorf("db client required")
	}
	if repo == nil {
		return nil, fmt.Errorf("request repository required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	return &service{
		dbClient:   dbClient,
		repo:       repo,
		ledger:     ledgerSvc,
		dispatcher: dispatcher,
		notifier:   notifier,
		cache:      cache,
		metrics:    m,
		logg:       logg,
		now:        time.Now,
	}, nil
}

func (s *service) QuickApprove(ctx context.Context, requestID, actorID uuid.UUID) (*models.FulfillmentRequest, error) {
	start := s.now()
	request, alreadyDone, err := s.quickApproveTx(ctx, requestID, actorID)
	s.metrics.ObserveDuration("quick_approve", s.now().Sub(start))
	if err != nil {
		s.metrics.IncFailure("quick_approve")
		return nil, err
	}
	s.metrics.IncSuccess("quick_approve")
	if alreadyDone {
		return request, nil
	}

	s.afterTransition(ctx, request, enums.RequestStatusPending, actorID)

	// The dispatch attempt is best effort: approval stands even when the
	// follow-up dispatch fails, and the caller can retry dispatch alone.
	if s.dispatcher != nil {
		dispatched, err := s.dispatcher.Dispatch(ctx, requestID, actorID, nil)
		if err != nil {
			if s.logg != nil {
				lctx := s.logg.WithRequestNumber(ctx, request.RequestNumber)
				s.logg.Warn(lctx, "post-approval dispatch attempt failed")
			}
			return request, nil
		}
		return dispatched, nil
	}
	return request, nil
}

func (s *service) quickApproveTx(ctx context.Context, requestID, actorID uuid.UUID) (*models.FulfillmentRequest, bool, error) {
	if actorID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}

	var request *models.FulfillmentRequest
	var alreadyDone bool
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		request, err = repo.FindByID(ctx, requestID, true)
		if err != nil {
			return err
		}

		// Re-running an approval is a no-op, not an error.
		if request.Status == enums.RequestStatusApproved || request.Status == enums.RequestStatusPartiallyApproved {
			alreadyDone = true
			return nil
		}
		if !request.Status.CanTransitionTo(enums.RequestStatusApproved) {
			return stateConflict("approve", request.Status)
		}

		shortfalls := make([]map[string]any, 0)
		for i := range request.Lines {
			line := &request.Lines[i]
			available, err := s.ledger.AvailableTotal(ctx, request.OriginFacilityID, line.ItemID)
			if err != nil {
				return err
			}
			if available < line.QuantityRequested {
				shortfalls = append(shortfalls, map[string]any{
					"item_id":   line.ItemID.String(),
					"requested": line.QuantityRequested,
					"available": available,
				})
			}
		}
		if len(shortfalls) > 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "origin facility cannot cover all lines").
				WithDetails(map[string]any{"shortfalls": shortfalls})
		}

		now := s.now()
		for i := range request.Lines {
			request.Lines[i].QuantityApproved = request.Lines[i].QuantityRequested
		}
		request.Status = enums.RequestStatusApproved
		request.ApprovedBy = &actorID
		request.ApprovedDate = &now
		requests.RecomputeTotals(request)
		return repo.Save(ctx, request)
	})
	if err != nil {
		return nil, false, err
	}
	return request, alreadyDone, nil
}

func (s *service) Approve(ctx context.Context, requestID, actorID uuid.UUID, input ApproveInput) (*models.FulfillmentRequest, error) {
	start := s.now()
	request, err := s.approveTx(ctx, requestID, actorID, input)
	s.metrics.ObserveDuration("approve", s.now().Sub(start))
	if err != nil {
		s.metrics.IncFailure("approve")
		return nil, err
	}
	s.metrics.IncSuccess("approve")
	s.afterTransition(ctx, request, enums.RequestStatusPending, actorID)
	return request, nil
}

func (s *service) approveTx(ctx context.Context, requestID, actorID uuid.UUID, input ApproveInput) (*models.FulfillmentRequest, error) {
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}

	granted := make(map[uuid.UUID]int, len(input.Lines))
	for _, line := range input.Lines {
		if _, ok := granted[line.ItemID]; ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate item %s", line.ItemID))
		}
		if line.QuantityApproved < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "approved quantity cannot be negative")
		}
		granted[line.ItemID] = line.QuantityApproved
	}

	var request *models.FulfillmentRequest
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		request, err = repo.FindByID(ctx, requestID, true)
		if err != nil {
			return err
		}
		if !request.Status.CanTransitionTo(enums.RequestStatusApproved) {
			return stateConflict("approve", request.Status)
		}

		known := make(map[uuid.UUID]bool, len(request.Lines))
		for i := range request.Lines {
			known[request.Lines[i].ItemID] = true
		}
		for itemID := range granted {
			if !known[itemID] {
				return pkgerrors.New(pkgerrors.CodeValidation,
					fmt.Sprintf("item %s is not on this request", itemID))
			}
		}

		total := 0
		full := true
		shortfalls := make([]map[string]any, 0)
		for i := range request.Lines {
			line := &request.Lines[i]
			qty := line.QuantityRequested
			if explicit, ok := granted[line.ItemID]; ok {
				qty = explicit
			}
			if qty > line.QuantityRequested {
				return pkgerrors.New(pkgerrors.CodeValidation,
					fmt.Sprintf("approved quantity %d exceeds requested %d for item %s",
						qty, line.QuantityRequested, line.ItemID)).
					WithDetails(map[string]any{
						"item_id":   line.ItemID.String(),
						"requested": line.QuantityRequested,
						"approved":  qty,
					})
			}
			if qty > 0 {
				available, err := s.ledger.AvailableTotal(ctx, request.OriginFacilityID, line.ItemID)
				if err != nil {
					return err
				}
				if qty > available {
					shortfalls = append(shortfalls, map[string]any{
						"item_id":   line.ItemID.String(),
						"approved":  qty,
						"available": available,
					})
				}
			}
			line.QuantityApproved = qty
			total += qty
			if qty < line.QuantityRequested {
				full = false
			}
		}
		if len(shortfalls) > 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "origin facility cannot cover the approved quantities").
				WithDetails(map[string]any{"shortfalls": shortfalls})
		}
		if total == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "nothing approved; reject the request instead")
		}

		now := s.now()
		if full {
			request.Status = enums.RequestStatusApproved
		} else {
			request.Status = enums.RequestStatusPartiallyApproved
		}
		request.ApprovedBy = &actorID
		request.ApprovedDate = &now
		requests.RecomputeTotals(request)
		return repo.Save(ctx, request)
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *service) Reject(ctx context.Context, requestID, actorID uuid.UUID, reason string) (*models.FulfillmentRequest, error) {
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason is required")
	}

	var request *models.FulfillmentRequest
	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		request, err = repo.FindByID(ctx, requestID, true)
		if err != nil {
			return err
		}
		if !request.Status.CanTransitionTo(enums.RequestStatusRejected) {
			return stateConflict("reject", request.Status)
		}
		request.Status = enums.RequestStatusRejected
		request.RejectionReason = &reason
		return repo.Save(ctx, request)
	})
	if err != nil {
		s.metrics.IncFailure("reject")
		return nil, err
	}
	s.metrics.IncSuccess("reject")
	s.afterTransition(ctx, request, enums.RequestStatusPending, actorID)
	return request, nil
}

func (s *service) afterTransition(ctx context.Context, request *models.FulfillmentRequest, from enums.RequestStatus, actorID uuid.UUID) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, request.ID); err != nil && s.logg != nil {
			s.logg.Warn(ctx, "availability cache invalidation failed")
		}
	}
	if s.notifier != nil {
		s.notifier.RequestTransitioned(ctx, notify.TransitionEvent{
			RequestID:     request.ID,
			RequestNumber: request.RequestNumber,
			FromStatus:    from.String(),
			ToStatus:      request.Status.String(),
			ActorID:       actorID,
			OccurredAt:    s.now(),
		})
	}
}

func stateConflict(action string, status enums.RequestStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict,
		fmt.Sprintf("cannot %s a request in status %s", action, status)).
		WithDetails(map[string]any{"status": status.String()})
}
