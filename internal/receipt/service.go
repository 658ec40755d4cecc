package receipt

import (
	"context"
	"fmt"
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

// ReceiveLineInput confirms the arrived quantity for one line.
type ReceiveLineInput struct {
	ItemID           uuid.UUID `json:"item_id"`
	QuantityReceived int       `json:"quantity_received"`
}

// ReceiveInput is the receipt payload. With no lines, every dispatched
// quantity is confirmed in full.
type ReceiveInput struct {
	Lines []ReceiveLineInput `json:"lines"`
}

// Service confirms arrival at the destination store and credits its
// ledger. A receipt can never exceed what was dispatched.
type Service interface {
	Receive(ctx context.Context, requestID, actorID uuid.UUID, input ReceiveInput) (*models.FulfillmentRequest, error)
}

type service struct {
	dbClient *db.Client
	repo     requests.Repository
	ledger   ledger.Service
	notifier notify.Notifier
	cache    requests.Invalidator
	metrics  *metrics.FulfillmentMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService wires the receipt engine. notifier, cache and metrics may
// be nil.
func NewService(
	dbClient *db.Client,
	repo requests.Repository,
	ledgerSvc ledger.Service,
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
		dbClient: dbClient,
		repo:     repo,
		ledger:   ledgerSvc,
		notifier: notifier,
		cache:    cache,
		metrics:  m,
		logg:     logg,
		now:      time.Now,
	}, nil
}

func (s *service) Receive(ctx context.Context, requestID, actorID uuid.UUID, input ReceiveInput) (*models.FulfillmentRequest, error) {
	start := s.now()
	request, from, unitsIn, err := s.receiveTx(ctx, requestID, actorID, input)
	s.metrics.ObserveDuration("receive", s.now().Sub(start))
	if err != nil {
		s.metrics.IncFailure("receive")
		return nil, err
	}
	s.metrics.IncSuccess("receive")
	s.metrics.AddUnits("in", unitsIn)

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
	if s.logg != nil {
		lctx := s.logg.WithFields(ctx, map[string]any{
			"request_number": request.RequestNumber,
			"units_in":       unitsIn,
			"status":         request.Status.String(),
		})
		s.logg.Info(lctx, "request received")
	}
	return request, nil
}

func (s *service) receiveTx(ctx context.Context, requestID, actorID uuid.UUID, input ReceiveInput) (*models.FulfillmentRequest, enums.RequestStatus, int, error) {
	if actorID == uuid.Nil {
		return nil, "", 0, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}

	confirmed := make(map[uuid.UUID]int, len(input.Lines))
	for _, line := range input.Lines {
		if _, ok := confirmed[line.ItemID]; ok {
			return nil, "", 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate item %s", line.ItemID))
		}
		if line.QuantityReceived < 0 {
			return nil, "", 0, pkgerrors.New(pkgerrors.CodeValidation, "received quantity cannot be negative")
		}
		confirmed[line.ItemID] = line.QuantityReceived
	}

	var request *models.FulfillmentRequest
	var from enums.RequestStatus
	unitsIn := 0

	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		request, err = repo.FindByID(ctx, requestID, true)
		if err != nil {
			return err
		}
		from = request.Status

		if !from.CanTransitionTo(enums.RequestStatusReceived) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot receive a request in status %s", from)).
				WithDetails(map[string]any{"status": from.String()})
		}

		known := make(map[uuid.UUID]bool, len(request.Lines))
		for i := range request.Lines {
			known[request.Lines[i].ItemID] = true
		}
		for itemID := range confirmed {
			if !known[itemID] {
				return pkgerrors.New(pkgerrors.CodeValidation,
					fmt.Sprintf("item %s is not on this request", itemID))
			}
		}

		short := false
		for i := range request.Lines {
			line := &request.Lines[i]
			qty := line.QuantityDispatched
			if len(input.Lines) > 0 {
				qty = confirmed[line.ItemID]
			}
			if qty > line.QuantityDispatched {
				return pkgerrors.New(pkgerrors.CodeValidation,
					fmt.Sprintf("received quantity %d exceeds dispatched %d for item %s",
						qty, line.QuantityDispatched, line.ItemID)).
					WithDetails(map[string]any{
						"item_id":    line.ItemID.String(),
						"dispatched": line.QuantityDispatched,
						"received":   qty,
					})
			}
			line.QuantityReceived = qty
			if qty < line.QuantityDispatched {
				short = true
			}
			if qty == 0 {
				continue
			}

			// Destination rows are keyed without a batch; transit does
			// not carry batch identity across facilities.
			if _, err := s.ledger.Adjust(ctx, tx, ledger.AdjustInput{
				FacilityID: request.DestinationStoreID,
				ItemID:     line.ItemID,
				Delta:      qty,
				Type:       enums.LedgerTransactionTypeRequestIn,
				Reference:  request.RequestNumber,
				ActorID:    actorID,
			}); err != nil {
				return err
			}
			unitsIn += qty
		}

		now := s.now()
		if short {
			request.Status = enums.RequestStatusPartiallyReceived
		} else {
			request.Status = enums.RequestStatusReceived
		}
		request.ReceivedBy = &actorID
		request.ReceivedDate = &now
		requests.RecomputeTotals(request)
		return repo.Save(ctx, request)
	})
	if err != nil {
		return nil, "", 0, err
	}
	return request, from, unitsIn, nil
}
