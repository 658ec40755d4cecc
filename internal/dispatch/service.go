package dispatch

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
	"github.com/openhealthlabs/stockflow-backend/pkg/config"
	"github.com/openhealthlabs/stockflow-backend/pkg/db"
	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
	"github.com/openhealthlabs/stockflow-backend/pkg/metrics"
)

// Service moves approved stock out of the origin facility. Batches are
// consumed earliest expiry first; a line short on stock ships what
// exists and carries the rest as balance.
type Service interface {
	Dispatch(ctx context.Context, requestID, actorID uuid.UUID, notes map[uuid.UUID]string) (*models.FulfillmentRequest, error)
}

type service struct {
	dbClient *db.Client
	repo     requests.Repository
	ledger   ledger.Service
	cfg      config.FulfillmentConfig
	notifier notify.Notifier
	cache    requests.Invalidator
	metrics  *metrics.FulfillmentMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService wires the dispatch engine. notifier, cache and metrics may
// be nil.
func NewService(
	dbClient *db.Client,
	repo requests.Repository,
	ledgerSvc ledger.Service,
	cfg config.FulfillmentConfig,
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
		cfg:      cfg,
		notifier: notifier,
		cache:    cache,
		metrics:  m,
		logg:     logg,
		now:      time.Now,
	}, nil
}

func (s *service) Dispatch(ctx context.Context, requestID, actorID uuid.UUID, notes map[uuid.UUID]string) (*models.FulfillmentRequest, error) {
	start := s.now()
	request, from, unitsOut, err := s.dispatchTx(ctx, requestID, actorID, notes)
	s.metrics.ObserveDuration("dispatch", s.now().Sub(start))
	if err != nil {
		s.metrics.IncFailure("dispatch")
		return nil, err
	}
	s.metrics.IncSuccess("dispatch")
	s.metrics.AddUnits("out", unitsOut)

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
			"units_out":      unitsOut,
			"status":         request.Status.String(),
		})
		s.logg.Info(lctx, "request dispatched")
	}
	return request, nil
}

func (s *service) dispatchTx(ctx context.Context, requestID, actorID uuid.UUID, notes map[uuid.UUID]string) (*models.FulfillmentRequest, enums.RequestStatus, int, error) {
	if actorID == uuid.Nil {
		return nil, "", 0, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}

	var request *models.FulfillmentRequest
	var from enums.RequestStatus
	unitsOut := 0

	err := s.dbClient.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		request, err = repo.FindByID(ctx, requestID, true)
		if err != nil {
			return err
		}
		from = request.Status

		if !from.CanTransitionTo(enums.RequestStatusDispatched) {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot dispatch a request in status %s", from)).
				WithDetails(map[string]any{"status": from.String()})
		}

		shortLines := 0
		activeLines := 0
		for i := range request.Lines {
			line := &request.Lines[i]
			if line.QuantityApproved <= 0 {
				continue
			}
			activeLines++

			taken, batchNotes, err := s.consumeFIFO(ctx, tx, request, line, actorID)
			if err != nil {
				return err
			}
			line.QuantityDispatched = taken
			line.BalanceQuantity = line.QuantityApproved - taken
			if line.BalanceQuantity > 0 {
				shortLines++
			}
			unitsOut += taken

			note := strings.TrimSpace(notes[line.ItemID])
			if note == "" {
				// A short line always carries a note, even when every unit
				// came from unbatched stock.
				if line.BalanceQuantity > 0 {
					batchNotes = append(batchNotes, fmt.Sprintf("%d short at dispatch", line.BalanceQuantity))
				}
				note = strings.Join(batchNotes, "; ")
			}
			if note != "" {
				line.DispatchNote = &note
			}
		}

		if activeLines == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "request has no approved quantities to dispatch")
		}
		if unitsOut == 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "no stock available for any approved line")
		}

		now := s.now()
		if shortLines == 0 {
			request.Status = enums.RequestStatusDispatched
		} else {
			request.Status = enums.RequestStatusPartiallyDispatched
		}
		request.DispatchedBy = &actorID
		request.DispatchedDate = &now
		eta := now.Add(s.cfg.DispatchETAOffset)
		request.ExpectedArrival = &eta
		requests.RecomputeTotals(request)
		return repo.Save(ctx, request)
	})
	if err != nil {
		return nil, "", 0, err
	}
	return request, from, unitsOut, nil
}

// consumeFIFO walks the origin facility's batches for one line,
// deducting up to the approved quantity. Batch rows stay locked for the
// rest of the transaction.
func (s *service) consumeFIFO(ctx context.Context, tx *gorm.DB, request *models.FulfillmentRequest, line *models.RequestLine, actorID uuid.UUID) (int, []string, error) {
	batches, err := s.ledger.LockedBatches(ctx, tx, request.OriginFacilityID, line.ItemID)
	if err != nil {
		return 0, nil, err
	}

	need := line.QuantityApproved
	taken := 0
	var batchNotes []string
	for _, batch := range batches {
		if need == 0 {
			break
		}
		take := min(need, batch.Available)
		if take <= 0 {
			continue
		}
		_, err := s.ledger.Adjust(ctx, tx, ledger.AdjustInput{
			FacilityID:  request.OriginFacilityID,
			ItemID:      line.ItemID,
			BatchNumber: batch.BatchNumber,
			Delta:       -take,
			Type:        enums.LedgerTransactionTypeRequestOut,
			Reference:   request.RequestNumber,
			ActorID:     actorID,
		})
		if err != nil {
			return 0, nil, err
		}
		if batch.BatchNumber != "" {
			batchNotes = append(batchNotes, fmt.Sprintf("%d from batch %s", take, batch.BatchNumber))
		}
		need -= take
		taken += take
	}
	return taken, batchNotes, nil
}
