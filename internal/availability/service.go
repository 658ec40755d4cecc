package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openhealthlabs/stockflow-backend/internal/ledger"
	"github.com/openhealthlabs/stockflow-backend/internal/requests"
	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
	pkgredis "github.com/openhealthlabs/stockflow-backend/pkg/redis"
)

// LineAvailability is one line of the snapshot: what is still owed and
// what the origin facility currently holds.
type LineAvailability struct {
	ItemID     uuid.UUID                  `json:"item_id"`
	Needed     int                        `json:"needed"`
	Available  int                        `json:"available"`
	CanFulfill bool                       `json:"can_fulfill"`
	Batches    []ledger.BatchAvailability `json:"batches"`
}

// Snapshot is the availability view for a request. It is a point-in-time
// read model and may lag the ledger by up to the cache TTL.
type Snapshot struct {
	RequestID        uuid.UUID          `json:"request_id"`
	RequestNumber    string             `json:"request_number"`
	OriginFacilityID uuid.UUID          `json:"origin_facility_id"`
	Status           string             `json:"status"`
	CanFulfillAll    bool               `json:"can_fulfill_all"`
	Lines            []LineAvailability `json:"lines"`
	ComputedAt       time.Time          `json:"computed_at"`
	FromCache        bool               `json:"from_cache"`
}

// Cache is the subset of the redis client the snapshot service uses.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	AvailabilityKey(requestID string) string
}

// Service serves cached availability snapshots and drops them whenever
// the underlying ledger or request changes.
type Service interface {
	Snapshot(ctx context.Context, requestID uuid.UUID) (*Snapshot, error)
	Invalidate(ctx context.Context, requestID uuid.UUID) error
	// InvalidateForStock drops the snapshots of every active request
	// that draws the given item from the given facility. Called after
	// manual ledger adjustments, which bypass the request lifecycle.
	InvalidateForStock(ctx context.Context, facilityID, itemID uuid.UUID) error
}

type service struct {
	repo   requests.Repository
	ledger ledger.Service
	cache  Cache
	ttl    time.Duration
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires the availability view. cache may be nil; snapshots
// are then computed on every call.
func NewService(repo requests.Repository, ledgerSvc ledger.Service, cache Cache, ttl time.Duration, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("request repository required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &service{
		repo:   repo,
		ledger: ledgerSvc,
		cache:  cache,
		ttl:    ttl,
		logg:   logg,
		now:    time.Now,
	}, nil
}

func (s *service) Snapshot(ctx context.Context, requestID uuid.UUID) (*Snapshot, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, s.cache.AvailabilityKey(requestID.String()))
		if err == nil {
			var snapshot Snapshot
			if err := json.Unmarshal([]byte(cached), &snapshot); err == nil {
				snapshot.FromCache = true
				return &snapshot, nil
			}
			// Unparseable entries fall through to a recompute.
		} else if !pkgredis.IsMiss(err) && s.logg != nil {
			s.logg.Warn(ctx, "availability cache read failed")
		}
	}

	snapshot, err := s.compute(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if payload, err := json.Marshal(snapshot); err == nil {
			if err := s.cache.Set(ctx, s.cache.AvailabilityKey(requestID.String()), payload, s.ttl); err != nil && s.logg != nil {
				s.logg.Warn(ctx, "availability cache write failed")
			}
		}
	}
	return snapshot, nil
}

func (s *service) compute(ctx context.Context, requestID uuid.UUID) (*Snapshot, error) {
	request, err := s.repo.FindByID(ctx, requestID, false)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		RequestID:        request.ID,
		RequestNumber:    request.RequestNumber,
		OriginFacilityID: request.OriginFacilityID,
		Status:           request.Status.String(),
		CanFulfillAll:    true,
		ComputedAt:       s.now(),
	}

	for i := range request.Lines {
		line := &request.Lines[i]
		batches, err := s.ledger.AvailableAcrossBatches(ctx, request.OriginFacilityID, line.ItemID)
		if err != nil {
			return nil, err
		}
		available := 0
		for _, b := range batches {
			if b.Available > 0 {
				available += b.Available
			}
		}
		needed := outstanding(request.Status, line)
		la := LineAvailability{
			ItemID:     line.ItemID,
			Needed:     needed,
			Available:  available,
			CanFulfill: available >= needed,
			Batches:    batches,
		}
		if !la.CanFulfill {
			snapshot.CanFulfillAll = false
		}
		snapshot.Lines = append(snapshot.Lines, la)
	}
	return snapshot, nil
}

// outstanding is what the origin still has to produce for a line given
// how far the request has progressed.
func outstanding(status enums.RequestStatus, line *models.RequestLine) int {
	if status == enums.RequestStatusPending {
		return line.QuantityRequested
	}
	remaining := line.QuantityApproved - line.QuantityDispatched
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *service) Invalidate(ctx context.Context, requestID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, s.cache.AvailabilityKey(requestID.String()))
}

func (s *service) InvalidateForStock(ctx context.Context, facilityID, itemID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	ids, err := s.repo.ActiveIDsReferencing(ctx, facilityID, itemID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.cache.AvailabilityKey(id.String()))
	}
	return s.cache.Del(ctx, keys...)
}
