package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
)

// Service owns every mutation of stock ledger rows. All writes happen
// through Adjust/Reserve/Release so the audit trail and the
// available == current - reserved invariant stay intact.
type Service interface {
	Adjust(ctx context.Context, tx *gorm.DB, input AdjustInput) (*models.LedgerTransaction, error)
	Reserve(ctx context.Context, tx *gorm.DB, facilityID, itemID uuid.UUID, quantity int) (bool, error)
	Release(ctx context.Context, tx *gorm.DB, facilityID, itemID uuid.UUID, quantity int) error
	AvailableAcrossBatches(ctx context.Context, facilityID, itemID uuid.UUID) ([]BatchAvailability, error)
	// LockedBatches is the in-transaction variant of
	// AvailableAcrossBatches: it acquires the row locks the caller's
	// subsequent Adjust calls will operate under.
	LockedBatches(ctx context.Context, tx *gorm.DB, facilityID, itemID uuid.UUID) ([]BatchAvailability, error)
	AvailableTotal(ctx context.Context, facilityID, itemID uuid.UUID) (int, error)
	Transactions(ctx context.Context, facilityID, itemID uuid.UUID, limit int) ([]models.LedgerTransaction, error)
}

// AdjustInput describes one atomic stock movement on a single ledger row.
type AdjustInput struct {
	FacilityID  uuid.UUID
	ItemID      uuid.UUID
	BatchNumber string
	// ExpiryDate is stamped onto the row when the adjustment creates it
	// (first receipt of a batch); existing rows keep their expiry.
	ExpiryDate *time.Time
	Delta      int
	Type       enums.LedgerTransactionType
	Reference  string
	ActorID    uuid.UUID
}

// BatchAvailability is one row of the FIFO availability view.
type BatchAvailability struct {
	BatchNumber string     `json:"batch_number"`
	Available   int        `json:"available"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo, logg: logg}, nil
}

func (s *service) Adjust(ctx context.Context, tx *gorm.DB, input AdjustInput) (*models.LedgerTransaction, error) {
	if input.FacilityID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "facility id is required")
	}
	if input.ItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger transaction type %q", input.Type))
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment delta must be non-zero")
	}

	repo := s.repo.WithTx(tx)

	entry, err := repo.LockEntry(ctx, input.FacilityID, input.ItemID, input.BatchNumber)
	if err != nil {
		return nil, err
	}
	if err := checkIntegrity(entry); err != nil {
		return nil, err
	}
	if entry.ExpiryDate == nil && input.ExpiryDate != nil && entry.CurrentStock == 0 {
		entry.ExpiryDate = input.ExpiryDate
	}

	previous := entry.CurrentStock
	next := previous + input.Delta
	if next < 0 {
		// Over-deductions clamp to zero rather than fail; callers are
		// expected to bound outflows by availability first, so hitting
		// the clamp means a mis-tracked quantity upstream.
		if s.logg != nil {
			lctx := s.logg.WithFields(ctx, map[string]any{
				"facility_id": input.FacilityID.String(),
				"item_id":     input.ItemID.String(),
				"batch":       input.BatchNumber,
				"delta":       input.Delta,
				"current":     previous,
			})
			s.logg.Warn(lctx, "ledger adjustment clamped to zero")
		}
		next = 0
	}

	entry.CurrentStock = next
	entry.AvailableStock = next - entry.ReservedStock
	if err := repo.Save(ctx, entry); err != nil {
		return nil, err
	}

	txn := &models.LedgerTransaction{
		FacilityID:    input.FacilityID,
		ItemID:        input.ItemID,
		BatchNumber:   input.BatchNumber,
		Type:          input.Type,
		Quantity:      next - previous,
		PreviousStock: previous,
		NewStock:      next,
		Reference:     input.Reference,
		ActorID:       input.ActorID,
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// Reserve earmarks quantity across the item's batches in FIFO order.
// It returns false with no mutation when availability is short; that is
// an expected business outcome, not an error.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, facilityID, itemID uuid.UUID, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "reserve quantity must be positive")
	}

	repo := s.repo.WithTx(tx)
	entries, err := repo.LockBatches(ctx, facilityID, itemID, true)
	if err != nil {
		return false, err
	}

	total := 0
	for i := range entries {
		if err := checkIntegrity(&entries[i]); err != nil {
			return false, err
		}
		total += entries[i].AvailableStock
	}
	if total < quantity {
		return false, nil
	}

	need := quantity
	for i := range entries {
		if need == 0 {
			break
		}
		take := min(need, entries[i].AvailableStock)
		if take <= 0 {
			continue
		}
		entries[i].ReservedStock += take
		entries[i].AvailableStock = entries[i].CurrentStock - entries[i].ReservedStock
		if err := repo.Save(ctx, &entries[i]); err != nil {
			return false, err
		}
		need -= take
	}
	return true, nil
}

// Release frees up to quantity of previously reserved stock; releasing
// more than is reserved is clamped, never an error.
func (s *service) Release(ctx context.Context, tx *gorm.DB, facilityID, itemID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "release quantity must be positive")
	}

	repo := s.repo.WithTx(tx)
	entries, err := repo.LockBatches(ctx, facilityID, itemID, false)
	if err != nil {
		return err
	}

	remaining := quantity
	for i := range entries {
		if remaining == 0 {
			break
		}
		free := min(remaining, entries[i].ReservedStock)
		if free <= 0 {
			continue
		}
		entries[i].ReservedStock -= free
		entries[i].AvailableStock = entries[i].CurrentStock - entries[i].ReservedStock
		if err := repo.Save(ctx, &entries[i]); err != nil {
			return err
		}
		remaining -= free
	}
	return nil
}

func (s *service) AvailableAcrossBatches(ctx context.Context, facilityID, itemID uuid.UUID) ([]BatchAvailability, error) {
	entries, err := s.repo.ListBatches(ctx, facilityID, itemID)
	if err != nil {
		return nil, err
	}
	batches := make([]BatchAvailability, 0, len(entries))
	for i := range entries {
		if err := checkIntegrity(&entries[i]); err != nil {
			return nil, err
		}
		batches = append(batches, BatchAvailability{
			BatchNumber: entries[i].BatchNumber,
			Available:   entries[i].AvailableStock,
			ExpiryDate:  entries[i].ExpiryDate,
		})
	}
	return batches, nil
}

func (s *service) LockedBatches(ctx context.Context, tx *gorm.DB, facilityID, itemID uuid.UUID) ([]BatchAvailability, error) {
	entries, err := s.repo.WithTx(tx).LockBatches(ctx, facilityID, itemID, true)
	if err != nil {
		return nil, err
	}
	batches := make([]BatchAvailability, 0, len(entries))
	for i := range entries {
		if err := checkIntegrity(&entries[i]); err != nil {
			return nil, err
		}
		batches = append(batches, BatchAvailability{
			BatchNumber: entries[i].BatchNumber,
			Available:   entries[i].AvailableStock,
			ExpiryDate:  entries[i].ExpiryDate,
		})
	}
	return batches, nil
}

func (s *service) AvailableTotal(ctx context.Context, facilityID, itemID uuid.UUID) (int, error) {
	batches, err := s.AvailableAcrossBatches(ctx, facilityID, itemID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, b := range batches {
		if b.Available > 0 {
			total += b.Available
		}
	}
	return total, nil
}

func (s *service) Transactions(ctx context.Context, facilityID, itemID uuid.UUID, limit int) ([]models.LedgerTransaction, error) {
	return s.repo.ListTransactions(ctx, facilityID, itemID, limit)
}

// checkIntegrity surfaces rows whose derived column drifted from the
// source columns. This should be impossible; it is never auto-corrected.
func checkIntegrity(entry *models.StockLedgerEntry) error {
	if entry.AvailableStock != entry.CurrentStock-entry.ReservedStock {
		return pkgerrors.New(pkgerrors.CodeIntegrity, "ledger row available/current/reserved mismatch").
			WithDetails(map[string]any{
				"facility_id": entry.FacilityID.String(),
				"item_id":     entry.ItemID.String(),
				"batch":       entry.BatchNumber,
				"current":     entry.CurrentStock,
				"reserved":    entry.ReservedStock,
				"available":   entry.AvailableStock,
			})
	}
	return nil
}
