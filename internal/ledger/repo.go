package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
)

// fifoOrder sorts batches earliest-expiry first with never-expiring
// rows last; dispatch consumes rows in exactly this order.
const fifoOrder = "CASE WHEN expiry_date IS NULL THEN 1 ELSE 0 END, expiry_date ASC, batch_number ASC"

// Repository persists ledger rows and their audit transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// LockEntry returns the (facility, item, batch) row under a row
	// lock, creating a zeroed row first if none exists.
	LockEntry(ctx context.Context, facilityID, itemID uuid.UUID, batchNumber string) (*models.StockLedgerEntry, error)
	// LockBatches returns the item's rows at the facility, FIFO-ordered,
	// under row locks. With availableOnly set, rows without available
	// stock are skipped (the dispatch walk never touches them).
	LockBatches(ctx context.Context, facilityID, itemID uuid.UUID, availableOnly bool) ([]models.StockLedgerEntry, error)
	// ListBatches is the read-only FIFO view used by availability checks.
	ListBatches(ctx context.Context, facilityID, itemID uuid.UUID) ([]models.StockLedgerEntry, error)
	Save(ctx context.Context, entry *models.StockLedgerEntry) error
	CreateTransaction(ctx context.Context, txn *models.LedgerTransaction) error
	ListTransactions(ctx context.Context, facilityID, itemID uuid.UUID, limit int) ([]models.LedgerTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a ledger repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// forUpdate adds SELECT ... FOR UPDATE on dialects that support it. The
// sqlite test database runs single-writer, so skipping the clause there
// keeps behavior equivalent.
func (r *repository) forUpdate(q *gorm.DB) *gorm.DB {
	if r.db.Dialector.Name() == "postgres" {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (r *repository) LockEntry(ctx context.Context, facilityID, itemID uuid.UUID, batchNumber string) (*models.StockLedgerEntry, error) {
	var entry models.StockLedgerEntry
	// A fresh query is built per read: reusing an executed *gorm.DB
	// keeps its recorded error, so a re-read after Create would still
	// report the original not-found.
	first := func() error {
		return r.forUpdate(r.db.WithContext(ctx)).
			Where("facility_id = ? AND item_id = ? AND batch_number = ?", facilityID, itemID, batchNumber).
			First(&entry).Error
	}

	err := first()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		entry = models.StockLedgerEntry{
			FacilityID:  facilityID,
			ItemID:      itemID,
			BatchNumber: batchNumber,
		}
		if createErr := r.db.WithContext(ctx).Create(&entry).Error; createErr != nil {
			// A concurrent creator may have won the unique index race;
			// fall through to re-read whichever row exists now.
			err = first()
			if err != nil {
				return nil, lockErr(createErr)
			}
			return &entry, nil
		}
		err = first()
	}
	if err != nil {
		return nil, lockErr(err)
	}
	return &entry, nil
}

func (r *repository) LockBatches(ctx context.Context, facilityID, itemID uuid.UUID, availableOnly bool) ([]models.StockLedgerEntry, error) {
	q := r.forUpdate(r.db.WithContext(ctx)).
		Where("facility_id = ? AND item_id = ?", facilityID, itemID)
	if availableOnly {
		q = q.Where("available_stock > 0")
	}
	var entries []models.StockLedgerEntry
	err := q.Order(fifoOrder).Find(&entries).Error
	if err != nil {
		return nil, lockErr(err)
	}
	return entries, nil
}

func (r *repository) ListBatches(ctx context.Context, facilityID, itemID uuid.UUID) ([]models.StockLedgerEntry, error) {
	var entries []models.StockLedgerEntry
	err := r.db.WithContext(ctx).
		Where("facility_id = ? AND item_id = ?", facilityID, itemID).
		Order(fifoOrder).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) Save(ctx context.Context, entry *models.StockLedgerEntry) error {
	return r.db.WithContext(ctx).Save(entry).Error
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.LedgerTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, facilityID, itemID uuid.UUID, limit int) ([]models.LedgerTransaction, error) {
	var txns []models.LedgerTransaction
	q := r.db.WithContext(ctx).
		Where("facility_id = ? AND item_id = ?", facilityID, itemID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

// lockErr maps Postgres lock-wait timeouts onto the retryable
// contention code; everything else passes through untouched.
func lockErr(err error) error {
	if pkgerrors.IsLockTimeout(err) {
		return pkgerrors.Wrap(pkgerrors.CodeContention, err, "ledger row busy")
	}
	return err
}
