package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.StockLedgerEntry{}, &models.LedgerTransaction{}))
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(conn), nil)
	require.NoError(t, err)
	return svc
}

func seedEntry(t *testing.T, conn *gorm.DB, entry models.StockLedgerEntry) models.StockLedgerEntry {
	t.Helper()
	entry.AvailableStock = entry.CurrentStock - entry.ReservedStock
	require.NoError(t, conn.Create(&entry).Error)
	return entry
}

func TestAdjustCreatesRowAndTransaction(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()
	facilityID, itemID, actorID := uuid.New(), uuid.New(), uuid.New()

	txn, err := svc.Adjust(ctx, conn, AdjustInput{
		FacilityID:  facilityID,
		ItemID:      itemID,
		BatchNumber: "B001",
		Delta:       10,
		Type:        enums.LedgerTransactionTypeStockIn,
		Reference:   "GRN-1",
		ActorID:     actorID,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, txn.Quantity)
	assert.Equal(t, 0, txn.PreviousStock)
	assert.Equal(t, 10, txn.NewStock)

	var entry models.StockLedgerEntry
	require.NoError(t, conn.First(&entry, "facility_id = ? AND item_id = ?", facilityID, itemID).Error)
	assert.Equal(t, 10, entry.CurrentStock)
	assert.Equal(t, 0, entry.ReservedStock)
	assert.Equal(t, 10, entry.AvailableStock)

	var count int64
	require.NoError(t, conn.Model(&models.LedgerTransaction{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestAdjustClampsNegativeToZero(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()
	entry := seedEntry(t, conn, models.StockLedgerEntry{
		FacilityID:   uuid.New(),
		ItemID:       uuid.New(),
		BatchNumber:  "B001",
		CurrentStock: 5,
	})

	txn, err := svc.Adjust(ctx, conn, AdjustInput{
		FacilityID:  entry.FacilityID,
		ItemID:      entry.ItemID,
		BatchNumber: "B001",
		Delta:       -8,
		Type:        enums.LedgerTransactionTypeAdjustment,
		ActorID:     uuid.New(),
	})
	require.NoError(t, err)

	// The recorded movement is the real one, not the requested delta.
	assert.Equal(t, -5, txn.Quantity)
	assert.Equal(t, 0, txn.NewStock)

	var reloaded models.StockLedgerEntry
	require.NoError(t, conn.First(&reloaded, "id = ?", entry.ID).Error)
	assert.Equal(t, 0, reloaded.CurrentStock)
	assert.Equal(t, 0, reloaded.AvailableStock)
}

func TestAdjustValidation(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	cases := []struct {
		name  string
		input AdjustInput
	}{
		{"missing facility", AdjustInput{ItemID: uuid.New(), ActorID: uuid.New(), Delta: 1, Type: enums.LedgerTransactionTypeStockIn}},
		{"missing item", AdjustInput{FacilityID: uuid.New(), ActorID: uuid.New(), Delta: 1, Type: enums.LedgerTransactionTypeStockIn}},
		{"missing actor", AdjustInput{FacilityID: uuid.New(), ItemID: uuid.New(), Delta: 1, Type: enums.LedgerTransactionTypeStockIn}},
		{"zero delta", AdjustInput{FacilityID: uuid.New(), ItemID: uuid.New(), ActorID: uuid.New(), Type: enums.LedgerTransactionTypeStockIn}},
		{"bad type", AdjustInput{FacilityID: uuid.New(), ItemID: uuid.New(), ActorID: uuid.New(), Delta: 1, Type: "bogus"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Adjust(ctx, conn, tc.input)
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
		})
	}
}

func TestAdjustDetectsIntegrityDrift(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()

	bad := models.StockLedgerEntry{
		FacilityID:     uuid.New(),
		ItemID:         uuid.New(),
		BatchNumber:    "B001",
		CurrentStock:   10,
		ReservedStock:  2,
		AvailableStock: 9,
	}
	require.NoError(t, conn.Create(&bad).Error)

	_, err := svc.Adjust(ctx, conn, AdjustInput{
		FacilityID:  bad.FacilityID,
		ItemID:      bad.ItemID,
		BatchNumber: "B001",
		Delta:       1,
		Type:        enums.LedgerTransactionTypeStockIn,
		ActorID:     uuid.New(),
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeIntegrity, typed.Code())
}

func TestReserveWalksBatchesFIFO(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()
	facilityID, itemID := uuid.New(), uuid.New()

	soon := time.Now().Add(24 * time.Hour)
	later := time.Now().Add(48 * time.Hour)
	first := seedEntry(t, conn, models.StockLedgerEntry{
		FacilityID: facilityID, ItemID: itemID, BatchNumber: "EARLY", ExpiryDate: &soon, CurrentStock: 5,
	})
	second := seedEntry(t, conn, models.StockLedgerEntry{
		FacilityID: facilityID, ItemID: itemID, BatchNumber: "LATE", ExpiryDate: &later, CurrentStock: 5,
	})

	ok, err := svc.Reserve(ctx, conn, facilityID, itemID, 7)
	require.NoError(t, err)
	require.True(t, ok)

	var a, b models.StockLedgerEntry
	require.NoError(t, conn.First(&a, "id = ?", first.ID).Error)
	require.NoError(t, conn.First(&b, "id = ?", second.ID).Error)
	assert.Equal(t, 5, a.ReservedStock)
	assert.Equal(t, 0, a.AvailableStock)
	assert.Equal(t, 2, b.ReservedStock)
	assert.Equal(t, 3, b.AvailableStock)
}

func TestReserveShortfallLeavesStockUntouched(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()
	facilityID, itemID := uuid.New(), uuid.New()
	entry := seedEntry(t, conn, models.StockLedgerEntry{
		FacilityID: facilityID, ItemID: itemID, BatchNumber: "B001", CurrentStock: 3,
	})

	ok, err := svc.Reserve(ctx, conn, facilityID, itemID, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	var reloaded models.StockLedgerEntry
	require.NoError(t, conn.First(&reloaded, "id = ?", entry.ID).Error)
	assert.Equal(t, 0, reloaded.ReservedStock)
	assert.Equal(t, 3, reloaded.AvailableStock)
}

func TestReleaseClampsToReserved(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()
	facilityID, itemID := uuid.New(), uuid.New()
	entry := seedEntry(t, conn, models.StockLedgerEntry{
		FacilityID: facilityID, ItemID: itemID, BatchNumber: "B001", CurrentStock: 5, ReservedStock: 2,
	})

	require.NoError(t, svc.Release(ctx, conn, facilityID, itemID, 10))

	var reloaded models.StockLedgerEntry
	require.NoError(t, conn.First(&reloaded, "id = ?", entry.ID).Error)
	assert.Equal(t, 0, reloaded.ReservedStock)
	assert.Equal(t, 5, reloaded.AvailableStock)
}

func TestAvailableAcrossBatchesOrdering(t *testing.T) {
	t.Parallel()

	conn := newTestDB(t)
	svc := newTestService(t, conn)
	ctx := context.Background()
	facilityID, itemID := uuid.New(), uuid.New()

	soon := time.Now().Add(24 * time.Hour)
	later := time.Now().Add(72 * time.Hour)
	seedEntry(t, conn, models.StockLedgerEntry{FacilityID: facilityID, ItemID: itemID, BatchNumber: "NOEXP", CurrentStock: 4})
	seedEntry(t, conn, models.StockLedgerEntry{FacilityID: facilityID, ItemID: itemID, BatchNumber: "LATE", ExpiryDate: &later, CurrentStock: 2})
	seedEntry(t, conn, models.StockLedgerEntry{FacilityID: facilityID, ItemID: itemID, BatchNumber: "EARLY", ExpiryDate: &soon, CurrentStock: 1})

	batches, err := svc.AvailableAcrossBatches(ctx, facilityID, itemID)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, "EARLY", batches[0].BatchNumber)
	assert.Equal(t, "LATE", batches[1].BatchNumber)
	// Never-expiring batches go last.
	assert.Equal(t, "NOEXP", batches[2].BatchNumber)

	total, err := svc.AvailableTotal(ctx, facilityID, itemID)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
}
