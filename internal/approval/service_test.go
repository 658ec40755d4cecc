package approval

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/internal/dispatch"
	"github.com/openhealthlabs/stockflow-backend/internal/ledger"
	"github.com/openhealthlabs/stockflow-backend/internal/notify"
	"github.com/openhealthlabs/stockflow-backend/internal/requests"
	"github.com/openhealthlabs/stockflow-backend/pkg/config"
	"github.com/openhealthlabs/stockflow-backend/pkg/db"
	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
)

type recordingNotifier struct {
	events []notify.TransitionEvent
}

func (r *recordingNotifier) RequestTransitioned(_ context.Context, event notify.TransitionEvent) {
	r.events = append(r.events, event)
}

type fixture struct {
	conn      *gorm.DB
	client    *db.Client
	repo      requests.Repository
	ledgerSvc ledger.Service
	notifier  *recordingNotifier
	origin    models.Facility
	dest      models.Facility
	item      models.InventoryItem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:approval_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.Facility{},
		&models.InventoryItem{},
		&models.StockLedgerEntry{},
		&models.LedgerTransaction{},
		&models.FulfillmentRequest{},
		&models.RequestLine{},
	))

	origin := models.Facility{Name: "Central Store", Code: "CS-01", Type: enums.FacilityTypeCentralStore}
	dest := models.Facility{Name: "Clinic B", Code: "CB-01", Type: enums.FacilityTypeFacility}
	require.NoError(t, conn.Create(&origin).Error)
	require.NoError(t, conn.Create(&dest).Error)

	item := models.InventoryItem{SKU: "AMOX-250", Name: "Amoxicillin 250mg", Unit: "capsule", UnitPriceCents: 40}
	require.NoError(t, conn.Create(&item).Error)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), nil)
	require.NoError(t, err)

	return &fixture{
		conn:      conn,
		client:    db.NewFromConn(conn),
		repo:      requests.NewRepository(conn),
		ledgerSvc: ledgerSvc,
		notifier:  &recordingNotifier{},
		origin:    origin,
		dest:      dest,
		item:      item,
	}
}

func (f *fixture) newService(t *testing.T, dispatcher Dispatcher) Service {
	t.Helper()
	svc, err := NewService(f.client, f.repo, f.ledgerSvc, dispatcher, f.notifier, nil, nil, nil)
	require.NoError(t, err)
	return svc
}

func (f *fixture) seedStock(t *testing.T, batch string, qty int, expiry *time.Time) {
	t.Helper()
	entry := models.StockLedgerEntry{
		FacilityID:     f.origin.ID,
		ItemID:         f.item.ID,
		BatchNumber:    batch,
		ExpiryDate:     expiry,
		CurrentStock:   qty,
		AvailableStock: qty,
	}
	require.NoError(t, f.conn.Create(&entry).Error)
}

func (f *fixture) seedRequest(t *testing.T, quantity int) *models.FulfillmentRequest {
	t.Helper()
	request := &models.FulfillmentRequest{
		RequestNumber:      "SR-20260801-" + uuid.NewString()[:6],
		OriginFacilityID:   f.origin.ID,
		DestinationStoreID: f.dest.ID,
		Status:             enums.RequestStatusPending,
		Priority:           enums.RequestPriorityMedium,
		RequestedBy:        uuid.New(),
		RequestDate:        time.Now(),
		Lines: []models.RequestLine{{
			ItemID:            f.item.ID,
			QuantityRequested: quantity,
			UnitPriceCents:    f.item.UnitPriceCents,
		}},
	}
	requests.RecomputeTotals(request)
	require.NoError(t, f.conn.Create(request).Error)
	return request
}

func TestQuickApproveGrantsEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedStock(t, "B001", 100, nil)
	request := f.seedRequest(t, 40)
	svc := f.newService(t, nil)
	actorID := uuid.New()

	approved, err := svc.QuickApprove(context.Background(), request.ID, actorID)
	require.NoError(t, err)
	assert.Equal(t, enums.RequestStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, actorID, *approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedDate)
	require.Len(t, approved.Lines, 1)
	assert.Equal(t, 40, approved.Lines[0].QuantityApproved)
	assert.Equal(t, 40*40, approved.ApprovedValueCents)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, string(enums.RequestStatusPending), f.notifier.events[0].FromStatus)
	assert.Equal(t, string(enums.RequestStatusApproved), f.notifier.events[0].ToStatus)
}

func TestQuickApproveInsufficientStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedStock(t, "B001", 60, nil)
	request := f.seedRequest(t, 100)
	svc := f.newService(t, nil)

	_, err := svc.QuickApprove(context.Background(), request.ID, uuid.New())
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())

	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, details["shortfalls"])

	var reloaded models.FulfillmentRequest
	require.NoError(t, f.conn.Preload("Lines").First(&reloaded, "id = ?", request.ID).Error)
	assert.Equal(t, enums.RequestStatusPending, reloaded.Status)
	assert.Zero(t, reloaded.Lines[0].QuantityApproved)
}

func TestQuickApproveIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedStock(t, "B001", 100, nil)
	request := f.seedRequest(t, 40)
	svc := f.newService(t, nil)

	first, err := svc.QuickApprove(context.Background(), request.ID, uuid.New())
	require.NoError(t, err)
	second, err := svc.QuickApprove(context.Background(), request.ID, uuid.New())
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, *first.ApprovedBy, *second.ApprovedBy)
	// Only the first call fires a transition.
	assert.Len(t, f.notifier.events, 1)
}

func TestQuickApproveDispatchesWhenWired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedStock(t, "B001", 100, nil)
	request := f.seedRequest(t, 40)

	dispatchSvc, err := dispatch.NewService(
		f.client, f.repo, f.ledgerSvc,
		config.FulfillmentConfig{DispatchETAOffset: 72 * time.Hour},
		nil, nil, nil, nil,
	)
	require.NoError(t, err)
	svc := f.newService(t, dispatchSvc)

	result, err := svc.QuickApprove(context.Background(), request.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, enums.RequestStatusDispatched, result.Status)

	var entry models.StockLedgerEntry
	require.NoError(t, f.conn.First(&entry, "facility_id = ? AND item_id = ?", f.origin.ID, f.item.ID).Error)
	assert.Equal(t, 60, entry.CurrentStock)
}

func TestApprovePartialQuantities(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedStock(t, "B001", 80, nil)
	request := f.seedRequest(t, 100)
	svc := f.newService(t, nil)

	approved, err := svc.Approve(context.Background(), request.ID, uuid.New(), ApproveInput{
		Lines: []ApproveLineInput{{ItemID: f.item.ID, QuantityApproved: 60}},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.RequestStatusPartiallyApproved, approved.Status)
	assert.Equal(t, 60, approved.Lines[0].QuantityApproved)
	assert.Equal(t, 60*40, approved.ApprovedValueCents)
}

func TestApproveFailsWhenGrantExceedsAvailability(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedStock(t, "B001", 60, nil)
	request := f.seedRequest(t, 100)
	svc := f.newService(t, nil)

	_, err := svc.Approve(context.Background(), request.ID, uuid.New(), ApproveInput{
		Lines: []ApproveLineInput{{ItemID: f.item.ID, QuantityApproved: 100}},
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())

	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, details["shortfalls"])

	var reloaded models.FulfillmentRequest
	require.NoError(t, f.conn.Preload("Lines").First(&reloaded, "id = ?", request.ID).Error)
	assert.Equal(t, enums.RequestStatusPending, reloaded.Status)
	assert.Zero(t, reloaded.Lines[0].QuantityApproved)
}

func TestApproveDefaultsOmittedLinesToRequested(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	second := models.InventoryItem{SKU: "PARA-500", Name: "Paracetamol 500mg", Unit: "tablet", UnitPriceCents: 10}
	require.NoError(t, f.conn.Create(&second).Error)

	f.seedStock(t, "B001", 100, nil)
	require.NoError(t, f.conn.Create(&models.StockLedgerEntry{
		FacilityID:     f.origin.ID,
		ItemID:         second.ID,
		BatchNumber:    "B002",
		CurrentStock:   30,
		AvailableStock: 30,
	}).Error)

	request := &models.FulfillmentRequest{
		RequestNumber:      "SR-20260801-" + uuid.NewString()[:6],
		OriginFacilityID:   f.origin.ID,
		DestinationStoreID: f.dest.ID,
		Status:             enums.RequestStatusPending,
		Priority:           enums.RequestPriorityMedium,
		RequestedBy:        uuid.New(),
		RequestDate:        time.Now(),
		Lines: []models.RequestLine{
			{ItemID: f.item.ID, QuantityRequested: 50, UnitPriceCents: f.item.UnitPriceCents},
			{ItemID: second.ID, QuantityRequested: 30, UnitPriceCents: second.UnitPriceCents},
		},
	}
	requests.RecomputeTotals(request)
	require.NoError(t, f.conn.Create(request).Error)

	svc := f.newService(t, nil)
	approved, err := svc.Approve(context.Background(), request.ID, uuid.New(), ApproveInput{
		Lines: []ApproveLineInput{{ItemID: f.item.ID, QuantityApproved: 20}},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.RequestStatusPartiallyApproved, approved.Status)

	byItem := map[uuid.UUID]int{}
	for _, line := range approved.Lines {
		byItem[line.ItemID] = line.QuantityApproved
	}
	assert.Equal(t, 20, byItem[f.item.ID])
	// The omitted line is granted in full, not zeroed.
	assert.Equal(t, 30, byItem[second.ID])
}

func TestApproveCannotExceedRequested(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.seedRequest(t, 10)
	svc := f.newService(t, nil)

	_, err := svc.Approve(context.Background(), request.ID, uuid.New(), ApproveInput{
		Lines: []ApproveLineInput{{ItemID: f.item.ID, QuantityApproved: 11}},
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestApproveNothingIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.seedRequest(t, 10)
	svc := f.newService(t, nil)

	_, err := svc.Approve(context.Background(), request.ID, uuid.New(), ApproveInput{
		Lines: []ApproveLineInput{{ItemID: f.item.ID, QuantityApproved: 0}},
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestRejectRequiresReason(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.seedRequest(t, 10)
	svc := f.newService(t, nil)

	_, err := svc.Reject(context.Background(), request.ID, uuid.New(), " ")
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestRejectPendingRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.seedRequest(t, 10)
	svc := f.newService(t, nil)

	rejected, err := svc.Reject(context.Background(), request.ID, uuid.New(), "stock reserved for outbreak response")
	require.NoError(t, err)
	assert.Equal(t, enums.RequestStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)

	_, err = svc.Reject(context.Background(), request.ID, uuid.New(), "again")
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}
