package requests

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/internal/catalog"
	"github.com/openhealthlabs/stockflow-backend/internal/directory"
	"github.com/openhealthlabs/stockflow-backend/pkg/db"
	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
)

type fixture struct {
	conn        *gorm.DB
	svc         Service
	origin      models.Facility
	destination models.Facility
	item        models.InventoryItem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:requests_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.Facility{},
		&models.InventoryItem{},
		&models.FulfillmentRequest{},
		&models.RequestLine{},
	))

	origin := models.Facility{Name: "Central Store", Code: "CS-01", Type: enums.FacilityTypeCentralStore}
	destination := models.Facility{Name: "Ward A", Code: "WA-01", Type: enums.FacilityTypeFacility}
	require.NoError(t, conn.Create(&origin).Error)
	require.NoError(t, conn.Create(&destination).Error)

	item := models.InventoryItem{SKU: "PARA-500", Name: "Paracetamol 500mg", Unit: "tablet", UnitPriceCents: 25}
	require.NoError(t, conn.Create(&item).Error)

	svc, err := NewService(
		db.NewFromConn(conn),
		NewRepository(conn),
		catalog.NewRepository(conn),
		directory.New(conn),
		nil,
		nil,
	)
	require.NoError(t, err)

	return &fixture{conn: conn, svc: svc, origin: origin, destination: destination, item: item}
}

func (f *fixture) createRequest(t *testing.T, quantity int) *models.FulfillmentRequest {
	t.Helper()
	request, err := f.svc.Create(context.Background(), uuid.New(), CreateInput{
		OriginFacilityID:   f.origin.ID,
		DestinationStoreID: f.destination.ID,
		Lines:              []CreateLineInput{{ItemID: f.item.ID, Quantity: quantity}},
	})
	require.NoError(t, err)
	return request
}

var requestNumberPattern = regexp.MustCompile(`^SR-\d{8}-[0-9a-f]{6}$`)

func TestCreateRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.createRequest(t, 40)

	assert.Equal(t, enums.RequestStatusPending, request.Status)
	assert.Equal(t, enums.RequestPriorityMedium, request.Priority)
	assert.Regexp(t, requestNumberPattern, request.RequestNumber)
	assert.Equal(t, 1, request.ItemCount)
	assert.Equal(t, 40*25, request.RequestedValueCents)
	assert.Zero(t, request.ApprovedValueCents)

	require.Len(t, request.Lines, 1)
	line := request.Lines[0]
	assert.Equal(t, 40, line.QuantityRequested)
	assert.Equal(t, 25, line.UnitPriceCents)
}

func TestCreateRequestValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	actorID := uuid.New()

	t.Run("no lines", func(t *testing.T) {
		_, err := f.svc.Create(ctx, actorID, CreateInput{
			OriginFacilityID:   f.origin.ID,
			DestinationStoreID: f.destination.ID,
		})
		requireCode(t, err, pkgerrors.CodeValidation)
	})

	t.Run("zero quantity", func(t *testing.T) {
		_, err := f.svc.Create(ctx, actorID, CreateInput{
			OriginFacilityID:   f.origin.ID,
			DestinationStoreID: f.destination.ID,
			Lines:              []CreateLineInput{{ItemID: f.item.ID, Quantity: 0}},
		})
		requireCode(t, err, pkgerrors.CodeValidation)
	})

	t.Run("origin equals destination", func(t *testing.T) {
		_, err := f.svc.Create(ctx, actorID, CreateInput{
			OriginFacilityID:   f.origin.ID,
			DestinationStoreID: f.origin.ID,
			Lines:              []CreateLineInput{{ItemID: f.item.ID, Quantity: 5}},
		})
		requireCode(t, err, pkgerrors.CodeValidation)
	})

	t.Run("duplicate item", func(t *testing.T) {
		_, err := f.svc.Create(ctx, actorID, CreateInput{
			OriginFacilityID:   f.origin.ID,
			DestinationStoreID: f.destination.ID,
			Lines: []CreateLineInput{
				{ItemID: f.item.ID, Quantity: 5},
				{ItemID: f.item.ID, Quantity: 3},
			},
		})
		requireCode(t, err, pkgerrors.CodeValidation)
	})

	t.Run("unknown facility", func(t *testing.T) {
		_, err := f.svc.Create(ctx, actorID, CreateInput{
			OriginFacilityID:   uuid.New(),
			DestinationStoreID: f.destination.ID,
			Lines:              []CreateLineInput{{ItemID: f.item.ID, Quantity: 5}},
		})
		requireCode(t, err, pkgerrors.CodeNotFound)
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := f.svc.Create(ctx, actorID, CreateInput{
			OriginFacilityID:   f.origin.ID,
			DestinationStoreID: f.destination.ID,
			Lines:              []CreateLineInput{{ItemID: uuid.New(), Quantity: 5}},
		})
		requireCode(t, err, pkgerrors.CodeNotFound)
	})
}

func TestCancelPendingRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.createRequest(t, 10)

	cancelled, err := f.svc.Cancel(context.Background(), request.ID, uuid.New(), "ordered by mistake")
	require.NoError(t, err)
	assert.Equal(t, enums.RequestStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, "ordered by mistake", *cancelled.CancellationReason)
}

func TestCancelRequiresReason(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.createRequest(t, 10)

	_, err := f.svc.Cancel(context.Background(), request.ID, uuid.New(), "   ")
	requireCode(t, err, pkgerrors.CodeValidation)
}

func TestCancelAfterDispatchRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.createRequest(t, 10)
	require.NoError(t, f.conn.Model(&models.FulfillmentRequest{}).
		Where("id = ?", request.ID).
		Update("status", enums.RequestStatusDispatched).Error)

	_, err := f.svc.Cancel(context.Background(), request.ID, uuid.New(), "too late")
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestStatsCountsActiveRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.createRequest(t, 5)
	f.createRequest(t, 6)
	dispatched := f.createRequest(t, 7)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.conn.Model(&models.FulfillmentRequest{}).
		Where("id = ?", dispatched.ID).
		Updates(map[string]any{
			"status":           enums.RequestStatusDispatched,
			"expected_arrival": past,
		}).Error)

	stats, err := f.svc.Stats(context.Background(), StatsScope{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.ByStatus[string(enums.RequestStatusPending)])
	assert.EqualValues(t, 1, stats.ByStatus[string(enums.RequestStatusDispatched)])
	assert.EqualValues(t, 3, stats.ByPriority[string(enums.RequestPriorityMedium)])
	assert.Equal(t, 1, stats.OverdueCount)

	// Scoped to a facility that originated nothing, everything vanishes.
	empty, err := f.svc.Stats(context.Background(), StatsScope{OriginFacility: uuid.New()})
	require.NoError(t, err)
	assert.Empty(t, empty.ByStatus)
	assert.Equal(t, 0, empty.OverdueCount)
}

func TestArchiveOnlyTerminalRequests(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	request := f.createRequest(t, 10)

	err := f.svc.Archive(context.Background(), request.ID)
	requireCode(t, err, pkgerrors.CodeStateConflict)

	require.NoError(t, f.conn.Model(&models.FulfillmentRequest{}).
		Where("id = ?", request.ID).
		Update("status", enums.RequestStatusReceived).Error)
	require.NoError(t, f.svc.Archive(context.Background(), request.ID))

	list, err := f.svc.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected a typed error, got %v", err)
	assert.Equal(t, code, typed.Code())
}
