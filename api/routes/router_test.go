package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/internal/approval"
	"github.com/openhealthlabs/stockflow-backend/internal/availability"
	"github.com/openhealthlabs/stockflow-backend/internal/directory"
	"github.com/openhealthlabs/stockflow-backend/internal/ledger"
	"github.com/openhealthlabs/stockflow-backend/internal/receipt"
	internalrequests "github.com/openhealthlabs/stockflow-backend/internal/requests"
	pkgauth "github.com/openhealthlabs/stockflow-backend/pkg/auth"
	"github.com/openhealthlabs/stockflow-backend/pkg/config"
	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
)

type stubRequestService struct{}

func (stubRequestService) Create(ctx context.Context, actorID uuid.UUID, input internalrequests.CreateInput) (*models.FulfillmentRequest, error) {
	return &models.FulfillmentRequest{}, nil
}

func (stubRequestService) Get(ctx context.Context, id uuid.UUID) (*models.FulfillmentRequest, error) {
	return &models.FulfillmentRequest{}, nil
}

func (stubRequestService) GetByNumber(ctx context.Context, number string) (*models.FulfillmentRequest, error) {
	return &models.FulfillmentRequest{}, nil
}

func (stubRequestService) List(ctx context.Context, filter internalrequests.ListFilter) ([]models.FulfillmentRequest, error) {
	return nil, nil
}

func (stubRequestService) Cancel(ctx context.Context, id, actorID uuid.UUID, reason string) (*models.FulfillmentRequest, error) {
	return &models.FulfillmentRequest{}, nil
}

func (stubRequestService) Stats(ctx context.Context, scope internalrequests.StatsScope) (*internalrequests.Stats, error) {
	return &internalrequests.Stats{}, nil
}

func (stubRequestService) Overdue(ctx context.Context, scope internalrequests.StatsScope, limit int) ([]models.FulfillmentRequest, error) {
	return nil, nil
}

func (stubRequestService) Archive(ctx context.Context, id uuid.UUID) error {
	return nil
}

type stubApprovalService struct{}

func (stubApprovalService) QuickApprove(ctx context.Context, requestID, actorID uuid.UUID) (*models.FulfillmentRequest, error) {
	return &models.FulfillmentRequest{}, nil
}

func (stubApprovalService) Approve(ctx context.Context, requestID, actorID uuid.UUID, input approval.ApproveInput) (*models.FulfillmentRequest, error) {
	return &models.FulfillmentRequest{}, nil
}

func (stubApprovalService) Reject(ctx context.Context, requestID, actorID uuid.UUID, reason string) (*models.FulfillmentRequest, error) {
	return &models.FulfillmentRequest{}, nil
}

type stubDispatchService struct{}

func (stubDispatchService) Dispatch(ctx context.Context, requestID, actorID uuid.UUID, notes map[uuid.UUID]string) (*models.FulfillmentRequest, error) {
	return &models.FulfillmentRequest{}, nil
}

type stubReceiptService struct{}

func (stubReceiptService) Receive(ctx context.Context, requestID, actorID uuid.UUID, input receipt.ReceiveInput) (*models.FulfillmentRequest, error) {
	return &models.FulfillmentRequest{}, nil
}

type stubAvailabilityService struct{}

func (stubAvailabilityService) Snapshot(ctx context.Context, requestID uuid.UUID) (*availability.Snapshot, error) {
	return &availability.Snapshot{}, nil
}

func (stubAvailabilityService) Invalidate(ctx context.Context, requestID uuid.UUID) error {
	return nil
}

func (stubAvailabilityService) InvalidateForStock(ctx context.Context, facilityID, itemID uuid.UUID) error {
	return nil
}

type stubLedgerService struct{}

func (stubLedgerService) Adjust(ctx context.Context, tx *gorm.DB, input ledger.AdjustInput) (*models.LedgerTransaction, error) {
	return &models.LedgerTransaction{}, nil
}

func (stubLedgerService) Reserve(ctx context.Context, tx *gorm.DB, facilityID, itemID uuid.UUID, quantity int) (bool, error) {
	return true, nil
}

func (stubLedgerService) Release(ctx context.Context, tx *gorm.DB, facilityID, itemID uuid.UUID, quantity int) error {
	return nil
}

func (stubLedgerService) AvailableAcrossBatches(ctx context.Context, facilityID, itemID uuid.UUID) ([]ledger.BatchAvailability, error) {
	return nil, nil
}

func (stubLedgerService) LockedBatches(ctx context.Context, tx *gorm.DB, facilityID, itemID uuid.UUID) ([]ledger.BatchAvailability, error) {
	return nil, nil
}

func (stubLedgerService) AvailableTotal(ctx context.Context, facilityID, itemID uuid.UUID) (int, error) {
	return 0, nil
}

func (stubLedgerService) Transactions(ctx context.Context, facilityID, itemID uuid.UUID, limit int) ([]models.LedgerTransaction, error) {
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "stockflow", ExpirationMinutes: 60},
	}
}

func newTestRouter(cfg *config.Config) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	return NewRouter(
		cfg,
		logg,
		nil, // *db.Client, only touched by routes the tests avoid
		nil, // *redis.Client
		prometheus.NewRegistry(),
		directory.RolePolicy{},
		stubRequestService{},
		stubApprovalService{},
		stubDispatchService{},
		stubReceiptService{},
		stubAvailabilityService{},
		stubLedgerService{},
	)
}

func buildToken(t *testing.T, cfg *config.Config, role string) string {
	t.Helper()
	token, err := pkgauth.MintActorToken(cfg.JWT, time.Now(), pkgauth.ActorTokenPayload{
		ActorID: uuid.New(),
		Role:    role,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthLiveIsPublic(t *testing.T) {
	router := newTestRouter(testConfig())
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for liveness got %d", resp.Code)
	}
}

func TestMetricsExposed(t *testing.T) {
	router := newTestRouter(testConfig())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for metrics got %d", resp.Code)
	}
}

func TestRequestRoutesRejectMissingToken(t *testing.T) {
	router := newTestRouter(testConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/requests", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestRequestListSucceedsWithToken(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/requests", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, directory.RoleFacilityStaff))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for list got %d", resp.Code)
	}
}

func TestQuickApproveRequiresApproverRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	path := "/api/v1/requests/" + uuid.NewString() + "/quick-approve"

	storekeeper := httptest.NewRequest(http.MethodPost, path, nil)
	storekeeper.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, directory.RoleStorekeeper))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, storekeeper)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for storekeeper approve got %d", resp.Code)
	}

	approver := httptest.NewRequest(http.MethodPost, path, nil)
	approver.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, directory.RoleApprover))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, approver)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for approver got %d", resp.Code)
	}
}

func TestDispatchRequiresStorekeeperRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	path := "/api/v1/requests/" + uuid.NewString() + "/dispatch"

	staff := httptest.NewRequest(http.MethodPost, path, nil)
	staff.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, directory.RoleFacilityStaff))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, staff)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for facility staff dispatch got %d", resp.Code)
	}

	storekeeper := httptest.NewRequest(http.MethodPost, path, nil)
	storekeeper.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, directory.RoleStorekeeper))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, storekeeper)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for storekeeper dispatch got %d", resp.Code)
	}
}

func TestLedgerAdjustRequiresStorekeeperRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)

	approver := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/adjust", nil)
	approver.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, directory.RoleApprover))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, approver)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for approver ledger adjust got %d", resp.Code)
	}
}
