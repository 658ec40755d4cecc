package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openhealthlabs/stockflow-backend/api/controllers"
	requestcontrollers "github.com/openhealthlabs/stockflow-backend/api/controllers/requests"
	"github.com/openhealthlabs/stockflow-backend/api/middleware"
	"github.com/openhealthlabs/stockflow-backend/internal/approval"
	"github.com/openhealthlabs/stockflow-backend/internal/availability"
	"github.com/openhealthlabs/stockflow-backend/internal/directory"
	"github.com/openhealthlabs/stockflow-backend/internal/dispatch"
	"github.com/openhealthlabs/stockflow-backend/internal/ledger"
	"github.com/openhealthlabs/stockflow-backend/internal/receipt"
	internalrequests "github.com/openhealthlabs/stockflow-backend/internal/requests"
	"github.com/openhealthlabs/stockflow-backend/pkg/config"
	"github.com/openhealthlabs/stockflow-backend/pkg/db"
	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
	"github.com/openhealthlabs/stockflow-backend/pkg/redis"
)

// NewRouter assembles the HTTP surface of the fulfillment service.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	registry *prometheus.Registry,
	authz directory.Authorizer,
	requestService internalrequests.Service,
	approvalService approval.Service,
	dispatchService dispatch.Service,
	receiptService receipt.Service,
	availabilityService availability.Service,
	ledgerService ledger.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbClient, redisClient))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", requestcontrollers.Create(requestService, logg))
			r.Get("/", requestcontrollers.List(requestService, logg))
			r.Get("/stats", requestcontrollers.Stats(requestService, logg))
			r.Get("/overdue", requestcontrollers.Overdue(requestService, logg))

			r.Route("/{requestId}", func(r chi.Router) {
				r.Get("/", requestcontrollers.Detail(requestService, logg))
				r.Get("/availability", requestcontrollers.Availability(availabilityService, logg))
				r.With(middleware.Authorize(authz, directory.ActionApprove, logg)).
					Post("/quick-approve", requestcontrollers.QuickApprove(approvalService, logg))
				r.With(middleware.Authorize(authz, directory.ActionApprove, logg)).
					Post("/approve", requestcontrollers.Approve(approvalService, logg))
				r.With(middleware.Authorize(authz, directory.ActionApprove, logg)).
					Post("/reject", requestcontrollers.Reject(approvalService, logg))
				r.With(middleware.Authorize(authz, directory.ActionDispatch, logg)).
					Post("/dispatch", requestcontrollers.Dispatch(dispatchService, logg))
				r.With(middleware.Authorize(authz, directory.ActionReceive, logg)).
					Post("/receive", requestcontrollers.Receive(receiptService, logg))
				r.Post("/cancel", requestcontrollers.Cancel(requestService, logg))
				r.With(middleware.Authorize(authz, directory.ActionArchive, logg)).
					Post("/archive", requestcontrollers.Archive(requestService, logg))
			})
		})

		r.Route("/ledger", func(r chi.Router) {
			r.With(middleware.Authorize(authz, directory.ActionAdjustStock, logg)).
				Post("/adjust", controllers.AdjustStock(dbClient, ledgerService, availabilityService, logg))
			r.Get("/{facilityId}/{itemId}", controllers.LedgerView(ledgerService, logg))
		})
	})

	return r
}
