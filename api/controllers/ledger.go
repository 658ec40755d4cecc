package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openhealthlabs/stockflow-backend/api/middleware"
	"github.com/openhealthlabs/stockflow-backend/api/responses"
	"github.com/openhealthlabs/stockflow-backend/api/validators"
	"github.com/openhealthlabs/stockflow-backend/internal/availability"
	"github.com/openhealthlabs/stockflow-backend/internal/ledger"
	"github.com/openhealthlabs/stockflow-backend/pkg/db"
	"github.com/openhealthlabs/stockflow-backend/pkg/db/models"
	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
)

type adjustPayload struct {
	FacilityID  uuid.UUID  `json:"facility_id" validate:"required"`
	ItemID      uuid.UUID  `json:"item_id" validate:"required"`
	BatchNumber string     `json:"batch_number"`
	ExpiryDate  *time.Time `json:"expiry_date"`
	Delta       int        `json:"delta" validate:"required"`
	Type        string     `json:"type" validate:"required"`
	Reference   string     `json:"reference"`
}

// AdjustStock applies a manual stock movement (receiving, counts,
// wastage) and records the audit transaction. Snapshots of requests
// drawing the adjusted item are dropped so they recompute.
func AdjustStock(dbClient *db.Client, svc ledger.Service, availabilitySvc availability.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID := middleware.ActorIDFromContext(r.Context())
		if actorID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing"))
			return
		}

		var payload adjustPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txnType, err := enums.ParseLedgerTransactionType(payload.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction type"))
			return
		}

		var txn *models.LedgerTransaction
		err = dbClient.WithTx(r.Context(), func(tx *gorm.DB) error {
			var err error
			txn, err = svc.Adjust(r.Context(), tx, ledger.AdjustInput{
				FacilityID:  payload.FacilityID,
				ItemID:      payload.ItemID,
				BatchNumber: payload.BatchNumber,
				ExpiryDate:  payload.ExpiryDate,
				Delta:       payload.Delta,
				Type:        txnType,
				Reference:   payload.Reference,
				ActorID:     actorID,
			})
			return err
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if availabilitySvc != nil {
			if err := availabilitySvc.InvalidateForStock(r.Context(), payload.FacilityID, payload.ItemID); err != nil && logg != nil {
				logg.Warn(r.Context(), "availability invalidation after adjustment failed")
			}
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, txn)
	}
}

// LedgerView returns the batch breakdown and recent transactions for an
// item at a facility.
func LedgerView(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facilityID, err := validators.ParsePathUUID(chi.URLParam(r, "facilityId"), "facility id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParsePathUUID(chi.URLParam(r, "itemId"), "item id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		batches, err := svc.AvailableAcrossBatches(r.Context(), facilityID, itemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		transactions, err := svc.Transactions(r.Context(), facilityID, itemID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"facility_id":  facilityID,
			"item_id":      itemID,
			"batches":      batches,
			"transactions": transactions,
		})
	}
}
