package requests

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openhealthlabs/stockflow-backend/api/middleware"
	"github.com/openhealthlabs/stockflow-backend/api/responses"
	"github.com/openhealthlabs/stockflow-backend/api/validators"
	"github.com/openhealthlabs/stockflow-backend/internal/approval"
	"github.com/openhealthlabs/stockflow-backend/internal/availability"
	"github.com/openhealthlabs/stockflow-backend/internal/dispatch"
	"github.com/openhealthlabs/stockflow-backend/internal/receipt"
	internalrequests "github.com/openhealthlabs/stockflow-backend/internal/requests"
	"github.com/openhealthlabs/stockflow-backend/pkg/enums"
	pkgerrors "github.com/openhealthlabs/stockflow-backend/pkg/errors"
	"github.com/openhealthlabs/stockflow-backend/pkg/logger"
)

type reasonPayload struct {
	Reason string `json:"reason" validate:"required"`
}

type dispatchNote struct {
	ItemID uuid.UUID `json:"item_id" validate:"required"`
	Note   string    `json:"note"`
}

type dispatchPayload struct {
	Notes []dispatchNote `json:"notes" validate:"dive"`
}

// Create opens a new fulfillment request on behalf of the caller.
func Create(svc internalrequests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var input internalrequests.CreateInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := svc.Create(r.Context(), actorID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, request)
	}
}

// Detail returns one request with its lines.
func Detail(svc internalrequests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := validators.ParsePathUUID(chi.URLParam(r, "requestId"), "request id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		request, err := svc.Get(r.Context(), requestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}

// List returns filtered requests, newest first.
func List(svc internalrequests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := buildListFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

func buildListFilter(r *http.Request) (internalrequests.ListFilter, error) {
	var filter internalrequests.ListFilter

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseRequestStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("priority")); raw != "" {
		priority, err := enums.ParseRequestPriority(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid priority filter")
		}
		filter.Priority = priority
	}

	origin, err := validators.ParseQueryUUID(r, "origin_facility_id")
	if err != nil {
		return filter, err
	}
	filter.OriginFacility = origin

	destination, err := validators.ParseQueryUUID(r, "destination_store_id")
	if err != nil {
		return filter, err
	}
	filter.DestinationID = destination

	limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit

	offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 100000)
	if err != nil {
		return filter, err
	}
	filter.Offset = offset

	filter.IncludeArchived = strings.EqualFold(r.URL.Query().Get("include_archived"), "true")
	return filter, nil
}

// QuickApprove grants every line in full and attempts an immediate dispatch.
func QuickApprove(svc approval.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, requestID, err := actorAndRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		request, err := svc.QuickApprove(r.Context(), requestID, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}

// Approve applies itemized approval quantities.
func Approve(svc approval.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, requestID, err := actorAndRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var input approval.ApproveInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		request, err := svc.Approve(r.Context(), requestID, actorID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}

// Reject closes a pending request with a mandatory reason.
func Reject(svc approval.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, requestID, err := actorAndRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload reasonPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		request, err := svc.Reject(r.Context(), requestID, actorID, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}

// Dispatch ships the approved quantities out of the origin facility.
func Dispatch(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, requestID, err := actorAndRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		notes := map[uuid.UUID]string{}
		if r.ContentLength > 0 {
			var payload dispatchPayload
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			for _, note := range payload.Notes {
				notes[note.ItemID] = note.Note
			}
		}

		request, err := svc.Dispatch(r.Context(), requestID, actorID, notes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}

// Receive confirms arrival and credits the destination store.
func Receive(svc receipt.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, requestID, err := actorAndRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var input receipt.ReceiveInput
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &input); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		request, err := svc.Receive(r.Context(), requestID, actorID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}

// Cancel withdraws a request before any stock has moved.
func Cancel(svc internalrequests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, requestID, err := actorAndRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload reasonPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		request, err := svc.Cancel(r.Context(), requestID, actorID, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, request)
	}
}

// Availability serves the cached fulfillability snapshot for a request.
func Availability(svc availability.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := validators.ParsePathUUID(chi.URLParam(r, "requestId"), "request id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snapshot, err := svc.Snapshot(r.Context(), requestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

func buildStatsScope(r *http.Request) (internalrequests.StatsScope, error) {
	var scope internalrequests.StatsScope
	origin, err := validators.ParseQueryUUID(r, "origin_facility_id")
	if err != nil {
		return scope, err
	}
	scope.OriginFacility = origin

	destination, err := validators.ParseQueryUUID(r, "destination_store_id")
	if err != nil {
		return scope, err
	}
	scope.Destination = destination
	return scope, nil
}

// Stats serves the dashboard aggregation, optionally scoped to one
// facility or destination store.
func Stats(svc internalrequests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := buildStatsScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stats, err := svc.Stats(r.Context(), scope)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// Overdue lists dispatched requests past their expected arrival.
func Overdue(svc internalrequests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := buildStatsScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.Overdue(r.Context(), scope, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Archive hides a terminal request from working queries.
func Archive(svc internalrequests.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID, err := validators.ParsePathUUID(chi.URLParam(r, "requestId"), "request id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Archive(r.Context(), requestID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "archived"})
	}
}

func requireActor(r *http.Request) (uuid.UUID, error) {
	actorID := middleware.ActorIDFromContext(r.Context())
	if actorID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	return actorID, nil
}

func actorAndRequest(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	actorID, err := requireActor(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	requestID, err := validators.ParsePathUUID(chi.URLParam(r, "requestId"), "request id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return actorID, requestID, nil
}
