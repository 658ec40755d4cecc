package requests

import "github.com/openhealthlabs/stockflow-backend/pkg/db/models"

// RecomputeTotals refreshes the denormalized aggregate columns from the
// lines. Every engine calls this after mutating line quantities, inside
// the same transaction that persists the lines.
func RecomputeTotals(request *models.FulfillmentRequest) {
	request.ItemCount = len(request.Lines)
	request.RequestedValueCents = 0
	request.ApprovedValueCents = 0
	request.DispatchedValueCents = 0
	request.ReceivedValueCents = 0
	for i := range request.Lines {
		line := &request.Lines[i]
		request.RequestedValueCents += line.QuantityRequested * line.UnitPriceCents
		request.ApprovedValueCents += line.QuantityApproved * line.UnitPriceCents
		request.DispatchedValueCents += line.QuantityDispatched * line.UnitPriceCents
		request.ReceivedValueCents += line.QuantityReceived * line.UnitPriceCents
	}
}
