package enums

import "fmt"

// RequestStatus tracks the lifecycle of a fulfillment request.
type RequestStatus string

const (
	RequestStatusPending             RequestStatus = "pending"
	RequestStatusApproved            RequestStatus = "approved"
	RequestStatusPartiallyApproved   RequestStatus = "partially_approved"
	RequestStatusRejected            RequestStatus = "rejected"
	RequestStatusDispatched          RequestStatus = "dispatched"
	RequestStatusPartiallyDispatched RequestStatus = "partially_dispatched"
	RequestStatusReceived            RequestStatus = "received"
	RequestStatusPartiallyReceived   RequestStatus = "partially_received"
	RequestStatusCancelled           RequestStatus = "cancelled"
)

var validRequestStatuses = []RequestStatus{
	RequestStatusPending,
	RequestStatusApproved,
	RequestStatusPartiallyApproved,
	RequestStatusRejected,
	RequestStatusDispatched,
	RequestStatusPartiallyDispatched,
	RequestStatusReceived,
	RequestStatusPartiallyReceived,
	RequestStatusCancelled,
}

// requestStatusTransitions is the single source of truth for lifecycle
// legality; every engine consults it instead of re-deriving rules.
var requestStatusTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending: {
		RequestStatusApproved,
		RequestStatusPartiallyApproved,
		RequestStatusRejected,
		RequestStatusCancelled,
	},
	RequestStatusApproved: {
		RequestStatusDispatched,
		RequestStatusPartiallyDispatched,
		RequestStatusCancelled,
	},
	RequestStatusPartiallyApproved: {
		RequestStatusDispatched,
		RequestStatusPartiallyDispatched,
		RequestStatusCancelled,
	},
	RequestStatusDispatched: {
		RequestStatusReceived,
		RequestStatusPartiallyReceived,
	},
	RequestStatusPartiallyDispatched: {
		RequestStatusReceived,
		RequestStatusPartiallyReceived,
	},
	RequestStatusRejected:          {},
	RequestStatusReceived:          {},
	RequestStatusPartiallyReceived: {},
	RequestStatusCancelled:         {},
}

// String implements fmt.Stringer.
func (s RequestStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known RequestStatus.
func (s RequestStatus) IsValid() bool {
	for _, candidate := range validRequestStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, candidate := range requestStatusTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is legal.
func (s RequestStatus) IsTerminal() bool {
	return len(requestStatusTransitions[s]) == 0 && s.IsValid()
}

// IsPreDispatch reports whether no stock has moved yet for a request in
// this status; only these requests may be cancelled.
func (s RequestStatus) IsPreDispatch() bool {
	switch s {
	case RequestStatusPending, RequestStatusApproved, RequestStatusPartiallyApproved:
		return true
	}
	return false
}

// ParseRequestStatus converts raw input into a RequestStatus.
func ParseRequestStatus(value string) (RequestStatus, error) {
	for _, candidate := range validRequestStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid request status %q", value)
}
