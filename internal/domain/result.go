package domain

// DropReason names why an inbound event had no effect.
type DropReason string

const (
	ReasonProtocolViolation DropReason = "protocol_violation"
	ReasonUnknownTarget     DropReason = "unknown_target"
	ReasonUnauthorized      DropReason = "unauthorized"
	ReasonSessionNotFound   DropReason = "session_not_found"
	ReasonSessionClosed     DropReason = "session_closed"
	ReasonUnknownConnection DropReason = "unknown_connection"
	ReasonNoop              DropReason = "noop"
	ReasonBanned            DropReason = "banned"
	ReasonRateLimited       DropReason = "rate_limited"
	ReasonInvalidPayload    DropReason = "invalid_payload"
)

// Result is the outcome of relaying or handling one event. The zero value
// means the event was applied.
type Result struct {
	Reason DropReason
}

var Delivered = Result{}

func Dropped(reason DropReason) Result { return Result{Reason: reason} }

func (r Result) Dropped() bool { return r.Reason != "" }

func (r Result) String() string {
	if r.Reason == "" {
		return "delivered"
	}
	return "dropped(" + string(r.Reason) + ")"
}
