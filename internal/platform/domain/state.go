package domain

// PaymentState is the derived lifecycle state of a Payment. The constants are
// ordered so that >= expresses "at or past": every payout state is past every
// inbound state, and every refund state is past every payout state.
type PaymentState int

const (
	StateInboundCreated PaymentState = iota
	StateInboundAuthorized
	StateInboundExecuted
	StateInboundSettled
	StateInboundFailed
	StatePayoutRegistering
	StatePayoutCreated
	StatePayoutExecuted
	StatePayoutFailed
	StateRefundRegistering
	StateRefundCreated
	StateRefundExecuted
	StateRefundFailed
)

func (s PaymentState) String() string {
	switch s {
	case StateInboundCreated:
		return "inbound_created"
	case StateInboundAuthorized:
		return "inbound_authorized"
	case StateInboundExecuted:
		return "inbound_executed"
	case StateInboundSettled:
		return "inbound_settled"
	case StateInboundFailed:
		return "inbound_failed"
	case StatePayoutRegistering:
		return "payout_registering"
	case StatePayoutCreated:
		return "payout_created"
	case StatePayoutExecuted:
		return "payout_executed"
	case StatePayoutFailed:
		return "payout_failed"
	case StateRefundRegistering:
		return "refund_registering"
	case StateRefundCreated:
		return "refund_created"
	case StateRefundExecuted:
		return "refund_executed"
	case StateRefundFailed:
		return "refund_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are expected for the
// payment's currently active leg.
func (s PaymentState) Terminal() bool {
	switch s {
	case StateInboundFailed, StatePayoutExecuted, StatePayoutFailed, StateRefundExecuted, StateRefundFailed:
		return true
	default:
		return false
	}
}
