package onramp

// Status is the single source of truth for UI rendering and flow control.
// Transitions happen only through the Machine.
//
// Unknown server-reported payment statuses pass through verbatim as a Status
// value; they render opaquely and count as terminal, so the flow stops and
// the user may restart it.
type Status string

const (
	StatusNotCreated      Status = "not-created"
	StatusCreatingOrder   Status = "creating-order"
	StatusRequiresKYC     Status = "requires-kyc"
	StatusPollingKYC      Status = "polling-kyc"
	StatusAwaitingPayment Status = "awaiting-payment"
	StatusPollingPayment  Status = "polling-payment"
	StatusDelivering      Status = "delivering"
	StatusSuccess         Status = "success"
	StatusPaymentFailed   Status = "payment-failed"
	StatusManualKYC       Status = "manual-kyc"
	StatusRejectedKYC     Status = "rejected-kyc"
	StatusError           Status = "error"
)

// Terminal reports whether the flow can make no further progress from s.
// Everything outside the known in-flight statuses is terminal, including
// unrecognized passthrough values.
func (s Status) Terminal() bool {
	switch s {
	case StatusNotCreated, StatusCreatingOrder,
		StatusRequiresKYC, StatusPollingKYC,
		StatusAwaitingPayment, StatusPollingPayment,
		StatusDelivering:
		return false
	}
	return true
}

// Message returns the single user-facing line rendered for this status.
// Empty for not-created, which renders nothing.
func (s Status) Message() string {
	switch s {
	case StatusNotCreated:
		return ""
	case StatusCreatingOrder:
		return "Creating your order..."
	case StatusRequiresKYC:
		return "Complete identity verification to continue."
	case StatusPollingKYC:
		return "Verifying your identity..."
	case StatusAwaitingPayment:
		return "Enter your card details to complete the payment."
	case StatusPollingPayment:
		return "Finalizing your payment... This may take a few seconds."
	case StatusDelivering:
		return "Delivering tokens to your wallet... Hang tight."
	case StatusSuccess:
		return "Tokens delivered."
	case StatusPaymentFailed:
		return "Payment failed. Please try again."
	case StatusRejectedKYC:
		return "Identity verification was rejected. Please try again."
	case StatusManualKYC:
		return "Identity verification requires manual review. We'll contact you soon."
	case StatusError:
		return "Something went wrong. Please try again."
	}
	return "Order is in an unrecognized state: " + string(s)
}
