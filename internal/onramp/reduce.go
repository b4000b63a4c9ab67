package onramp

// reduction is the outcome of reducing one order snapshot. When Changed is
// false the snapshot carried no recognized progress and the current status
// stands.
type reduction struct {
	Changed bool
	Status  Status

	// Session is non-nil when the server (re)issued a payment session,
	// covering both the KYC-approved-to-payment transition and session
	// rotation while awaiting payment.
	Session *PaymentSessionConfig

	// TxID is set when delivery completed.
	TxID string
}

// reduceSnapshot maps a fetched order snapshot to the next status, applying
// rules in priority order. It is a pure function of the snapshot: the same
// input always yields the same reduction, independent of machine state.
func reduceSnapshot(snap *OrderSnapshot) reduction {
	switch snap.Payment.Status {
	case "awaiting-payment":
		return reduction{
			Changed: true,
			Status:  StatusAwaitingPayment,
			Session: snap.Payment.Preparation.paymentSessionConfig(),
		}

	case "rejected-kyc":
		return reduction{Changed: true, Status: StatusRejectedKYC}

	case "manual-kyc":
		return reduction{Changed: true, Status: StatusManualKYC}

	case "completed", "succeeded", "success", "paid":
		d := snap.delivery()
		if snap.Phase == "completed" || d.Status == "completed" {
			return reduction{Changed: true, Status: StatusSuccess, TxID: d.TxID}
		}
		return reduction{Changed: true, Status: StatusDelivering}

	case "failed", "declined", "payment-failed":
		return reduction{Changed: true, Status: StatusPaymentFailed}
	}

	// Unrecognized intermediate payment states leave the status unchanged to
	// avoid flapping while the server works through internal states.
	return reduction{}
}
