package messaging

// Verdict is a handler's answer for one message
type Verdict int

const (
	// VerdictUndetermined means the handler did not decide; the message stays pending
	VerdictUndetermined Verdict = iota
	// VerdictSuccess means the message was processed and may be acknowledged
	VerdictSuccess
	// VerdictDecline means the handler explicitly refused the message
	VerdictDecline
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictDecline:
		return "decline"
	default:
		return "undetermined"
	}
}

// Outcome is what the pipeline did with a delivery
type Outcome int

const (
	// OutcomeLeave left the delivery unacknowledged (or rejected it per PendingPolicy)
	OutcomeLeave Outcome = iota
	// OutcomeAcknowledge means the handler succeeded
	OutcomeAcknowledge
	// OutcomeFail means decoding, the handler, or acknowledging failed
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcknowledge:
		return "acknowledge"
	case OutcomeFail:
		return "fail"
	default:
		return "leave"
	}
}

// Result is the typed outcome of one pass through the pipeline
type Result struct {
	Outcome Outcome
	Verdict Verdict
	// Acked is true only when this consumer sent basic.ack
	Acked bool
	Err   *DeliveryError
}
