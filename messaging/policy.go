package messaging

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// PendingPolicy decides what happens to a delivery that was not acknowledged.
// It only applies to subscriptions with RequireAck; it never acknowledges.
type PendingPolicy int

const (
	// LeavePending sends nothing. The message stays unacknowledged on the
	// channel and is redelivered once the channel or connection is recycled.
	LeavePending PendingPolicy = iota
	// RejectRequeue returns the message to the queue immediately
	RejectRequeue
	// RejectDiscard rejects without requeue; the queue's dead-letter
	// exchange receives it if one is configured
	RejectDiscard
)

func (p PendingPolicy) String() string {
	switch p {
	case RejectRequeue:
		return "requeue"
	case RejectDiscard:
		return "discard"
	default:
		return "leave"
	}
}

// ParsePendingPolicy parses leave, requeue or discard
func ParsePendingPolicy(s string) (PendingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "leave":
		return LeavePending, nil
	case "requeue":
		return RejectRequeue, nil
	case "discard":
		return RejectDiscard, nil
	}
	return LeavePending, fmt.Errorf("%w: unknown pending policy %q", ErrConfiguration, s)
}

// apply settles d according to the policy. It reports whether a call was made.
func (p PendingPolicy) apply(d amqp.Delivery) (bool, error) {
	switch p {
	case RejectRequeue:
		return true, d.Nack(false, true)
	case RejectDiscard:
		return true, d.Nack(false, false)
	default:
		return false, nil
	}
}
