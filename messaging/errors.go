package messaging

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration marks an invalid subscription or a topology that
	// conflicts with what the broker already has. It is the only error
	// class NewSubscriber surfaces for a reachable broker.
	ErrConfiguration = errors.New("messaging: invalid subscription configuration")

	// ErrPanic marks a recovered panic
	ErrPanic = errors.New("messaging: panic recovered")
)

// ErrorKind classifies failures recovered after a subscription is live
type ErrorKind int

const (
	KindDeserialization ErrorKind = iota + 1
	KindHandler
	KindAcknowledge
	KindTeardown
)

func (k ErrorKind) String() string {
	switch k {
	case KindDeserialization:
		return "deserialization"
	case KindHandler:
		return "handler"
	case KindAcknowledge:
		return "acknowledge"
	case KindTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// DeliveryError is a failure isolated while processing one delivery
type DeliveryError struct {
	Kind        ErrorKind
	Queue       string
	ConsumerTag string
	DeliveryTag uint64
	PayloadLen  int
	PayloadHash string // xxhash64 of the body, hex
	Err         error
	Timestamp   time.Time
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("messaging: %s failure on queue %s (consumer %s, delivery %d): %v",
		e.Kind, e.Queue, e.ConsumerTag, e.DeliveryTag, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a DeliveryError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var deliveryErr *DeliveryError
	return errors.As(err, &deliveryErr) && deliveryErr.Kind == kind
}

// PanicError carries a recovered panic value and the stack it was raised on
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrPanic, e.Value)
}

func (e *PanicError) Unwrap() error {
	return ErrPanic
}
