package rabbitmq

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// maxConsumerTagLength is the AMQP shortstr limit.
const maxConsumerTagLength = 255

// Registration describes a consumer to register on a channel
type Registration struct {
	Queue         string
	ConsumerTag   string
	PrefetchCount int
	AutoAck       bool
}

var hostIdentity = sync.OnceValue(func() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "host-" + uuid.NewString()
})

// HostIdentity returns the host name of this process, or a random identity
// fixed for the lifetime of the process when the host name is unavailable.
func HostIdentity() string {
	return hostIdentity()
}

// ConsumerTag builds the broker-visible consumer tag host|queue|name.
func ConsumerTag(host, queue, name string) string {
	tag := strings.Join([]string{host, queue, name}, "|")
	if len(tag) <= maxConsumerTagLength {
		return tag
	}
	// Cut on a rune boundary so the tag stays valid UTF-8
	end := maxConsumerTagLength
	for end > 0 && !utf8.RuneStart(tag[end]) {
		end--
	}
	return tag[:end]
}

// Register sets the prefetch limit and then starts consuming, so the limit is
// already in effect for the first delivery. It does not wait for messages.
func Register(ch Channel, r Registration) (<-chan amqp.Delivery, error) {
	if r.PrefetchCount < 1 {
		return nil, consumerError(r, "qos", fmt.Errorf("%w: prefetch count must be positive", ErrInvalidTopology))
	}

	if err := ch.Qos(r.PrefetchCount, 0, false); err != nil {
		return nil, consumerError(r, "qos", err)
	}

	deliveries, err := ch.Consume(
		r.Queue,
		r.ConsumerTag,
		r.AutoAck,
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, consumerError(r, "consume", err)
	}

	return deliveries, nil
}

func consumerError(r Registration, op string, err error) error {
	return &ConsumerError{
		Queue:       r.Queue,
		ConsumerTag: r.ConsumerTag,
		Op:          op,
		Err:         err,
		Timestamp:   time.Now(),
	}
}
