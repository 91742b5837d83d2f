// Package broker implements the in-process message-routing core: topic
// exchanges, queues, bindings, consumers and the unacked-delivery table
// described for a self-contained broker that never talks to an external
// message server.
package broker

import (
	"sync"

	"go.bryk.io/zbroker/internal/xlog"
	"go.bryk.io/zbroker/topictrie"
)

// Message is the unit of data routed by the broker: an exchange/routing-key
// pair, an opaque body, and a shallow property map that round-trips
// unchanged through publish/deliver/requeue.
type Message struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Properties map[string]interface{}

	// Immediate and Mandatory are accepted for interface parity with AMQP
	// publish semantics but are never enforced by this broker.
	Immediate bool
	Mandatory bool
}

// MethodFrame accompanies every delivery, describing where the message came
// from and how to acknowledge it.
type MethodFrame struct {
	ConsumerTag string
	Redelivered bool
	Exchange    string
	RoutingKey  string
	DeliveryTag string
}

// HeaderFrame carries a shallow copy of the message's properties at the
// moment of delivery.
type HeaderFrame struct {
	Headers map[string]interface{}
}

// Callback is invoked by a consumer worker for every delivered message. A
// panic raised by the callback is recovered and logged by the worker,
// which keeps running. Callbacks of different consumers may run
// concurrently.
type Callback func(method MethodFrame, header HeaderFrame, body []byte)

// exchange owns a topic trie whose stored patterns are queue names.
type exchange struct {
	name       string
	kind       string
	durable    bool
	autoDelete bool
	origin     string
	trie       *topictrie.Trie
}

// queueBinding records one (exchange, binding_key) pair a queue is attached
// to, kept for cascade cleanup on queue deletion.
type queueBinding struct {
	exchange   string
	bindingKey string
}

// queue is an ordered FIFO buffer of pending messages plus the bookkeeping
// needed to cascade-delete its bindings.
type queue struct {
	name       string
	origin     string
	durable    bool
	autoDelete bool
	exclusive  bool

	buf      chan queueItem
	bindings []queueBinding
}

// queueItem is either a routed message or the sentinel that tells a
// consumer worker to stop.
type queueItem struct {
	closeSentinel bool
	msg           Message
	redelivered   bool
}

// consumer is one active subscription on a queue.
type consumer struct {
	tag       string
	queue     string
	noAck     bool
	exclusive bool
	callback  Callback
	done      chan struct{}
	counter   uint64

	// semMu guards prefetch and sem: Qos can resize both from any caller's
	// goroutine while the consumer worker (deliver) and Ack/Reject
	// (releaseSlot) touch them concurrently from their own goroutines. This
	// is the same L_cons-adjacent guarantee §5 asks for on consumer-registry
	// fields, scoped to this consumer instead of the whole map.
	semMu sync.Mutex
	// prefetch is the configured local cap on outstanding unacked
	// deliveries; <= 0 means no cap.
	prefetch int
	// sem bounds outstanding unacked deliveries to prefetch slots. nil
	// means no cap.
	sem chan struct{}
}

// currentSem returns the consumer's current prefetch semaphore, if any,
// synchronized against a concurrent Qos resize.
func (c *consumer) currentSem() chan struct{} {
	c.semMu.Lock()
	defer c.semMu.Unlock()
	return c.sem
}

// resize replaces the consumer's prefetch cap, synchronized against
// concurrent reads from deliver/releaseSlot.
func (c *consumer) resize(count int) {
	c.semMu.Lock()
	defer c.semMu.Unlock()
	c.prefetch = count
	if count > 0 {
		c.sem = make(chan struct{}, count)
	} else {
		c.sem = nil
	}
}

// unackedEntry is a delivered-but-not-yet-acknowledged message.
type unackedEntry struct {
	consumer *consumer
	queue    string
	msg      Message
}

// Stats is a point-in-time snapshot of broker occupancy, used for
// diagnostics; it is never persisted.
type Stats struct {
	Exchanges        int
	Queues           int
	Consumers        int
	UnackedTotal     int
	QueueDepth       map[string]int
	ConsumersByQueue map[string]int
}

// loggerOrDiscard returns l, or a no-op logger when l is nil.
func loggerOrDiscard(l xlog.Logger) xlog.Logger {
	if l == nil {
		return xlog.Discard()
	}
	return l
}
