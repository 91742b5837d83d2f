// Package transport defines the narrow, polymorphic operation surface
// clients drive a broker through. Two implementations exist: "inproc"
// (transport/inproc), which delegates directly to a broker.Broker, and
// "amqpbroker" (transport/amqpbroker), which drives a real AMQP server —
// present for interface parity, not exercised by this repository's tests.
package transport

import "go.bryk.io/zbroker/broker"

// Handle is an opaque client reference. The in-process variant ignores
// it; an external-broker variant would use it as a channel/connection
// reference.
type Handle interface{}

// Transport is the uniform operation surface used by clients, matching
// the facade contract: declare/delete exchanges and queues, bind/unbind,
// publish, start/stop consuming, ack/reject, qos, purge and stats.
type Transport interface {
	DeclareExchange(h Handle, name, kind string, durable, autoDelete bool, origin string) error
	DeleteExchange(h Handle, name string) error

	DeclareQueue(h Handle, name string, durable, autoDelete, exclusive bool, origin string) (string, error)
	DeleteQueue(h Handle, name string) error

	Bind(h Handle, exchange, queue, bindingKey string) error
	Unbind(h Handle, exchange, queue, bindingKey string) error

	Publish(h Handle, msg broker.Message) error

	StartConsume(h Handle, queue string, noAck, exclusive bool, prefetch int, cb broker.Callback) (string, error)
	StopConsume(h Handle, consumerTag string) error

	Ack(h Handle, deliveryTag string) error
	Reject(h Handle, deliveryTag string, requeue bool) error

	Qos(h Handle, consumerTag string, prefetchCount int) error
	Purge(h Handle, queue string) (int, error)
	GetStats(h Handle) (broker.Stats, error)
}
