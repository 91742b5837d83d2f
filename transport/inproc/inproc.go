// Package inproc implements the in-process transport.Transport variant: a
// thin, stateless adapter that delegates every operation straight to a
// broker.Broker. The client handle is ignored, since there is no
// channel/connection concept to multiplex over.
package inproc

import (
	"go.bryk.io/zbroker/broker"
	"go.bryk.io/zbroker/transport"
)

// Transport adapts a broker.Broker to the transport.Transport interface.
type Transport struct {
	b *broker.Broker
}

// New returns a Transport driving b.
func New(b *broker.Broker) *Transport {
	return &Transport{b: b}
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) DeclareExchange(_ transport.Handle, name, kind string, durable, autoDelete bool, origin string) error {
	return t.b.DeclareExchange(name, kind, durable, autoDelete, origin)
}

func (t *Transport) DeleteExchange(_ transport.Handle, name string) error {
	return t.b.DeleteExchange(name)
}

func (t *Transport) DeclareQueue(_ transport.Handle, name string, durable, autoDelete, exclusive bool, origin string) (string, error) {
	return t.b.DeclareQueue(name, durable, autoDelete, exclusive, origin)
}

func (t *Transport) DeleteQueue(_ transport.Handle, name string) error {
	return t.b.DeleteQueue(name)
}

func (t *Transport) Bind(_ transport.Handle, exchange, queue, bindingKey string) error {
	return t.b.Bind(exchange, queue, bindingKey)
}

func (t *Transport) Unbind(_ transport.Handle, exchange, queue, bindingKey string) error {
	return t.b.Unbind(exchange, queue, bindingKey)
}

func (t *Transport) Publish(_ transport.Handle, msg broker.Message) error {
	return t.b.Publish(msg)
}

func (t *Transport) StartConsume(_ transport.Handle, queue string, noAck, exclusive bool, prefetch int, cb broker.Callback) (string, error) {
	return t.b.StartConsume(queue, noAck, exclusive, prefetch, cb)
}

func (t *Transport) StopConsume(_ transport.Handle, consumerTag string) error {
	return t.b.StopConsume(consumerTag)
}

func (t *Transport) Ack(_ transport.Handle, deliveryTag string) error {
	return t.b.Ack(deliveryTag)
}

func (t *Transport) Reject(_ transport.Handle, deliveryTag string, requeue bool) error {
	return t.b.Reject(deliveryTag, requeue)
}

func (t *Transport) Qos(_ transport.Handle, consumerTag string, prefetchCount int) error {
	return t.b.Qos(consumerTag, prefetchCount)
}

func (t *Transport) Purge(_ transport.Handle, queue string) (int, error) {
	return t.b.Purge(queue)
}

func (t *Transport) GetStats(_ transport.Handle) (broker.Stats, error) {
	return t.b.Stats(), nil
}
