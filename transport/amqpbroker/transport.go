package amqpbroker

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	driver "github.com/rabbitmq/amqp091-go"

	"go.bryk.io/zbroker/broker"
	"go.bryk.io/zbroker/config"
	"go.bryk.io/zbroker/internal/brokerr"
	"go.bryk.io/zbroker/transport"
)

// Transport drives a real AMQP server through github.com/rabbitmq/amqp091-go,
// implementing the same operation surface as transport/inproc so a caller can
// swap a local broker.Broker for an external one without touching call sites.
// It intentionally doesn't port the teacher's publish-confirm/message-return
// reliability machinery or its RPC/dispatcher subsystem — see DESIGN.md.
type Transport struct {
	s *session

	tagsMu      sync.Mutex
	consumerTag map[string]chan struct{} // consumer tag -> stop signal

	deliveryMu  sync.Mutex
	deliveryTag map[string]uint64 // delivery tag string -> driver's native uint64 tag
}

var _ transport.Transport = (*Transport)(nil)

// Dial opens a connection to addr and returns a ready-to-use Transport. The
// topology, if any, is declared immediately and redeclared on every
// automatic reconnect.
func Dial(addr string, opts ...Option) (*Transport, error) {
	s, err := open(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Transport{
		s:           s,
		consumerTag: make(map[string]chan struct{}),
		deliveryTag: make(map[string]uint64),
	}, nil
}

// Close tears down the underlying connection. It is not part of the
// transport.Transport interface, which has no lifecycle operation of its
// own; callers that own a Transport built with Dial should call this when
// done with it.
func (t *Transport) Close() error {
	return t.s.close()
}

func (t *Transport) DeclareExchange(_ transport.Handle, name, kind string, durable, autoDelete bool, _ string) error {
	ch, err := t.s.getChannel()
	if err != nil {
		return brokerr.Wrap(brokerr.TransportFailure, err)
	}
	return declareExchange(ch, config.Exchange{Name: name, Kind: kind, Durable: durable, AutoDelete: autoDelete})
}

func (t *Transport) DeleteExchange(_ transport.Handle, name string) error {
	ch, err := t.s.getChannel()
	if err != nil {
		return brokerr.Wrap(brokerr.TransportFailure, err)
	}
	return ch.ExchangeDelete(name, false, false)
}

func (t *Transport) DeclareQueue(_ transport.Handle, name string, durable, autoDelete, exclusive bool, _ string) (string, error) {
	ch, err := t.s.getChannel()
	if err != nil {
		return "", brokerr.Wrap(brokerr.TransportFailure, err)
	}
	return declareQueue(ch, config.Queue{Name: name, Durable: durable, AutoDelete: autoDelete, Exclusive: exclusive})
}

func (t *Transport) DeleteQueue(_ transport.Handle, name string) error {
	ch, err := t.s.getChannel()
	if err != nil {
		return brokerr.Wrap(brokerr.TransportFailure, err)
	}
	_, err = ch.QueueDelete(name, false, false, false)
	return err
}

func (t *Transport) Bind(_ transport.Handle, exchangeName, queueName, bindingKey string) error {
	ch, err := t.s.getChannel()
	if err != nil {
		return brokerr.Wrap(brokerr.TransportFailure, err)
	}
	return ch.QueueBind(queueName, bindingKey, exchangeName, false, nil)
}

func (t *Transport) Unbind(_ transport.Handle, exchangeName, queueName, bindingKey string) error {
	ch, err := t.s.getChannel()
	if err != nil {
		return brokerr.Wrap(brokerr.TransportFailure, err)
	}
	return ch.QueueUnbind(queueName, bindingKey, exchangeName, nil)
}

func (t *Transport) Purge(_ transport.Handle, name string) (int, error) {
	ch, err := t.s.getChannel()
	if err != nil {
		return 0, brokerr.Wrap(brokerr.TransportFailure, err)
	}
	return ch.QueuePurge(name, false)
}

// Publish assigns a message id grounded on the teacher's Producer.Message
// pattern (amqp/producer.go), using github.com/google/uuid, when the caller
// hasn't already set one via Properties["message_id"].
func (t *Transport) Publish(_ transport.Handle, msg broker.Message) error {
	ch, err := t.s.getChannel()
	if err != nil {
		return brokerr.Wrap(brokerr.TransportFailure, err)
	}

	msgID := ""
	if v, ok := msg.Properties["message_id"]; ok {
		if s, ok := v.(string); ok {
			msgID = s
		}
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}

	headers := driver.Table{}
	for k, v := range msg.Properties {
		headers[k] = v
	}

	return ch.Publish(msg.Exchange, msg.RoutingKey, msg.Mandatory, msg.Immediate, driver.Publishing{
		MessageId: msgID,
		Body:      msg.Body,
		Headers:   headers,
	})
}

func (t *Transport) StartConsume(_ transport.Handle, queueName string, noAck, exclusive bool, prefetch int, cb broker.Callback) (string, error) {
	ch, err := t.s.getChannel()
	if err != nil {
		return "", brokerr.Wrap(brokerr.TransportFailure, err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return "", brokerr.Wrap(brokerr.TransportFailure, err)
		}
	}

	tag := fmt.Sprintf("zctag-%s", uuid.NewString())
	deliveries, err := ch.Consume(queueName, tag, noAck, exclusive, false, false, nil)
	if err != nil {
		return "", brokerr.Wrap(brokerr.TransportFailure, err)
	}

	stop := make(chan struct{})
	t.tagsMu.Lock()
	t.consumerTag[tag] = stop
	t.tagsMu.Unlock()

	go func() {
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				method := broker.MethodFrame{
					ConsumerTag: tag,
					Redelivered: d.Redelivered,
					Exchange:    d.Exchange,
					RoutingKey:  d.RoutingKey,
					DeliveryTag: fmt.Sprintf("%s-%d", tag, d.DeliveryTag),
				}
				header := broker.HeaderFrame{Headers: map[string]interface{}(d.Headers)}
				t.rememberDelivery(method.DeliveryTag, d.DeliveryTag)
				cb(method, header, d.Body)
			case <-stop:
				return
			}
		}
	}()

	return tag, nil
}

func (t *Transport) StopConsume(_ transport.Handle, tag string) error {
	ch, err := t.s.getChannel()
	if err != nil {
		return brokerr.Wrap(brokerr.TransportFailure, err)
	}
	t.tagsMu.Lock()
	if stop, ok := t.consumerTag[tag]; ok {
		close(stop)
		delete(t.consumerTag, tag)
	}
	t.tagsMu.Unlock()
	return ch.Cancel(tag, false)
}

// rememberDelivery records the mapping from the opaque DeliveryTag string
// handed to callers back to the driver's native uint64 tag, since the
// transport.Transport interface deals in opaque strings but the wire
// protocol acks/rejects by integer.
func (t *Transport) rememberDelivery(tag string, native uint64) {
	t.deliveryMu.Lock()
	t.deliveryTag[tag] = native
	t.deliveryMu.Unlock()
}

func (t *Transport) resolveDelivery(tag string) (uint64, bool) {
	t.deliveryMu.Lock()
	defer t.deliveryMu.Unlock()
	native, ok := t.deliveryTag[tag]
	if ok {
		delete(t.deliveryTag, tag)
	}
	return native, ok
}

func (t *Transport) Ack(_ transport.Handle, deliveryTag string) error {
	ch, err := t.s.getChannel()
	if err != nil {
		return brokerr.Wrap(brokerr.TransportFailure, err)
	}
	native, ok := t.resolveDelivery(deliveryTag)
	if !ok {
		return brokerr.New(brokerr.UnknownEntity, "delivery tag %q not found", deliveryTag)
	}
	return ch.Ack(native, false)
}

func (t *Transport) Reject(_ transport.Handle, deliveryTag string, requeue bool) error {
	ch, err := t.s.getChannel()
	if err != nil {
		return brokerr.Wrap(brokerr.TransportFailure, err)
	}
	native, ok := t.resolveDelivery(deliveryTag)
	if !ok {
		return brokerr.New(brokerr.UnknownEntity, "delivery tag %q not found", deliveryTag)
	}
	return ch.Reject(native, requeue)
}

func (t *Transport) Qos(_ transport.Handle, _ string, count int) error {
	ch, err := t.s.getChannel()
	if err != nil {
		return brokerr.Wrap(brokerr.TransportFailure, err)
	}
	return ch.Qos(count, 0, false)
}

// GetStats returns a best-effort snapshot. AMQP091 exposes no server-wide
// introspection call equivalent to the in-process broker's Stats, so this
// reports only what's locally known: active consumer subscriptions.
func (t *Transport) GetStats(_ transport.Handle) (broker.Stats, error) {
	t.tagsMu.Lock()
	defer t.tagsMu.Unlock()
	return broker.Stats{
		Consumers: len(t.consumerTag),
	}, nil
}
