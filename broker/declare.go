package broker

import (
	"go.bryk.io/zbroker/internal/brokerr"
	"go.bryk.io/zbroker/topictrie"
)

// TopicExchangeKind is the only exchange type this broker implements.
// Declaring any other kind fails with UnsupportedType.
const TopicExchangeKind = "topic"

// DeclareExchange creates a topic exchange if absent. A second declare
// with identical attributes is a no-op; one with differing attributes
// fails with DeclareConflict.
func (b *Broker) DeclareExchange(name, kind string, durable, autoDelete bool, origin string) error {
	if kind != TopicExchangeKind {
		return brokerr.New(brokerr.UnsupportedType, "exchange %q: unsupported type %q", name, kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.exchanges[name]; ok {
		if existing.kind != kind || existing.durable != durable || existing.autoDelete != autoDelete {
			return declareConflict("exchange %q already declared with different attributes", name)
		}
		return nil
	}
	b.exchanges[name] = &exchange{
		name:       name,
		kind:       kind,
		durable:    durable,
		autoDelete: autoDelete,
		origin:     origin,
		trie:       topictrie.New(),
	}
	return nil
}

// DeleteExchange removes an exchange and its trie. Bindings recorded
// against it in queues' reverse indexes become stale; a later publish to
// the deleted name is accepted by Publish, and the ingress router records
// an UnknownEntity error for it (see Errors).
func (b *Broker) DeleteExchange(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.exchanges[name]; !ok {
		return unknownEntity("exchange %q not declared", name)
	}
	delete(b.exchanges, name)
	return nil
}

// DeclareQueue creates a queue if absent, minting a name of the form
// "q-<random>" when name is empty, and returns the (possibly minted)
// name. A second declare with identical attributes against an existing
// queue is a no-op; differing attributes fail with DeclareConflict.
func (b *Broker) DeclareQueue(name string, durable, autoDelete, exclusive bool, origin string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if name == "" {
		name = mintQueueName(func(candidate string) bool {
			_, taken := b.queues[candidate]
			return taken
		})
	}

	if existing, ok := b.queues[name]; ok {
		if existing.durable != durable || existing.autoDelete != autoDelete || existing.exclusive != exclusive {
			return name, declareConflict("queue %q already declared with different attributes", name)
		}
		return name, nil
	}

	b.queues[name] = &queue{
		name:       name,
		origin:     origin,
		durable:    durable,
		autoDelete: autoDelete,
		exclusive:  exclusive,
		buf:        make(chan queueItem, b.cfg.QueueBufferSize),
	}
	return name, nil
}

// DeleteQueue removes a queue and cascades removal of every binding it
// held, across every exchange that still exists. Active consumers on the
// queue are not auto-cancelled; callers must stop them first.
func (b *Broker) DeleteQueue(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return unknownEntity("queue %q not declared", name)
	}
	for _, bound := range q.bindings {
		if ex, ok := b.exchanges[bound.exchange]; ok {
			ex.trie.Remove(bound.bindingKey, name)
		}
	}
	delete(b.queues, name)
	return nil
}

// Bind attaches queue to exchange under bindingKey. Both must already
// exist.
func (b *Broker) Bind(exchangeName, queueName, bindingKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return unknownEntity("exchange %q not declared", exchangeName)
	}
	q, ok := b.queues[queueName]
	if !ok {
		return unknownEntity("queue %q not declared", queueName)
	}
	ex.trie.Add(bindingKey, queueName)
	q.bindings = append(q.bindings, queueBinding{exchange: exchangeName, bindingKey: bindingKey})
	return nil
}

// Unbind detaches queue from exchange under bindingKey. Both must already
// exist; a binding that was never added is simply not found and removed
// as a no-op in the reverse index.
func (b *Broker) Unbind(exchangeName, queueName, bindingKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchanges[exchangeName]
	if !ok {
		return unknownEntity("exchange %q not declared", exchangeName)
	}
	q, ok := b.queues[queueName]
	if !ok {
		return unknownEntity("queue %q not declared", queueName)
	}
	ex.trie.Remove(bindingKey, queueName)
	for i, bound := range q.bindings {
		if bound.exchange == exchangeName && bound.bindingKey == bindingKey {
			q.bindings = append(q.bindings[:i], q.bindings[i+1:]...)
			break
		}
	}
	return nil
}

// Purge drains queue's pending buffer without touching its bindings or
// consumers, returning the number of messages discarded.
func (b *Broker) Purge(name string) (int, error) {
	b.mu.RLock()
	q, ok := b.queues[name]
	b.mu.RUnlock()
	if !ok {
		return 0, unknownEntity("queue %q not declared", name)
	}

	var n int
drain:
	for {
		select {
		case <-q.buf:
			n++
		default:
			break drain
		}
	}
	return n, nil
}
