package broker

import (
	"fmt"
	"time"

	"go.bryk.io/zbroker/internal/brokerr"
)

// stopConsumeJoinTimeout bounds how long StopConsume waits for a worker to
// exit gracefully before giving up on it (reference value from the
// original design: 5 seconds).
const stopConsumeJoinTimeout = 5 * time.Second

// StartConsume registers cb as the callback for queue and spawns its
// dedicated worker goroutine. prefetch <= 0 means no local cap on
// outstanding unacked deliveries. Lock order: L_cons is acquired first,
// then L_decl to verify the queue exists, matching the rest of the
// package.
func (b *Broker) StartConsume(queueName string, noAck, exclusive bool, prefetch int, cb Callback) (string, error) {
	if cb == nil {
		return "", brokerr.New(brokerr.UnknownEntity, "start_consume: callback is required")
	}

	b.consMu.Lock()
	defer b.consMu.Unlock()

	b.mu.RLock()
	q, ok := b.queues[queueName]
	b.mu.RUnlock()
	if !ok {
		return "", unknownEntity("queue %q not declared", queueName)
	}

	existing := b.consumersByQueue[queueName]
	if exclusive && len(existing) > 0 {
		return "", declareConflict("queue %q already has active consumers", queueName)
	}
	for _, c := range existing {
		if c.exclusive {
			return "", declareConflict("queue %q has an exclusive consumer", queueName)
		}
	}

	c := &consumer{
		tag:       b.ctags.acquire(),
		queue:     queueName,
		noAck:     noAck,
		exclusive: exclusive,
		callback:  cb,
		done:      make(chan struct{}),
	}
	c.resize(prefetch)
	b.consumers[c.tag] = c
	b.consumersByQueue[queueName] = append(b.consumersByQueue[queueName], c)

	b.wg.Add(1)
	go b.runConsumerWorker(c, q)
	return c.tag, nil
}

// StopConsume cancels the consumer identified by tag: it enqueues a close
// sentinel on the owning queue, waits up to stopConsumeJoinTimeout for the
// worker to exit, and releases the consumer tag back to the pool
// regardless of whether the wait timed out.
func (b *Broker) StopConsume(tag string) error {
	b.consMu.Lock()
	c, ok := b.consumers[tag]
	if !ok {
		b.consMu.Unlock()
		return unknownEntity("unknown consumer tag %q", tag)
	}
	delete(b.consumers, tag)
	b.consumersByQueue[c.queue] = removeConsumer(b.consumersByQueue[c.queue], c)
	b.consMu.Unlock()

	b.mu.RLock()
	q, ok := b.queues[c.queue]
	b.mu.RUnlock()
	if ok {
		select {
		case q.buf <- queueItem{closeSentinel: true}:
		case <-time.After(stopConsumeJoinTimeout):
			b.log.Warningf("consumer %s: queue %q buffer full, giving up on graceful stop", tag, c.queue)
		}
	}

	select {
	case <-c.done:
	case <-time.After(stopConsumeJoinTimeout):
		b.log.Warningf("consumer %s: worker did not exit within %s, abandoning it", tag, stopConsumeJoinTimeout)
	}

	b.consMu.Lock()
	b.ctags.release(tag)
	b.consMu.Unlock()
	return nil
}

func removeConsumer(list []*consumer, target *consumer) []*consumer {
	for i, c := range list {
		if c == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// runConsumerWorker loops on q's shared buffer until it receives the close
// sentinel. Multiple consumers on the same queue drain it competitively:
// the spec commits to competitive consumption, so which worker receives
// any given item — including the close sentinel meant for a specific
// consumer — is unspecified when more than one consumer is active.
func (b *Broker) runConsumerWorker(c *consumer, q *queue) {
	defer b.wg.Done()
	defer close(c.done)

	for item := range q.buf {
		if item.closeSentinel {
			return
		}
		b.deliver(c, item)
	}
}

func (b *Broker) deliver(c *consumer, item queueItem) {
	// Prefetch only bounds outstanding unacked deliveries; a no_ack
	// consumer never has any, so it never waits on the semaphore. The
	// current semaphore is read under semMu since Qos can resize it
	// concurrently from another goroutine; the acquire itself (a possibly
	// blocking send) happens outside that lock.
	if sem := c.currentSem(); !c.noAck && sem != nil {
		sem <- struct{}{}
	}

	c.counter++
	dtag := fmt.Sprintf("%s-%d", c.tag, c.counter)

	if !c.noAck {
		b.unackMu.Lock()
		b.unacked[dtag] = &unackedEntry{consumer: c, queue: c.queue, msg: item.msg}
		b.unackMu.Unlock()
	}

	method := MethodFrame{
		ConsumerTag: c.tag,
		Redelivered: item.redelivered,
		Exchange:    item.msg.Exchange,
		RoutingKey:  item.msg.RoutingKey,
		DeliveryTag: dtag,
	}
	header := HeaderFrame{Headers: copyProperties(item.msg.Properties)}
	b.invokeCallback(c, method, header, item.msg.Body)
}

// invokeCallback never lets a panicking or otherwise failing user callback
// take the worker down with it.
func (b *Broker) invokeCallback(c *consumer, method MethodFrame, header HeaderFrame, body []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("consumer %s: callback panicked: %v", c.tag, r)
		}
	}()
	c.callback(method, header, body)
}

func copyProperties(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// releaseSlot frees one prefetch slot for the consumer that owned entry,
// if it uses a bounded prefetch. The semaphore reference is read under
// semMu since Qos can swap it concurrently; if a resize raced with this
// delivery's acquire, the slot may be released against a sem that already
// moved on, which is the accepted cost of resizing prefetch live rather
// than serializing it against in-flight deliveries.
func releaseSlot(entry *unackedEntry) {
	if entry.consumer == nil {
		return
	}
	if sem := entry.consumer.currentSem(); sem != nil {
		select {
		case <-sem:
		default:
		}
	}
}

// Ack removes delivery_tag from the unacked table. A second ack of the
// same tag fails with UnknownEntity.
func (b *Broker) Ack(deliveryTag string) error {
	b.unackMu.Lock()
	entry, ok := b.unacked[deliveryTag]
	if !ok {
		b.unackMu.Unlock()
		return unknownEntity("unknown delivery tag %q", deliveryTag)
	}
	delete(b.unacked, deliveryTag)
	b.unackMu.Unlock()

	releaseSlot(entry)
	return nil
}

// Reject removes delivery_tag from the unacked table and, if requeue is
// set, appends the original message to the tail of its queue's buffer
// with Redelivered set. Requeue-to-head is not provided.
func (b *Broker) Reject(deliveryTag string, requeue bool) error {
	b.unackMu.Lock()
	entry, ok := b.unacked[deliveryTag]
	if !ok {
		b.unackMu.Unlock()
		return unknownEntity("unknown delivery tag %q", deliveryTag)
	}
	delete(b.unacked, deliveryTag)
	b.unackMu.Unlock()

	releaseSlot(entry)

	if !requeue {
		return nil
	}

	b.mu.RLock()
	q, ok := b.queues[entry.queue]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case q.buf <- queueItem{msg: entry.msg, redelivered: true}:
	case <-b.done:
	}
	return nil
}

// Qos updates the local prefetch cap for an active consumer: it will not
// hold more than count outstanding unacked deliveries before blocking on
// its next dequeue. count <= 0 removes the cap. There is no network
// credit protocol to drive here — this is a direct in-process analogue of
// AMQP prefetch, not the wire feature itself.
func (b *Broker) Qos(consumerTag string, count int) error {
	b.consMu.Lock()
	c, ok := b.consumers[consumerTag]
	b.consMu.Unlock()
	if !ok {
		return unknownEntity("unknown consumer tag %q", consumerTag)
	}
	c.resize(count)
	return nil
}
