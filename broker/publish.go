package broker

// Publish enqueues msg onto the shared ingress channel for routing. It
// suspends the caller only if the ingress channel is bounded and full.
// Immediate and Mandatory are accepted on Message for interface parity
// with AMQP publish semantics and are never enforced here.
func (b *Broker) Publish(msg Message) error {
	// Held as a read lock so concurrent publishers aren't serialized;
	// Shutdown takes the write lock before closing the channel, so a
	// send here never races a close.
	b.pubMu.RLock()
	defer b.pubMu.RUnlock()
	if b.closed {
		return unknownEntity("broker is shut down")
	}
	b.ingress <- msg
	return nil
}

// ingressRouter is the single long-running worker that drains published
// messages in FIFO order and routes each into every matching queue.
func (b *Broker) ingressRouter() {
	defer b.wg.Done()
	for msg := range b.ingress {
		b.routeOnce(msg)
	}
}

// routeOnce performs one match-and-enqueue pass. Per §5, the decl lock is
// held for the whole pass — match and every enqueue — so a concurrent
// DeleteQueue+DeclareQueue on a matched queue can never swap the target out
// from under an in-flight publish: resolving the exchange, matching the
// routing key, and enqueueing into every target queue all happen under the
// same b.mu.RLock() critical section. The lock is shared (RLock), so
// concurrent publishers don't serialize against each other, only against
// decl-path writers (DeclareExchange, DeleteQueue, ...). b.done is still
// consulted on every send so Shutdown can unblock a publisher stuck on a
// full, undrained queue instead of hanging forever.
func (b *Broker) routeOnce(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ex, ok := b.exchanges[msg.Exchange]
	if !ok {
		b.recordError(unknownEntity("publish to unknown exchange %q", msg.Exchange))
		return
	}
	names := ex.trie.Match(msg.RoutingKey)
	for _, name := range names {
		q, ok := b.queues[name]
		if !ok {
			continue
		}
		select {
		case q.buf <- queueItem{msg: msg}:
		case <-b.done:
			return
		}
	}
}
