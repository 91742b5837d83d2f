package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := New(Config{})
	t.Cleanup(func() { _ = b.Shutdown() })
	return b
}

func declareTopicExchange(t *testing.T, b *Broker, name string) {
	t.Helper()
	require.NoError(t, b.DeclareExchange(name, TopicExchangeKind, false, false, ""))
}

func TestDeclareExchange_Idempotence(t *testing.T) {
	b := newTestBroker(t)
	declareTopicExchange(t, b, "ex1")
	require.NoError(t, b.DeclareExchange("ex1", TopicExchangeKind, false, false, ""))
	require.Equal(t, 1, b.Stats().Exchanges)

	err := b.DeclareExchange("ex1", TopicExchangeKind, true, false, "")
	require.Error(t, err)
}

func TestDeclareExchange_RejectsNonTopic(t *testing.T) {
	b := newTestBroker(t)
	err := b.DeclareExchange("ex1", "direct", false, false, "")
	require.Error(t, err)
}

func TestBindUnbind_RoundTrip(t *testing.T) {
	b := newTestBroker(t)
	declareTopicExchange(t, b, "ex1")
	_, err := b.DeclareQueue("q1", false, false, false, "")
	require.NoError(t, err)

	before := collectDeliveries(t, b, "ex1", "a.b.c", 0)

	require.NoError(t, b.Bind("ex1", "q1", "a.*.c"))
	require.NoError(t, b.Unbind("ex1", "q1", "a.*.c"))

	after := collectDeliveries(t, b, "ex1", "a.b.c", 0)
	require.Equal(t, before, after)
}

func TestDeleteQueue_CascadesBindings(t *testing.T) {
	b := newTestBroker(t)
	declareTopicExchange(t, b, "ex1")
	_, err := b.DeclareQueue("q1", false, false, false, "")
	require.NoError(t, err)
	require.NoError(t, b.Bind("ex1", "q1", "a.#"))

	require.NoError(t, b.DeleteQueue("q1"))
	require.Zero(t, collectDeliveries(t, b, "ex1", "a.b.c", 0))
	require.NoError(t, b.Publish(Message{Exchange: "ex1", RoutingKey: "a.b.c"}))

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, b.Errors())
}

func TestDeleteAndRedeclareQueue_NeverDeliversIntoOrphanedBuffer(t *testing.T) {
	b := newTestBroker(t)
	declareTopicExchange(t, b, "ex1")
	_, err := b.DeclareQueue("q1", false, false, false, "")
	require.NoError(t, err)
	require.NoError(t, b.Bind("ex1", "q1", "a.#"))

	// Delete and redeclare "q1" before publishing: DeclareQueue allocates a
	// brand-new *queue with a fresh buf channel, so this only reaches the
	// consumer below if the publish below resolves and enqueues into the
	// queue that's actually bound at delivery time rather than a stale
	// pointer captured earlier.
	require.NoError(t, b.DeleteQueue("q1"))
	_, err = b.DeclareQueue("q1", false, false, false, "")
	require.NoError(t, err)
	require.NoError(t, b.Bind("ex1", "q1", "a.#"))

	received := make(chan string, 1)
	_, err = b.StartConsume("q1", true, false, 0, func(_ MethodFrame, _ HeaderFrame, body []byte) {
		received <- string(body)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(Message{Exchange: "ex1", RoutingKey: "a.b", Body: []byte("fresh")}))

	select {
	case body := <-received:
		require.Equal(t, "fresh", body)
	case <-time.After(time.Second):
		t.Fatal("message published after redeclare never reached the new queue")
	}
}

func TestFIFOPerPublishStream(t *testing.T) {
	b := newTestBroker(t)
	declareTopicExchange(t, b, "ex1")
	_, err := b.DeclareQueue("q1", false, false, false, "")
	require.NoError(t, err)
	require.NoError(t, b.Bind("ex1", "q1", "a.#"))

	var mu sync.Mutex
	var received []string
	_, err = b.StartConsume("q1", true, false, 0, func(_ MethodFrame, _ HeaderFrame, body []byte) {
		mu.Lock()
		received = append(received, string(body))
		mu.Unlock()
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(Message{Exchange: "ex1", RoutingKey: "a.x", Body: []byte{byte('0' + i)}}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 10
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, body := range received {
		require.Equal(t, string([]byte{byte('0' + i)}), body)
	}
}

func TestAck_RemovesUnacked(t *testing.T) {
	b := newTestBroker(t)
	declareTopicExchange(t, b, "ex1")
	_, err := b.DeclareQueue("q1", false, false, false, "")
	require.NoError(t, err)
	require.NoError(t, b.Bind("ex1", "q1", "a.b.c"))

	tags := make(chan string, 1)
	_, err = b.StartConsume("q1", false, false, 0, func(method MethodFrame, _ HeaderFrame, _ []byte) {
		tags <- method.DeliveryTag
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(Message{Exchange: "ex1", RoutingKey: "a.b.c", Body: []byte("hello")}))

	var dtag string
	select {
	case dtag = <-tags:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	require.NoError(t, b.Ack(dtag))
	err = b.Ack(dtag)
	require.Error(t, err)
}

func TestRejectRequeue_PreservesContent(t *testing.T) {
	b := newTestBroker(t)
	declareTopicExchange(t, b, "ex1")
	_, err := b.DeclareQueue("q1", false, false, false, "")
	require.NoError(t, err)
	require.NoError(t, b.Bind("ex1", "q1", "a.b.c"))

	type delivery struct {
		method MethodFrame
		body   string
	}
	deliveries := make(chan delivery, 4)
	tag, err := b.StartConsume("q1", false, false, 0, func(method MethodFrame, _ HeaderFrame, body []byte) {
		deliveries <- delivery{method: method, body: string(body)}
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(Message{
		Exchange:   "ex1",
		RoutingKey: "a.b.c",
		Body:       []byte("hello"),
		Properties: map[string]interface{}{"k": "v"},
	}))

	var first delivery
	select {
	case first = <-deliveries:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first delivery")
	}
	require.Equal(t, "hello", first.body)
	require.False(t, first.method.Redelivered)

	require.NoError(t, b.Reject(first.method.DeliveryTag, true))

	var second delivery
	select {
	case second = <-deliveries:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for redelivery")
	}
	require.Equal(t, "hello", second.body)
	require.True(t, second.method.Redelivered)
	require.Equal(t, first.method.Exchange, second.method.Exchange)
	require.Equal(t, first.method.RoutingKey, second.method.RoutingKey)

	require.NoError(t, b.StopConsume(tag))
}

func TestPublishToUnknownExchange_RecordsErrorButStaysUp(t *testing.T) {
	b := newTestBroker(t)
	require.NoError(t, b.Publish(Message{Exchange: "ghost", RoutingKey: "a.b.c"}))

	require.Eventually(t, func() bool {
		return len(b.Errors()) == 1
	}, time.Second, 5*time.Millisecond)

	declareTopicExchange(t, b, "ex1")
	_, err := b.DeclareQueue("q1", false, false, false, "")
	require.NoError(t, err)
	require.NoError(t, b.Bind("ex1", "q1", "a.b.c"))
	require.NoError(t, b.Publish(Message{Exchange: "ex1", RoutingKey: "a.b.c"}))
}

func TestAckUnknownTag_Fails(t *testing.T) {
	b := newTestBroker(t)
	err := b.Ack("zctag-0-1")
	require.Error(t, err)
}

func TestDuplicateBindings_DeliverOnce(t *testing.T) {
	b := newTestBroker(t)
	declareTopicExchange(t, b, "ex1")
	_, err := b.DeclareQueue("q1", false, false, false, "")
	require.NoError(t, err)
	require.NoError(t, b.Bind("ex1", "q1", "a.#"))
	require.NoError(t, b.Bind("ex1", "q1", "#.c"))

	var count int32
	_, err = b.StartConsume("q1", true, false, 0, func(_ MethodFrame, _ HeaderFrame, _ []byte) {
		count++
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(Message{Exchange: "ex1", RoutingKey: "a.b.c"}))
	require.Eventually(t, func() bool { return count == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), count)
}

func TestPublishBeforeConsumerExists_MessageIsQueued(t *testing.T) {
	b := newTestBroker(t)
	declareTopicExchange(t, b, "ex1")
	_, err := b.DeclareQueue("q1", false, false, false, "")
	require.NoError(t, err)
	require.NoError(t, b.Bind("ex1", "q1", "a.b.c"))
	require.NoError(t, b.Publish(Message{Exchange: "ex1", RoutingKey: "a.b.c", Body: []byte("queued")}))

	received := make(chan string, 1)
	_, err = b.StartConsume("q1", true, false, 0, func(_ MethodFrame, _ HeaderFrame, body []byte) {
		received <- string(body)
	})
	require.NoError(t, err)

	select {
	case body := <-received:
		require.Equal(t, "queued", body)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued message")
	}
}

func TestQos_ConcurrentResizeDuringDeliveryAndAck(t *testing.T) {
	b := newTestBroker(t)
	declareTopicExchange(t, b, "ex1")
	_, err := b.DeclareQueue("q1", false, false, false, "")
	require.NoError(t, err)
	require.NoError(t, b.Bind("ex1", "q1", "a"))

	tags := make(chan string, 64)
	tag, err := b.StartConsume("q1", false, false, 2, func(m MethodFrame, _ HeaderFrame, _ []byte) {
		tags <- m.DeliveryTag
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = b.Publish(Message{Exchange: "ex1", RoutingKey: "a", Body: []byte("x")})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = b.Qos(tag, (i%3)+1)
		}
	}()

	acked := 0
	timeout := time.After(2 * time.Second)
	for acked < 50 {
		select {
		case dtag := <-tags:
			_ = b.Ack(dtag)
			acked++
		case <-timeout:
			t.Fatalf("only observed %d/%d deliveries before timeout", acked, 50)
		}
	}
	wg.Wait()
}

// collectDeliveries returns the size of the exchange trie's match set for
// routingKey, read directly from the trie without publishing anything —
// used to assert the effective match set is unchanged across a
// bind/unbind round trip (invariant 2) and empty after a queue delete.
func collectDeliveries(t *testing.T, b *Broker, exchangeName, routingKey string, _ int) int {
	t.Helper()
	b.mu.RLock()
	ex, ok := b.exchanges[exchangeName]
	b.mu.RUnlock()
	require.True(t, ok)
	return len(ex.trie.Match(routingKey))
}
