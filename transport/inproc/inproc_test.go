package inproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.bryk.io/zbroker/broker"
	"go.bryk.io/zbroker/transport"
)

func TestInprocTransport_EndToEnd(t *testing.T) {
	b := broker.New(broker.Config{})
	t.Cleanup(func() { _ = b.Shutdown() })

	var tr transport.Transport = New(b)

	require.NoError(t, tr.DeclareExchange(nil, "ex1", broker.TopicExchangeKind, false, false, ""))
	qname, err := tr.DeclareQueue(nil, "", false, false, false, "")
	require.NoError(t, err)
	require.NotEmpty(t, qname)

	require.NoError(t, tr.Bind(nil, "ex1", qname, "a.*.c"))

	received := make(chan string, 1)
	_, err = tr.StartConsume(nil, qname, true, false, 0, func(_ broker.MethodFrame, _ broker.HeaderFrame, body []byte) {
		received <- string(body)
	})
	require.NoError(t, err)

	require.NoError(t, tr.Publish(nil, broker.Message{Exchange: "ex1", RoutingKey: "a.b.c", Body: []byte("hello")}))

	select {
	case body := <-received:
		require.Equal(t, "hello", body)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	stats, err := tr.GetStats(nil)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Exchanges)
	require.Equal(t, 1, stats.Queues)
}
