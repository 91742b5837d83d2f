package amqpbroker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.bryk.io/zbroker/internal/xlog"
	"go.bryk.io/zbroker/transport"
)

// These tests exercise only the parts of amqpbroker that don't require a
// live AMQP server: the Transport interface assertion, the delivery-tag
// bookkeeping, the GetStats consumer count, and the session's channel
// guard before connecting and after shutdown. Round-trip behavior against
// a real broker is out of reach in this environment (no server to dial).

func TestTransport_ImplementsInterface(t *testing.T) {
	var _ transport.Transport = (*Transport)(nil)
}

func TestDeliveryTagBookkeeping_RoundTrips(t *testing.T) {
	tr := &Transport{deliveryTag: make(map[string]uint64)}

	tr.rememberDelivery("zctag-1-4", 4)
	native, ok := tr.resolveDelivery("zctag-1-4")
	require.True(t, ok)
	require.Equal(t, uint64(4), native)

	_, ok = tr.resolveDelivery("zctag-1-4")
	require.False(t, ok, "resolving a tag twice should fail, mirroring single-use ack/reject semantics")
}

func TestDeliveryTagBookkeeping_UnknownTagFails(t *testing.T) {
	tr := &Transport{deliveryTag: make(map[string]uint64)}
	_, ok := tr.resolveDelivery("does-not-exist")
	require.False(t, ok)
}

func TestGetStats_ReportsActiveConsumerCount(t *testing.T) {
	tr := &Transport{consumerTag: map[string]chan struct{}{
		"zctag-a": make(chan struct{}),
		"zctag-b": make(chan struct{}),
	}}
	st, err := tr.GetStats(nil)
	require.NoError(t, err)
	require.Equal(t, 2, st.Consumers)
}

func TestSession_GetChannelFailsBeforeConnect(t *testing.T) {
	ctx, halt := context.WithCancel(context.Background())
	t.Cleanup(halt)
	s := &session{log: xlog.Discard(), ctx: ctx, halt: halt}
	_, err := s.getChannel()
	require.ErrorIs(t, err, errNotConnected)
}

func TestSession_GetChannelFailsAfterShutdown(t *testing.T) {
	ctx, halt := context.WithCancel(context.Background())
	s := &session{log: xlog.Discard(), ctx: ctx, halt: halt}
	halt()
	_, err := s.getChannel()
	require.ErrorIs(t, err, errShutdown)
}
