// Package amqpbroker is the external-broker counterpart to transport/inproc:
// it satisfies transport.Transport by driving a real AMQP 0-9-1 server
// through github.com/rabbitmq/amqp091-go rather than routing messages
// in-process. It exists for interface parity and is adapted from the
// teacher's session/connection-lifecycle code; its publish-confirm/
// message-return reliability layer and RPC/dispatcher subsystem are not
// ported (see DESIGN.md).
package amqpbroker
