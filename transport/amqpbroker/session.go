// Package amqpbroker implements the external-broker transport.Transport
// variant: it drives a real AMQP server instead of the in-process broker,
// translating the same operation surface into driver calls against
// github.com/rabbitmq/amqp091-go. Present for interface parity with
// transport/inproc (spec §4.3/§6); not exercised by this repository's
// tests, since no broker process is available in this environment.
package amqpbroker

import (
	"context"
	"sync"
	"time"

	driver "github.com/rabbitmq/amqp091-go"

	"github.com/pkg/errors"
	"go.bryk.io/zbroker/config"
	"go.bryk.io/zbroker/internal/xlog"
)

const (
	// reconnectDelay is how long to wait between reconnection attempts
	// after a connection failure.
	reconnectDelay = 3 * time.Second
)

var (
	errShutdown      = errors.New("session is shutting down")
	errNotConnected  = errors.New("not connected to a server")
	errAlreadyClosed = errors.New("session is already closed")
)

// session owns a connection and channel to an AMQP server, with automatic
// reconnection and topology bootstrap, adapted from the teacher's
// connection-lifecycle shape but without its publish-confirm bookkeeping
// (this variant doesn't implement reliable publish).
type session struct {
	addr     string
	topology config.Topology
	log      xlog.Logger

	mu      sync.RWMutex
	conn    *driver.Connection
	channel *driver.Channel
	ready   bool

	notifyConnClose chan *driver.Error
	notifyChanClose chan *driver.Error

	ctx  context.Context
	halt context.CancelFunc
	wg   sync.WaitGroup
}

// Option adjusts session construction, following the same functional
// pattern used across the rest of this module.
type Option func(*session)

// WithLogger sets the internal logger used for connection diagnostics.
func WithLogger(l xlog.Logger) Option {
	return func(s *session) { s.log = l }
}

// WithTopology declares a topology to bootstrap every time the session
// (re)connects.
func WithTopology(t config.Topology) Option {
	return func(s *session) { s.topology = t }
}

func open(addr string, opts ...Option) (*session, error) {
	ctx, halt := context.WithCancel(context.Background())
	s := &session{
		addr: addr,
		log:  xlog.Discard(),
		ctx:  ctx,
		halt: halt,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.connect(); err != nil {
		halt()
		return nil, err
	}
	s.wg.Add(1)
	go s.eventLoop()
	return s, nil
}

func (s *session) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *session) connect() error {
	conn, err := driver.Dial(s.addr)
	if err != nil {
		return errors.Wrap(err, "dial amqp server")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "open channel")
	}

	s.mu.Lock()
	s.conn = conn
	s.channel = ch
	s.notifyConnClose = make(chan *driver.Error)
	s.notifyChanClose = make(chan *driver.Error)
	s.conn.NotifyClose(s.notifyConnClose)
	s.channel.NotifyClose(s.notifyChanClose)
	s.ready = true
	s.mu.Unlock()

	if err := loadTopology(ch, s.topology); err != nil {
		return errors.Wrap(err, "load topology")
	}
	s.log.Info("connected and ready")
	return nil
}

func (s *session) eventLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case _, ok := <-s.notifyConnClose:
			if !ok {
				return
			}
			s.reconnectLoop()
		case _, ok := <-s.notifyChanClose:
			if !ok {
				return
			}
			s.reconnectLoop()
		}
	}
}

func (s *session) reconnectLoop() {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
	s.log.Warning("connection lost, attempting to reconnect")

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		if err := s.connect(); err != nil {
			s.log.Warningf("reconnect failed: %v", err)
			select {
			case <-time.After(reconnectDelay):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		return
	}
}

func (s *session) getChannel() (*driver.Channel, error) {
	select {
	case <-s.ctx.Done():
		return nil, errShutdown
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready || s.channel == nil {
		return nil, errNotConnected
	}
	return s.channel, nil
}

func (s *session) close() error {
	if !s.isReady() {
		return errAlreadyClosed
	}
	s.halt()
	s.mu.Lock()
	ch, conn := s.channel, s.conn
	s.ready = false
	s.mu.Unlock()

	s.wg.Wait()
	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func loadTopology(ch *driver.Channel, t config.Topology) error {
	for _, ex := range t.Exchanges {
		if err := declareExchange(ch, ex); err != nil {
			return err
		}
	}
	for _, q := range t.Queues {
		if _, err := declareQueue(ch, q); err != nil {
			return err
		}
	}
	for _, b := range t.Bindings {
		if err := declareBinding(ch, b); err != nil {
			return err
		}
	}
	return nil
}

func declareExchange(ch *driver.Channel, ex config.Exchange) error {
	return ch.ExchangeDeclare(ex.Name, ex.Kind, ex.Durable, ex.AutoDelete, false, false, nil)
}

func declareQueue(ch *driver.Channel, q config.Queue) (string, error) {
	decl, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, q.Exclusive, false, nil)
	if err != nil {
		return "", err
	}
	return decl.Name, nil
}

func declareBinding(ch *driver.Channel, b config.Binding) error {
	keys := b.RoutingKey
	if len(keys) == 0 {
		keys = []string{""}
	}
	for _, key := range keys {
		if err := ch.QueueBind(b.Queue, key, b.Exchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}
