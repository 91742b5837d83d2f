package broker

import (
	"sync"

	"go.bryk.io/zbroker/internal/brokerr"
	"go.bryk.io/zbroker/internal/xlog"
)

// Config adjusts the behavior of a Broker instance. Use the functional
// options in the sibling "config" package to build one, or populate it
// directly.
type Config struct {
	// Logger receives structured diagnostics. Defaults to a discarding
	// logger when nil.
	Logger xlog.Logger

	// IngressBufferSize bounds how many published messages may sit in the
	// ingress channel before Publish blocks the caller.
	IngressBufferSize int

	// QueueBufferSize bounds the FIFO buffer allocated for each declared
	// queue.
	QueueBufferSize int
}

func (c Config) withDefaults() Config {
	if c.IngressBufferSize <= 0 {
		c.IngressBufferSize = 256
	}
	if c.QueueBufferSize <= 0 {
		c.QueueBufferSize = 1024
	}
	return c
}

// Broker is a first-class, independently instantiable in-process message
// router. It is never a hidden singleton: callers create as many as they
// need and drive each through its own Transport facade.
type Broker struct {
	log xlog.Logger
	cfg Config

	mu        sync.RWMutex // L_decl
	exchanges map[string]*exchange
	queues    map[string]*queue

	consMu           sync.Mutex // L_cons
	consumers        map[string]*consumer
	consumersByQueue map[string][]*consumer
	ctags            ctagPool

	unackMu sync.Mutex // L_unack
	unacked map[string]*unackedEntry

	ingress   chan Message
	pubMu     sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	errs  []error

	wg sync.WaitGroup
}

// New creates a ready-to-use Broker. The returned instance owns a
// background ingress worker goroutine; call Shutdown when it's no longer
// needed.
func New(cfg Config) *Broker {
	cfg = cfg.withDefaults()
	b := &Broker{
		log:              loggerOrDiscard(cfg.Logger),
		cfg:              cfg,
		exchanges:        make(map[string]*exchange),
		queues:           make(map[string]*queue),
		consumers:        make(map[string]*consumer),
		consumersByQueue: make(map[string][]*consumer),
		unacked:          make(map[string]*unackedEntry),
		ingress:          make(chan Message, cfg.IngressBufferSize),
		done:             make(chan struct{}),
	}
	b.wg.Add(1)
	go b.ingressRouter()
	return b
}

// recordError appends err to the broker's routing-error collection.
// Routing-path failures (an unknown exchange at delivery time) never reach
// a caller directly; they accumulate here instead, per the propagation
// policy for asynchronous work.
func (b *Broker) recordError(err error) {
	b.log.Warningf("routing error: %v", err)
	b.errMu.Lock()
	b.errs = append(b.errs, err)
	b.errMu.Unlock()
}

// Errors returns a snapshot of the routing-path errors accumulated so far.
func (b *Broker) Errors() []error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	out := make([]error, len(b.errs))
	copy(out, b.errs)
	return out
}

// Stats returns a point-in-time snapshot of broker occupancy.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	st := Stats{
		Exchanges:        len(b.exchanges),
		Queues:           len(b.queues),
		QueueDepth:       make(map[string]int, len(b.queues)),
		ConsumersByQueue: make(map[string]int, len(b.queues)),
	}
	for name, q := range b.queues {
		st.QueueDepth[name] = len(q.buf)
	}
	b.mu.RUnlock()

	b.consMu.Lock()
	st.Consumers = len(b.consumers)
	for name, cs := range b.consumersByQueue {
		st.ConsumersByQueue[name] = len(cs)
	}
	b.consMu.Unlock()

	b.unackMu.Lock()
	st.UnackedTotal = len(b.unacked)
	b.unackMu.Unlock()
	return st
}

// Shutdown drains the ingress worker, cancels every active consumer, and
// releases all resources. The broker must not be used afterward.
func (b *Broker) Shutdown() error {
	var err error
	b.closeOnce.Do(func() {
		// done is closed first so a router blocked on a full queue lets go
		// and drains the ingress, releasing any publisher blocked on it
		// before the write lock below is taken.
		close(b.done)
		b.pubMu.Lock()
		b.closed = true
		close(b.ingress)
		b.pubMu.Unlock()

		b.consMu.Lock()
		tags := make([]string, 0, len(b.consumers))
		for tag := range b.consumers {
			tags = append(tags, tag)
		}
		b.consMu.Unlock()
		for _, tag := range tags {
			if stopErr := b.StopConsume(tag); stopErr != nil {
				err = stopErr
			}
		}
		b.wg.Wait()
	})
	return err
}

// unknownEntity is a small convenience wrapper kept so call sites read
// naturally (brokerr.New(brokerr.UnknownEntity, "queue %q not found", name)
// gets repetitive across a dozen call sites).
func unknownEntity(format string, args ...interface{}) error {
	return brokerr.New(brokerr.UnknownEntity, format, args...)
}

func declareConflict(format string, args ...interface{}) error {
	return brokerr.New(brokerr.DeclareConflict, format, args...)
}
