// Package config provides functional options for building a broker,
// mirroring the teacher's amqp.Option family, plus YAML-based declarative
// topology loading.
package config

import (
	"sync"

	"go.bryk.io/zbroker/broker"
	"go.bryk.io/zbroker/internal/xlog"
)

// Option adjusts Settings following a functional pattern.
type Option func(*Settings) error

// Settings accumulates the result of applying a list of Option values.
type Settings struct {
	mu sync.Mutex

	name              string
	logger            xlog.Logger
	defaultPrefetch   int
	ingressBufferSize int
	queueBufferSize   int
	topology          Topology
}

// New applies opts in order and returns the resulting Settings.
func New(opts ...Option) (Settings, error) {
	s := Settings{}
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return Settings{}, err
		}
	}
	return s, nil
}

// BrokerConfig adapts the accumulated settings into a broker.Config ready
// to pass to broker.New.
func (s Settings) BrokerConfig() broker.Config {
	return broker.Config{
		Logger:            s.logger,
		IngressBufferSize: s.ingressBufferSize,
		QueueBufferSize:   s.queueBufferSize,
	}
}

// DefaultPrefetch is the prefetch count, if any, consumers should use when
// the caller doesn't specify one explicitly on StartConsume.
func (s Settings) DefaultPrefetch() int {
	return s.defaultPrefetch
}

// Name returns the diagnostic name assigned via WithName, if any.
func (s Settings) Name() string {
	return s.name
}

// Topology returns the declarative topology loaded via WithTopology, if
// any.
func (s Settings) Topology() Topology {
	return s.topology
}

// WithLogger sets the logger instance used for internal diagnostics.
func WithLogger(l xlog.Logger) Option {
	return func(s *Settings) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.logger = l
		return nil
	}
}

// WithName assigns a diagnostic name to the broker instance. If not set,
// callers typically fall back to a generated identifier.
func WithName(name string) Option {
	return func(s *Settings) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.name = name
		return nil
	}
}

// WithPrefetch sets the default number of in-flight, unacked deliveries a
// consumer may hold before StartConsume blocks it on further dequeues.
// The byte-size parameter is accepted for interface parity with the AMQP
// qos(prefetch_count, prefetch_size) pair but has no meaning in-process
// (there is no wire buffer to bound).
func WithPrefetch(count int, _ int) Option {
	return func(s *Settings) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.defaultPrefetch = count
		return nil
	}
}

// WithIngressBuffer bounds the broker's shared ingress channel.
func WithIngressBuffer(size int) Option {
	return func(s *Settings) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.ingressBufferSize = size
		return nil
	}
}

// WithQueueBuffer bounds the FIFO buffer allocated for every declared
// queue.
func WithQueueBuffer(size int) Option {
	return func(s *Settings) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.queueBufferSize = size
		return nil
	}
}

// WithTopology records a declarative topology to be applied to the broker
// once it's constructed, via Topology.Apply.
func WithTopology(t Topology) Option {
	return func(s *Settings) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.topology = t
		return nil
	}
}
