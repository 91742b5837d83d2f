package config

import (
	"go.bryk.io/zbroker/broker"
	"gopkg.in/yaml.v3"
)

// Topology allows callers to specify a set of exchanges, queues and
// bindings to have pre-declared on a broker, the same declarative
// vocabulary the teacher's amqp.Topology uses for an external broker.
type Topology struct {
	Exchanges []Exchange `json:"exchanges,omitempty" yaml:",omitempty"`
	Queues    []Queue    `json:"queues,omitempty" yaml:",omitempty"`
	Bindings  []Binding  `json:"bindings,omitempty" yaml:",omitempty"`
}

// Exchange mirrors the declare_exchange arguments.
type Exchange struct {
	Name       string `json:"name" yaml:"name"`
	Kind       string `json:"kind" yaml:"kind"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
	Origin     string `json:"origin,omitempty" yaml:"origin,omitempty"`
}

// Queue mirrors the declare_queue arguments. Name may be left empty to
// have the broker mint one.
type Queue struct {
	Name       string `json:"name" yaml:"name"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
	Exclusive  bool   `json:"exclusive" yaml:"exclusive"`
	Origin     string `json:"origin,omitempty" yaml:"origin,omitempty"`
}

// Binding mirrors the bind arguments. RoutingKey lists every binding_key
// this queue should be bound under for the given exchange; an empty list
// binds under the empty routing key (matches only an empty-token-tree
// publish, not a useful topic pattern, but accepted for parity).
type Binding struct {
	Exchange   string   `json:"exchange" yaml:"exchange"`
	Queue      string   `json:"queue" yaml:"queue"`
	RoutingKey []string `json:"routing_key" yaml:"routing_key"`
}

// LoadTopology parses a YAML document into a Topology.
func LoadTopology(data []byte) (Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Topology{}, err
	}
	return t, nil
}

// Apply declares every exchange, queue and binding in t against b, in
// declaration order, so a partially-applied topology on error reflects
// exactly the entries processed so far.
func (t Topology) Apply(b *broker.Broker) error {
	for _, ex := range t.Exchanges {
		if err := b.DeclareExchange(ex.Name, ex.Kind, ex.Durable, ex.AutoDelete, ex.Origin); err != nil {
			return err
		}
	}
	for _, q := range t.Queues {
		if _, err := b.DeclareQueue(q.Name, q.Durable, q.AutoDelete, q.Exclusive, q.Origin); err != nil {
			return err
		}
	}
	for _, bind := range t.Bindings {
		keys := bind.RoutingKey
		if len(keys) == 0 {
			keys = []string{""}
		}
		for _, key := range keys {
			if err := b.Bind(bind.Exchange, bind.Queue, key); err != nil {
				return err
			}
		}
	}
	return nil
}
