package broker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// mintQueueName returns a fresh, unused queue name of the form
// "q-<10 random alphanumeric characters>", retrying on the unlikely event
// of a collision with an already-declared queue. Callers must hold at
// least a read lock on the queue table while checking for collisions and
// the equivalent write lock when committing the chosen name.
func mintQueueName(taken func(string) bool) string {
	for {
		name := fmt.Sprintf("q-%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
		if !taken(name) {
			return name
		}
	}
}

// ctagPool hands out consumer tags of the form "zctag-<n>", recycling
// released integers instead of growing without bound.
type ctagPool struct {
	next uint64
	free []uint64
}

func (p *ctagPool) acquire() string {
	var n uint64
	if len(p.free) > 0 {
		n = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
	} else {
		n = p.next
		p.next++
	}
	return fmt.Sprintf("zctag-%d", n)
}

func (p *ctagPool) release(tag string) {
	var n uint64
	if _, err := fmt.Sscanf(tag, "zctag-%d", &n); err != nil {
		return
	}
	p.free = append(p.free, n)
}
