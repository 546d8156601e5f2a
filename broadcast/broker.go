package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const (
	DefaultClientBufferSize = 64
	DefaultMaxClients       = 1000
)

var _ Publisher = (*Broker)(nil)

type BrokerOption func(*Broker)

func WithClientBufferSize(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.clientBufferSize = n
		}
	}
}

func WithMaxClients(n int) BrokerOption {
	return func(b *Broker) {
		b.maxClients = n
	}
}

func WithLogger(log *zap.Logger) BrokerOption {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// Broker fans events out to in-process subscribers of a job. A subscriber
// whose buffer is full is disconnected.
type Broker struct {
	mu      sync.RWMutex
	clients map[string]map[uint64]*client
	nextID  atomic.Uint64
	closed  bool

	clientBufferSize int
	maxClients       int
	log              *zap.Logger
}

func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		clients:          make(map[string]map[uint64]*client),
		clientBufferSize: DefaultClientBufferSize,
		maxClients:       DefaultMaxClients,
		log:              zap.NewNop(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

type client struct {
	id     uint64
	jobID  string
	events chan Event
	mu     sync.Mutex
	closed bool
}

func (c *client) send(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.events)
}

// Subscribe registers an observer of one job. The returned channel is
// closed when ctx is done, cleanup is called, the client is too slow or the
// broker is closed.
func (b *Broker) Subscribe(ctx context.Context, jobID string) (events <-chan Event, cleanup func()) {
	c := &client{
		id:     b.nextID.Add(1),
		jobID:  jobID,
		events: make(chan Event, b.clientBufferSize),
	}

	b.mu.Lock()
	if b.closed || (b.maxClients > 0 && b.countLocked() >= b.maxClients) {
		b.mu.Unlock()
		b.log.Warn("rejecting subscriber", zap.String("job_id", jobID))
		c.close()

		return c.events, func() {}
	}

	if b.clients[jobID] == nil {
		b.clients[jobID] = make(map[uint64]*client)
	}

	b.clients[jobID][c.id] = c
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		b.remove(c)
	})

	return c.events, func() {
		stop()
		b.remove(c)
	}
}

func (b *Broker) Publish(_ context.Context, ev Event) {
	b.mu.RLock()
	targets := make([]*client, 0, len(b.clients[ev.JobID]))
	for _, c := range b.clients[ev.JobID] {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		if !c.send(ev) {
			b.log.Warn("subscriber too slow, disconnecting",
				zap.String("job_id", ev.JobID),
				zap.String("event_type", string(ev.Type)),
			)
			b.remove(c)
		}
	}
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.countLocked()
}

func (b *Broker) countLocked() int {
	n := 0
	for _, m := range b.clients {
		n += len(m)
	}

	return n
}

func (b *Broker) remove(c *client) {
	b.mu.Lock()
	if m, ok := b.clients[c.jobID]; ok {
		delete(m, c.id)

		if len(m) == 0 {
			delete(b.clients, c.jobID)
		}
	}
	b.mu.Unlock()

	c.close()
}

// Close disconnects every subscriber and rejects new ones.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closed = true

	var all []*client
	for _, m := range b.clients {
		for _, c := range m {
			all = append(all, c)
		}
	}

	b.clients = make(map[string]map[uint64]*client)
	b.mu.Unlock()

	for _, c := range all {
		c.close()
	}

	return nil
}
