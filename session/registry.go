package session

import (
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// Registry tracks every live Client by session id. It generalizes
// transport/tcp.go's TCPListener.activeConns (a map[*TCPConn]struct{}
// guarded by a mutex) to a monotonic-id-keyed map with broadcast and
// snapshot helpers the router core needs for fan-out.
type Registry struct {
	nextID int64

	mu      sync.RWMutex
	clients map[int64]*Client
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: map[int64]*Client{}}
}

// NextID returns the next monotonically increasing session id, starting
// at 1.
func (reg *Registry) NextID() int64 {
	return atomic.AddInt64(&reg.nextID, 1)
}

// Add registers c under its ID.
func (reg *Registry) Add(c *Client) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.clients[c.ID] = c
}

// Remove drops c from the registry.
func (reg *Registry) Remove(id int64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.clients, id)
}

// Get returns the client with the given id, if still registered.
func (reg *Registry) Get(id int64) (*Client, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	c, ok := reg.clients[id]
	return c, ok
}

// Len returns the number of registered clients.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.clients)
}

// Snapshot returns a stable copy of all registered clients, safe to range
// over without holding the registry lock.
func (reg *Registry) Snapshot() []*Client {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Client, 0, len(reg.clients))
	for _, c := range reg.clients {
		out = append(out, c)
	}
	return out
}

// Broadcast writes line to every client for which include returns true.
// Per spec §4.2 ("all clients excludes the sending session"), exclusion
// is the caller's responsibility via include.
func (reg *Registry) Broadcast(line string, include func(c *Client) bool) {
	for _, c := range reg.Snapshot() {
		if include == nil || include(c) {
			c.Write(line)
		}
	}
}

// CloseAll closes every registered client, aggregating any errors with
// multierr the way client/conn.go's teacher code aggregates dial errors.
func (reg *Registry) CloseAll() error {
	var err error
	for _, c := range reg.Snapshot() {
		err = multierr.Append(err, c.Close())
	}
	return err
}
