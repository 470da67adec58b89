package trader

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry holds one client per network. It is caller-owned and passed
// explicitly; there is no package-level instance, so two registries with
// different deployments can coexist in one process.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
	}
}

// Register adds or replaces the client for a network id.
func (r *Registry) Register(network string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[network] = c
}

// Get returns the client for a network id.
func (r *Registry) Get(network string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[network]
	if !ok {
		return nil, fmt.Errorf("no client registered for network %q", network)
	}
	return c, nil
}

// Remove drops a network's client. Removing an unknown id is a no-op.
func (r *Registry) Remove(network string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, network)
}

// NetworkIDs lists registered networks, sorted.
func (r *Registry) NetworkIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Connect looks up a network, dials it and registers the resulting client.
func (r *Registry) Connect(ctx context.Context, networkID, privateKeyHex string) (*Client, error) {
	network, err := GetNetwork(networkID)
	if err != nil {
		return nil, err
	}
	c, err := Connect(ctx, network, privateKeyHex)
	if err != nil {
		return nil, err
	}
	r.Register(network.ID, c)
	return c, nil
}
