package provider

import "sort"

// Registry resolves provider ids from the routing table to configured
// clients. Built once at startup, read-only afterwards.
type Registry struct {
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(providerID string, client Client) {
	r.clients[providerID] = client
}

func (r *Registry) Lookup(providerID string) (Client, bool) {
	client, ok := r.clients[providerID]
	return client, ok
}

// Available lists registered provider ids with credentials configured.
func (r *Registry) Available() []string {
	result := make([]string, 0, len(r.clients))
	for id, client := range r.clients {
		if client.Available() {
			result = append(result, id)
		}
	}
	sort.Strings(result)
	return result
}
