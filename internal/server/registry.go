package server

import (
	"sync"
)

// Registry is the in-memory mapping of authenticated user ids to their live
// connections. It is the one mutable structure shared by every connection
// lifecycle, so all access goes through its lock. Nothing in here performs
// I/O; callers must not hold references into the internal maps.
type Registry struct {
	mu    sync.RWMutex
	users map[int]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[int]map[*Client]struct{}),
	}
}

// Add records a connection under its authenticated user id. A user may hold
// any number of simultaneous connections. Returns false if the connection
// was already registered.
func (r *Registry) Add(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients, ok := r.users[c.user.Id]
	if !ok {
		clients = make(map[*Client]struct{})
		r.users[c.user.Id] = clients
	}

	if _, ok := clients[c]; ok {
		return false
	}

	clients[c] = struct{}{}
	return true
}

// Remove deletes exactly the given connection. It is idempotent: removing a
// connection that is not registered is a no-op, since disconnect
// notifications can race with other cleanup. Returns true if the connection
// was present.
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients, ok := r.users[c.user.Id]
	if !ok {
		return false
	}

	if _, ok := clients[c]; !ok {
		return false
	}

	delete(clients, c)
	if len(clients) == 0 {
		delete(r.users, c.user.Id)
	}

	return true
}

// ClientsForUser returns a snapshot of the user's current connections. An
// empty slice means the user is offline, which is not an error; delivery to
// them is simply skipped.
func (r *Registry) ClientsForUser(userId int) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.users[userId]))
	for c := range r.users[userId] {
		clients = append(clients, c)
	}

	return clients
}

// AllClients returns a snapshot of every registered connection.
func (r *Registry) AllClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var clients []*Client
	for _, userClients := range r.users {
		for c := range userClients {
			clients = append(clients, c)
		}
	}

	return clients
}

// NumClients reports the number of live connections.
func (r *Registry) NumClients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int
	for _, userClients := range r.users {
		n += len(userClients)
	}

	return n
}
