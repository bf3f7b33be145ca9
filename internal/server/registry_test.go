package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"go-converse/internal/testutil"
	"go-converse/internal/types"
)

func newTestClient(t *testing.T, userId int) *Client {
	return &Client{
		user:      types.User{Id: userId, Username: "testuser"},
		sessionId: "session-" + string(rune('a'+userId)),
		send:      make(chan *ServerMessage, 256),
		stop:      make(chan struct{}),
		log:       testutil.TestLogger(t),
	}
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()

	c := newTestClient(t, 1)
	assert.True(t, r.Add(c), "expected first Add to report the connection as new")
	assert.False(t, r.Add(c), "expected second Add of the same connection to be a no-op")
	assert.Equal(t, 1, r.NumClients(), "expected exactly one registered connection")

	assert.True(t, r.Remove(c), "expected Remove to report the connection as present")
	assert.False(t, r.Remove(c), "expected repeated Remove to be a no-op")
	assert.False(t, r.Remove(c), "expected Remove to stay a no-op on every further call")
	assert.Equal(t, 0, r.NumClients(), "expected no registered connections after removal")
	assert.Empty(t, r.ClientsForUser(c.user.Id), "expected no connections for user after removal")
}

func TestRegistryMultipleConnectionsPerUser(t *testing.T) {
	r := NewRegistry()

	c1 := newTestClient(t, 1)
	c2 := newTestClient(t, 1)
	r.Add(c1)
	r.Add(c2)

	clients := r.ClientsForUser(1)
	assert.Len(t, clients, 2, "expected both connections for the user")
	assert.ElementsMatch(t, []*Client{c1, c2}, clients, "expected snapshot to contain both connections")

	r.Remove(c1)
	clients = r.ClientsForUser(1)
	assert.Len(t, clients, 1, "expected one connection after removing the other")
	assert.Equal(t, c2, clients[0], "expected the remaining connection to be the one not removed")
}

func TestRegistryClientsForUserSnapshot(t *testing.T) {
	r := NewRegistry()

	c := newTestClient(t, 1)
	r.Add(c)

	snapshot := r.ClientsForUser(1)
	r.Remove(c)

	// the earlier snapshot is unaffected by the removal
	assert.Len(t, snapshot, 1, "expected snapshot taken before removal to be unchanged")
	assert.Empty(t, r.ClientsForUser(1), "expected registry to be empty after removal")
}

func TestRegistryOfflineUser(t *testing.T) {
	r := NewRegistry()

	clients := r.ClientsForUser(99)
	assert.NotNil(t, clients, "expected an empty slice, not nil, for an offline user")
	assert.Empty(t, clients, "expected no connections for an offline user")
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(userId int) {
			defer wg.Done()
			c := &Client{
				user: types.User{Id: userId},
				send: make(chan *ServerMessage, 1),
				log:  testutil.TestLogger(t),
			}
			r.Add(c)
			r.ClientsForUser(userId)
			r.Remove(c)
			r.Remove(c)
		}(i % 10)
	}
	wg.Wait()

	assert.Equal(t, 0, r.NumClients(), "expected all connections removed after concurrent lifecycles")
}
