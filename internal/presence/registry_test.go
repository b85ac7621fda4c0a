package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_MultipleSessions(t *testing.T) {
	r := NewRegistry()

	r.Register("alice", "s1")
	r.Register("alice", "s2")
	r.Register("alice", "s2")
	r.Register("bob", "s3")

	require.Equal(t, []string{"alice", "bob"}, r.ListOnline())
	require.Equal(t, []string{"s1", "s2"}, r.SessionsOf("alice"))

	user, offline := r.Deregister("s1")
	require.Equal(t, "alice", user)
	require.False(t, offline)
	require.True(t, r.IsOnline("alice"))

	user, offline = r.Deregister("s2")
	require.Equal(t, "alice", user)
	require.True(t, offline)
	require.False(t, r.IsOnline("alice"))
	require.Equal(t, []string{"bob"}, r.ListOnline())
}

func TestRegistry_UnknownSession(t *testing.T) {
	r := NewRegistry()
	user, offline := r.Deregister("nope")
	require.Empty(t, user)
	require.False(t, offline)
	require.Empty(t, r.ListOnline())
}

func TestRegistry_SessionMovesBetweenUsers(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", "s1")
	r.Register("bob", "s1")

	require.False(t, r.IsOnline("alice"))
	require.True(t, r.IsOnline("bob"))

	user, offline := r.Deregister("s1")
	require.Equal(t, "bob", user)
	require.True(t, offline)
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			session := fmt.Sprintf("s%d", i)
			r.Register(fmt.Sprintf("u%d", i%5), session)
			_ = r.ListOnline()
			r.Deregister(session)
		})
	}
	wg.Wait()

	require.Empty(t, r.ListOnline())
}
