package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handle interface{ name() string }

type fakeConn struct{ label string }

func (f *fakeConn) name() string { return f.label }

func TestRegistry_RegisterLookup(t *testing.T) {
	t.Parallel()

	r := New[handle]()
	a := &fakeConn{label: "a"}

	require.NoError(t, r.Register(a, "id-a"))

	got, ok := r.Lookup("id-a")
	require.True(t, ok)
	assert.Same(t, a, got)

	id, ok := r.ID(a)
	require.True(t, ok)
	assert.Equal(t, "id-a", id)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_HandlesCompareByIdentity(t *testing.T) {
	t.Parallel()

	r := New[handle]()
	a := &fakeConn{label: "same"}
	b := &fakeConn{label: "same"}

	require.NoError(t, r.Register(a, "1"))
	require.NoError(t, r.Register(b, "2"))

	id, ok := r.ID(b)
	require.True(t, ok)
	assert.Equal(t, "2", id)
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	t.Parallel()

	r := New[handle]()
	a := &fakeConn{}
	b := &fakeConn{}

	require.NoError(t, r.Register(a, "1"))
	assert.ErrorIs(t, r.Register(b, "1"), ErrAlreadyRegistered)
	assert.ErrorIs(t, r.Register(a, "2"), ErrAlreadyRegistered)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_UnregisterRemovesBothDirections(t *testing.T) {
	t.Parallel()

	r := New[handle]()
	a := &fakeConn{}
	require.NoError(t, r.Register(a, "1"))

	id, ok := r.Unregister(a)
	require.True(t, ok)
	assert.Equal(t, "1", id)

	_, ok = r.Lookup("1")
	assert.False(t, ok)
	_, ok = r.ID(a)
	assert.False(t, ok)
	assert.Zero(t, r.Len())

	_, ok = r.Unregister(a)
	assert.False(t, ok)
}

func TestRegistry_UnknownLookups(t *testing.T) {
	t.Parallel()

	r := New[handle]()
	_, ok := r.Lookup("missing")
	assert.False(t, ok)
	_, ok = r.ID(&fakeConn{})
	assert.False(t, ok)
}

func TestRegistry_IDsSorted(t *testing.T) {
	t.Parallel()

	r := New[handle]()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(&fakeConn{label: id}, id))
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.IDs())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := New[handle]()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := &fakeConn{}
			id := fmt.Sprintf("conn-%d", i)
			assert.NoError(t, r.Register(h, id))
			_, _ = r.Lookup(id)
			got, ok := r.Unregister(h)
			assert.True(t, ok)
			assert.Equal(t, id, got)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, r.Len())
}
