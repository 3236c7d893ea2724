package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gao-Garrix/chatserver/internal/registry"
)

type fakeConn struct {
	sent [][]byte
}

func (f *fakeConn) Send(payload []byte) {
	f.sent = append(f.sent, payload)
}

func TestBindLookupUnbind(t *testing.T) {
	r := registry.New()
	conn := &fakeConn{}

	_, ok := r.Lookup(1)
	require.False(t, ok)

	r.Bind(1, conn)
	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, conn, got)

	r.Unbind(1)
	_, ok = r.Lookup(1)
	assert.False(t, ok)
}

func TestUnbindByConn(t *testing.T) {
	r := registry.New()
	conn := &fakeConn{}
	r.Bind(42, conn)

	id, ok := r.UnbindByConn(conn)
	require.True(t, ok)
	assert.EqualValues(t, 42, id)

	_, ok = r.Lookup(42)
	assert.False(t, ok)

	_, ok = r.UnbindByConn(conn)
	assert.False(t, ok, "unbinding an already-removed conn should report nothing found")
}

func TestForEachSendSplitsPresentAndMissing(t *testing.T) {
	r := registry.New()
	alice := &fakeConn{}
	r.Bind(1, alice)

	missing := r.ForEachSend([]int64{1, 2, 3}, []byte("hello"))

	assert.ElementsMatch(t, []int64{2, 3}, missing)
	require.Len(t, alice.sent, 1)
	assert.Equal(t, []byte("hello"), alice.sent[0])
}
