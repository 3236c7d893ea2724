package server_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gao-Garrix/chatserver/internal/dispatch"
	"github.com/Gao-Garrix/chatserver/internal/protocol"
	"github.com/Gao-Garrix/chatserver/internal/registry"
	"github.com/Gao-Garrix/chatserver/internal/server"
	"github.com/Gao-Garrix/chatserver/internal/store"
)

type fakeStore struct {
	user *store.User
}

func (s *fakeStore) InsertUser(ctx context.Context, name, password string) (int64, error) {
	return 1, nil
}
func (s *fakeStore) QueryUser(ctx context.Context, id int64) (*store.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, store.ErrNotFound
	}
	cp := *s.user
	return &cp, nil
}
func (s *fakeStore) UpdateUserState(ctx context.Context, id int64, state string) {
	if s.user != nil && s.user.ID == id {
		s.user.State = state
	}
}
func (s *fakeStore) ResetAllOnlineToOffline(ctx context.Context)                       {}
func (s *fakeStore) InsertFriend(ctx context.Context, userID, friendID int64)          {}
func (s *fakeStore) QueryFriends(ctx context.Context, userID int64) []store.User       { return nil }
func (s *fakeStore) CreateGroup(ctx context.Context, name, desc string) (int64, error) { return 1, nil }
func (s *fakeStore) AddGroupMember(ctx context.Context, groupID, userID int64, role string) {
}
func (s *fakeStore) QueryGroupsOfUser(ctx context.Context, userID int64) []store.Group { return nil }
func (s *fakeStore) QueryGroupPeers(ctx context.Context, userID, groupID int64) []int64 {
	return nil
}
func (s *fakeStore) InsertOffline(ctx context.Context, userID int64, payload string) {}
func (s *fakeStore) QueryOffline(ctx context.Context, userID int64) []string         { return nil }
func (s *fakeStore) DeleteOffline(ctx context.Context, userID int64)                 {}

type fakeBus struct{}

func (b *fakeBus) Subscribe(ctx context.Context, channel int64) error   { return nil }
func (b *fakeBus) Unsubscribe(ctx context.Context, channel int64) error { return nil }
func (b *fakeBus) Publish(ctx context.Context, channel int64, payload string) bool {
	return true
}

// TestWebSocketLoginRoundTrip drives a real websocket connection through
// httptest, proving the upgrade handler, worker pool, and Dispatcher wire
// together end to end: a LOGIN frame sent over the wire gets a LOGIN_ACK
// back over the same wire.
func TestWebSocketLoginRoundTrip(t *testing.T) {
	st := &fakeStore{user: &store.User{ID: 1, Name: "alice", Password: "pw", State: store.StateOffline}}
	bus := &fakeBus{}
	reg := registry.New()
	d := dispatch.New(reg, st, bus)

	srv := server.New(d, server.Options{Addr: ":0", Environment: "test", Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.StartWorkers(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	req := protocol.LoginRequest{MsgID: protocol.MsgLogin, ID: 1, Password: "pw"}
	b, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var ack protocol.LoginAck
	require.NoError(t, json.Unmarshal(raw, &ack))
	assert.Equal(t, protocol.ErrnoOK, ack.Errno)
	assert.Equal(t, "alice", ack.Name)
}

func TestHealthEndpoint(t *testing.T) {
	st := &fakeStore{}
	bus := &fakeBus{}
	d := dispatch.New(registry.New(), st, bus)
	srv := server.New(d, server.Options{Addr: ":0", Environment: "test", Workers: 1})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
