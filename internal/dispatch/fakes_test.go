package dispatch_test

import (
	"context"
	"sync"

	"github.com/Gao-Garrix/chatserver/internal/store"
)

// fakeConn is an in-memory registry.Conn recording every payload sent to it.
type fakeConn struct {
	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeConn) Send(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, payload)
}

func (f *fakeConn) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeStore is an in-memory stand-in for dispatch.Store, letting tests drive
// the scenarios in SPEC_FULL.md §8 without a database.
type fakeStore struct {
	mu sync.Mutex

	users       map[int64]*store.User
	nextUserID  int64
	friends     map[int64][]store.User
	groups      map[int64]*store.Group
	nextGroupID int64
	members     map[int64][]store.Member // groupID -> members
	offline     map[int64][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   map[int64]*store.User{},
		friends: map[int64][]store.User{},
		groups:  map[int64]*store.Group{},
		members: map[int64][]store.Member{},
		offline: map[int64][]string{},
	}
}

// seedUser inserts a user directly, bypassing InsertUser, for test setup.
func (s *fakeStore) seedUser(id int64, name, password, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &store.User{ID: id, Name: name, Password: password, State: state}
	if id >= s.nextUserID {
		s.nextUserID = id + 1
	}
}

func (s *fakeStore) InsertUser(ctx context.Context, name, password string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Name == name {
			return 0, store.ErrNameInUse
		}
	}
	s.nextUserID++
	id := s.nextUserID
	s.users[id] = &store.User{ID: id, Name: name, Password: password, State: store.StateOffline}
	return id, nil
}

func (s *fakeStore) QueryUser(ctx context.Context, id int64) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) UpdateUserState(ctx context.Context, id int64, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.State = state
	}
}

func (s *fakeStore) ResetAllOnlineToOffline(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		u.State = store.StateOffline
	}
}

func (s *fakeStore) InsertFriend(ctx context.Context, userID, friendID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.users[friendID]; ok {
		cp := *f
		s.friends[userID] = append(s.friends[userID], cp)
	}
}

func (s *fakeStore) QueryFriends(ctx context.Context, userID int64) []store.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.User, len(s.friends[userID]))
	copy(out, s.friends[userID])
	return out
}

func (s *fakeStore) CreateGroup(ctx context.Context, name, desc string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGroupID++
	id := s.nextGroupID
	s.groups[id] = &store.Group{ID: id, Name: name, Description: desc}
	return id, nil
}

func (s *fakeStore) AddGroupMember(ctx context.Context, groupID, userID int64, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return
	}
	for _, m := range s.members[groupID] {
		if m.ID == userID {
			return
		}
	}
	s.members[groupID] = append(s.members[groupID], store.Member{ID: u.ID, Name: u.Name, State: u.State, Role: role})
}

func (s *fakeStore) QueryGroupsOfUser(ctx context.Context, userID int64) []store.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Group
	for gid, g := range s.groups {
		for _, m := range s.members[gid] {
			if m.ID == userID {
				cp := *g
				cp.Members = append([]store.Member{}, s.members[gid]...)
				out = append(out, cp)
				break
			}
		}
	}
	return out
}

func (s *fakeStore) QueryGroupPeers(ctx context.Context, userID, groupID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, m := range s.members[groupID] {
		if m.ID != userID {
			out = append(out, m.ID)
		}
	}
	return out
}

func (s *fakeStore) InsertOffline(ctx context.Context, userID int64, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline[userID] = append(s.offline[userID], payload)
}

func (s *fakeStore) QueryOffline(ctx context.Context, userID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.offline[userID]))
	copy(out, s.offline[userID])
	return out
}

func (s *fakeStore) DeleteOffline(ctx context.Context, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.offline, userID)
}

// fakeBus is an in-memory stand-in for dispatch.Bus. Publish is recorded but
// never delivered automatically — tests that need cross-node delivery
// simulate the receiving node by invoking its Dispatcher.OnBusMessage
// directly, exactly as the real Bus's receive loop would.
type fakeBus struct {
	mu        sync.Mutex
	subs      map[int64]bool
	published []publishedMsg
}

type publishedMsg struct {
	channel int64
	payload string
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: map[int64]bool{}}
}

func (b *fakeBus) Subscribe(ctx context.Context, channel int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = true
	return nil
}

func (b *fakeBus) Unsubscribe(ctx context.Context, channel int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, channel)
	return nil
}

func (b *fakeBus) Publish(ctx context.Context, channel int64, payload string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMsg{channel: channel, payload: payload})
	return true
}

func (b *fakeBus) publishedTo(channel int64) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, m := range b.published {
		if m.channel == channel {
			out = append(out, m.payload)
		}
	}
	return out
}
