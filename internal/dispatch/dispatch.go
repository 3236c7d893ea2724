// Package dispatch implements the message-routing decision tree: decode a
// frame, look up its handler by msgId, and drive the local-deliver /
// cross-node-publish / persist-offline choice described in SPEC_FULL.md §4.4.
package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/Gao-Garrix/chatserver/internal/protocol"
	"github.com/Gao-Garrix/chatserver/internal/registry"
	"github.com/Gao-Garrix/chatserver/internal/store"
)

// Store is the subset of *store.Store the dispatcher needs. Declared as an
// interface so tests can substitute an in-memory fake, per SPEC_FULL.md §8's
// "Store and Bus are in-memory fakes" testing scenarios.
type Store interface {
	InsertUser(ctx context.Context, name, password string) (int64, error)
	QueryUser(ctx context.Context, id int64) (*store.User, error)
	UpdateUserState(ctx context.Context, id int64, state string)
	ResetAllOnlineToOffline(ctx context.Context)
	InsertFriend(ctx context.Context, userID, friendID int64)
	QueryFriends(ctx context.Context, userID int64) []store.User
	CreateGroup(ctx context.Context, name, desc string) (int64, error)
	AddGroupMember(ctx context.Context, groupID, userID int64, role string)
	QueryGroupsOfUser(ctx context.Context, userID int64) []store.Group
	QueryGroupPeers(ctx context.Context, userID, groupID int64) []int64
	InsertOffline(ctx context.Context, userID int64, payload string)
	QueryOffline(ctx context.Context, userID int64) []string
	DeleteOffline(ctx context.Context, userID int64)
}

// Bus is the subset of *pubsub.Bus the dispatcher needs.
type Bus interface {
	Subscribe(ctx context.Context, channel int64) error
	Unsubscribe(ctx context.Context, channel int64) error
	Publish(ctx context.Context, channel int64, payload string) bool
}

// Dispatcher holds the three collaborators named in SPEC_FULL.md §4.4; the
// static msgId -> handler table is the package-level handlers map. It
// carries no other state; one Dispatcher is constructed at startup and
// passed by reference to the Server.
type Dispatcher struct {
	Registry *registry.Registry
	Store    Store
	Bus      Bus
}

// New constructs a Dispatcher over the given collaborators.
func New(reg *registry.Registry, st Store, bus Bus) *Dispatcher {
	return &Dispatcher{Registry: reg, Store: st, Bus: bus}
}

type handlerFunc func(d *Dispatcher, ctx context.Context, conn registry.Conn, raw []byte, ts time.Time)

// handlers is the static msgId -> handler table. No runtime registration:
// everything the service understands is listed here once.
var handlers = map[int]handlerFunc{
	protocol.MsgLogin:       (*Dispatcher).handleLogin,
	protocol.MsgReg:         (*Dispatcher).handleRegister,
	protocol.MsgLogout:      (*Dispatcher).handleLogout,
	protocol.MsgOneChat:     (*Dispatcher).handleOneChat,
	protocol.MsgAddFriend:   (*Dispatcher).handleAddFriend,
	protocol.MsgCreateGroup: (*Dispatcher).handleCreateGroup,
	protocol.MsgGroupChat:   (*Dispatcher).handleGroupChat,
	protocol.MsgAddGroup:    (*Dispatcher).handleAddGroup,
}

// Handle decodes the msgId envelope and dispatches to the matching handler.
// An unrecognized msgId, or a frame that doesn't even parse as an envelope,
// is logged and dropped — no reply, per SPEC_FULL.md §7's protocol-error
// taxonomy.
func (d *Dispatcher) Handle(ctx context.Context, conn registry.Conn, raw []byte, ts time.Time) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("dispatch: malformed frame, dropping: %v", err)
		return
	}

	h, ok := handlers[env.MsgID]
	if !ok {
		log.Printf("dispatch: msgId %d has no handler, dropping", env.MsgID)
		return
	}
	h(d, ctx, conn, raw, ts)
}

// HandleDisconnect runs the logout side effects for a connection that was
// dropped by the transport rather than an explicit LOGOUT frame — a dead
// socket, a client crash. The user never sees an explicit logout reply
// because there is no connection left to send one to.
func (d *Dispatcher) HandleDisconnect(conn registry.Conn) {
	id, ok := d.Registry.UnbindByConn(conn)
	if !ok {
		return
	}
	ctx := context.Background()
	if err := d.Bus.Unsubscribe(ctx, id); err != nil {
		log.Printf("dispatch: unsubscribe %d on disconnect failed: %v", id, err)
	}
	d.Store.UpdateUserState(ctx, id, store.StateOffline)
}

// OnBusMessage is the PubSubBus callback: a message arrived on a channel
// this node has subscribed to (channel number equals a user id). If that
// user is still connected locally, forward the payload verbatim; if they
// logged out between publish and delivery, this is the race the offline
// fallback resolves.
func (d *Dispatcher) OnBusMessage(channel int64, payload string) {
	ctx := context.Background()
	if conn, ok := d.Registry.Lookup(channel); ok {
		conn.Send([]byte(payload))
		return
	}
	d.Store.InsertOffline(ctx, channel, payload)
}
