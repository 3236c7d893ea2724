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

// send marshals ack and writes it to conn, logging (not panicking) on a
// marshal failure — a bug in an ack struct should never take down the
// connection's goroutine.
func send(conn registry.Conn, ack interface{}) {
	b, err := json.Marshal(ack)
	if err != nil {
		log.Printf("dispatch: marshal ack failed: %v", err)
		return
	}
	conn.Send(b)
}

// handleLogin is msgId=1. See SPEC_FULL.md §4.4 for the full decision tree:
// not-found and wrong-password are distinct errno values from
// already-online, and only the success path touches the registry or bus.
func (d *Dispatcher) handleLogin(ctx context.Context, conn registry.Conn, raw []byte, ts time.Time) {
	var req protocol.LoginRequest
	if err := decodeAndValidate(raw, &req); err != nil {
		log.Printf("dispatch: malformed login frame: %v", err)
		return
	}

	user, err := d.Store.QueryUser(ctx, req.ID)
	if err != nil {
		send(conn, protocol.LoginAck{MsgID: protocol.MsgLoginAck, Errno: protocol.ErrnoInvalidAccount})
		return
	}
	if user.Password != req.Password {
		send(conn, protocol.LoginAck{MsgID: protocol.MsgLoginAck, Errno: protocol.ErrnoWrongPassword})
		return
	}
	if user.State == store.StateOnline {
		send(conn, protocol.LoginAck{MsgID: protocol.MsgLoginAck, Errno: protocol.ErrnoAlreadyOnline})
		return
	}

	d.Registry.Bind(req.ID, conn)
	if err := d.Bus.Subscribe(ctx, req.ID); err != nil {
		log.Printf("dispatch: subscribe for user %d failed: %v", req.ID, err)
	}
	d.Store.UpdateUserState(ctx, req.ID, store.StateOnline)

	friends := buildFriendViews(d.Store.QueryFriends(ctx, req.ID))
	groups := buildGroupViews(d.Store.QueryGroupsOfUser(ctx, req.ID))

	// Read offline messages before deleting them — the delete must never
	// precede a successful read, or a message could be lost rather than
	// merely duplicated.
	offline := d.Store.QueryOffline(ctx, req.ID)
	d.Store.DeleteOffline(ctx, req.ID)

	send(conn, protocol.LoginAck{
		MsgID:       protocol.MsgLoginAck,
		Errno:       protocol.ErrnoOK,
		ID:          user.ID,
		Name:        user.Name,
		Friends:     friends,
		Groups:      groups,
		OfflineMsgs: offline,
	})
}

// buildFriendViews renders each friend as its own stringified-JSON entry,
// preserving the nested-JSON-as-string wire shape the client expects.
func buildFriendViews(friends []store.User) []string {
	out := make([]string, 0, len(friends))
	for _, f := range friends {
		b, err := json.Marshal(protocol.FriendView{ID: f.ID, Name: f.Name, State: f.State})
		if err != nil {
			continue
		}
		out = append(out, string(b))
	}
	return out
}

// buildGroupViews renders each group (with its member list, itself
// stringified per member) as its own stringified-JSON entry.
func buildGroupViews(groups []store.Group) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		users := make([]string, 0, len(g.Members))
		for _, m := range g.Members {
			b, err := json.Marshal(protocol.GroupMemberView{ID: m.ID, Name: m.Name, State: m.State, Role: m.Role})
			if err != nil {
				continue
			}
			users = append(users, string(b))
		}
		b, err := json.Marshal(protocol.GroupView{ID: g.ID, GroupName: g.Name, GroupDesc: g.Description, Users: users})
		if err != nil {
			continue
		}
		out = append(out, string(b))
	}
	return out
}

// handleRegister is msgId=3. Never logs the new account in — a client must
// follow up with an explicit LOGIN frame.
func (d *Dispatcher) handleRegister(ctx context.Context, conn registry.Conn, raw []byte, ts time.Time) {
	var req protocol.RegisterRequest
	if err := decodeAndValidate(raw, &req); err != nil {
		log.Printf("dispatch: malformed register frame: %v", err)
		return
	}

	id, err := d.Store.InsertUser(ctx, req.Name, req.Password)
	if err != nil {
		send(conn, protocol.RegisterAck{MsgID: protocol.MsgRegAck, Errno: protocol.ErrnoInvalidAccount})
		return
	}
	send(conn, protocol.RegisterAck{MsgID: protocol.MsgRegAck, Errno: protocol.ErrnoOK, ID: id})
}

// handleLogout is msgId=10. No reply is sent: the client already knows it
// asked to log out.
func (d *Dispatcher) handleLogout(ctx context.Context, conn registry.Conn, raw []byte, ts time.Time) {
	var req protocol.LogoutRequest
	if err := decodeAndValidate(raw, &req); err != nil {
		log.Printf("dispatch: malformed logout frame: %v", err)
		return
	}

	d.Registry.Unbind(req.ID)
	if err := d.Bus.Unsubscribe(ctx, req.ID); err != nil {
		log.Printf("dispatch: unsubscribe for user %d failed: %v", req.ID, err)
	}
	d.Store.UpdateUserState(ctx, req.ID, store.StateOffline)
}

// handleOneChat is msgId=5. Local delivery first, then cross-node publish,
// then offline persistence as the last resort — and the raw frame is
// forwarded byte-for-byte in every delivery path, never re-encoded.
func (d *Dispatcher) handleOneChat(ctx context.Context, conn registry.Conn, raw []byte, ts time.Time) {
	var req protocol.OneChatFrame
	if err := decodeAndValidate(raw, &req); err != nil {
		log.Printf("dispatch: malformed one-chat frame: %v", err)
		return
	}

	if peer, ok := d.Registry.Lookup(req.ToID); ok {
		peer.Send(raw)
		return
	}

	user, err := d.Store.QueryUser(ctx, req.ToID)
	if err == nil && user.State == store.StateOnline {
		// The recipient is online on another node. Publish and stop here
		// regardless of the broker's ack — there is no offline-insert
		// fallback on a failed publish, matching the original service.
		d.Bus.Publish(ctx, req.ToID, string(raw))
		return
	}

	d.Store.InsertOffline(ctx, req.ToID, string(raw))
}

// handleGroupChat is msgId=8. One registry lock covers every locally-bound
// peer; the ids that come back missing are resolved one at a time, after
// the lock is released, via the same online-publish/offline-insert choice
// handleOneChat uses for a single recipient.
func (d *Dispatcher) handleGroupChat(ctx context.Context, conn registry.Conn, raw []byte, ts time.Time) {
	var req protocol.GroupChatFrame
	if err := decodeAndValidate(raw, &req); err != nil {
		log.Printf("dispatch: malformed group-chat frame: %v", err)
		return
	}

	peers := d.Store.QueryGroupPeers(ctx, req.ID, req.GroupID)
	missing := d.Registry.ForEachSend(peers, raw)

	for _, id := range missing {
		user, err := d.Store.QueryUser(ctx, id)
		if err == nil && user.State == store.StateOnline {
			d.Bus.Publish(ctx, id, string(raw))
			continue
		}
		d.Store.InsertOffline(ctx, id, string(raw))
	}
}

// handleAddFriend is msgId=6. No reply is sent; friendship is recorded as a
// single directed row, asymmetric unless the peer adds back.
func (d *Dispatcher) handleAddFriend(ctx context.Context, conn registry.Conn, raw []byte, ts time.Time) {
	var req protocol.AddFriendRequest
	if err := decodeAndValidate(raw, &req); err != nil {
		log.Printf("dispatch: malformed add-friend frame: %v", err)
		return
	}
	d.Store.InsertFriend(ctx, req.ID, req.FriendID)
}

// handleCreateGroup is msgId=7. No reply is sent. The creator is added as a
// member with the creator role in the same operation, satisfying the
// invariant that a group's creator is always a member.
func (d *Dispatcher) handleCreateGroup(ctx context.Context, conn registry.Conn, raw []byte, ts time.Time) {
	var req protocol.CreateGroupRequest
	if err := decodeAndValidate(raw, &req); err != nil {
		log.Printf("dispatch: malformed create-group frame: %v", err)
		return
	}
	id, err := d.Store.CreateGroup(ctx, req.GroupName, req.GroupDesc)
	if err != nil {
		return
	}
	d.Store.AddGroupMember(ctx, id, req.ID, store.RoleCreator)
}

// handleAddGroup is msgId=9 (ADD_GROUP on the wire, "join group" in
// practice). No reply is sent; the joiner is added with the normal role.
func (d *Dispatcher) handleAddGroup(ctx context.Context, conn registry.Conn, raw []byte, ts time.Time) {
	var req protocol.AddGroupRequest
	if err := decodeAndValidate(raw, &req); err != nil {
		log.Printf("dispatch: malformed add-group frame: %v", err)
		return
	}
	d.Store.AddGroupMember(ctx, req.GroupID, req.ID, store.RoleNormal)
}
