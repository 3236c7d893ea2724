// Package store implements CRUD access to the five tables backing the chat
// service: users, friends, groups, group_members, offline_messages.
//
// Writes are best-effort: a failure is logged and swallowed, never
// propagated to the caller. The exceptions are InsertUser and CreateGroup,
// which return an error alongside the generated id. List reads return an
// empty (non-nil) slice on failure; QueryUser returns ErrNotFound for a
// missing row and the driver error for any other failure. This mirrors the original chat service's MySQL models, which never
// surfaced a driver error past the model layer — callers there tolerate a
// failed insert exactly as they do here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned by QueryUser when no row matches.
	ErrNotFound = errors.New("store: not found")
	// ErrNameInUse is returned by InsertUser on a unique-name collision.
	ErrNameInUse = errors.New("store: name already in use")
)

// Store wraps a *sqlx.DB. Each method is self-contained; the struct holds
// no mutable state of its own beyond the pooled connection, so a Store is
// safe for concurrent use by any number of dispatcher workers.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-connected *sqlx.DB as a Store.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// InsertUser creates a new user row and returns its generated id.
func (s *Store) InsertUser(ctx context.Context, name, password string) (int64, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO users (name, password, state) VALUES ($1, $2, $3) RETURNING id`,
		name, password, StateOffline,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, ErrNameInUse
		}
		log.Printf("store: insert user %q failed: %v", name, err)
		return 0, err
	}
	return id, nil
}

// QueryUser looks up a user by id. Returns ErrNotFound if absent.
func (s *Store) QueryUser(ctx context.Context, id int64) (*User, error) {
	u := &User{}
	err := s.db.GetContext(ctx, u,
		`SELECT id, name, password, state FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Printf("store: query user %d failed: %v", id, err)
		return nil, err
	}
	return u, nil
}

// UpdateUserState unconditionally overwrites a user's online/offline state.
// Failure is logged and swallowed.
func (s *Store) UpdateUserState(ctx context.Context, id int64, state string) {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET state = $2 WHERE id = $1`, id, state)
	if err != nil {
		log.Printf("store: update state for user %d failed: %v", id, err)
	}
}

// ResetAllOnlineToOffline marks every online user offline. Called once at
// server boot to repair state left behind by a previous crash.
func (s *Store) ResetAllOnlineToOffline(ctx context.Context) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET state = $1 WHERE state = $2`, StateOffline, StateOnline)
	if err != nil {
		log.Printf("store: reset online users failed: %v", err)
	}
}

// InsertFriend inserts a directed friend row. Duplicate inserts are
// tolerated: the caller does not need the row to be new, only present.
func (s *Store) InsertFriend(ctx context.Context, userID, friendID int64) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO friends (user_id, friend_id) VALUES ($1, $2)`, userID, friendID)
	if err != nil {
		log.Printf("store: insert friend %d->%d failed: %v", userID, friendID, err)
	}
}

// QueryFriends returns the friends of userID, joined against their current
// presence state. Returns an empty (non-nil) slice on failure.
func (s *Store) QueryFriends(ctx context.Context, userID int64) []User {
	friends := []User{}
	rows, err := s.db.QueryxContext(ctx,
		`SELECT u.id, u.name, u.state FROM friends f
		 JOIN users u ON u.id = f.friend_id
		 WHERE f.user_id = $1`, userID)
	if err != nil {
		log.Printf("store: query friends for %d failed: %v", userID, err)
		return friends
	}
	defer rows.Close()

	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.State); err != nil {
			continue
		}
		friends = append(friends, u)
	}
	return friends
}

// CreateGroup inserts a new group and returns its generated id.
func (s *Store) CreateGroup(ctx context.Context, name, desc string) (int64, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO groups (name, description) VALUES ($1, $2) RETURNING id`,
		name, desc,
	).Scan(&id)
	if err != nil {
		log.Printf("store: create group %q failed: %v", name, err)
		return 0, err
	}
	return id, nil
}

// AddGroupMember adds userID to groupID with the given role. A duplicate
// membership is silently ignored rather than erroring.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID int64, role string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (group_id, user_id) DO NOTHING`, groupID, userID, role)
	if err != nil {
		log.Printf("store: add member %d to group %d failed: %v", userID, groupID, err)
	}
}

// QueryGroupsOfUser returns every group userID belongs to, each with its
// full member list. Two-phase: list groups, then per-group list members —
// matching the original model's join strategy rather than one oversized
// query.
func (s *Store) QueryGroupsOfUser(ctx context.Context, userID int64) []Group {
	groups := []Group{}
	rows, err := s.db.QueryxContext(ctx,
		`SELECT g.id, g.name, g.description FROM groups g
		 JOIN group_members m ON m.group_id = g.id
		 WHERE m.user_id = $1`, userID)
	if err != nil {
		log.Printf("store: query groups for user %d failed: %v", userID, err)
		return groups
	}
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description); err != nil {
			continue
		}
		groups = append(groups, g)
	}
	rows.Close()

	for i := range groups {
		groups[i].Members = s.queryGroupMembers(ctx, groups[i].ID)
	}
	return groups
}

func (s *Store) queryGroupMembers(ctx context.Context, groupID int64) []Member {
	members := []Member{}
	rows, err := s.db.QueryxContext(ctx,
		`SELECT u.id, u.name, u.state, m.role FROM users u
		 JOIN group_members m ON m.user_id = u.id
		 WHERE m.group_id = $1`, groupID)
	if err != nil {
		log.Printf("store: query members of group %d failed: %v", groupID, err)
		return members
	}
	defer rows.Close()

	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Name, &m.State, &m.Role); err != nil {
			continue
		}
		members = append(members, m)
	}
	return members
}

// QueryGroupPeers returns the ids of every member of groupID other than
// userID — the fan-out target list for a group chat send.
func (s *Store) QueryGroupPeers(ctx context.Context, userID, groupID int64) []int64 {
	peers := []int64{}
	rows, err := s.db.QueryxContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = $1 AND user_id != $2`,
		groupID, userID)
	if err != nil {
		log.Printf("store: query peers of group %d failed: %v", groupID, err)
		return peers
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			continue
		}
		peers = append(peers, id)
	}
	return peers
}

// InsertOffline stores the verbatim wire frame payload for a user who could
// not be reached at send time.
func (s *Store) InsertOffline(ctx context.Context, userID int64, payload string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO offline_messages (user_id, payload) VALUES ($1, $2)`, userID, payload)
	if err != nil {
		log.Printf("store: insert offline message for %d failed: %v", userID, err)
	}
}

// QueryOffline returns every pending offline payload for userID, in no
// particular order.
func (s *Store) QueryOffline(ctx context.Context, userID int64) []string {
	payloads := []string{}
	rows, err := s.db.QueryxContext(ctx,
		`SELECT payload FROM offline_messages WHERE user_id = $1`, userID)
	if err != nil {
		log.Printf("store: query offline messages for %d failed: %v", userID, err)
		return payloads
	}
	defer rows.Close()

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			continue
		}
		payloads = append(payloads, p)
	}
	return payloads
}

// DeleteOffline removes every offline row for userID. Called immediately
// after a successful QueryOffline at login so a message is not redelivered.
func (s *Store) DeleteOffline(ctx context.Context, userID int64) {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_messages WHERE user_id = $1`, userID)
	if err != nil {
		log.Printf("store: delete offline messages for %d failed: %v", userID, err)
	}
}
