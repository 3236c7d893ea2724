package store

// User is a row of the users table.
type User struct {
	ID       int64  `db:"id"`
	Name     string `db:"name"`
	Password string `db:"password"`
	State    string `db:"state"`
}

const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// Member is a user as seen from inside a group: its membership role
// alongside the usual identity/presence fields.
type Member struct {
	ID    int64  `db:"id"`
	Name  string `db:"name"`
	State string `db:"state"`
	Role  string `db:"role"`
}

const (
	RoleCreator = "creator"
	RoleNormal  = "normal"
)

// Group is a row of the groups table, enriched with its membership list.
type Group struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Members     []Member
}
