package domain

import "time"

// Role is the capability level of an account.
type Role string

const (
	RoleRequester Role = "REQUESTER"
	RoleAgent     Role = "AGENT"
	RoleAdmin     Role = "ADMIN"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleRequester, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// CanManageTickets reports whether the role may mutate tickets it did not
// create: status, priority and assignment changes, and reading any ticket.
func (r Role) CanManageTickets() bool {
	return r == RoleAgent || r == RoleAdmin
}

// User is the domain model for accounts that open and work tickets.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Department   string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Actor is the opaque caller descriptor consumed by the lifecycle engine.
type Actor struct {
	ID   string
	Role Role
}

// ActorFor builds the actor descriptor for a user.
func ActorFor(u *User) Actor {
	return Actor{ID: u.ID, Role: u.Role}
}
