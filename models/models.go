package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	Username     string      `json:"username"`
	PasswordHash string      `json:"-"`
	Role         string      `json:"role"` // "admin" or "user"
	LoginHistory []time.Time `json:"login_history,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserLogins is one entry of the per-user login history listing.
type UserLogins struct {
	Username string      `json:"username"`
	Logins   []time.Time `json:"logins"`
}
