package domain

import "time"

// User represents an authenticatable principal. The username is the sole
// lookup key. PasswordHash never leaves the service boundary.
type User struct {
	Username     string
	Email        string
	PasswordHash []byte
	IsAdmin      bool
	Disabled     bool
	CreatedAt    time.Time
}
