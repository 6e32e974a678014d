package models

import "time"

// User represents a registered account
type User struct {
	ID            int64      `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username"`
	Name          string     `json:"name"`
	Age           int        `json:"age"`
	PasswordHash  string     `json:"-"` // Not serialized
	Verification  string     `json:"verification,omitempty"`
	Verified      bool       `json:"verified"`
	LoginAttempts int        `json:"-"`
	BlockExpires  *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsBlocked reports whether the account is locked out at the given moment
func (u *User) IsBlocked(now time.Time) bool {
	return u.BlockExpires != nil && u.BlockExpires.After(now)
}

// BlockExpired reports whether the account carries a lockout that has already run out
func (u *User) BlockExpired(now time.Time) bool {
	return u.BlockExpires != nil && !u.BlockExpires.After(now)
}
