package models

import "time"

// UserAccess records a token issued to a user
type UserAccess struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	IP        string    `json:"ip"`
	Browser   string    `json:"browser"`
	Country   string    `json:"country"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientInfo describes the caller of a request
type ClientInfo struct {
	IP      string
	Browser string
	Country string
}
