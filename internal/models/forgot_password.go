package models

import "time"

// ForgotPassword is a single-use password reset request
type ForgotPassword struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	Verification   string    `json:"verification"`
	Used           bool      `json:"used"`
	IPRequest      string    `json:"ip_request"`
	BrowserRequest string    `json:"browser_request"`
	CountryRequest string    `json:"country_request"`
	IPChanged      string    `json:"ip_changed"`
	BrowserChanged string    `json:"browser_changed"`
	CountryChanged string    `json:"country_changed"`
	CreatedAt      time.Time `json:"created_at"`
}
