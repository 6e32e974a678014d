package service

import "errors"

var (
	ErrUserNotFound              = errors.New("user does not exist")
	ErrEmailAlreadyExists        = errors.New("email already exists")
	ErrWrongPassword             = errors.New("wrong password")
	ErrBlockedUser               = errors.New("user is blocked")
	ErrNotFoundOrAlreadyVerified = errors.New("verification not found or already verified")
	ErrNotFoundOrAlreadyUsed     = errors.New("reset request not found or already used")
	ErrPasswordTooLong           = errors.New("password exceeds 72 bytes")
)
