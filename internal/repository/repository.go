package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/auth-service/internal/models"
	"github.com/lib/pq"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

const uniqueViolation = "23505"

const userColumns = `id, email, username, name, age, password_hash, verification, verified,
		login_attempts, block_expires, created_at, updated_at`

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (email, username, name, age, password_hash, verification, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		user.Email, user.Username, user.Name, user.Age, user.PasswordHash, user.Verification).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByEmail retrieves a user by email
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE email = $1`
	return r.findUser(ctx, query, email)
}

// FindUserByID retrieves a user by id
func (r *Repository) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`
	return r.findUser(ctx, query, id)
}

func (r *Repository) findUser(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	var blockExpires sql.NullTime
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.Username, &user.Name, &user.Age, &user.PasswordHash,
		&user.Verification, &user.Verified, &user.LoginAttempts, &blockExpires,
		&user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if blockExpires.Valid {
		t := blockExpires.Time
		user.BlockExpires = &t
	}
	return user, nil
}

// VerifyUser marks the unverified user owning the verification id as verified
// and returns their email
func (r *Repository) VerifyUser(ctx context.Context, verification string) (string, error) {
	query := `
		UPDATE users
		SET verified = TRUE, updated_at = CURRENT_TIMESTAMP
		WHERE verification = $1 AND verified = FALSE
		RETURNING email`
	var email string
	err := r.db.QueryRowContext(ctx, query, verification).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to verify user: %w", err)
	}
	return email, nil
}

// IncrementLoginAttempts bumps the failed login counter and returns its new value
func (r *Repository) IncrementLoginAttempts(ctx context.Context, id int64) (int, error) {
	query := `
		UPDATE users
		SET login_attempts = login_attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING login_attempts`
	var attempts int
	err := r.db.QueryRowContext(ctx, query, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment login attempts for user %d: %w", id, err)
	}
	return attempts, nil
}

// BlockUser locks the account until the given time
func (r *Repository) BlockUser(ctx context.Context, id int64, until time.Time) error {
	query := `
		UPDATE users
		SET block_expires = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	return r.execOne(ctx, fmt.Sprintf("block user %d", id), query, id, until)
}

// ResetLoginAttempts clears the failed login counter and any lockout
func (r *Repository) ResetLoginAttempts(ctx context.Context, id int64) error {
	query := `
		UPDATE users
		SET login_attempts = 0, block_expires = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	return r.execOne(ctx, fmt.Sprintf("reset login attempts for user %d", id), query, id)
}

// ReleaseExpiredBlocks unblocks every account whose lockout ended before now
func (r *Repository) ReleaseExpiredBlocks(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE users
		SET login_attempts = 0, block_expires = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE block_expires IS NOT NULL AND block_expires <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired blocks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to release expired blocks: %w", err)
	}
	return n, nil
}

// CreateForgotPassword stores a password reset request
func (r *Repository) CreateForgotPassword(ctx context.Context, fp *models.ForgotPassword) error {
	query := `
		INSERT INTO forgot_passwords (email, verification, ip_request, browser_request, country_request, created_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		fp.Email, fp.Verification, fp.IPRequest, fp.BrowserRequest, fp.CountryRequest).
		Scan(&fp.ID, &fp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create forgot password request: %w", err)
	}
	return nil
}

// ResetPassword consumes an unused reset request and stores the new password
// hash for its owner in one transaction. It returns the owner's email.
func (r *Repository) ResetPassword(ctx context.Context, verification, passwordHash string, client models.ClientInfo) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	consume := `
		UPDATE forgot_passwords
		SET used = TRUE, ip_changed = $2, browser_changed = $3, country_changed = $4
		WHERE verification = $1 AND used = FALSE
		RETURNING email`
	var email string
	err = tx.QueryRowContext(ctx, consume, verification, client.IP, client.Browser, client.Country).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume forgot password request: %w", err)
	}

	update := `
		UPDATE users
		SET password_hash = $2, updated_at = CURRENT_TIMESTAMP
		WHERE email = $1`
	res, err := tx.ExecContext(ctx, update, email, passwordHash)
	if err != nil {
		return "", fmt.Errorf("failed to update password: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", fmt.Errorf("failed to update password: %w", err)
	} else if n == 0 {
		return "", ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit password reset: %w", err)
	}
	return email, nil
}

// CreateUserAccess records an issued token
func (r *Repository) CreateUserAccess(ctx context.Context, access *models.UserAccess) error {
	query := `
		INSERT INTO user_access (email, ip, browser, country, created_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, access.Email, access.IP, access.Browser, access.Country).
		Scan(&access.ID, &access.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user access: %w", err)
	}
	return nil
}

func (r *Repository) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
}
