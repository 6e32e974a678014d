package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dan9191/auth-service/internal/auth"
	"github.com/Dan9191/auth-service/internal/config"
	"github.com/Dan9191/auth-service/internal/models"
	"github.com/Dan9191/auth-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// PasswordCost is the bcrypt cost factor for stored passwords
const PasswordCost = 10

const (
	MsgResetEmailSent  = "RESET_EMAIL_SENT"
	MsgPasswordChanged = "PASSWORD_CHANGED"
)

// Store is the persistence the service depends on
type Store interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	VerifyUser(ctx context.Context, verification string) (string, error)
	IncrementLoginAttempts(ctx context.Context, id int64) (int, error)
	BlockUser(ctx context.Context, id int64, until time.Time) error
	ResetLoginAttempts(ctx context.Context, id int64) error
	ReleaseExpiredBlocks(ctx context.Context, now time.Time) (int64, error)
	CreateForgotPassword(ctx context.Context, fp *models.ForgotPassword) error
	ResetPassword(ctx context.Context, verification, passwordHash string, client models.ClientInfo) (string, error)
	CreateUserAccess(ctx context.Context, access *models.UserAccess) error
}

// Mailer delivers verification and reset links
type Mailer interface {
	SendVerification(to, name, verification string) error
	SendResetPassword(to, name, verification string) error
}

// Locator resolves the country of an IP address
type Locator interface {
	Country(ctx context.Context, ip string) (string, error)
}

// RegisterInput holds the fields of a new account
type RegisterInput struct {
	Email    string
	Password string
	Username string
	Name     string
	Age      int
}

// AuthResult is a freshly issued token together with its owner
type AuthResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// VerifyResult is the outcome of an email verification
type VerifyResult struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// ForgotResult acknowledges a password reset request
type ForgotResult struct {
	Msg          string `json:"msg"`
	Verification string `json:"verification,omitempty"`
}

// Service handles business logic
type Service struct {
	repo   Store
	tokens *auth.TokenManager
	mailer Mailer
	geo    Locator
	log    *logrus.Logger
	config *config.Config
	now    func() time.Time
}

// NewService initializes a new service
func NewService(repo Store, tokens *auth.TokenManager, mailer Mailer, geo Locator, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{
		repo:   repo,
		tokens: tokens,
		mailer: mailer,
		geo:    geo,
		log:    log,
		config: cfg,
		now:    time.Now,
	}
}

// Health checks that the datastore is reachable
func (s *Service) Health(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Register creates a new user with hashed password and returns a token for it
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := normalizeEmail(in.Email)

	// Duplicates racing past this lookup are rejected by the unique index on email.
	if _, err := s.repo.FindUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailAlreadyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hashedPassword, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		Username:     strings.TrimSpace(in.Username),
		Name:         strings.TrimSpace(in.Name),
		Age:          in.Age,
		PasswordHash: hashedPassword,
		Verification: uuid.NewString(),
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailAlreadyExists
		}
		return nil, err
	}

	if err := s.mailer.SendVerification(user.Email, user.Name, user.Verification); err != nil {
		s.log.Warnf("Verification email for %s not delivered: %v", user.Email, err)
	}

	token, err := s.tokens.Generate(user.Email, user.ID)
	if err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s", user.Email)
	return &AuthResult{Token: token, User: s.present(user)}, nil
}

// Login authenticates a user and returns a JWT token. Failed attempts are
// counted; reaching the configured limit blocks the account for the block
// duration, during which even the correct password is refused.
func (s *Service) Login(ctx context.Context, email, password string, client models.ClientInfo) (*AuthResult, error) {
	user, err := s.repo.FindUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if user.IsBlocked(now) {
		s.log.Warnf("Login refused for blocked user %s", user.Email)
		return nil, ErrBlockedUser
	}
	if user.BlockExpired(now) {
		if err := s.repo.ResetLoginAttempts(ctx, user.ID); err != nil {
			return nil, err
		}
		user.LoginAttempts = 0
		user.BlockExpires = nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, s.registerFailedLogin(ctx, user, now)
	}

	if user.LoginAttempts > 0 {
		if err := s.repo.ResetLoginAttempts(ctx, user.ID); err != nil {
			return nil, err
		}
		user.LoginAttempts = 0
	}

	result, err := s.issueToken(ctx, user, client)
	if err != nil {
		return nil, err
	}

	s.log.Infof("User logged in: %s", user.Email)
	return result, nil
}

func (s *Service) registerFailedLogin(ctx context.Context, user *models.User, now time.Time) error {
	attempts, err := s.repo.IncrementLoginAttempts(ctx, user.ID)
	if err != nil {
		return err
	}

	if attempts >= s.config.LoginAttempts {
		until := now.Add(s.config.BlockDuration)
		if err := s.repo.BlockUser(ctx, user.ID, until); err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{
			"email":    user.Email,
			"attempts": attempts,
			"until":    until.Format(time.RFC3339),
		}).Warn("User blocked after repeated login failures")
	}

	return ErrWrongPassword
}

// Verify marks the account owning the verification id as verified
func (s *Service) Verify(ctx context.Context, verification string) (*VerifyResult, error) {
	email, err := s.repo.VerifyUser(ctx, verification)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFoundOrAlreadyVerified
	}
	if err != nil {
		return nil, err
	}

	s.log.Infof("User verified: %s", email)
	return &VerifyResult{Email: email, Verified: true}, nil
}

// ForgotPassword issues a single-use reset id and mails it to the user
func (s *Service) ForgotPassword(ctx context.Context, email string, client models.ClientInfo) (*ForgotResult, error) {
	user, err := s.repo.FindUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	client = s.locate(ctx, client)
	fp := &models.ForgotPassword{
		Email:          user.Email,
		Verification:   uuid.NewString(),
		IPRequest:      client.IP,
		BrowserRequest: client.Browser,
		CountryRequest: client.Country,
	}
	if err := s.repo.CreateForgotPassword(ctx, fp); err != nil {
		return nil, err
	}

	if err := s.mailer.SendResetPassword(user.Email, user.Name, fp.Verification); err != nil {
		s.log.Warnf("Reset email for %s not delivered: %v", user.Email, err)
	}

	s.log.Infof("Password reset requested: %s", user.Email)
	result := &ForgotResult{Msg: MsgResetEmailSent}
	if !s.config.IsProduction() {
		result.Verification = fp.Verification
	}
	return result, nil
}

// ResetPassword consumes a reset id and stores the new password
func (s *Service) ResetPassword(ctx context.Context, verification, password string, client models.ClientInfo) error {
	hashedPassword, err := hashPassword(password)
	if err != nil {
		return err
	}

	email, err := s.repo.ResetPassword(ctx, verification, hashedPassword, s.locate(ctx, client))
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFoundOrAlreadyUsed
	}
	if err != nil {
		return err
	}

	s.log.Infof("Password changed: %s", email)
	return nil
}

// RefreshToken issues a new token for the holder of a valid one
func (s *Service) RefreshToken(ctx context.Context, claims *auth.Claims, client models.ClientInfo) (*AuthResult, error) {
	user, err := s.repo.FindUserByID(ctx, claims.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return s.issueToken(ctx, user, client)
}

// ReleaseExpiredBlocks unblocks accounts whose lockout has run out
func (s *Service) ReleaseExpiredBlocks(ctx context.Context) (int64, error) {
	n, err := s.repo.ReleaseExpiredBlocks(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Infof("Released %d expired account blocks", n)
	}
	return n, nil
}

func (s *Service) issueToken(ctx context.Context, user *models.User, client models.ClientInfo) (*AuthResult, error) {
	client = s.locate(ctx, client)
	access := &models.UserAccess{
		Email:   user.Email,
		IP:      client.IP,
		Browser: client.Browser,
		Country: client.Country,
	}
	if err := s.repo.CreateUserAccess(ctx, access); err != nil {
		return nil, err
	}

	token, err := s.tokens.Generate(user.Email, user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: s.present(user)}, nil
}

// locate fills in the client's country, leaving it empty when the lookup fails
func (s *Service) locate(ctx context.Context, client models.ClientInfo) models.ClientInfo {
	if client.Country != "" || client.IP == "" {
		return client
	}
	country, err := s.geo.Country(ctx, client.IP)
	if err != nil {
		s.log.Warnf("Geo-IP lookup for %s failed: %v", client.IP, err)
		return client
	}
	client.Country = country
	return client
}

// present hides the verification id from responses in production
func (s *Service) present(user *models.User) *models.User {
	out := *user
	if s.config.IsProduction() {
		out.Verification = ""
	}
	return &out
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
