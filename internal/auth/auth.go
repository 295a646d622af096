// Package auth manages credential accounts: lookup by email, creation,
// update and deletion. Email uniqueness is checked by probing the lookup
// before creating.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var (
	ErrEmailTaken      = errors.New("email is taken")
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidEmail    = errors.New("invalid email")
	ErrWeakPassword    = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrWrongPassword   = errors.New("wrong password")
	ErrAccountDisabled = errors.New("account disabled")
)

// Account is a stored credential record.
type Account struct {
	UID           string    `json:"uid"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"email_verified"`
	Disabled      bool      `json:"disabled"`
	DisplayName   string    `json:"display_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Update lists the account attributes to change. Nil fields are left as is.
type Update struct {
	Email         *string `json:"email,omitempty"`
	Password      *string `json:"password,omitempty"`
	EmailVerified *bool   `json:"email_verified,omitempty"`
	Disabled      *bool   `json:"disabled,omitempty"`
	DisplayName   *string `json:"display_name,omitempty"`
}

// Backend persists accounts. Lookups of missing accounts return
// ErrAccountNotFound.
type Backend interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, uid string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	UpdateAccount(ctx context.Context, a *Account) error
	DeleteAccount(ctx context.Context, uid string) error
}

// Service implements account operations over a Backend.
type Service struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
	cost    int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithHashCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService creates a Service.
func NewService(b Backend, opts ...Option) *Service {
	s := &Service{backend: b, logger: slog.Default(), now: time.Now, cost: bcrypt.DefaultCost}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AssertEmailNotTaken returns ErrEmailTaken when an account already uses
// email. Any lookup failure other than not-found counts as "not taken".
func (s *Service) AssertEmailNotTaken(ctx context.Context, email string) error {
	a, err := s.backend.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			s.logger.Debug("email probe failed", "email", email, "err", err)
		}
		return nil
	}
	if a != nil && a.UID != "" {
		return fmt.Errorf("%w: %s", ErrEmailTaken, email)
	}
	return nil
}

// CreateUser creates an enabled, unverified account.
func (s *Service) CreateUser(ctx context.Context, email, password string) (*Account, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := s.AssertEmailNotTaken(ctx, email); err != nil {
		return nil, err
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a := &Account{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.backend.CreateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	s.logger.Info("account created", "uid", a.UID)
	return a, nil
}

// UpdateUser applies u to the account with the given uid.
func (s *Service) UpdateUser(ctx context.Context, uid string, u Update) (*Account, error) {
	a, err := s.backend.GetAccount(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", uid, err)
	}

	if u.Email != nil {
		email := normalizeEmail(*u.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		if email != a.Email {
			if err := s.AssertEmailNotTaken(ctx, email); err != nil {
				return nil, err
			}
			a.Email = email
			a.EmailVerified = false
		}
	}
	if u.Password != nil {
		if a.PasswordHash, err = s.hash(*u.Password); err != nil {
			return nil, err
		}
	}
	if u.EmailVerified != nil {
		a.EmailVerified = *u.EmailVerified
	}
	if u.Disabled != nil {
		a.Disabled = *u.Disabled
	}
	if u.DisplayName != nil {
		a.DisplayName = *u.DisplayName
	}
	a.UpdatedAt = s.now().UTC()

	if err := s.backend.UpdateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("update account %s: %w", uid, err)
	}
	return a, nil
}

// DeleteUser removes the account with the given uid.
func (s *Service) DeleteUser(ctx context.Context, uid string) error {
	if err := s.backend.DeleteAccount(ctx, uid); err != nil {
		return fmt.Errorf("delete account %s: %w", uid, err)
	}
	s.logger.Info("account deleted", "uid", uid)
	return nil
}

// GetUserByEmail looks an account up by email.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*Account, error) {
	a, err := s.backend.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

// Authenticate checks a password and returns the matching enabled account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Account, error) {
	a, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if a.Disabled {
		return nil, ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return nil, ErrWrongPassword
	}
	return a, nil
}

func (s *Service) hash(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}
