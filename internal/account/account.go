// Package account registers users and checks their passwords.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/erazemk/svezina/internal/model"
	"github.com/erazemk/svezina/internal/store"
	"github.com/erazemk/svezina/internal/vault"
)

var (
	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

// Service manages credential records.
type Service struct {
	db     *sql.DB
	vault  *vault.Vault
	logger *slog.Logger

	// dummy is verified against when the email is unknown so both paths
	// do the same work.
	dummySalt []byte
	dummyHash []byte
}

// New creates a Service. A nil logger uses slog.Default().
func New(db *sql.DB, v *vault.Vault, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	salt, err := v.GenerateSalt()
	if err != nil {
		return nil, err
	}
	hash, err := v.HashPassword("dummy-password", salt)
	if err != nil {
		return nil, err
	}
	return &Service{db: db, vault: v, logger: logger, dummySalt: salt, dummyHash: hash}, nil
}

// Register creates an account for email.
func (s *Service) Register(ctx context.Context, email, password string) (*model.User, error) {
	if err := model.ValidateEmail(email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := model.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	salt, hash, err := s.derive(password)
	if err != nil {
		return nil, err
	}

	user, err := store.CreateUser(ctx, s.db, email, salt, hash)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("account registered", "user_id", user.ID)
	return user, nil
}

// Authenticate returns the user if password is correct for email.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	user, err := store.GetUserByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.vault.VerifyPassword(password, s.dummySalt, s.dummyHash)
		return nil, ErrInvalidCredentials
	}
	if !s.vault.VerifyPassword(password, user.PasswordSalt, user.PasswordHash) {
		s.logger.Warn("failed login", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ChangePassword replaces the password of email after checking the current
// one. A new salt is generated every time.
func (s *Service) ChangePassword(ctx context.Context, email, current, next string) error {
	user, err := s.Authenticate(ctx, email, current)
	if err != nil {
		return err
	}
	return s.SetPassword(ctx, user.Email, next)
}

// SetPassword replaces the password of email without checking the current
// one. It is meant for administrative tooling.
func (s *Service) SetPassword(ctx context.Context, email, password string) error {
	if err := model.ValidatePassword(password); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	salt, hash, err := s.derive(password)
	if err != nil {
		return err
	}

	found, err := store.UpdateUserPassword(ctx, s.db, email, salt, hash)
	if err != nil {
		return err
	}
	if !found {
		return ErrInvalidCredentials
	}

	s.logger.Info("password changed", "email", email)
	return nil
}

func (s *Service) derive(password string) (salt, hash []byte, err error) {
	salt, err = s.vault.GenerateSalt()
	if err != nil {
		return nil, nil, fmt.Errorf("deriving credentials: %w", err)
	}
	hash, err = s.vault.HashPassword(password, salt)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving credentials: %w", err)
	}
	return salt, hash, nil
}
