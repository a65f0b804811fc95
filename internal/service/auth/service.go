package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/ramsesoriginal/sat-tool/internal/domain"
	"github.com/ramsesoriginal/sat-tool/internal/repository"
	"github.com/ramsesoriginal/sat-tool/pkg/config"
	"github.com/ramsesoriginal/sat-tool/pkg/crypto"
	jwtpkg "github.com/ramsesoriginal/sat-tool/pkg/jwt"
)

var (
	// ErrAuthFailed covers every login failure: unknown username, wrong
	// password, and disabled accounts all surface identically so the login
	// endpoint leaks nothing about which factor failed.
	ErrAuthFailed = errors.New("incorrect username or password")
	// ErrUnauthorized covers every bearer-token failure on protected routes.
	ErrUnauthorized = errors.New("could not validate credentials")
	// ErrUserExists is returned when a username is already taken.
	ErrUserExists = errors.New("username already exists")
	// ErrInvalidInput marks user-creation payloads that fail validation.
	ErrInvalidInput = errors.New("username and password are required")
)

// Service implements the authentication workflows: password login, bearer
// token authorization, and user creation.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

// CreateUserInput carries the payload of an administrative user creation.
type CreateUserInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

// Login verifies credentials and issues a signed access token. Unknown
// usernames, wrong passwords, and disabled accounts are indistinguishable to
// the caller.
func (s Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("login rejected", "reason", "unknown username")
			return "", ErrAuthFailed
		}
		return "", err
	}
	if user.Disabled {
		s.logger.Warn("login rejected", "reason", "account disabled", "username", user.Username)
		return "", ErrAuthFailed
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Warn("login rejected", "reason", "password mismatch", "username", user.Username)
		return "", ErrAuthFailed
	}
	token, err := jwtpkg.Generate(user.Username, user.IsAdmin, s.cfg.JWTSecret, s.tokenTTL())
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info("user logged in", "username", user.Username)
	return token, nil
}

// Authorize validates a bearer token and re-resolves the subject's current
// record. The admin flag embedded in the token is an issuance-time snapshot
// and is deliberately ignored; authority always comes from the directory.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, ErrUnauthorized
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		s.logger.Warn("token rejected", "reason", err)
		return nil, ErrUnauthorized
	}
	user, err := s.users.GetUserByUsername(ctx, claims.Username())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("token rejected", "reason", "subject no longer exists")
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if user.Disabled {
		s.logger.Warn("token rejected", "reason", "account disabled", "username", user.Username)
		return nil, ErrUnauthorized
	}
	return user, nil
}

// CreateUser hashes the supplied password and persists a new user record.
func (s Service) CreateUser(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	input.Username = strings.TrimSpace(input.Username)
	if input.Username == "" || input.Password == "" {
		return nil, ErrInvalidInput
	}
	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		IsAdmin:      input.IsAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	s.logger.Info("user created", "username", user.Username, "is_admin", user.IsAdmin)
	return user, nil
}

// EnsureAdmin bootstraps the configured admin account when it is absent.
// A no-op when no admin credentials are configured.
func (s Service) EnsureAdmin(ctx context.Context) error {
	if s.cfg.AdminUsername == "" || s.cfg.AdminPassword == "" {
		return nil
	}
	if _, err := s.users.GetUserByUsername(ctx, s.cfg.AdminUsername); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	_, err := s.CreateUser(ctx, CreateUserInput{
		Username: s.cfg.AdminUsername,
		Email:    s.cfg.AdminEmail,
		Password: s.cfg.AdminPassword,
		IsAdmin:  true,
	})
	if errors.Is(err, ErrUserExists) {
		return nil
	}
	return err
}

func (s Service) tokenTTL() time.Duration {
	if s.cfg.AccessTokenTTL > 0 {
		return s.cfg.AccessTokenTTL
	}
	return jwtpkg.DefaultTTL
}
