package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ramsesoriginal/sat-tool/internal/domain"
	"github.com/ramsesoriginal/sat-tool/internal/repository"
	"github.com/ramsesoriginal/sat-tool/pkg/config"
	"github.com/ramsesoriginal/sat-tool/pkg/crypto"
	jwtpkg "github.com/ramsesoriginal/sat-tool/pkg/jwt"
)

type userRepoMock struct {
	createFunc        func(ctx context.Context, user *domain.User) error
	getByUsernameFunc func(ctx context.Context, username string) (*domain.User, error)
}

func (m userRepoMock) CreateUser(ctx context.Context, user *domain.User) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, user)
	}
	return nil
}

func (m userRepoMock) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if m.getByUsernameFunc != nil {
		return m.getByUsernameFunc(ctx, username)
	}
	return nil, repository.ErrNotFound
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.APIConfig {
	return config.APIConfig{JWTSecret: "test-secret", AccessTokenTTL: 30 * time.Minute}
}

func storedUser(t *testing.T, username, password string, isAdmin, disabled bool) *domain.User {
	t.Helper()
	hash, err := crypto.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &domain.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		Disabled:     disabled,
		CreatedAt:    time.Now().UTC(),
	}
}

func directoryWith(t *testing.T, users ...*domain.User) userRepoMock {
	t.Helper()
	index := make(map[string]*domain.User, len(users))
	for _, u := range users {
		index[u.Username] = u
	}
	return userRepoMock{
		getByUsernameFunc: func(_ context.Context, username string) (*domain.User, error) {
			if u, ok := index[username]; ok {
				return u, nil
			}
			return nil, repository.ErrNotFound
		},
	}
}

func TestLoginIssuesValidToken(t *testing.T) {
	repo := directoryWith(t, storedUser(t, "alice", "pw123", true, false))
	svc := New(repo, newLogger(), testConfig())

	token, err := svc.Login(context.Background(), "alice", "pw123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a token")
	}

	user, err := svc.Authorize(context.Background(), token)
	if err != nil {
		t.Fatalf("authorize freshly issued token: %v", err)
	}
	if user.Username != "alice" || !user.IsAdmin {
		t.Fatalf("unexpected resolved user: %+v", user)
	}
}

func TestLoginWrongPasswordFails(t *testing.T) {
	repo := directoryWith(t, storedUser(t, "alice", "pw123", false, false))
	svc := New(repo, newLogger(), testConfig())

	if _, err := svc.Login(context.Background(), "alice", "wrongpw"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestLoginFailureDoesNotDistinguishUnknownUser(t *testing.T) {
	repo := directoryWith(t, storedUser(t, "alice", "pw123", false, false))
	svc := New(repo, newLogger(), testConfig())

	_, unknownErr := svc.Login(context.Background(), "nobody", "pw123")
	_, wrongPwErr := svc.Login(context.Background(), "alice", "wrongpw")
	if !errors.Is(unknownErr, ErrAuthFailed) || !errors.Is(wrongPwErr, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for both, got %v and %v", unknownErr, wrongPwErr)
	}
	if unknownErr.Error() != wrongPwErr.Error() {
		t.Fatalf("failure kinds must be indistinguishable: %q vs %q", unknownErr, wrongPwErr)
	}
}

func TestLoginDisabledAccountRejected(t *testing.T) {
	repo := directoryWith(t, storedUser(t, "mallory", "pw123", false, true))
	svc := New(repo, newLogger(), testConfig())

	if _, err := svc.Login(context.Background(), "mallory", "pw123"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for disabled account, got %v", err)
	}
}

func TestAuthorizeExpiredTokenRejected(t *testing.T) {
	repo := directoryWith(t, storedUser(t, "alice", "pw123", false, false))
	cfg := testConfig()
	svc := New(repo, newLogger(), cfg)

	expired, err := jwtpkg.Generate("alice", false, cfg.JWTSecret, -time.Minute)
	if err != nil {
		t.Fatalf("generate expired token: %v", err)
	}
	if _, err := svc.Authorize(context.Background(), expired); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for expired token, got %v", err)
	}
}

func TestLoginFallsBackToDefaultTTLWhenUnset(t *testing.T) {
	repo := directoryWith(t, storedUser(t, "alice", "pw123", false, false))
	cfg := testConfig()
	cfg.AccessTokenTTL = 0
	svc := New(repo, newLogger(), cfg)

	// A non-positive configured TTL means "unconfigured"; the token falls
	// back to the package default and must still be valid right away.
	token, err := svc.Login(context.Background(), "alice", "pw123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.Authorize(context.Background(), token); err != nil {
		t.Fatalf("token issued with default ttl should validate: %v", err)
	}
}

func TestAuthorizeTamperedTokenRejected(t *testing.T) {
	repo := directoryWith(t, storedUser(t, "alice", "pw123", false, false))
	svc := New(repo, newLogger(), testConfig())

	token, err := svc.Login(context.Background(), "alice", "pw123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	tampered := token + "A"
	if _, err := svc.Authorize(context.Background(), tampered); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for tampered token, got %v", err)
	}
}

func TestAuthorizeDeletedSubjectRejected(t *testing.T) {
	alice := storedUser(t, "alice", "pw123", false, false)
	present := true
	repo := userRepoMock{
		getByUsernameFunc: func(_ context.Context, username string) (*domain.User, error) {
			if present && username == "alice" {
				return alice, nil
			}
			return nil, repository.ErrNotFound
		},
	}
	svc := New(repo, newLogger(), testConfig())

	token, err := svc.Login(context.Background(), "alice", "pw123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	present = false
	if _, err := svc.Authorize(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized once subject vanished, got %v", err)
	}
}

func TestAuthorizeEmptyTokenRejected(t *testing.T) {
	svc := New(userRepoMock{}, newLogger(), testConfig())
	if _, err := svc.Authorize(context.Background(), "   "); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateUserHashesPassword(t *testing.T) {
	var created *domain.User
	repo := userRepoMock{
		createFunc: func(_ context.Context, user *domain.User) error {
			created = user
			return nil
		},
	}
	svc := New(repo, newLogger(), testConfig())

	user, err := svc.CreateUser(context.Background(), CreateUserInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "pw123",
		IsAdmin:  true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created == nil {
		t.Fatalf("expected user to be persisted")
	}
	if string(created.PasswordHash) == "pw123" {
		t.Fatalf("password must not be stored in plaintext")
	}
	if err := crypto.ComparePassword(created.PasswordHash, "pw123"); err != nil {
		t.Fatalf("stored hash should verify the original password: %v", err)
	}
	if !user.IsAdmin {
		t.Fatalf("expected admin flag to persist")
	}
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	repo := userRepoMock{
		createFunc: func(context.Context, *domain.User) error {
			return repository.ErrConflict
		},
	}
	svc := New(repo, newLogger(), testConfig())

	if _, err := svc.CreateUser(context.Background(), CreateUserInput{Username: "alice", Password: "pw123"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestCreateUserRequiresUsernameAndPassword(t *testing.T) {
	svc := New(userRepoMock{}, newLogger(), testConfig())
	if _, err := svc.CreateUser(context.Background(), CreateUserInput{Username: " ", Password: ""}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestEnsureAdminBootstrapsMissingAccount(t *testing.T) {
	var created *domain.User
	repo := userRepoMock{
		createFunc: func(_ context.Context, user *domain.User) error {
			created = user
			return nil
		},
	}
	cfg := testConfig()
	cfg.AdminUsername = "root"
	cfg.AdminPassword = "rootpw"
	svc := New(repo, newLogger(), cfg)

	if err := svc.EnsureAdmin(context.Background()); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if created == nil || created.Username != "root" || !created.IsAdmin {
		t.Fatalf("expected bootstrapped admin, got %+v", created)
	}
}

func TestEnsureAdminSkipsExistingAccount(t *testing.T) {
	repo := directoryWith(t, storedUser(t, "root", "rootpw", true, false))
	repo.createFunc = func(context.Context, *domain.User) error {
		return errors.New("create must not be called")
	}
	cfg := testConfig()
	cfg.AdminUsername = "root"
	cfg.AdminPassword = "rootpw"
	svc := New(repo, newLogger(), cfg)

	if err := svc.EnsureAdmin(context.Background()); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
}

func TestEnsureAdminNoopWithoutConfig(t *testing.T) {
	svc := New(userRepoMock{}, newLogger(), testConfig())
	if err := svc.EnsureAdmin(context.Background()); err != nil {
		t.Fatalf("ensure admin without config: %v", err)
	}
}
