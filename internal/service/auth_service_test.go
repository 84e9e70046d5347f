package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpdesk-mini/helpdesk/internal/config"
	"github.com/helpdesk-mini/helpdesk/internal/domain"
	"github.com/helpdesk-mini/helpdesk/internal/repository"
)

func newAuthService(t *testing.T) (*AuthService, *repository.MemoryUserRepository) {
	t.Helper()
	users := repository.NewMemoryUserRepository()
	cfg := config.Config{
		Auth: config.AuthConfig{
			JWTSecret:             "test-secret",
			AccessTokenTTLMinutes: 60,
			// Minimum cost keeps the hashing fast under test.
			BcryptCost: 4,
		},
	}
	return NewAuthService(cfg, users), users
}

func TestRegisterDefaultsToRequester(t *testing.T) {
	svc, _ := newAuthService(t)

	user, token, _, err := svc.Register(context.Background(), nil, RegisterInput{
		Name:     "Pat",
		Email:    "Pat@Example.com",
		Password: "hunter2hunter2",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleRequester, user.Role)
	assert.Equal(t, "pat@example.com", user.Email, "emails are normalized")
	assert.True(t, user.IsActive)
	assert.NotEmpty(t, token)
	assert.NotEqual(t, "hunter2hunter2", user.PasswordHash)
}

func TestRegisterElevatedRoleNeedsAdmin(t *testing.T) {
	svc, _ := newAuthService(t)

	_, _, _, err := svc.Register(context.Background(), nil, RegisterInput{
		Name:     "Sam",
		Email:    "sam@example.com",
		Password: "hunter2hunter2",
		Role:     domain.RoleAgent,
	})
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", errorCode(t, err))

	adminActor := domain.Actor{ID: "admin", Role: domain.RoleAdmin}
	user, _, _, err := svc.Register(context.Background(), &adminActor, RegisterInput{
		Name:     "Sam",
		Email:    "sam@example.com",
		Password: "hunter2hunter2",
		Role:     domain.RoleAgent,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAgent, user.Role)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _ := newAuthService(t)

	input := RegisterInput{Name: "Pat", Email: "pat@example.com", Password: "hunter2hunter2"}
	_, _, _, err := svc.Register(context.Background(), nil, input)
	require.NoError(t, err)

	_, _, _, err = svc.Register(context.Background(), nil, input)
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", errorCode(t, err))
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newAuthService(t)

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{name: "missing name", input: RegisterInput{Email: "a@b.c", Password: "hunter2hunter2"}},
		{name: "missing email", input: RegisterInput{Name: "A", Password: "hunter2hunter2"}},
		{name: "short password", input: RegisterInput{Name: "A", Email: "a@b.c", Password: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := svc.Register(context.Background(), nil, tt.input)
			require.Error(t, err)
			assert.Equal(t, "VALIDATION_FAILED", errorCode(t, err))
		})
	}
}

func TestLogin(t *testing.T) {
	svc, users := newAuthService(t)

	registered, _, _, err := svc.Register(context.Background(), nil, RegisterInput{
		Name:     "Pat",
		Email:    "pat@example.com",
		Password: "hunter2hunter2",
	})
	require.NoError(t, err)

	user, token, _, err := svc.Login(context.Background(), "PAT@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.NotEmpty(t, token)

	claims, err := svc.TokenManager().ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, claims.UserID)
	assert.Equal(t, domain.RoleRequester, claims.Role)

	_, _, _, err = svc.Login(context.Background(), "pat@example.com", "wrong-password")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, err))

	_, _, _, err = svc.Login(context.Background(), "nobody@example.com", "hunter2hunter2")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, err))

	// Disabled accounts cannot log in even with valid credentials.
	stored, err := users.GetByID(context.Background(), registered.ID)
	require.NoError(t, err)
	stored.IsActive = false
	require.NoError(t, users.Update(context.Background(), stored))

	_, _, _, err = svc.Login(context.Background(), "pat@example.com", "hunter2hunter2")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, err))
}

func TestChangePassword(t *testing.T) {
	svc, _ := newAuthService(t)

	user, _, _, err := svc.Register(context.Background(), nil, RegisterInput{
		Name:     "Pat",
		Email:    "pat@example.com",
		Password: "hunter2hunter2",
	})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), user.ID, "wrong", "newpassword1")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, err))

	require.NoError(t, svc.ChangePassword(context.Background(), user.ID, "hunter2hunter2", "newpassword1"))

	_, _, _, err = svc.Login(context.Background(), "pat@example.com", "newpassword1")
	require.NoError(t, err)
}

func TestListAgentsReturnsActiveStaff(t *testing.T) {
	svc, users := newAuthService(t)

	seed := []domain.User{
		{ID: "u-req", Name: "Req", Email: "req@example.com", Role: domain.RoleRequester, IsActive: true},
		{ID: "u-agent", Name: "Alice", Email: "alice@example.com", Role: domain.RoleAgent, IsActive: true},
		{ID: "u-admin", Name: "Bob", Email: "bob@example.com", Role: domain.RoleAdmin, IsActive: true},
		{ID: "u-gone", Name: "Carol", Email: "carol@example.com", Role: domain.RoleAgent, IsActive: false},
	}
	for i := range seed {
		require.NoError(t, users.Create(context.Background(), &seed[i]))
	}

	_, err := svc.ListAgents(context.Background(), domain.Actor{ID: "u-req", Role: domain.RoleRequester})
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", errorCode(t, err))

	agents, err := svc.ListAgents(context.Background(), domain.Actor{ID: "u-agent", Role: domain.RoleAgent})
	require.NoError(t, err)
	require.Len(t, agents, 2)
	// Requesters and deactivated accounts are excluded.
	assert.Equal(t, "Alice", agents[0].Name)
	assert.Equal(t, "Bob", agents[1].Name)
}
