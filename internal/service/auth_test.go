package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/docuchat/internal/domain"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByName(ctx context.Context, name string) (*domain.User, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) List(ctx context.Context) ([]*domain.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.User), args.Error(1)
}

type MockAPIKeyRepository struct {
	mock.Mock
}

func (m *MockAPIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockAPIKeyRepository) GetByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) GetByUserID(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) Revoke(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func newAuthFixture() (*AuthService, *MockUserRepository, *MockAPIKeyRepository) {
	userRepo := new(MockUserRepository)
	keyRepo := new(MockAPIKeyRepository)
	return NewAuthService(userRepo, keyRepo, &DefaultUUIDGenerator{}), userRepo, keyRepo
}

func TestAuthService_CreateUser(t *testing.T) {
	svc, userRepo, _ := newAuthFixture()
	userRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).Return(nil)

	user, err := svc.CreateUser(context.Background(), "alice")

	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Name)
}

func TestAuthService_CreateUser_RequiresName(t *testing.T) {
	svc, _, _ := newAuthFixture()

	_, err := svc.CreateUser(context.Background(), "")

	var derr *domain.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ErrCodeValidation, derr.Code)
}

func TestAuthService_CreateAPIKey(t *testing.T) {
	svc, userRepo, keyRepo := newAuthFixture()
	userRepo.On("GetByID", mock.Anything, "user-1").Return(&domain.User{ID: "user-1", Name: "alice"}, nil)
	keyRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.APIKey")).Return(nil)

	token, err := svc.CreateAPIKey(context.Background(), "user-1", "laptop")

	require.NoError(t, err)
	assert.True(t, IsValidAPIToken(token), "issued token must satisfy the published format")

	stored := keyRepo.Calls[0].Arguments.Get(1).(*domain.APIKey)
	assert.NotEqual(t, token, stored.KeyHash, "raw token is never persisted")
	assert.Len(t, stored.KeyHash, 64)
}

func TestAuthService_CreateAPIKey_UnknownUser(t *testing.T) {
	svc, userRepo, keyRepo := newAuthFixture()
	userRepo.On("GetByID", mock.Anything, "ghost").Return(nil, domain.ErrUserNotFound)

	_, err := svc.CreateAPIKey(context.Background(), "ghost", "laptop")

	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	keyRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthService_ValidateAPIKey(t *testing.T) {
	svc, _, keyRepo := newAuthFixture()
	token := "dcu_" + strings.Repeat("ab", 32)

	keyRepo.On("GetByHash", mock.Anything, mock.AnythingOfType("string")).
		Return(&domain.APIKey{ID: "key-1", UserID: "user-1", KeyHash: "irrelevant"}, nil)

	userID, err := svc.ValidateAPIKey(context.Background(), token)

	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestAuthService_ValidateAPIKey_MalformedToken(t *testing.T) {
	svc, _, keyRepo := newAuthFixture()

	for _, token := range []string{"", "dcu_short", "wrong_" + strings.Repeat("ab", 32), "dcu_" + strings.Repeat("zz", 32)} {
		_, err := svc.ValidateAPIKey(context.Background(), token)
		assert.ErrorIs(t, err, domain.ErrInvalidAPIKey, "token %q", token)
	}
	keyRepo.AssertNotCalled(t, "GetByHash", mock.Anything, mock.Anything)
}

func TestAuthService_ValidateAPIKey_UnknownHash(t *testing.T) {
	svc, _, keyRepo := newAuthFixture()
	keyRepo.On("GetByHash", mock.Anything, mock.AnythingOfType("string")).Return(nil, domain.ErrAPIKeyNotFound)

	_, err := svc.ValidateAPIKey(context.Background(), "dcu_"+strings.Repeat("ab", 32))

	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)
}

func TestAuthService_ValidateAPIKey_Revoked(t *testing.T) {
	svc, _, keyRepo := newAuthFixture()
	revokedAt := time.Now().UTC()
	keyRepo.On("GetByHash", mock.Anything, mock.AnythingOfType("string")).
		Return(&domain.APIKey{ID: "key-1", UserID: "user-1", RevokedAt: &revokedAt}, nil)

	_, err := svc.ValidateAPIKey(context.Background(), "dcu_"+strings.Repeat("ab", 32))

	assert.ErrorIs(t, err, domain.ErrAPIKeyRevoked)
}

func TestAuthService_CreateAPIKeyWithToken(t *testing.T) {
	svc, _, keyRepo := newAuthFixture()
	keyRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.APIKey")).Return(nil)

	err := svc.CreateAPIKeyWithToken(context.Background(), "user-1", "bootstrap", "dcu_"+strings.Repeat("cd", 32))
	require.NoError(t, err)

	err = svc.CreateAPIKeyWithToken(context.Background(), "user-1", "bootstrap", "not-a-token")
	var derr *domain.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.ErrCodeValidation, derr.Code)
}

func TestIsValidAPIToken(t *testing.T) {
	assert.True(t, IsValidAPIToken("dcu_"+strings.Repeat("0123456789abcdef", 4)))
	assert.False(t, IsValidAPIToken("dcu_"+strings.Repeat("0123456789abcdef", 4)+"00"))
	assert.False(t, IsValidAPIToken(strings.Repeat("0123456789abcdef", 4)))
}
