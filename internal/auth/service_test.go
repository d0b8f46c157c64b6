package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/qazdrive/uploadhub/internal/common"
	"github.com/qazdrive/uploadhub/pkg/config"
	"github.com/qazdrive/uploadhub/pkg/types"
	"github.com/qazdrive/uploadhub/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *common.Database {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Auto migrate tables
	err = db.AutoMigrate(&types.User{}, &types.APIKey{})
	require.NoError(t, err)

	return &common.Database{DB: db}
}

func setupTestService(t *testing.T) (*Service, *common.Database) {
	db := setupTestDB(t)

	authConfig := &config.AuthConfig{
		JWTSecret:     "test-secret-key-for-testing-purposes",
		JWTExpiration: time.Hour,
		BCryptCost:    4, // Low cost for testing speed
	}

	service := NewService(db, nil, authConfig)
	return service, db
}

func TestRegister_Success(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	req := &types.RegisterRequest{
		Username: "testuser",
		Email:    "test@example.com",
		Password: "testpassword123",
	}

	user, err := service.Register(ctx, req)

	assert.NoError(t, err)
	assert.NotNil(t, user)
	assert.Equal(t, req.Username, user.Username)
	assert.Equal(t, req.Email, user.Email)
	assert.Empty(t, user.Password) // Password should be removed from response
	assert.True(t, user.IsActive)
	assert.False(t, user.IsAdmin)
	assert.NotEqual(t, uuid.Nil, user.ID)
}

func TestRegister_Duplicate(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()

	user := &types.User{
		Username: "testuser",
		Email:    "first@example.com",
		Password: "hashedpassword",
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)

	tests := []struct {
		name string
		req  *types.RegisterRequest
	}{
		{
			name: "duplicate username",
			req: &types.RegisterRequest{
				Username: "testuser",
				Email:    "second@example.com",
				Password: "testpassword123",
			},
		},
		{
			name: "duplicate email",
			req: &types.RegisterRequest{
				Username: "seconduser",
				Email:    "first@example.com",
				Password: "testpassword123",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := service.Register(ctx, tt.req)
			assert.Error(t, err)
			assert.Nil(t, result)
			assert.Contains(t, err.Error(), "user with username or email already exists")
		})
	}
}

func TestLogin_Success(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	registerReq := &types.RegisterRequest{
		Username: "testuser",
		Email:    "test@example.com",
		Password: "testpassword123",
	}
	user, err := service.Register(ctx, registerReq)
	require.NoError(t, err)

	loginReq := &types.LoginRequest{
		Username: "testuser",
		Password: "testpassword123",
	}

	authToken, err := service.Login(ctx, loginReq)

	assert.NoError(t, err)
	assert.NotNil(t, authToken)
	assert.NotEmpty(t, authToken.Token)
	assert.Equal(t, user.ID, authToken.UserID)
	assert.True(t, authToken.ExpiresAt.After(time.Now()))
}

func TestLogin_InvalidCredentials(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	registerReq := &types.RegisterRequest{
		Username: "testuser",
		Email:    "test@example.com",
		Password: "testpassword123",
	}
	_, err := service.Register(ctx, registerReq)
	require.NoError(t, err)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"unknown username", "nonexistent", "testpassword123"},
		{"wrong password", "testuser", "wrongpassword"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authToken, err := service.Login(ctx, &types.LoginRequest{
				Username: tt.username,
				Password: tt.password,
			})
			assert.Error(t, err)
			assert.Nil(t, authToken)
			assert.Contains(t, err.Error(), "invalid credentials")
		})
	}
}

func TestLogin_InactiveUser(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()

	hashedPassword, err := utils.HashPassword("testpassword123", 10)
	require.NoError(t, err)

	user := &types.User{
		Username: "testuser",
		Email:    "test@example.com",
		Password: hashedPassword,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Model(user).Update("is_active", false).Error)

	authToken, err := service.Login(ctx, &types.LoginRequest{
		Username: "testuser",
		Password: "testpassword123",
	})

	assert.Error(t, err)
	assert.Nil(t, authToken)
	assert.Contains(t, err.Error(), "user account is disabled")
}

func TestValidateToken_Success(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	registerReq := &types.RegisterRequest{
		Username: "testuser",
		Email:    "test@example.com",
		Password: "testpassword123",
	}
	user, err := service.Register(ctx, registerReq)
	require.NoError(t, err)

	authToken, err := service.Login(ctx, &types.LoginRequest{
		Username: "testuser",
		Password: "testpassword123",
	})
	require.NoError(t, err)

	validatedUser, err := service.ValidateToken(ctx, authToken.Token)

	assert.NoError(t, err)
	assert.NotNil(t, validatedUser)
	assert.Equal(t, user.ID, validatedUser.ID)
	assert.Equal(t, user.Username, validatedUser.Username)
	assert.Empty(t, validatedUser.Password)
}

func TestValidateToken_InvalidToken(t *testing.T) {
	service, _ := setupTestService(t)

	user, err := service.ValidateToken(context.Background(), "invalid.jwt.token")

	assert.Error(t, err)
	assert.Nil(t, user)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestCreateAndValidateAPIKey(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	registerReq := &types.RegisterRequest{
		Username: "testuser",
		Email:    "test@example.com",
		Password: "testpassword123",
	}
	user, err := service.Register(ctx, registerReq)
	require.NoError(t, err)

	permissions := []string{"read", "write"}
	apiKey, keyValue, err := service.CreateAPIKey(ctx, user.ID, "test-key", permissions)

	require.NoError(t, err)
	assert.NotEmpty(t, keyValue)
	assert.Equal(t, user.ID, apiKey.UserID)
	assert.Equal(t, "test-key", apiKey.Name)
	assert.Equal(t, permissions, apiKey.Permissions)
	assert.True(t, apiKey.IsActive)
	assert.NotEmpty(t, apiKey.KeyHash)

	validatedUser, validatedAPIKey, err := service.ValidateAPIKey(ctx, keyValue)

	assert.NoError(t, err)
	require.NotNil(t, validatedUser)
	require.NotNil(t, validatedAPIKey)
	assert.Equal(t, user.ID, validatedUser.ID)
	assert.Equal(t, apiKey.ID, validatedAPIKey.ID)
	assert.Empty(t, validatedUser.Password)
}

func TestValidateAPIKey_InvalidKey(t *testing.T) {
	service, _ := setupTestService(t)

	user, apiKey, err := service.ValidateAPIKey(context.Background(), "not-a-real-key")

	assert.Error(t, err)
	assert.Nil(t, user)
	assert.Nil(t, apiKey)
	assert.Contains(t, err.Error(), "invalid API key")
}

func TestValidateAPIKey_InactiveUser(t *testing.T) {
	service, db := setupTestService(t)
	ctx := context.Background()

	user := &types.User{
		Username: "testuser",
		Email:    "test@example.com",
		Password: "hashedpassword",
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)

	_, keyValue, err := service.CreateAPIKey(ctx, user.ID, "test-key", []string{"read"})
	require.NoError(t, err)

	require.NoError(t, db.Model(user).Update("is_active", false).Error)

	validatedUser, validatedAPIKey, err := service.ValidateAPIKey(ctx, keyValue)

	assert.Error(t, err)
	assert.Nil(t, validatedUser)
	assert.Nil(t, validatedAPIKey)
	assert.Contains(t, err.Error(), "user account is disabled")
}

func TestListAPIKeys(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	registerReq := &types.RegisterRequest{
		Username: "testuser",
		Email:    "test@example.com",
		Password: "testpassword123",
	}
	user, err := service.Register(ctx, registerReq)
	require.NoError(t, err)

	apiKeys, err := service.ListAPIKeys(ctx, user.ID)
	assert.NoError(t, err)
	assert.Len(t, apiKeys, 0)

	_, _, err = service.CreateAPIKey(ctx, user.ID, "key1", []string{"read"})
	require.NoError(t, err)
	_, _, err = service.CreateAPIKey(ctx, user.ID, "key2", []string{"write"})
	require.NoError(t, err)

	apiKeys, err = service.ListAPIKeys(ctx, user.ID)
	assert.NoError(t, err)
	assert.Len(t, apiKeys, 2)

	for _, apiKey := range apiKeys {
		assert.Equal(t, user.ID, apiKey.UserID)
		assert.Empty(t, apiKey.User.Password)
	}
}

func TestRevokeAPIKey(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	user1, err := service.Register(ctx, &types.RegisterRequest{
		Username: "user1",
		Email:    "user1@example.com",
		Password: "testpassword123",
	})
	require.NoError(t, err)

	user2, err := service.Register(ctx, &types.RegisterRequest{
		Username: "user2",
		Email:    "user2@example.com",
		Password: "testpassword123",
	})
	require.NoError(t, err)

	apiKey, _, err := service.CreateAPIKey(ctx, user1.ID, "test-key", []string{"read"})
	require.NoError(t, err)

	// Another user cannot revoke the key
	err = service.RevokeAPIKey(ctx, apiKey.ID, user2.ID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "API key not found")

	err = service.RevokeAPIKey(ctx, apiKey.ID, user1.ID)
	assert.NoError(t, err)

	var revokedKey types.APIKey
	service.db.First(&revokedKey, apiKey.ID)
	assert.False(t, revokedKey.IsActive)

	err = service.RevokeAPIKey(ctx, uuid.New(), user1.ID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "API key not found")
}

func TestGetUserByID(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	user, err := service.Register(ctx, &types.RegisterRequest{
		Username: "testuser",
		Email:    "test@example.com",
		Password: "testpassword123",
	})
	require.NoError(t, err)

	retrieved, err := service.GetUserByID(ctx, user.ID)
	assert.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, user.ID, retrieved.ID)
	assert.Empty(t, retrieved.Password)

	missing, err := service.GetUserByID(ctx, uuid.New())
	assert.Error(t, err)
	assert.Nil(t, missing)
	assert.Contains(t, err.Error(), "user not found")
}
