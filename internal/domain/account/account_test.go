package account

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/haulnav/internal/domain/shared"
)

func TestNewAccount(t *testing.T) {
	a, err := NewAccount("  carrier-1 ", shared.RoleCarrier, "Ivan")
	require.NoError(t, err)
	assert.Equal(t, "carrier-1", a.UserID)
	assert.Equal(t, shared.RoleCarrier, a.Role)
	assert.False(t, a.CreatedAt.IsZero())

	_, err = NewAccount("", shared.RoleClient, "")
	assert.True(t, shared.HasCode(err, shared.ErrCodeInvalidInput))

	_, err = NewAccount("u1", shared.Role("driver"), "")
	assert.True(t, shared.HasCode(err, shared.ErrCodeInvalidInput))
}

func TestAccount_Login(t *testing.T) {
	a, err := NewAccount("client-1", shared.RoleClient, "")
	require.NoError(t, err)
	before := a.LastLoginAt

	require.NoError(t, a.Login(shared.RoleClient))
	assert.False(t, a.LastLoginAt.Before(before))

	err = a.Login(shared.RoleCarrier)
	assert.True(t, shared.HasCode(err, shared.ErrCodeForbidden))
}

func setupTestRedis(t *testing.T) *redis.Client {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL environment variable not set, skipping Redis integration tests")
	}

	opt, err := redis.ParseURL(redisURL)
	require.NoError(t, err, "Failed to parse Redis URL")

	client := redis.NewClient(opt)
	_, err = client.Ping(context.Background()).Result()
	require.NoError(t, err, "Failed to connect to Redis")

	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRepository(t *testing.T) {
	client := setupTestRedis(t)
	repo := NewRedisRepository(client)
	ctx := context.Background()
	userID := "test-account-" + shared.NewID().String()

	t.Cleanup(func() {
		client.Del(ctx, accountKey(userID))
		client.SRem(ctx, roleIndexKey(string(shared.RoleCarrier)), userID)
	})

	missing, err := repo.GetByID(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, missing)

	insert := func() (*Account, error) { return NewAccount(userID, shared.RoleCarrier, "Test") }
	require.NoError(t, repo.FindOneAndInsert(ctx, userID, insert))

	err = repo.FindOneAndInsert(ctx, userID, insert)
	assert.True(t, shared.HasCode(err, shared.ErrCodeAlreadyExists))

	err = repo.FindOneAndUpdate(ctx, userID, func(a *Account) (*Account, error) {
		a.DisplayName = "Renamed"
		return a, nil
	})
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Renamed", stored.DisplayName)

	carriers, err := repo.ListByRole(ctx, string(shared.RoleCarrier))
	require.NoError(t, err)
	found := false
	for _, a := range carriers {
		if a.UserID == userID {
			found = true
		}
	}
	assert.True(t, found)

	err = repo.FindOneAndUpdate(ctx, "missing-"+userID, func(a *Account) (*Account, error) { return a, nil })
	assert.True(t, shared.HasCode(err, shared.ErrCodeNotFound))
}
