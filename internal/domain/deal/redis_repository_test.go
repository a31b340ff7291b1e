package deal

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/haulnav/internal/domain/shared"
)

// setupTestRedis creates a Redis client for testing
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

func TestRedisRepository_GetByID(t *testing.T) {
	client := setupTestRedis(t)
	repo := NewRedisRepository(client)
	ctx := context.Background()

	t.Run("should return nil when deal does not exist", func(t *testing.T) {
		result, err := repo.GetByID(ctx, ID("non-existent-deal"))
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("should return deal after insert", func(t *testing.T) {
		d := newTestDeal(t)
		defer func() { _ = repo.Delete(ctx, d.ID) }()

		err := repo.FindOneAndInsert(ctx, d.ID, func() (*Deal, error) { return d, nil })
		require.NoError(t, err)

		result, err := repo.GetByID(ctx, d.ID)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, d.PickupAddress, result.PickupAddress)
		assert.Equal(t, StatusPending, result.Status)
	})
}

func TestRedisRepository_FindOneAndInsert_Duplicate(t *testing.T) {
	client := setupTestRedis(t)
	repo := NewRedisRepository(client)
	ctx := context.Background()

	d := newTestDeal(t)
	defer func() { _ = repo.Delete(ctx, d.ID) }()

	require.NoError(t, repo.FindOneAndInsert(ctx, d.ID, func() (*Deal, error) { return d, nil }))

	err := repo.FindOneAndInsert(ctx, d.ID, func() (*Deal, error) { return d, nil })
	assert.True(t, shared.HasCode(err, shared.ErrCodeAlreadyExists))
}

func TestRedisRepository_FindOneAndUpdate(t *testing.T) {
	client := setupTestRedis(t)
	repo := NewRedisRepository(client)
	ctx := context.Background()

	t.Run("should fail for missing deal", func(t *testing.T) {
		err := repo.FindOneAndUpdate(ctx, ID("missing"), func(d *Deal) (*Deal, error) { return d, nil })
		assert.True(t, shared.HasCode(err, shared.ErrCodeNotFound))
	})

	t.Run("should persist transition and index carrier", func(t *testing.T) {
		d := newTestDeal(t)
		defer func() { _ = repo.Delete(ctx, d.ID) }()
		require.NoError(t, repo.FindOneAndInsert(ctx, d.ID, func() (*Deal, error) { return d, nil }))

		err := repo.FindOneAndUpdate(ctx, d.ID, func(current *Deal) (*Deal, error) {
			if err := current.Accept("carrier-7"); err != nil {
				return nil, err
			}
			return current, nil
		})
		require.NoError(t, err)

		stored, err := repo.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, stored.Status)

		deals, err := repo.ListByParticipant(ctx, "carrier-7")
		require.NoError(t, err)
		ids := make([]ID, 0, len(deals))
		for _, x := range deals {
			ids = append(ids, x.ID)
		}
		assert.Contains(t, ids, d.ID)
	})
}
