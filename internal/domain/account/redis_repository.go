package account

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/danghamo/haulnav/internal/domain/shared"
)

// RedisRepository implements Repository using Redis
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis-based account repository
func NewRedisRepository(client *redis.Client) Repository {
	return &RedisRepository{
		client: client,
	}
}

func accountKey(userID string) string {
	return fmt.Sprintf("account:%s", userID)
}

func roleIndexKey(role string) string {
	return fmt.Sprintf("idx:account:role:%s", role)
}

// FindOneAndInsert implements IoC pattern for insert operations
func (r *RedisRepository) FindOneAndInsert(ctx context.Context, userID string, callback func() (*Account, error)) error {
	key := accountKey(userID)

	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		exists := tx.Exists(ctx, key)
		if exists.Err() != nil {
			return exists.Err()
		}

		if exists.Val() > 0 {
			return shared.ErrAlreadyExists("account")
		}

		result, err := callback()
		if err != nil {
			return err
		}

		if result == nil {
			return fmt.Errorf("callback returned nil account")
		}

		fields, err := serializeAccount(result)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			pipe.SAdd(ctx, roleIndexKey(string(result.Role)), result.UserID)
			return nil
		})

		return err
	}, key)
}

// FindOneAndUpdate implements IoC pattern for update operations
func (r *RedisRepository) FindOneAndUpdate(ctx context.Context, userID string, callback func(*Account) (*Account, error)) error {
	key := accountKey(userID)

	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		data := tx.HGetAll(ctx, key)
		if data.Err() != nil {
			return data.Err()
		}

		if len(data.Val()) == 0 {
			return shared.ErrNotFound("account")
		}

		current, err := deserializeAccount(data.Val())
		if err != nil {
			return err
		}

		result, err := callback(current)
		if err != nil {
			return err
		}

		if result == nil {
			return nil // No changes
		}

		fields, err := serializeAccount(result)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})

		return err
	}, key)
}

// GetByID retrieves an account by user ID
func (r *RedisRepository) GetByID(ctx context.Context, userID string) (*Account, error) {
	data, err := r.client.HGetAll(ctx, accountKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, nil
	}

	return deserializeAccount(data)
}

// ListByRole retrieves every account registered in role
func (r *RedisRepository) ListByRole(ctx context.Context, role string) ([]*Account, error) {
	ids, err := r.client.SMembers(ctx, roleIndexKey(role)).Result()
	if err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(ids))
	for _, id := range ids {
		a, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if a != nil {
			accounts = append(accounts, a)
		}
	}

	return accounts, nil
}

// serializeAccount converts account to Redis hash fields
func serializeAccount(a *Account) (map[string]interface{}, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"data": string(data),
		"role": string(a.Role),
	}, nil
}

// deserializeAccount converts Redis hash fields to account
func deserializeAccount(fields map[string]string) (*Account, error) {
	data, exists := fields["data"]
	if !exists {
		return nil, fmt.Errorf("account data not found in hash")
	}

	a := &Account{}
	if err := json.Unmarshal([]byte(data), a); err != nil {
		return nil, err
	}
	return a, nil
}
