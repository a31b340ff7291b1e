package deal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/danghamo/haulnav/internal/domain/shared"
)

// RedisRepository implements Repository using Redis JSON
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis JSON-based deal repository
func NewRedisRepository(client *redis.Client) Repository {
	return &RedisRepository{
		client: client,
	}
}

func dealKey(id ID) string {
	return fmt.Sprintf("deal:%s", id.String())
}

func participantKey(userID string) string {
	return fmt.Sprintf("idx:deal:participant:%s", userID)
}

// decodeDeal parses the JSON.GET "$" array result; nil when the path is empty
func decodeDeal(jsonData string) (*Deal, error) {
	if jsonData == "" || jsonData == "null" {
		return nil, nil
	}

	var jsonArray []json.RawMessage
	if err := json.Unmarshal([]byte(jsonData), &jsonArray); err != nil {
		return nil, fmt.Errorf("failed to parse JSON array from Redis: %w", err)
	}
	if len(jsonArray) == 0 {
		return nil, nil
	}

	d := &Deal{}
	if err := json.Unmarshal(jsonArray[0], d); err != nil {
		return nil, fmt.Errorf("failed to deserialize deal: %w", err)
	}
	return d, nil
}

// FindOneAndInsert implements IoC pattern for insert operations
func (r *RedisRepository) FindOneAndInsert(ctx context.Context, id ID, callback func() (*Deal, error)) error {
	key := dealKey(id)

	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		jsonData, err := tx.JSONGet(ctx, key, "$").Result()
		if err != nil && err != redis.Nil {
			return err
		}
		existing, err := decodeDeal(jsonData)
		if err != nil {
			return err
		}
		if existing != nil {
			return shared.ErrAlreadyExists("deal")
		}

		result, err := callback()
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("callback returned nil deal")
		}

		jsonBytes, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to serialize deal: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.JSONSet(ctx, key, "$", string(jsonBytes))
			r.updateDealIndices(ctx, pipe, result)
			return nil
		})
		return err
	}, key)
}

// FindOneAndUpdate implements IoC pattern for update operations
func (r *RedisRepository) FindOneAndUpdate(ctx context.Context, id ID, callback func(*Deal) (*Deal, error)) error {
	key := dealKey(id)

	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		jsonData, err := tx.JSONGet(ctx, key, "$").Result()
		if err == redis.Nil {
			return shared.ErrNotFound("deal")
		}
		if err != nil {
			return err
		}

		current, err := decodeDeal(jsonData)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.ErrNotFound("deal")
		}

		updated, err := callback(current)
		if err != nil {
			return err
		}
		if updated == nil {
			return nil // No changes
		}

		jsonBytes, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to serialize deal: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.JSONSet(ctx, key, "$", string(jsonBytes))
			r.updateDealIndices(ctx, pipe, updated)
			return nil
		})
		return err
	}, key)
}

// GetByID retrieves a deal by ID using Redis JSON
func (r *RedisRepository) GetByID(ctx context.Context, id ID) (*Deal, error) {
	jsonData, err := r.client.JSONGet(ctx, dealKey(id), "$").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deal from Redis: %w", err)
	}

	return decodeDeal(jsonData)
}

// ListByParticipant retrieves deals through the participant index
func (r *RedisRepository) ListByParticipant(ctx context.Context, userID string) ([]*Deal, error) {
	ids, err := r.client.SMembers(ctx, participantKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	deals := make([]*Deal, 0, len(ids))
	for _, id := range ids {
		d, err := r.GetByID(ctx, ID(id))
		if err != nil {
			return nil, err
		}
		if d != nil {
			deals = append(deals, d)
		}
	}

	return deals, nil
}

// Delete removes a deal and its index entries
func (r *RedisRepository) Delete(ctx context.Context, id ID) error {
	key := dealKey(id)

	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		jsonData, err := tx.JSONGet(ctx, key, "$").Result()
		if err == redis.Nil {
			return shared.ErrNotFound("deal")
		}
		if err != nil {
			return err
		}

		d, err := decodeDeal(jsonData)
		if err != nil {
			return err
		}
		if d == nil {
			return shared.ErrNotFound("deal")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.JSONDel(ctx, key, "$")
			r.cleanupDealIndices(ctx, pipe, d)
			return nil
		})
		return err
	}, key)
}

// updateDealIndices updates secondary indices
func (r *RedisRepository) updateDealIndices(ctx context.Context, pipe redis.Pipeliner, d *Deal) {
	pipe.SAdd(ctx, participantKey(d.ClientID), d.ID.String())
	if d.CarrierID != "" {
		pipe.SAdd(ctx, participantKey(d.CarrierID), d.ID.String())
	}
}

// cleanupDealIndices cleans up secondary indices
func (r *RedisRepository) cleanupDealIndices(ctx context.Context, pipe redis.Pipeliner, d *Deal) {
	pipe.SRem(ctx, participantKey(d.ClientID), d.ID.String())
	if d.CarrierID != "" {
		pipe.SRem(ctx, participantKey(d.CarrierID), d.ID.String())
	}
}
