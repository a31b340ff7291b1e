package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/danghamo/haulnav/internal/cqrs"
	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/pkg/redisx"
)

const (
	streamKeyPrefix = "tracking:deal:"
	lastKeyPrefix   = "tracking:last:"
)

// RedisStore keeps a capped stream of samples per deal plus the latest
// sample under a short-lived key, and announces every write on the bus
type RedisStore struct {
	client    *redisx.Client
	maxLen    int64
	lastTTL   time.Duration
	publisher cqrs.EventPublisher
}

// NewRedisStore creates a store. publisher may be nil.
func NewRedisStore(client *redisx.Client, maxLen int64, lastTTL time.Duration, publisher cqrs.EventPublisher) *RedisStore {
	return &RedisStore{
		client:    client,
		maxLen:    maxLen,
		lastTTL:   lastTTL,
		publisher: publisher,
	}
}

func streamKey(dealID string) string { return streamKeyPrefix + dealID }
func lastKey(dealID string) string   { return lastKeyPrefix + dealID }

// Append stores the sample and publishes a PositionRecordedEvent
func (s *RedisStore) Append(ctx context.Context, sample Sample) error {
	if sample.DealID == "" {
		return shared.ErrInvalidInput("deal id is required")
	}

	id, err := s.client.XAddWithLogging(ctx, streamKey(sample.DealID), s.maxLen, map[string]any{
		"deal_id":    sample.DealID,
		"carrier_id": sample.CarrierID,
		"client_id":  sample.ClientID,
		"lat":        sample.Latitude,
		"lng":        sample.Longitude,
		"speed_kmh":  sample.SpeedKmh,
		"heading":    sample.HeadingDeg,
		"ts":         sample.Timestamp.UnixMilli(),
	})
	if err != nil {
		return oops.In("tracking").With("deal_id", sample.DealID).Wrapf(err, "append sample")
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	if err := s.client.SetWithExpiration(ctx, lastKey(sample.DealID), data, s.lastTTL); err != nil {
		return oops.In("tracking").With("deal_id", sample.DealID).Wrapf(err, "store last sample")
	}

	if s.publisher == nil {
		return nil
	}
	return s.publisher.Publish(ctx, &cqrs.PositionRecordedEvent{
		DealID:    sample.DealID,
		ClientID:  sample.ClientID,
		CarrierID: sample.CarrierID,
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		SpeedKmh:  sample.SpeedKmh,
		Heading:   sample.HeadingDeg,
		Timestamp: sample.Timestamp,
		StreamID:  id,
	})
}

// History returns up to limit samples, newest first
func (s *RedisStore) History(ctx context.Context, dealID string, limit int64) ([]Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	messages, err := s.client.XRevRangeWithLogging(ctx, streamKey(dealID), limit)
	if err != nil {
		return nil, oops.In("tracking").With("deal_id", dealID).Wrapf(err, "read history")
	}

	samples := make([]Sample, 0, len(messages))
	for _, msg := range messages {
		sample, err := decodeSample(msg.Values)
		if err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", msg.ID, err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// Last returns the latest sample or nil when it expired
func (s *RedisStore) Last(ctx context.Context, dealID string) (*Sample, error) {
	raw, err := s.client.GetWithLogging(ctx, lastKey(dealID))
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sample Sample
	if err := json.Unmarshal([]byte(raw), &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}

// Stream values come back from Redis as strings
func decodeSample(values map[string]any) (Sample, error) {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	num := func(key string) (float64, error) {
		v := str(key)
		if v == "" {
			return 0, nil
		}
		return strconv.ParseFloat(v, 64)
	}

	var (
		sample Sample
		err    error
	)
	sample.DealID = str("deal_id")
	sample.CarrierID = str("carrier_id")
	sample.ClientID = str("client_id")
	if sample.Latitude, err = num("lat"); err != nil {
		return Sample{}, err
	}
	if sample.Longitude, err = num("lng"); err != nil {
		return Sample{}, err
	}
	if sample.SpeedKmh, err = num("speed_kmh"); err != nil {
		return Sample{}, err
	}
	if sample.HeadingDeg, err = num("heading"); err != nil {
		return Sample{}, err
	}
	ms, err := strconv.ParseInt(str("ts"), 10, 64)
	if err != nil {
		return Sample{}, err
	}
	sample.Timestamp = time.UnixMilli(ms).UTC()
	return sample, nil
}
