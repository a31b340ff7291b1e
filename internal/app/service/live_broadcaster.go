package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/haulnav/internal/tracking"
	"github.com/danghamo/haulnav/pkg/logger"
)

// MethodHeartbeat carries the carrier's latest position to the client
const MethodHeartbeat = "tracking.heartbeat"

const (
	// Redis key pattern for navigated deals: "navigating:deal:{dealID}"
	activeDealKeyPrefix = "navigating:deal:"
	// Keys expire when the owning server stops refreshing them
	activeDealTTL = 2 * time.Minute
)

// activeDeal is the value stored under an active deal key
type activeDeal struct {
	CarrierID string `json:"carrier_id"`
	ClientID  string `json:"client_id"`
}

// Heartbeat tells the watching client how fresh the carrier's position is
type Heartbeat struct {
	DealID     string           `json:"deal_id"`
	CarrierID  string           `json:"carrier_id"`
	Position   *tracking.Sample `json:"position,omitempty"`
	AgeSeconds float64          `json:"age_s"`
	Stale      bool             `json:"stale"`
	At         time.Time        `json:"at"`
}

// newHeartbeat builds a heartbeat; a missing sample is always stale
func newHeartbeat(dealID, carrierID string, last *tracking.Sample, now time.Time, staleAfter time.Duration) Heartbeat {
	hb := Heartbeat{DealID: dealID, CarrierID: carrierID, Position: last, At: now, Stale: true}
	if last == nil {
		return hb
	}
	age := now.Sub(last.Timestamp)
	if age < 0 {
		age = 0
	}
	hb.AgeSeconds = age.Seconds()
	hb.Stale = staleAfter > 0 && age > staleAfter
	return hb
}

// LiveBroadcaster keeps the set of navigated deals in Redis and periodically
// pushes a heartbeat with the last recorded position to each deal's client.
// Any server instance may run the loop.
type LiveBroadcaster struct {
	logger      *logger.Logger
	redisClient *redis.Client
	tracks      tracking.Reader
	notifier    UserNotifier
	interval    time.Duration
	staleAfter  time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewLiveBroadcaster creates a new Redis-backed live position broadcaster
func NewLiveBroadcaster(
	log *logger.Logger,
	redisClient *redis.Client,
	tracks tracking.Reader,
	notifier UserNotifier,
	interval, staleAfter time.Duration,
) *LiveBroadcaster {
	return &LiveBroadcaster{
		logger:      log.WithComponent("live-broadcaster"),
		redisClient: redisClient,
		tracks:      tracks,
		notifier:    notifier,
		interval:    interval,
		staleAfter:  staleAfter,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start begins the periodic broadcasting. A non-positive interval disables it.
func (lb *LiveBroadcaster) Start(ctx context.Context) {
	if lb.interval <= 0 {
		close(lb.done)
		lb.logger.Info("Live broadcaster disabled")
		return
	}

	lb.logger.Info("Starting live broadcaster",
		zap.Duration("interval", lb.interval),
		zap.Duration("stale_after", lb.staleAfter),
		zap.Duration("ttl", activeDealTTL))

	go lb.broadcastLoop(ctx)
}

// Stop stops the periodic broadcasting and waits for the loop to exit
func (lb *LiveBroadcaster) Stop() {
	lb.stopOnce.Do(func() {
		lb.logger.Info("Stopping live broadcaster")
		close(lb.stopChan)
	})
	<-lb.done
}

// Track marks a deal as navigated
func (lb *LiveBroadcaster) Track(dealID, carrierID, clientID string) {
	value, err := json.Marshal(activeDeal{CarrierID: carrierID, ClientID: clientID})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := lb.redisClient.Set(ctx, activeDealKeyPrefix+dealID, value, activeDealTTL).Err(); err != nil {
		lb.logger.Error("Failed to track navigated deal",
			zap.String("dealId", dealID),
			zap.Error(err))
		return
	}
	lb.logger.Debug("Tracking navigated deal", zap.String("dealId", dealID))
}

// Untrack removes a deal from the navigated set
func (lb *LiveBroadcaster) Untrack(dealID string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := lb.redisClient.Del(ctx, activeDealKeyPrefix+dealID).Err(); err != nil {
		lb.logger.Error("Failed to untrack navigated deal",
			zap.String("dealId", dealID),
			zap.Error(err))
		return
	}
	lb.logger.Debug("Untracked navigated deal", zap.String("dealId", dealID))
}

// Touch refreshes the TTL of a navigated deal
func (lb *LiveBroadcaster) Touch(dealID string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := lb.redisClient.Expire(ctx, activeDealKeyPrefix+dealID, activeDealTTL).Err(); err != nil {
		lb.logger.Debug("Failed to refresh navigated deal TTL",
			zap.String("dealId", dealID),
			zap.Error(err))
	}
}

// ActiveCount returns the number of navigated deals across all servers
func (lb *LiveBroadcaster) ActiveCount(ctx context.Context) int {
	keys, err := lb.activeKeys(ctx)
	if err != nil {
		lb.logger.Error("Failed to count navigated deals", zap.Error(err))
		return 0
	}
	return len(keys)
}

func (lb *LiveBroadcaster) broadcastLoop(ctx context.Context) {
	defer close(lb.done)

	ticker := time.NewTicker(lb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-lb.stopChan:
			return
		case now := <-ticker.C:
			lb.broadcastActive(ctx, now)
		}
	}
}

// broadcastActive sends one heartbeat per navigated deal
func (lb *LiveBroadcaster) broadcastActive(ctx context.Context, now time.Time) {
	keys, err := lb.activeKeys(ctx)
	if err != nil {
		lb.logger.Error("Failed to scan navigated deals", zap.Error(err))
		return
	}

	sent := 0
	for _, key := range keys {
		dealID := strings.TrimPrefix(key, activeDealKeyPrefix)

		raw, err := lb.redisClient.Get(ctx, key).Result()
		if err != nil {
			if err != redis.Nil {
				lb.logger.Debug("Failed to read navigated deal",
					zap.String("dealId", dealID),
					zap.Error(err))
			}
			continue
		}

		var active activeDeal
		if err := json.Unmarshal([]byte(raw), &active); err != nil || active.ClientID == "" {
			lb.logger.Debug("Invalid navigated deal value",
				zap.String("dealId", dealID),
				zap.String("value", raw))
			continue
		}

		last, err := lb.tracks.Last(ctx, dealID)
		if err != nil {
			lb.logger.Debug("Failed to read last position",
				zap.String("dealId", dealID),
				zap.Error(err))
			continue
		}

		hb := newHeartbeat(dealID, active.CarrierID, last, now, lb.staleAfter)
		if err := lb.notifier.BroadcastToUsers(ctx, []string{active.ClientID}, MethodHeartbeat, hb); err != nil {
			lb.logger.Error("Failed to publish heartbeat",
				zap.String("dealId", dealID),
				zap.Error(err))
			continue
		}
		sent++
	}

	if sent > 0 {
		lb.logger.Debug("Broadcasted heartbeats", zap.Int("deals", sent))
	}
}

func (lb *LiveBroadcaster) activeKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := lb.redisClient.Scan(ctx, 0, activeDealKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}
