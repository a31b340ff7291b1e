package tracking

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danghamo/haulnav/pkg/logger"
)

// RecorderOptions tunes the asynchronous recorder
type RecorderOptions struct {
	// WriteTimeout bounds a single store write
	WriteTimeout time.Duration
	// MinInterval drops samples of a deal arriving faster than this; zero keeps all
	MinInterval time.Duration
}

// AsyncRecorder hands samples to a Store in the background. Record never
// blocks and never reports failures to the caller; they are only logged.
type AsyncRecorder struct {
	store  Store
	opts   RecorderOptions
	logger *logger.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	inflight sync.WaitGroup
}

// NewAsyncRecorder creates a recorder on top of store
func NewAsyncRecorder(store Store, log *logger.Logger, opts RecorderOptions) *AsyncRecorder {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	return &AsyncRecorder{
		store:    store,
		opts:     opts,
		logger:   log.WithComponent("tracking-recorder"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Record schedules sample for persistence and returns immediately
func (r *AsyncRecorder) Record(sample Sample) {
	if !r.allow(sample.DealID) {
		r.logger.Debug("Position sample dropped by rate limit", zap.String("dealId", sample.DealID))
		return
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
		defer cancel()

		if err := r.store.Append(ctx, sample); err != nil {
			r.logger.Warn("Failed to record position sample",
				zap.String("dealId", sample.DealID),
				zap.String("carrierId", sample.CarrierID),
				zap.Error(err))
		}
	}()
}

// Forget drops per-deal state once the deal stops being tracked
func (r *AsyncRecorder) Forget(dealID string) {
	r.mu.Lock()
	delete(r.limiters, dealID)
	r.mu.Unlock()
}

// Wait blocks until every scheduled write has finished
func (r *AsyncRecorder) Wait() {
	r.inflight.Wait()
}

func (r *AsyncRecorder) allow(dealID string) bool {
	if r.opts.MinInterval <= 0 {
		return true
	}

	r.mu.Lock()
	limiter, ok := r.limiters[dealID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(r.opts.MinInterval), 1)
		r.limiters[dealID] = limiter
	}
	r.mu.Unlock()

	return limiter.Allow()
}
