package geolocation

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/danghamo/haulnav/pkg/logger"
)

const (
	fixBuffer   = 64
	errorBuffer = 8
)

// Source produces fixes until ctx is cancelled. Transient failures go to
// errs; a returned error ends the subscription.
type Source interface {
	Watch(ctx context.Context, fixes chan<- Fix, errs chan<- error) error
}

// Subscription is one active watch. Both channels close when it ends.
type Subscription struct {
	ID     uint64
	Fixes  <-chan Fix
	Errors <-chan error
	done   chan struct{}
}

// Done is closed once the underlying source has returned
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

type activeWatch struct {
	sub    *Subscription
	cancel context.CancelFunc
}

// Watcher guards a Source against duplicate concurrent subscriptions
type Watcher struct {
	source Source
	logger *logger.Logger

	mu     sync.Mutex
	active *activeWatch
	seq    uint64
}

// NewWatcher creates a watcher over source
func NewWatcher(source Source, log *logger.Logger) *Watcher {
	return &Watcher{
		source: source,
		logger: log.WithComponent("geolocation-watcher"),
	}
}

// Start subscribes to the source. While a subscription is active it returns
// that subscription and started=false instead of opening a second stream.
func (w *Watcher) Start(ctx context.Context) (sub *Subscription, started bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active != nil {
		select {
		case <-w.active.sub.done:
			w.active = nil
		default:
			w.logger.Debug("Watch already active", zap.Uint64("subscription", w.active.sub.ID))
			return w.active.sub, false
		}
	}

	w.seq++
	fixes := make(chan Fix, fixBuffer)
	errs := make(chan error, errorBuffer)
	sub = &Subscription{ID: w.seq, Fixes: fixes, Errors: errs, done: make(chan struct{})}

	watchCtx, cancel := context.WithCancel(ctx)
	w.active = &activeWatch{sub: sub, cancel: cancel}

	go func() {
		defer close(sub.done)
		defer close(errs)
		defer close(fixes)

		err := w.source.Watch(watchCtx, fixes, errs)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("Position source stopped", zap.Uint64("subscription", sub.ID), zap.Error(err))
			select {
			case errs <- err:
			default:
			}
		}
	}()

	w.logger.Debug("Watch started", zap.Uint64("subscription", sub.ID))
	return sub, true
}

// Stop cancels the active subscription and waits for the source to return.
// Calling it without an active subscription is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	active := w.active
	w.active = nil
	w.mu.Unlock()

	if active == nil {
		return
	}

	active.cancel()
	<-active.sub.done
	w.logger.Debug("Watch stopped", zap.Uint64("subscription", active.sub.ID))
}

// Active reports whether a subscription is currently open
func (w *Watcher) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == nil {
		return false
	}
	select {
	case <-w.active.sub.done:
		return false
	default:
		return true
	}
}
