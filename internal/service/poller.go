package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"stock-reconciler/internal/erp"
	"stock-reconciler/internal/models"
	"stock-reconciler/internal/util"

	"go.uber.org/zap"
)

// Fetcher retrieves the remote snapshot for one external identifier.
type Fetcher interface {
	FetchProduct(ctx context.Context, externalID string) (*models.RemoteSnapshot, error)
}

// PollStore is the subset of the store the poller reads.
type PollStore interface {
	GetStaleProducts(ctx context.Context, limit int) ([]models.Product, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.Product, error)
}

// Delayer paces work between outbound calls.
type Delayer interface {
	Wait(ctx context.Context) error
}

// StatsSink persists cycle summaries outside the process. Optional.
type StatsSink interface {
	SaveCycleStats(ctx context.Context, stats *models.CycleStats) error
}

// Poller periodically reconciles the most stale local products against the
// upstream API. One cycle runs at a time: a timer tick that finds a cycle
// still in flight is dropped, not queued.
type Poller struct {
	store      PollStore
	fetcher    Fetcher
	reconciler *Reconciler
	rate       Delayer
	sink       StatsSink
	batchSize  int
	logger     *zap.Logger

	mu        sync.Mutex
	interval  time.Duration
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastCycle *models.CycleStats

	cycleInFlight atomic.Bool
}

func NewPoller(store PollStore, fetcher Fetcher, reconciler *Reconciler, rate Delayer,
	sink StatsSink, interval time.Duration, batchSize int) *Poller {
	return &Poller{
		store:      store,
		fetcher:    fetcher,
		reconciler: reconciler,
		rate:       rate,
		sink:       sink,
		batchSize:  batchSize,
		interval:   interval,
		logger:     util.GetLogger(),
	}
}

// Start launches the polling loop: an immediate cycle, then one per
// interval. No-op when already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	interval := p.interval
	done := p.done
	p.mu.Unlock()

	p.logger.Info("Starting stock polling loop",
		zap.Duration("interval", interval),
		zap.Int("batch_size", p.batchSize))

	go p.loop(loopCtx, done)
}

// Stop cancels the polling loop and waits for an in-flight cycle to drain.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("Stock polling loop stopped")
}

// Restart applies a new interval and restarts the loop.
func (p *Poller) Restart(ctx context.Context, interval time.Duration) {
	p.Stop()
	p.SetInterval(interval)
	p.Start(ctx)
}

// SetInterval changes the poll interval; takes effect on the next tick.
func (p *Poller) SetInterval(interval time.Duration) {
	p.mu.Lock()
	p.interval = interval
	p.mu.Unlock()
}

// Interval returns the configured poll interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Running reports whether the polling loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// LastCycle returns the most recent cycle summary, nil before the first
// cycle completes.
func (p *Poller) LastCycle() *models.CycleStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastCycle == nil {
		return nil
	}
	copied := *p.lastCycle
	return &copied
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.RunCycle(ctx)

	timer := time.NewTimer(p.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.RunCycle(ctx)
			timer.Reset(p.Interval())
		}
	}
}

// RunCycle reconciles one batch of stale products. Returns nil when another
// cycle is still in flight (the tick is skipped, a deliberate choice over
// queueing).
func (p *Poller) RunCycle(ctx context.Context) *models.CycleStats {
	if !p.cycleInFlight.CompareAndSwap(false, true) {
		p.logger.Warn("Previous sync cycle still running, skipping tick")
		util.SyncCyclesSkippedTotal.Inc()
		return nil
	}
	defer p.cycleInFlight.Store(false)

	ctx, span := util.StartSpan(ctx, "Poller.RunCycle")
	defer span.End()

	util.SyncCyclesTotal.Inc()
	stats := &models.CycleStats{StartedAt: time.Now().UTC()}

	products, err := p.store.GetStaleProducts(ctx, p.batchSize)
	if err != nil {
		p.logger.Error("Failed to select stale products", zap.Error(err))
		stats.Errors++
		p.finishCycle(ctx, stats)
		return stats
	}

	p.logger.Info("Sync cycle started", zap.Int("candidates", len(products)))

	for i := range products {
		if ctx.Err() != nil {
			break
		}
		p.syncOne(ctx, &products[i], stats, models.SourcePoll)
		stats.Processed++

		// Pace the batch; per-item failures never abort the rest.
		if err := p.rate.Wait(ctx); err != nil {
			break
		}
	}

	p.finishCycle(ctx, stats)
	return stats
}

func (p *Poller) syncOne(ctx context.Context, product *models.Product, stats *models.CycleStats, source string) {
	externalID := product.ExternalIDString()

	snap, err := p.fetcher.FetchProduct(ctx, externalID)
	switch {
	case errors.Is(err, erp.ErrNotFound):
		if err := p.reconciler.Deactivate(ctx, product.ID, source); err != nil {
			p.logger.Error("Failed to deactivate missing product",
				zap.Int64("product_id", product.ID), zap.Error(err))
			stats.Errors++
			util.SyncItemsTotal.WithLabelValues("error").Inc()
			return
		}
		stats.Deactivated++
		util.SyncItemsTotal.WithLabelValues("deactivated").Inc()

	case errors.Is(err, erp.ErrInvalidIdentifier):
		// Ambiguous identifier is a data-quality issue, not proof of
		// deletion: skip this cycle, record the attempt.
		if err := p.reconciler.TouchLastSync(ctx, product.ID); err != nil {
			p.logger.Error("Failed to record sync attempt",
				zap.Int64("product_id", product.ID), zap.Error(err))
		}
		p.logger.Warn("Upstream rejected identifier, skipping product",
			zap.Int64("product_id", product.ID),
			zap.String("external_id", externalID))
		stats.Unchanged++
		util.SyncItemsTotal.WithLabelValues("invalid_identifier").Inc()

	case err != nil:
		p.logger.Error("Failed to fetch product from upstream",
			zap.Int64("product_id", product.ID),
			zap.String("external_id", externalID),
			zap.Error(err))
		stats.Errors++
		util.SyncItemsTotal.WithLabelValues("error").Inc()

	default:
		outcome, err := p.reconciler.Apply(ctx, product.ID, snap, source)
		if err != nil {
			p.logger.Error("Failed to reconcile product",
				zap.Int64("product_id", product.ID), zap.Error(err))
			stats.Errors++
			util.SyncItemsTotal.WithLabelValues("error").Inc()
			return
		}
		switch outcome {
		case Applied:
			stats.Updated++
			util.SyncItemsTotal.WithLabelValues("updated").Inc()
		case Suppressed:
			stats.Suppressed++
			util.SyncItemsTotal.WithLabelValues("suppressed").Inc()
		default:
			stats.Unchanged++
			util.SyncItemsTotal.WithLabelValues("unchanged").Inc()
		}
	}
}

func (p *Poller) finishCycle(ctx context.Context, stats *models.CycleStats) {
	stats.DurationMS = time.Since(stats.StartedAt).Milliseconds()
	util.SyncCycleDuration.Observe(float64(stats.DurationMS) / 1000)

	p.mu.Lock()
	p.lastCycle = stats
	p.mu.Unlock()

	if p.sink != nil {
		if err := p.sink.SaveCycleStats(ctx, stats); err != nil {
			p.logger.Warn("Failed to persist cycle stats", zap.Error(err))
		}
	}

	p.logger.Info("Sync cycle completed",
		zap.Int("processed", stats.Processed),
		zap.Int("updated", stats.Updated),
		zap.Int("unchanged", stats.Unchanged),
		zap.Int("suppressed", stats.Suppressed),
		zap.Int("deactivated", stats.Deactivated),
		zap.Int("errors", stats.Errors),
		zap.Int64("duration_ms", stats.DurationMS))
}

// SyncProduct reconciles a single product by external identifier on demand,
// reusing the cycle's fetch-and-apply path.
func (p *Poller) SyncProduct(ctx context.Context, externalID string) (*models.CycleStats, error) {
	product, err := p.store.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("no local product with external id %s", externalID)
	}

	stats := &models.CycleStats{StartedAt: time.Now().UTC()}
	p.syncOne(ctx, product, stats, models.SourceManual)
	stats.Processed = 1
	stats.DurationMS = time.Since(stats.StartedAt).Milliseconds()
	return stats, nil
}
