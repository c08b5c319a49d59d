package tracker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// SchedulerOptions configures the periodic resync loop.
type SchedulerOptions struct {
	// Interval between sync runs. Defaults to 15 minutes.
	Interval time.Duration
}

// Scheduler drives the full-resync path on a fixed interval to heal
// drift from missed or failed webhooks. A running flag skips ticks that
// land while the previous run is still in flight; runs never overlap.
type Scheduler struct {
	orders    *OrderTracker
	inventory *InventoryTracker
	support   *SupportTracker
	journeys  *JourneyTracker
	bi        *BusinessIntelligence

	interval time.Duration
	running  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(orders *OrderTracker, inventory *InventoryTracker, support *SupportTracker, journeys *JourneyTracker, bi *BusinessIntelligence, opts SchedulerOptions) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		orders:    orders,
		inventory: inventory,
		support:   support,
		journeys:  journeys,
		bi:        bi,
		interval:  interval,
	}
}

// Start launches the background loop. It returns immediately; the first
// run happens after one full interval.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// RunOnce executes a single sync cycle. Returns false if a previous
// cycle was still running and this one was skipped.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("scheduler: previous sync still running, skipping this tick")
		return false
	}
	defer s.running.Store(false)

	started := time.Now()
	today := started.UTC()

	if s.orders != nil {
		result := s.orders.SyncOrders(ctx)
		logSyncResult("orders", result)
		if err := s.orders.UpdateDailySummary(ctx, today); err != nil {
			log.Printf("scheduler: orders daily summary: %v", err)
		}
	}
	if s.inventory != nil {
		result := s.inventory.SyncProducts(ctx)
		logSyncResult("inventory", result)
	}
	if s.support != nil {
		if err := s.support.UpdateDailySummary(ctx, today); err != nil {
			log.Printf("scheduler: support daily summary: %v", err)
		}
	}
	if s.journeys != nil {
		if err := s.journeys.UpdateFunnelAnalysis(ctx, today); err != nil {
			log.Printf("scheduler: funnel analysis: %v", err)
		}
	}
	if s.bi != nil {
		if err := s.bi.UpdateDailySummary(ctx, today); err != nil {
			log.Printf("scheduler: bi daily summary: %v", err)
		}
	}

	log.Printf("scheduler: sync cycle finished in %s", time.Since(started).Round(time.Millisecond))
	return true
}

func logSyncResult(domain string, result SyncResult) {
	if result.Success() {
		log.Printf("scheduler: %s sync ok: processed=%d added=%d updated=%d",
			domain, result.RecordsProcessed, result.RecordsAdded, result.RecordsUpdated)
		return
	}
	log.Printf("scheduler: %s sync finished with %d errors: processed=%d added=%d updated=%d first=%q",
		domain, len(result.Errors), result.RecordsProcessed, result.RecordsAdded, result.RecordsUpdated, result.Errors[0])
}
