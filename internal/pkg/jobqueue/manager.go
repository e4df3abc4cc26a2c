package jobqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/reelkit/reelkit/internal/pkg/coupons"
	"github.com/reelkit/reelkit/internal/pkg/env"
)

// Manager runs the scheduled entitlement jobs: the staged coupon pre-expiry
// notifier and the reversion sweep. Both jobs are idempotent, so running them
// more often than their effective cadence is safe.
type Manager struct {
	sweeper *coupons.Sweeper

	notifyTicker *time.Ticker
	revertTicker *time.Ticker
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool
}

func NewManager(sweeper *coupons.Sweeper) *Manager {
	return &Manager{sweeper: sweeper}
}

// Start launches the background sweep workers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Jobs] Starting entitlement sweep workers")

	notifyInterval := intervalFromEnv("COUPON_NOTIFY_INTERVAL_MINUTES", 60)
	revertInterval := intervalFromEnv("COUPON_REVERT_INTERVAL_MINUTES", 15)

	// Workers receive the channel and tickers of their own start cycle, so a
	// later Stop/Start never swaps them out from under a running goroutine.
	m.notifyTicker = time.NewTicker(notifyInterval)
	m.wg.Add(1)
	go m.notifyWorker(m.stopCh, m.notifyTicker)

	m.revertTicker = time.NewTicker(revertInterval)
	m.wg.Add(1)
	go m.revertWorker(m.stopCh, m.revertTicker)

	log.Info("[Jobs] Started successfully")
}

// Stop halts the workers and waits for in-flight sweeps to finish.
func (m *Manager) Stop() {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()
		return
	}

	log.Info("[Jobs] Stopping entitlement sweep workers...")

	if m.notifyTicker != nil {
		m.notifyTicker.Stop()
	}
	if m.revertTicker != nil {
		m.revertTicker.Stop()
	}

	close(m.stopCh)
	m.stopCh = nil
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	log.Info("[Jobs] Stopped successfully")
}

// IsRunning returns whether the manager is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunNotifySweepOnce exposes a manual trigger for a single pre-expiry
// notification pass (admin use).
func (m *Manager) RunNotifySweepOnce(ctx context.Context) (int, error) {
	return m.sweeper.NotifyExpiring(ctx)
}

// RunRevertSweepOnce exposes a manual trigger for a single reversion pass
// (admin use).
func (m *Manager) RunRevertSweepOnce(ctx context.Context) (int, error) {
	return m.sweeper.RevertExpired(ctx)
}

func (m *Manager) notifyWorker(stop <-chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			log.Info("[Jobs] Pre-expiry notifier stopping")
			return
		case <-ticker.C:
			sent, err := m.sweeper.NotifyExpiring(context.Background())
			if err != nil {
				log.Errorf("[Jobs] Pre-expiry sweep error: %v", err)
				continue
			}
			if sent > 0 {
				log.Infof("[Jobs] Pre-expiry sweep sent %d notifications", sent)
			}
		}
	}
}

func (m *Manager) revertWorker(stop <-chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			log.Info("[Jobs] Reversion sweep stopping")
			return
		case <-ticker.C:
			reverted, err := m.sweeper.RevertExpired(context.Background())
			if err != nil {
				log.Errorf("[Jobs] Reversion sweep error: %v", err)
				continue
			}
			if reverted > 0 {
				log.Infof("[Jobs] Reversion sweep restored %d records", reverted)
			}
		}
	}
}

func intervalFromEnv(key string, fallbackMinutes int) time.Duration {
	if v, err := strconv.Atoi(env.GetEnv(key, "")); err == nil && v > 0 {
		return time.Duration(v) * time.Minute
	}
	return time.Duration(fallbackMinutes) * time.Minute
}
