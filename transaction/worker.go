package transaction

import (
	"context"
	log "log/slog"
	"time"
)

// Start launches the cleanup worker, which calls CleanupExpired every AutoCleanupInterval
// until ctx is done or Stop is called. Starting a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.loopLocker.Lock()
	defer m.loopLocker.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.cleanupLoop(ctx, m.done)
	log.Info("transaction manager started", "cleanup_interval", m.config.AutoCleanupInterval)
}

func (m *Manager) cleanupLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.config.AutoCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.CleanupExpired(); n > 0 {
				log.Info("transaction cleanup", "expired", n)
			}
		}
	}
}

// Stop cancels and joins the cleanup worker, then force-rolls-back every remaining Active
// transaction, so none outlives the manager. It is safe to call more than once and
// without a prior Start.
func (m *Manager) Stop() {
	m.loopLocker.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.loopLocker.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.locker.Lock()
	defer m.locker.Unlock()
	n := 0
	for _, t := range m.active {
		t.Err = "transaction manager stopped"
		m.rollbackLocked(t, MetricRollback)
		n++
	}
	if n > 0 {
		log.Warn("transaction manager stopped, rolled back active transactions", "count", n)
	}
	log.Info("transaction manager stopped")
}
