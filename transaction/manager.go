package transaction

import (
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sharedcode/storekit"
)

// Metric names reported to the MetricsRecorder.
const (
	MetricExecute  = "transaction.execute"
	MetricCommit   = "transaction.commit"
	MetricRollback = "transaction.rollback"
	MetricTimeout  = "transaction.timeout"
)

// Config controls the manager's limits and its cleanup worker.
type Config struct {
	MaxConcurrentTransactions int           `json:"max_concurrent_transactions" yaml:"max_concurrent_transactions"`
	TransactionTimeout        time.Duration `json:"transaction_timeout" yaml:"transaction_timeout"`
	AutoCleanupInterval       time.Duration `json:"auto_cleanup_interval" yaml:"auto_cleanup_interval"`
	// MaxHistorySize caps the terminal transactions kept for inspection. Zero keeps all.
	MaxHistorySize int `json:"max_history_size" yaml:"max_history_size"`
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTransactions: 100,
		TransactionTimeout:        5 * time.Minute,
		AutoCleanupInterval:       time.Minute,
		MaxHistorySize:            1000,
	}
}

// Manager owns all transactions of one backend. Every method is safe for concurrent use.
type Manager struct {
	config   Config
	recorder storekit.MetricsRecorder
	now      func() time.Time

	locker  sync.Mutex
	active  map[storekit.UUID]*Transaction
	history []*Transaction

	loopLocker sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewManager creates a Manager. recorder may be nil.
func NewManager(config Config, recorder storekit.MetricsRecorder) *Manager {
	d := DefaultConfig()
	if config.MaxConcurrentTransactions <= 0 {
		config.MaxConcurrentTransactions = d.MaxConcurrentTransactions
	}
	if config.TransactionTimeout <= 0 {
		config.TransactionTimeout = d.TransactionTimeout
	}
	if config.AutoCleanupInterval <= 0 {
		config.AutoCleanupInterval = d.AutoCleanupInterval
	}
	if config.MaxHistorySize < 0 {
		config.MaxHistorySize = 0
	}
	if recorder == nil {
		recorder = storekit.NopRecorder{}
	}
	return &Manager{
		config:   config,
		recorder: recorder,
		now:      time.Now,
		active:   make(map[storekit.UUID]*Transaction),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.config
}

// CreateTransaction registers a new Active transaction. It fails with CapacityExceeded when
// the concurrency limit is reached; the caller decides whether to retry.
func (m *Manager) CreateTransaction(metadata map[string]any) (storekit.UUID, error) {
	m.locker.Lock()
	defer m.locker.Unlock()

	if len(m.active) >= m.config.MaxConcurrentTransactions {
		return storekit.NilUUID, storekit.NewError(storekit.CapacityExceeded,
			fmt.Errorf("maximum concurrent transactions (%d) reached", m.config.MaxConcurrentTransactions), nil)
	}
	now := m.now()
	t := &Transaction{
		ID:        storekit.NewUUID(),
		State:     Active,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  copyMetadata(metadata),
	}
	m.active[t.ID] = t
	log.Debug("transaction created", "id", t.ID.String())
	return t.ID, nil
}

// AddOperation appends an operation to an Active transaction.
func (m *Manager) AddOperation(id storekit.UUID, opType OperationType, payload any) (storekit.UUID, error) {
	m.locker.Lock()
	defer m.locker.Unlock()

	t, err := m.activeLocked(id)
	if err != nil {
		return storekit.NilUUID, err
	}
	if t.executing {
		return storekit.NilUUID, storekit.NewError(storekit.InvalidState,
			fmt.Errorf("transaction %s is executing", id), id)
	}
	op := Operation{
		ID:      storekit.NewUUID(),
		Type:    opType,
		Payload: payload,
	}
	t.Operations = append(t.Operations, op)
	t.UpdatedAt = m.now()
	return op.ID, nil
}

// Execute hands the transaction's operations, in insertion order, to executor. Success
// commits the transaction. An executor error fails it, rolls back its pending operations
// and is returned wrapped (errors.Is still matches the executor's error).
func (m *Manager) Execute(ctx context.Context, id storekit.UUID, executor Executor) (any, error) {
	m.locker.Lock()
	t, err := m.activeLocked(id)
	if err == nil && t.executing {
		err = storekit.NewError(storekit.InvalidState, fmt.Errorf("transaction %s is already executing", id), id)
	}
	if err != nil {
		m.locker.Unlock()
		return nil, err
	}
	t.executing = true
	ops := append([]Operation(nil), t.Operations...)
	m.locker.Unlock()

	start := m.now()
	result, execErr := runExecutor(ctx, executor, ops)
	elapsed := m.now().Sub(start)
	md := map[string]any{"transaction_id": id.String(), "operations": len(ops)}

	m.locker.Lock()
	defer m.locker.Unlock()
	t.executing = false

	if t.State != Active {
		// Rolled back (by Rollback or the cleanup worker) while the executor ran.
		err := storekit.NewError(storekit.InvalidState,
			fmt.Errorf("transaction %s was %s during execution", id, t.State), id)
		m.recorder.RecordOperation(MetricExecute, false, elapsed, err, md)
		return nil, err
	}
	if execErr != nil {
		t.Err = execErr.Error()
		m.rollbackOperationsLocked(t)
		m.finishLocked(t, Failed)
		m.recorder.RecordOperation(MetricExecute, false, elapsed, execErr, md)
		m.recorder.RecordOperation(MetricRollback, true, 0, nil, md)
		log.Warn("transaction failed", "id", id.String(), "error", execErr)
		return nil, storekit.NewError(storekit.TransactionFailure,
			fmt.Errorf("transaction %s failed: %w", id, execErr), id)
	}
	for i := range t.Operations {
		t.Operations[i].Executed = true
	}
	t.Result = result
	m.finishLocked(t, Committed)
	m.recorder.RecordOperation(MetricExecute, true, elapsed, nil, md)
	return result, nil
}

func runExecutor(ctx context.Context, executor Executor, ops []Operation) (r any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("executor panic: %v", p)
		}
	}()
	return executor(ctx, ops)
}

// Commit marks an Active transaction Committed. It returns false when the transaction is
// missing, terminal or currently executing.
func (m *Manager) Commit(id storekit.UUID) bool {
	m.locker.Lock()
	defer m.locker.Unlock()
	t, ok := m.active[id]
	if !ok || t.executing {
		return false
	}
	for i := range t.Operations {
		t.Operations[i].Executed = true
	}
	m.finishLocked(t, Committed)
	m.recorder.RecordOperation(MetricCommit, true, m.now().Sub(t.CreatedAt), nil,
		map[string]any{"transaction_id": id.String(), "operations": len(t.Operations)})
	return true
}

// Rollback marks an Active transaction RolledBack. It returns false when the transaction
// is missing or terminal.
func (m *Manager) Rollback(id storekit.UUID) bool {
	m.locker.Lock()
	defer m.locker.Unlock()
	t, ok := m.active[id]
	if !ok {
		return false
	}
	m.rollbackLocked(t, MetricRollback)
	return true
}

// GetTransaction returns a copy of the transaction, Active or historical.
func (m *Manager) GetTransaction(id storekit.UUID) (Transaction, bool) {
	m.locker.Lock()
	defer m.locker.Unlock()
	if t, ok := m.active[id]; ok {
		return t.clone(), true
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == id {
			return m.history[i].clone(), true
		}
	}
	return Transaction{}, false
}

// ActiveTransactions returns copies of the Active transactions, oldest first.
func (m *Manager) ActiveTransactions() []Transaction {
	m.locker.Lock()
	defer m.locker.Unlock()
	r := make([]Transaction, 0, len(m.active))
	for _, t := range m.active {
		r = append(r, t.clone())
	}
	sort.Slice(r, func(i, j int) bool { return r[i].CreatedAt.Before(r[j].CreatedAt) })
	return r
}

// History returns copies of the terminal transactions still retained, oldest first.
func (m *Manager) History() []Transaction {
	m.locker.Lock()
	defer m.locker.Unlock()
	r := make([]Transaction, len(m.history))
	for i, t := range m.history {
		r[i] = t.clone()
	}
	return r
}

// GetStatistics counts transactions by state and operations by type, over the Active set
// and the retained history.
func (m *Manager) GetStatistics() Statistics {
	m.locker.Lock()
	defer m.locker.Unlock()
	s := Statistics{
		Active:          len(m.active),
		Total:           len(m.active) + len(m.history),
		ByState:         make(map[string]int, len(stateNames)),
		ByOperationType: make(map[string]int, len(operationTypeNames)),
	}
	now := m.now()
	count := func(t *Transaction) {
		s.ByState[t.State.String()]++
		for _, op := range t.Operations {
			s.ByOperationType[op.Type.String()]++
		}
	}
	for _, t := range m.active {
		count(t)
		if age := now.Sub(t.CreatedAt); age > s.OldestActiveAge {
			s.OldestActiveAge = age
		}
	}
	for _, t := range m.history {
		count(t)
	}
	return s
}

// CleanupExpired force-rolls-back every Active transaction older than TransactionTimeout
// and returns how many it reclaimed.
func (m *Manager) CleanupExpired() int {
	m.locker.Lock()
	defer m.locker.Unlock()
	now := m.now()
	expired := 0
	for _, t := range m.active {
		if now.Sub(t.CreatedAt) > m.config.TransactionTimeout {
			t.Err = fmt.Sprintf("transaction timed out after %v", m.config.TransactionTimeout)
			m.rollbackLocked(t, MetricTimeout)
			log.Warn("transaction timed out, rolled back", "id", t.ID.String(), "age", now.Sub(t.CreatedAt))
			expired++
		}
	}
	return expired
}

func (m *Manager) activeLocked(id storekit.UUID) (*Transaction, error) {
	if t, ok := m.active[id]; ok {
		return t, nil
	}
	for _, t := range m.history {
		if t.ID == id {
			return nil, storekit.NewError(storekit.InvalidState,
				fmt.Errorf("transaction %s is %s", id, t.State), id)
		}
	}
	return nil, storekit.NewError(storekit.NotFound, fmt.Errorf("transaction %s not found", id), id)
}

func (m *Manager) rollbackLocked(t *Transaction, metric string) {
	m.rollbackOperationsLocked(t)
	m.finishLocked(t, RolledBack)
	m.recorder.RecordOperation(metric, true, m.now().Sub(t.CreatedAt), nil,
		map[string]any{"transaction_id": t.ID.String(), "operations": len(t.Operations)})
}

// rollbackOperationsLocked discards the effects recorded on the operations.
func (m *Manager) rollbackOperationsLocked(t *Transaction) {
	for i := range t.Operations {
		t.Operations[i].Executed = false
		t.Operations[i].Result = nil
	}
}

// finishLocked moves t to its terminal state and into history.
func (m *Manager) finishLocked(t *Transaction, state State) {
	t.State = state
	t.UpdatedAt = m.now()
	delete(m.active, t.ID)
	m.history = append(m.history, t)
	if limit := m.config.MaxHistorySize; limit > 0 && len(m.history) > limit {
		n := len(m.history) - limit
		copy(m.history, m.history[n:])
		for i := len(m.history) - n; i < len(m.history); i++ {
			m.history[i] = nil
		}
		m.history = m.history[:len(m.history)-n]
	}
}
