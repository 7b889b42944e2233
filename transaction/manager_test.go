package transaction

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sharedcode/storekit"
	"github.com/sharedcode/storekit/metrics"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(config Config) (*Manager, *metrics.Collector, *testClock) {
	mc := metrics.NewCollector(metrics.DefaultConfig())
	m := NewManager(config, mc)
	clk := &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m.now = clk.now
	return m, mc, clk
}

func mustGet(t *testing.T, m *Manager, id storekit.UUID) Transaction {
	t.Helper()
	tx, ok := m.GetTransaction(id)
	if !ok {
		t.Fatalf("transaction %s not found", id)
	}
	return tx
}

func TestExecute_CommitsInOrder(t *testing.T) {
	m, mc, _ := newTestManager(DefaultConfig())
	id, err := m.CreateTransaction(map[string]any{"user": "u1"})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	for _, op := range []struct {
		typ     OperationType
		payload string
	}{{Save, "a"}, {Update, "b"}, {Delete, "c"}} {
		if _, err := m.AddOperation(id, op.typ, op.payload); err != nil {
			t.Fatalf("AddOperation(%v): %v", op.typ, err)
		}
	}

	var seen []any
	r, err := m.Execute(context.Background(), id, func(ctx context.Context, ops []Operation) (any, error) {
		for _, op := range ops {
			seen = append(seen, op.Payload)
		}
		return len(ops), nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if r != 3 {
		t.Errorf("result = %v, want 3", r)
	}
	if want := []any{"a", "b", "c"}; !reflect.DeepEqual(seen, want) {
		t.Errorf("executor saw %v, want %v", seen, want)
	}

	tx := mustGet(t, m, id)
	if tx.State != Committed || tx.Result != 3 {
		t.Errorf("state=%v result=%v", tx.State, tx.Result)
	}
	for i, op := range tx.Operations {
		if !op.Executed {
			t.Errorf("operation %d not marked executed", i)
		}
	}
	if n := len(m.ActiveTransactions()); n != 0 {
		t.Errorf("%d active transactions after commit", n)
	}

	om, ok := mc.GetOperationMetrics(MetricExecute)
	if !ok || om.SuccessCount != 1 {
		t.Errorf("execute metrics = %+v, %v", om, ok)
	}
}

func TestExecute_FailureRollsBackAndReraises(t *testing.T) {
	m, mc, _ := newTestManager(DefaultConfig())
	id, _ := m.CreateTransaction(nil)
	m.AddOperation(id, BatchSave, []string{"x", "y"})

	boom := errors.New("disk full")
	_, err := m.Execute(context.Background(), id, func(ctx context.Context, ops []Operation) (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Execute error = %v, want wrapping %v", err, boom)
	}
	if !storekit.HasCode(err, storekit.TransactionFailure) {
		code, _ := storekit.CodeOf(err)
		t.Errorf("error code = %v, want TransactionFailure", code)
	}
	if !strings.Contains(err.Error(), id.String()) {
		t.Errorf("error %q does not name the transaction", err)
	}

	tx := mustGet(t, m, id)
	if tx.State != Failed || tx.Err != "disk full" {
		t.Errorf("state=%v err=%q", tx.State, tx.Err)
	}
	if tx.Operations[0].Executed {
		t.Errorf("failed operation still marked executed")
	}

	if _, ok := mc.GetOperationMetrics(MetricRollback); !ok {
		t.Errorf("rollback not recorded")
	}
}

func TestExecute_RecoversExecutorPanic(t *testing.T) {
	m, _, _ := newTestManager(DefaultConfig())
	id, _ := m.CreateTransaction(nil)
	_, err := m.Execute(context.Background(), id, func(ctx context.Context, ops []Operation) (any, error) {
		panic("bad executor")
	})
	if err == nil {
		t.Fatalf("Execute succeeded with a panicking executor")
	}
	if s := mustGet(t, m, id).State; s != Failed {
		t.Errorf("state = %v, want failed", s)
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	m, _, _ := newTestManager(DefaultConfig())
	id, _ := m.CreateTransaction(nil)
	if !m.Commit(id) {
		t.Fatalf("Commit of an active transaction failed")
	}

	if m.Commit(id) || m.Rollback(id) {
		t.Errorf("terminal transaction accepted a second transition")
	}
	if _, err := m.AddOperation(id, Save, 1); !storekit.HasCode(err, storekit.InvalidState) {
		t.Errorf("AddOperation error = %v, want InvalidState", err)
	}
	_, err := m.Execute(context.Background(), id, func(context.Context, []Operation) (any, error) { return nil, nil })
	if !storekit.HasCode(err, storekit.InvalidState) {
		t.Errorf("Execute error = %v, want InvalidState", err)
	}

	if n := len(m.History()); n != 1 {
		t.Errorf("history has %d entries, want 1", n)
	}
	if s := mustGet(t, m, id).State; s != Committed {
		t.Errorf("state = %v, want committed", s)
	}
}

func TestUnknownTransaction(t *testing.T) {
	m, _, _ := newTestManager(DefaultConfig())
	id := storekit.NewUUID()
	if m.Commit(id) || m.Rollback(id) {
		t.Errorf("unknown transaction accepted a transition")
	}
	if _, err := m.AddOperation(id, Save, nil); !storekit.HasCode(err, storekit.NotFound) {
		t.Errorf("AddOperation error = %v, want NotFound", err)
	}
	if _, ok := m.GetTransaction(id); ok {
		t.Errorf("unknown transaction found")
	}
}

func TestCreateTransaction_CopiesMetadata(t *testing.T) {
	m, _, _ := newTestManager(DefaultConfig())
	md := map[string]any{"user": "u1"}
	id, _ := m.CreateTransaction(md)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			md["n"] = i
		}
	}()
	for i := 0; i < 100; i++ {
		mustGet(t, m, id)
	}
	wg.Wait()

	tx := mustGet(t, m, id)
	if _, ok := tx.Metadata["n"]; ok || tx.Metadata["user"] != "u1" {
		t.Errorf("metadata = %v, want the map as it was on create", tx.Metadata)
	}
}

func TestCapacityLimit_NoPhantom(t *testing.T) {
	m, _, _ := newTestManager(Config{MaxConcurrentTransactions: 2})
	if _, err := m.CreateTransaction(nil); err != nil {
		t.Fatalf("first create: %v", err)
	}
	id2, err := m.CreateTransaction(nil)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	_, err = m.CreateTransaction(nil)
	if !storekit.HasCode(err, storekit.CapacityExceeded) {
		t.Fatalf("third create error = %v, want CapacityExceeded", err)
	}
	if storekit.IsRetryable(err) {
		t.Errorf("capacity error reported retryable")
	}
	if n := len(m.ActiveTransactions()); n != 2 {
		t.Errorf("%d active, want 2", n)
	}
	if n := m.GetStatistics().Total; n != 2 {
		t.Errorf("total = %d, want 2", n)
	}

	if !m.Rollback(id2) {
		t.Fatalf("Rollback failed")
	}
	if _, err := m.CreateTransaction(nil); err != nil {
		t.Errorf("create after rollback: %v", err)
	}
}

func TestRollbackDuringExecute(t *testing.T) {
	m, _, _ := newTestManager(DefaultConfig())
	id, _ := m.CreateTransaction(nil)
	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	var execErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, execErr = m.Execute(context.Background(), id, func(ctx context.Context, ops []Operation) (any, error) {
			close(started)
			<-release
			return "done", nil
		})
	}()
	<-started
	if m.Commit(id) {
		t.Errorf("Commit accepted while executing")
	}
	if _, err := m.AddOperation(id, Save, 1); !storekit.HasCode(err, storekit.InvalidState) {
		t.Errorf("AddOperation error = %v, want InvalidState", err)
	}
	if !m.Rollback(id) {
		t.Errorf("Rollback refused while executing")
	}
	close(release)
	wg.Wait()

	if !storekit.HasCode(execErr, storekit.InvalidState) {
		t.Errorf("Execute error = %v, want InvalidState", execErr)
	}
	if s := mustGet(t, m, id).State; s != RolledBack {
		t.Errorf("state = %v, want rolled_back", s)
	}
}

func TestCleanupExpired(t *testing.T) {
	m, mc, clk := newTestManager(Config{TransactionTimeout: time.Minute})
	old, _ := m.CreateTransaction(nil)
	clk.advance(50 * time.Second)
	fresh, _ := m.CreateTransaction(nil)
	clk.advance(20 * time.Second)

	if n := m.CleanupExpired(); n != 1 {
		t.Fatalf("CleanupExpired = %d, want 1", n)
	}
	tx := mustGet(t, m, old)
	if tx.State != RolledBack || !strings.Contains(tx.Err, "timed out") {
		t.Errorf("old: state=%v err=%q", tx.State, tx.Err)
	}
	if s := mustGet(t, m, fresh).State; s != Active {
		t.Errorf("fresh: state = %v, want active", s)
	}

	om, ok := mc.GetOperationMetrics(MetricTimeout)
	if !ok || om.Count != 1 {
		t.Errorf("timeout metrics = %+v, %v", om, ok)
	}
}

func TestStartStop_ForceRollsBackActive(t *testing.T) {
	m, _, _ := newTestManager(Config{AutoCleanupInterval: time.Millisecond})
	m.Start(context.Background())
	m.Start(context.Background())
	a, _ := m.CreateTransaction(nil)
	b, _ := m.CreateTransaction(nil)
	time.Sleep(5 * time.Millisecond)

	m.Stop()
	for _, id := range []storekit.UUID{a, b} {
		if s := mustGet(t, m, id).State; s != RolledBack {
			t.Errorf("%s: state = %v, want rolled_back", id, s)
		}
	}
	if n := len(m.ActiveTransactions()); n != 0 {
		t.Errorf("%d active after Stop", n)
	}
	m.Stop()
}

func TestWorkerReclaimsExpired(t *testing.T) {
	m, _, clk := newTestManager(Config{AutoCleanupInterval: time.Millisecond, TransactionTimeout: time.Second})
	id, _ := m.CreateTransaction(nil)
	clk.advance(2 * time.Second)
	m.Start(context.Background())
	defer m.Stop()

	deadline := time.Now().Add(time.Second)
	for mustGet(t, m, id).State != RolledBack {
		if time.Now().After(deadline) {
			t.Fatalf("expired transaction not reclaimed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStatisticsAndHistoryTrim(t *testing.T) {
	m, _, _ := newTestManager(Config{MaxHistorySize: 2})
	noop := func(context.Context, []Operation) (any, error) { return nil, nil }
	for i := 0; i < 3; i++ {
		id, _ := m.CreateTransaction(nil)
		m.AddOperation(id, Save, i)
		m.AddOperation(id, BatchDelete, i)
		m.Execute(context.Background(), id, noop)
	}
	id, _ := m.CreateTransaction(nil)
	m.AddOperation(id, Update, "u")

	s := m.GetStatistics()
	if s.Active != 1 || s.Total != 3 {
		t.Errorf("active=%d total=%d", s.Active, s.Total)
	}
	if s.ByState["committed"] != 2 || s.ByState["active"] != 1 {
		t.Errorf("ByState = %v", s.ByState)
	}
	if s.ByOperationType["save"] != 2 || s.ByOperationType["update"] != 1 {
		t.Errorf("ByOperationType = %v", s.ByOperationType)
	}
	if n := len(m.History()); n != 2 {
		t.Errorf("history has %d entries, want 2", n)
	}
}

func TestConcurrentTransactions(t *testing.T) {
	m, _, _ := newTestManager(Config{MaxConcurrentTransactions: 8})
	var wg sync.WaitGroup
	var mu sync.Mutex
	committed, rejected := 0, 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.CreateTransaction(nil)
			if err != nil {
				mu.Lock()
				rejected++
				mu.Unlock()
				return
			}
			m.AddOperation(id, Save, 1)
			if _, err := m.Execute(context.Background(), id, func(context.Context, []Operation) (any, error) {
				return nil, nil
			}); err == nil {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if committed+rejected != 32 {
		t.Errorf("committed=%d rejected=%d", committed, rejected)
	}
	if n := len(m.ActiveTransactions()); n != 0 {
		t.Errorf("%d active at the end", n)
	}
}

func TestOperationTypeText(t *testing.T) {
	var ot OperationType
	if err := ot.UnmarshalText([]byte("BATCH_SAVE")); err != nil || ot != BatchSave {
		t.Errorf("BATCH_SAVE = %v, %v", ot, err)
	}
	if err := ot.UnmarshalText([]byte("upsert")); err == nil {
		t.Errorf("upsert accepted")
	}
	if s := RolledBack.String(); s != "rolled_back" {
		t.Errorf("RolledBack = %q", s)
	}
	if !Failed.IsTerminal() || Active.IsTerminal() {
		t.Errorf("IsTerminal wrong")
	}
}
