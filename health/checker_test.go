package health

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sharedcode/storekit/metrics"
)

func static(s Status) Probe {
	return func(context.Context) (Result, error) {
		return Result{Status: s, Message: s.String()}, nil
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", d)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOverallHealthPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"one unhealthy wins over healthy majority", []Status{Unhealthy, Healthy, Healthy, Healthy}, Unhealthy},
		{"unhealthy wins over unknown majority", []Status{Unhealthy, Unknown, Unknown, Unknown}, Unhealthy},
		{"unknown majority", []Status{Unknown, Unknown, Degraded}, Unknown},
		{"unknown exactly half is not majority", []Status{Unknown, Degraded}, Degraded},
		{"degraded", []Status{Healthy, Degraded, Healthy}, Degraded},
		{"all healthy", []Status{Healthy, Healthy}, Healthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(DefaultConfig())
			for i, s := range tt.statuses {
				c.RegisterCheck(string(rune('a'+i)), static(s))
			}
			c.CheckHealth(context.Background())
			if got := c.GetOverallHealth().Status; got != tt.want {
				t.Errorf("overall = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverallHealth_NoComponentsAndNeverChecked(t *testing.T) {
	c := NewChecker(DefaultConfig())
	if s := c.GetOverallHealth().Status; s != Unknown {
		t.Fatalf("empty checker overall = %v, want unknown", s)
	}

	c.RegisterCheck("a", static(Healthy))
	c.RegisterCheck("b", static(Healthy))
	c.RegisterCheck("c", static(Healthy))
	c.CheckHealth(context.Background(), "a")
	o := c.GetOverallHealth()
	// Two of three were never checked.
	if o.Status != Unknown {
		t.Errorf("overall = %v, want unknown", o.Status)
	}
	if o.Details["b"] != "unknown" {
		t.Errorf("details[b] = %v", o.Details["b"])
	}
}

func TestProbeTimeout(t *testing.T) {
	c := NewChecker(Config{Timeout: 20 * time.Millisecond})
	var cancelled atomic.Bool
	c.RegisterCheck("slow", func(ctx context.Context) (Result, error) {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			return Result{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return Result{Status: Healthy}, nil
		}
	})
	c.RegisterCheck("fast", static(Healthy))

	start := time.Now()
	res := c.CheckHealth(context.Background())
	if d := time.Since(start); d >= 2*time.Second {
		t.Fatalf("CheckHealth took %v", d)
	}
	if res["slow"].Status != Unhealthy || res["slow"].Message != "health check timed out after 20ms" {
		t.Errorf("slow = %+v", res["slow"])
	}
	if res["fast"].Status != Healthy {
		t.Errorf("fast = %v", res["fast"].Status)
	}
	waitFor(t, time.Second, cancelled.Load)
}

func TestProbeErrorAndPanicAreIsolated(t *testing.T) {
	c := NewChecker(DefaultConfig())
	c.RegisterCheck("err", func(context.Context) (Result, error) { return Result{}, errors.New("refused") })
	c.RegisterCheck("panic", func(context.Context) (Result, error) { panic("kaboom") })
	c.RegisterCheck("ok", static(Healthy))

	res := c.CheckHealth(context.Background())
	if len(res) != 3 {
		t.Fatalf("got %d results, want 3", len(res))
	}
	if res["err"].Status != Unhealthy || res["err"].Error != "refused" {
		t.Errorf("err = %+v", res["err"])
	}
	if res["panic"].Status != Unhealthy || !strings.Contains(res["panic"].Message, "kaboom") {
		t.Errorf("panic = %+v", res["panic"])
	}
	if res["ok"].Status != Healthy || res["ok"].Component != "ok" {
		t.Errorf("ok = %+v", res["ok"])
	}
}

func TestStatusProbeAdapter(t *testing.T) {
	c := NewChecker(DefaultConfig())
	c.RegisterStatusCheck("legacy", func(context.Context) (Status, string, map[string]any) {
		return Degraded, "slow disk", map[string]any{"iops": 12}
	})
	r := c.CheckHealth(context.Background(), "legacy")["legacy"]
	if r.Status != Degraded || r.Message != "slow disk" || r.Details["iops"] != 12 {
		t.Errorf("legacy = %+v", r)
	}
}

func TestUnregisteredComponentIsUnknownAndNotRecorded(t *testing.T) {
	c := NewChecker(DefaultConfig())
	res := c.CheckHealth(context.Background(), "ghost")
	if res["ghost"].Status != Unknown {
		t.Errorf("ghost = %v, want unknown", res["ghost"].Status)
	}
	if _, ok := c.GetComponentHealth("ghost"); ok {
		t.Errorf("ghost result was recorded")
	}
}

func TestHistoryIsBounded(t *testing.T) {
	c := NewChecker(Config{HistorySize: 3})
	n := 0
	c.RegisterCheck("db", func(context.Context) (Result, error) {
		n++
		return Result{Status: Healthy, Details: map[string]any{"n": n}}, nil
	})
	for i := 0; i < 5; i++ {
		c.CheckHealth(context.Background())
	}
	h := c.GetHistory("db", 0)
	if len(h) != 3 {
		t.Fatalf("history has %d results, want 3", len(h))
	}
	if h[0].Details["n"] != 3 || h[2].Details["n"] != 5 {
		t.Errorf("history kept the wrong results: %v .. %v", h[0].Details, h[2].Details)
	}
	if n := len(c.GetHistory("db", 2)); n != 2 {
		t.Errorf("limited history has %d results", n)
	}

	cur, ok := c.GetComponentHealth("db")
	if !ok || cur.Details["n"] != 5 {
		t.Errorf("current = %+v, %v", cur, ok)
	}

	if !c.UnregisterCheck("db") {
		t.Fatalf("UnregisterCheck(db) = false")
	}
	if len(c.GetHistory("db", 0)) != 0 || len(c.Components()) != 0 {
		t.Errorf("db survived UnregisterCheck")
	}
}

func TestRegisterCheckLastWriteWins(t *testing.T) {
	c := NewChecker(DefaultConfig())
	c.RegisterCheck("x", static(Unhealthy))
	c.RegisterCheck("x", static(Healthy))
	if got := c.Components(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("Components = %v", got)
	}
	if s := c.CheckHealth(context.Background())["x"].Status; s != Healthy {
		t.Errorf("x = %v, want healthy", s)
	}
}

func TestReregisterDuringRoundDropsStaleResult(t *testing.T) {
	c := NewChecker(DefaultConfig())
	started := make(chan struct{})
	release := make(chan struct{})
	c.RegisterCheck("db", func(context.Context) (Result, error) {
		close(started)
		<-release
		return Result{Status: Unhealthy, Message: "old"}, nil
	})

	done := make(chan map[string]Result)
	go func() { done <- c.CheckHealth(context.Background()) }()
	<-started
	c.UnregisterCheck("db")
	c.RegisterCheck("db", static(Healthy))
	close(release)

	if res := <-done; res["db"].Message != "old" {
		t.Fatalf("round returned %+v", res["db"])
	}
	if r, ok := c.GetComponentHealth("db"); ok {
		t.Errorf("stale result recorded for the new registration: %+v", r)
	}
	if h := c.GetHistory("db", 0); len(h) != 0 {
		t.Errorf("stale result in history: %+v", h)
	}

	c.CheckHealth(context.Background())
	if r, ok := c.GetComponentHealth("db"); !ok || r.Status != Healthy {
		t.Errorf("db = %+v, %v, want healthy", r, ok)
	}
}

func TestMaxConcurrentChecks(t *testing.T) {
	c := NewChecker(Config{MaxConcurrentChecks: 2})
	var running, peak atomic.Int32
	probe := func(context.Context) (Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return Result{Status: Healthy}, nil
	}
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		c.RegisterCheck(name, probe)
	}
	res := c.CheckHealth(context.Background())
	if len(res) != 6 {
		t.Fatalf("got %d results, want 6", len(res))
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("%d probes ran at once, limit is 2", p)
	}
}

func TestPollLoop(t *testing.T) {
	c := NewChecker(Config{CheckInterval: 5 * time.Millisecond})
	var calls atomic.Int32
	c.RegisterCheck("a", func(context.Context) (Result, error) {
		calls.Add(1)
		return Result{Status: Healthy}, nil
	})
	c.RegisterCheck("b", func(context.Context) (Result, error) { panic("never stops the loop") })

	c.Start(context.Background())
	c.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool { return calls.Load() >= 3 })
	c.Stop()
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if n := calls.Load(); n != after {
		t.Errorf("polled %d more times after Stop", n-after)
	}
	c.Stop()
}

func TestSuccessRateClassificationDirection(t *testing.T) {
	th := DefaultThresholds()
	if th.SuccessRateCritical <= th.SuccessRateWarning {
		t.Fatalf("critical %v should be above warning %v", th.SuccessRateCritical, th.SuccessRateWarning)
	}
	rates := []struct {
		rate float64
		want Status
	}{
		{1, Healthy},
		{0.95, Healthy},
		{0.92, Degraded},
		{0.90, Degraded},
		{0.5, Unhealthy},
	}
	for _, tt := range rates {
		if got := th.ClassifySuccessRate(tt.rate); got != tt.want {
			t.Errorf("ClassifySuccessRate(%v) = %v, want %v", tt.rate, got, tt.want)
		}
	}

	if got := th.ClassifyResponseTime(100 * time.Millisecond); got != Healthy {
		t.Errorf("100ms = %v", got)
	}
	if got := th.ClassifyResponseTime(2 * time.Second); got != Degraded {
		t.Errorf("2s = %v", got)
	}
	if got := th.ClassifyResponseTime(6 * time.Second); got != Unhealthy {
		t.Errorf("6s = %v", got)
	}
	if got := th.ClassifyErrorRate(0.07); got != Degraded {
		t.Errorf("error rate 0.07 = %v", got)
	}
	if got := th.ClassifyCapacity(0.99); got != Unhealthy {
		t.Errorf("capacity 0.99 = %v", got)
	}
}

func TestStorageProbes(t *testing.T) {
	mc := metrics.NewCollector(metrics.DefaultConfig())
	c := NewChecker(DefaultConfig())
	pingErr := error(nil)
	sp := &StorageProbes{
		Metrics: mc,
		Ping:    func(context.Context) error { return pingErr },
		Capacity: func(context.Context) (int64, int64, error) {
			return 85, 100, nil
		},
	}
	names := sp.Register(c, "mem")
	if want := []string{"mem.connection", "mem.performance", "mem.capacity"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("Register = %v, want %v", names, want)
	}

	res := c.CheckHealth(context.Background())
	if res["mem.connection"].Status != Healthy || res["mem.performance"].Status != Healthy {
		t.Errorf("fresh backend: connection=%v performance=%v", res["mem.connection"].Status, res["mem.performance"].Status)
	}
	if res["mem.capacity"].Status != Degraded {
		t.Errorf("capacity at 85%% = %v, want degraded", res["mem.capacity"].Status)
	}

	for i := 0; i < 92; i++ {
		mc.RecordOperation("mem.save", true, time.Millisecond, nil, nil)
	}
	for i := 0; i < 8; i++ {
		mc.RecordOperation("mem.save", false, time.Millisecond, errors.New("io"), nil)
	}
	res = c.CheckHealth(context.Background(), "mem.connection", "mem.performance")
	if r := res["mem.connection"]; r.Status != Degraded || r.Details["success_rate"] != 0.92 {
		t.Errorf("connection = %+v", r)
	}
	if s := res["mem.performance"].Status; s != Degraded {
		t.Errorf("performance = %v, want degraded", s)
	}

	pingErr = errors.New("connection refused")
	res = c.CheckHealth(context.Background(), "mem.connection")
	if r := res["mem.connection"]; r.Status != Unhealthy || !strings.Contains(r.Message, "ping failed") {
		t.Errorf("connection = %+v", r)
	}
	if s := c.GetOverallHealth().Status; s != Unhealthy {
		t.Errorf("overall = %v, want unhealthy", s)
	}
}
