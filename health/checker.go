package health

import (
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// OverallComponent names the aggregated result returned by GetOverallHealth.
const OverallComponent = "overall"

// Config controls probe timeouts, history and the poll loop.
type Config struct {
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`
	// Timeout bounds each probe run; the probe's context is cancelled when it elapses.
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	HistorySize int           `json:"history_size" yaml:"history_size"`
	// MaxConcurrentChecks limits the probes running at once in a round. Zero is unbounded.
	MaxConcurrentChecks int        `json:"max_concurrent_checks" yaml:"max_concurrent_checks"`
	Thresholds          Thresholds `json:"thresholds" yaml:"thresholds"`
}

// DefaultConfig returns the default checker configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval: 30 * time.Second,
		Timeout:       10 * time.Second,
		HistorySize:   100,
		Thresholds:    DefaultThresholds(),
	}
}

// Checker runs registered probes and keeps the current result plus a bounded history per
// component. Probes are never invoked with the checker's lock held.
type Checker struct {
	config Config
	now    func() time.Time

	locker  sync.RWMutex
	probes  map[string]registration
	nextGen uint64
	current map[string]Result
	history map[string][]Result

	loopLocker sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewChecker creates a Checker with no registered components.
func NewChecker(config Config) *Checker {
	d := DefaultConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = d.CheckInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	if config.HistorySize <= 0 {
		config.HistorySize = d.HistorySize
	}
	if config.MaxConcurrentChecks < 0 {
		config.MaxConcurrentChecks = 0
	}
	config.Thresholds = config.Thresholds.withDefaults()
	return &Checker{
		config:  config,
		now:     time.Now,
		probes:  make(map[string]registration),
		current: make(map[string]Result),
		history: make(map[string][]Result),
	}
}

// Config returns the effective configuration.
func (c *Checker) Config() Config {
	return c.config
}

// Thresholds returns the configured thresholds.
func (c *Checker) Thresholds() Thresholds {
	return c.config.Thresholds
}

// registration pairs a probe with the generation it was registered under; a round only
// records a result if the component still has the registration the probe came from.
type registration struct {
	probe Probe
	gen   uint64
}

// RegisterCheck registers probe for component, replacing any previous one.
func (c *Checker) RegisterCheck(component string, probe Probe) {
	c.locker.Lock()
	defer c.locker.Unlock()
	c.nextGen++
	c.probes[component] = registration{probe: probe, gen: c.nextGen}
	log.Debug("health check registered", "component", component)
}

// RegisterStatusCheck registers a (status, message, details) probe.
func (c *Checker) RegisterStatusCheck(component string, probe StatusProbe) {
	c.RegisterCheck(component, probe.probe())
}

// UnregisterCheck removes component with its current result and history.
func (c *Checker) UnregisterCheck(component string) bool {
	c.locker.Lock()
	defer c.locker.Unlock()
	_, ok := c.probes[component]
	delete(c.probes, component)
	delete(c.current, component)
	delete(c.history, component)
	return ok
}

// Components lists the registered component names, sorted.
func (c *Checker) Components() []string {
	c.locker.RLock()
	defer c.locker.RUnlock()
	r := make([]string, 0, len(c.probes))
	for k := range c.probes {
		r = append(r, k)
	}
	sort.Strings(r)
	return r
}

// CheckHealth runs the probes of the named components (all when none is named)
// concurrently, each under the configured timeout, and records their results. A failing,
// panicking or timed out probe yields an Unhealthy result for its component only. A name
// with no registered probe yields an Unknown result that is not recorded.
func (c *Checker) CheckHealth(ctx context.Context, components ...string) map[string]Result {
	c.locker.RLock()
	targets := make(map[string]registration, len(c.probes))
	if len(components) == 0 {
		for k, p := range c.probes {
			targets[k] = p
		}
	} else {
		for _, k := range components {
			targets[k] = c.probes[k]
		}
	}
	c.locker.RUnlock()

	results := make(map[string]Result, len(targets))
	var resultsLocker sync.Mutex
	eg, ectx := errgroup.WithContext(ctx)
	if c.config.MaxConcurrentChecks > 0 {
		eg.SetLimit(c.config.MaxConcurrentChecks)
	}
	for name, reg := range targets {
		if reg.probe == nil {
			results[name] = Result{
				Component: name,
				Status:    Unknown,
				Message:   "no health check registered",
				Timestamp: c.now(),
			}
			continue
		}
		eg.Go(func() error {
			r := c.run(ectx, name, reg.probe)
			resultsLocker.Lock()
			results[name] = r
			resultsLocker.Unlock()
			return nil
		})
	}
	eg.Wait()
	if ctx.Err() != nil {
		// Results of an abandoned round are returned but not recorded.
		return results
	}

	c.locker.Lock()
	defer c.locker.Unlock()
	for name, r := range results {
		if cur, ok := c.probes[name]; !ok || cur.gen != targets[name].gen {
			continue
		}
		c.current[name] = r
		h := append(c.history[name], r)
		if over := len(h) - c.config.HistorySize; over > 0 {
			h = append(h[:0:0], h[over:]...)
		}
		c.history[name] = h
	}
	return results
}

type probeOutcome struct {
	result Result
	err    error
}

// run executes one probe under the check timeout and normalises its outcome.
func (c *Checker) run(ctx context.Context, name string, probe Probe) Result {
	pctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := c.now()
	ch := make(chan probeOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- probeOutcome{err: fmt.Errorf("health check panicked: %v", p)}
			}
		}()
		r, err := probe(pctx)
		ch <- probeOutcome{result: r, err: err}
	}()

	var r Result
	select {
	case o := <-ch:
		r = o.result
		if o.err != nil {
			r.Status = Unhealthy
			r.Error = o.err.Error()
			if r.Message == "" {
				r.Message = o.err.Error()
			}
		}
	case <-pctx.Done():
		if ctx.Err() != nil {
			r = Result{Status: Unknown, Message: "health check cancelled", Error: ctx.Err().Error()}
		} else {
			msg := fmt.Sprintf("health check timed out after %v", c.config.Timeout)
			r = Result{Status: Unhealthy, Message: msg, Error: msg}
		}
	}
	r.Component = name
	r.Timestamp = c.now()
	if r.ResponseTime == 0 {
		r.ResponseTime = r.Timestamp.Sub(start)
	}
	if r.Status == Unhealthy {
		log.Warn("health check unhealthy", "component", name, "message", r.Message)
	}
	return r
}

// GetOverallHealth aggregates the current results of every registered component, a never
// checked component counting as Unknown. Any Unhealthy component makes the whole Unhealthy;
// otherwise more than half Unknown makes it Unknown; otherwise any Degraded makes it
// Degraded; otherwise it is Healthy. With no components registered it is Unknown.
func (c *Checker) GetOverallHealth() Result {
	c.locker.RLock()
	defer c.locker.RUnlock()

	r := Result{
		Component: OverallComponent,
		Timestamp: c.now(),
		Details:   make(map[string]any, len(c.probes)),
	}
	if len(c.probes) == 0 {
		r.Status = Unknown
		r.Message = "no components registered"
		return r
	}
	counts := make(map[Status]int, len(statusNames))
	for name := range c.probes {
		s := Unknown
		if cur, ok := c.current[name]; ok {
			s = cur.Status
		}
		counts[s]++
		r.Details[name] = s.String()
	}
	total := len(c.probes)
	switch {
	case counts[Unhealthy] > 0:
		r.Status = Unhealthy
		r.Message = fmt.Sprintf("%d of %d components unhealthy", counts[Unhealthy], total)
	case counts[Unknown]*2 > total:
		r.Status = Unknown
		r.Message = fmt.Sprintf("%d of %d components unknown", counts[Unknown], total)
	case counts[Degraded] > 0:
		r.Status = Degraded
		r.Message = fmt.Sprintf("%d of %d components degraded", counts[Degraded], total)
	default:
		r.Status = Healthy
		r.Message = fmt.Sprintf("%d of %d components healthy", counts[Healthy], total)
	}
	return r
}

// GetComponentHealth returns the current result of component, if it has been checked.
func (c *Checker) GetComponentHealth(component string) (Result, bool) {
	c.locker.RLock()
	defer c.locker.RUnlock()
	r, ok := c.current[component]
	return r, ok
}

// GetHistory returns up to limit of the component's most recent results, oldest first.
// limit <= 0 returns the whole retained history.
func (c *Checker) GetHistory(component string, limit int) []Result {
	c.locker.RLock()
	defer c.locker.RUnlock()
	h := c.history[component]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]Result(nil), h...)
}
