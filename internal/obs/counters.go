package obs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Counters keeps per-label counts and request latency. Safe for concurrent
// use; a nil *Counters ignores every call.
type Counters struct {
	mu       sync.RWMutex
	counts   map[string]*atomic.Uint64
	requests LatencyStats
	workers  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count atomic.Uint64
	sum   atomic.Uint64
	min   atomic.Uint64
	max   atomic.Uint64
}

type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

type Snapshot struct {
	Counts         map[string]uint64 `json:"counts"`
	RequestLatency LatencySnapshot   `json:"request_latency"`
	WorkerLatency  LatencySnapshot   `json:"worker_latency"`
}

func NewCounters() *Counters {
	return &Counters{counts: make(map[string]*atomic.Uint64)}
}

func (c *Counters) RequestStarted(_ context.Context, _ RequestEvent) {
	c.inc("requests.started")
}

func (c *Counters) WorkerFinished(_ context.Context, ev WorkerEvent) {
	if c == nil {
		return
	}
	c.inc("worker." + ev.Kind + "." + ev.Status)
	c.workers.Observe(ev.Duration)
}

func (c *Counters) RequestFinished(_ context.Context, ev RequestEvent) {
	if c == nil {
		return
	}
	c.inc("requests." + ev.Status)
	c.requests.Observe(ev.Duration)
}

func (c *Counters) Get(label string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.counts[label]; ok {
		return v.Load()
	}
	return 0
}

func (c *Counters) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	counts := make(map[string]uint64, len(c.counts))
	for k, v := range c.counts {
		counts[k] = v.Load()
	}
	c.mu.RUnlock()
	return Snapshot{
		Counts:         counts,
		RequestLatency: c.requests.Snapshot(),
		WorkerLatency:  c.workers.Snapshot(),
	}
}

func (c *Counters) inc(label string) {
	if c == nil {
		return
	}
	c.mu.RLock()
	v, ok := c.counts[label]
	c.mu.RUnlock()
	if !ok {
		c.mu.Lock()
		if v, ok = c.counts[label]; !ok {
			v = &atomic.Uint64{}
			c.counts[label] = v
		}
		c.mu.Unlock()
	}
	v.Add(1)
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	l.count.Add(1)
	l.sum.Add(nanos)

	for {
		cur := l.min.Load()
		if cur != 0 && nanos >= cur {
			break
		}
		if l.min.CompareAndSwap(cur, nanos) {
			break
		}
	}
	for {
		cur := l.max.Load()
		if nanos <= cur {
			break
		}
		if l.max.CompareAndSwap(cur, nanos) {
			break
		}
	}
}

func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := l.count.Load()
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(l.min.Load()),
		Max:   time.Duration(l.max.Load()),
		Avg:   time.Duration(l.sum.Load() / count),
	}
}
