// Package metrics records runtime statistics for the portal: an in-memory
// Collector for the /stats endpoint and Prometheus series for scraping.
package metrics

import (
	"sync"
	"time"
)

// Operation names tracked by the Collector.
const (
	OpDocRead   = "doc_read"
	OpDocWrite  = "doc_write"
	OpDocDelete = "doc_delete"
	OpDispatch  = "dispatch"
	OpAssistant = "assistant"
)

// Snapshot is what GET /api/stats returns.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	DocRead       *OperationSnapshot `json:"doc_read,omitempty"`
	DocWrite      *OperationSnapshot `json:"doc_write,omitempty"`
	DocDelete     *OperationSnapshot `json:"doc_delete,omitempty"`
	Dispatch      *OperationSnapshot `json:"dispatch,omitempty"`
	Assistant     *OperationSnapshot `json:"assistant,omitempty"`
}

// OperationSnapshot summarizes one operation. Token fields are set only for
// assistant replies that reported usage.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	TotalInputTokens  *int64   `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64   `json:"total_output_tokens,omitempty"`
	AvgInputTokens    *float64 `json:"avg_input_tokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avg_output_tokens,omitempty"`
	MinInputTokens    *int64   `json:"min_input_tokens,omitempty"`
	MaxInputTokens    *int64   `json:"max_input_tokens,omitempty"`
	MinOutputTokens   *int64   `json:"min_output_tokens,omitempty"`
	MaxOutputTokens   *int64   `json:"max_output_tokens,omitempty"`
}

// span tracks total, smallest and largest of a series of samples.
type span[T ~int64] struct {
	n        int64
	sum      T
	min, max T
}

func (s *span[T]) add(v T) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
	s.sum += v
	s.n++
}

type tokenCount int64

type opStats struct {
	latency span[time.Duration]
	failed  int64
	in, out span[tokenCount]
}

// Collector aggregates per-operation latency, failure and token counts.
// Safe for concurrent use.
type Collector struct {
	started time.Time

	mu  sync.RWMutex
	ops map[string]*opStats
}

// NewCollector starts the uptime clock.
func NewCollector() *Collector {
	return &Collector{started: time.Now(), ops: map[string]*opStats{}}
}

// RecordTiming counts a successful call.
func (c *Collector) RecordTiming(op string, d time.Duration) {
	c.update(op, func(s *opStats) { s.latency.add(d) })
}

// RecordFailure counts a call that returned an error.
func (c *Collector) RecordFailure(op string, d time.Duration) {
	c.update(op, func(s *opStats) {
		s.latency.add(d)
		s.failed++
	})
}

// RecordLLMUsage counts a model call together with its token usage.
func (c *Collector) RecordLLMUsage(op string, d time.Duration, inputTokens, outputTokens int64) {
	c.update(op, func(s *opStats) {
		s.latency.add(d)
		s.in.add(tokenCount(inputTokens))
		s.out.add(tokenCount(outputTokens))
	})
}

func (c *Collector) update(op string, fn func(*opStats)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.ops[op]
	if s == nil {
		s = &opStats{}
		c.ops[op] = s
	}
	fn(s)
}

// Snapshot copies the current aggregates.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		UptimeSeconds: time.Since(c.started).Seconds(),
		DocRead:       c.ops[OpDocRead].snapshot(),
		DocWrite:      c.ops[OpDocWrite].snapshot(),
		DocDelete:     c.ops[OpDocDelete].snapshot(),
		Dispatch:      c.ops[OpDispatch].snapshot(),
		Assistant:     c.ops[OpAssistant].snapshot(),
	}
}

func (s *opStats) snapshot() *OperationSnapshot {
	if s == nil || s.latency.n == 0 {
		return nil
	}
	snap := &OperationSnapshot{
		Count:       s.latency.n,
		Errors:      s.failed,
		TotalTimeMs: s.latency.sum.Milliseconds(),
		AvgTimeMs:   float64(s.latency.sum.Milliseconds()) / float64(s.latency.n),
		MinTimeMs:   s.latency.min.Milliseconds(),
		MaxTimeMs:   s.latency.max.Milliseconds(),
	}
	if s.in.sum == 0 && s.out.sum == 0 {
		return snap
	}

	// Token averages are per call, including calls that reported no usage.
	inSum, outSum := int64(s.in.sum), int64(s.out.sum)
	inAvg := float64(inSum) / float64(s.latency.n)
	outAvg := float64(outSum) / float64(s.latency.n)
	inMin, inMax := int64(s.in.min), int64(s.in.max)
	outMin, outMax := int64(s.out.min), int64(s.out.max)

	snap.TotalInputTokens, snap.TotalOutputTokens = &inSum, &outSum
	snap.AvgInputTokens, snap.AvgOutputTokens = &inAvg, &outAvg
	snap.MinInputTokens, snap.MaxInputTokens = &inMin, &inMax
	snap.MinOutputTokens, snap.MaxOutputTokens = &outMin, &outMax
	return snap
}
