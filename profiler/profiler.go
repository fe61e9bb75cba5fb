// Package profiler - Operation timing and memory reporting for extraction runs.
package profiler

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Options configures the profiler.
type Options struct {
	// ReportInterval is how often Start emits a report; 0 disables periodic reports.
	ReportInterval time.Duration
	// MaxSamples bounds the durations kept per operation (default: 1000).
	MaxSamples int
	// Output receives reports.
	Output io.Writer
}

// Profiler tracks operation durations and custom metrics. It is safe for concurrent use.
type Profiler struct {
	opts      Options
	mu        sync.Mutex
	startTime time.Time
	ops       map[string]*timeTracker
	metrics   map[string]*metricTracker
	order     []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type timeTracker struct {
	durations []time.Duration
	total     time.Duration
	min, max  time.Duration
	count     int64
}

type metricTracker struct {
	sum, min, max float64
	count         int64
}

// OperationStats summarizes the recorded durations of one operation.
type OperationStats struct {
	Name  string
	Count int64
	Mean  time.Duration
	Min   time.Duration
	Max   time.Duration
	P50   time.Duration
	P95   time.Duration
}

// New creates a profiler.
//
// Arguments:
//   - opts: Configuration options for the profiler.
//
// Returns:
//   - *Profiler: A profiler with no recorded operations.
func New(opts Options) *Profiler {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 1000
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	return &Profiler{
		opts:      opts,
		startTime: time.Now(),
		ops:       make(map[string]*timeTracker),
		metrics:   make(map[string]*metricTracker),
	}
}

// Start emits a report every ReportInterval until Stop or ctx is done.
func (p *Profiler) Start(ctx context.Context) {
	if p.opts.ReportInterval <= 0 {
		return
	}
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.opts.ReportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Report(p.opts.Output)
			}
		}
	}()
}

// Stop ends periodic reporting and waits for the reporter to exit.
func (p *Profiler) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		p.wg.Wait()
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - func(): Call when the operation completes.
//
// @example
// done := p.StartOperation("extract")
// out, err := ext.Extract(feats, rois, points)
// done()
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.RecordDuration(name, time.Since(start))
	}
}

// RecordDuration records one completed operation.
func (p *Profiler) RecordDuration(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.ops[name]
	if !ok {
		t = &timeTracker{min: d, max: d}
		p.ops[name] = t
		p.order = append(p.order, name)
	}
	t.durations = append(t.durations, d)
	if len(t.durations) > p.opts.MaxSamples {
		t.durations = t.durations[1:]
	}
	t.total += d
	t.count++
	t.min = min(t.min, d)
	t.max = max(t.max, d)
}

// RecordMetric records a custom metric value.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.metrics[name]
	if !ok {
		m = &metricTracker{min: value, max: value}
		p.metrics[name] = m
	}
	m.sum += value
	m.count++
	m.min = min(m.min, value)
	m.max = max(m.max, value)
}

// Operation returns the statistics of one operation.
func (p *Profiler) Operation(name string) (OperationStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.ops[name]
	if !ok {
		return OperationStats{}, false
	}
	return t.stats(name), true
}

// Operations returns the statistics of every operation in first-seen order.
func (p *Profiler) Operations() []OperationStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]OperationStats, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.ops[name].stats(name))
	}
	return out
}

// stats computes the summary; quantiles cover the retained samples only.
func (t *timeTracker) stats(name string) OperationStats {
	s := OperationStats{
		Name:  name,
		Count: t.count,
		Min:   t.min,
		Max:   t.max,
	}
	if t.count > 0 {
		s.Mean = t.total / time.Duration(t.count)
	}
	if len(t.durations) > 0 {
		xs := make([]float64, len(t.durations))
		for i, d := range t.durations {
			xs[i] = float64(d)
		}
		sort.Float64s(xs)
		s.P50 = time.Duration(stat.Quantile(0.5, stat.Empirical, xs, nil))
		s.P95 = time.Duration(stat.Quantile(0.95, stat.Empirical, xs, nil))
	}
	return s
}

// Report writes operation timings, custom metrics and memory usage.
func (p *Profiler) Report(w io.Writer) {
	ops := p.Operations()

	p.mu.Lock()
	uptime := time.Since(p.startTime)
	names := make([]string, 0, len(p.metrics))
	for name := range p.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	metrics := make([]metricTracker, len(names))
	for i, name := range names {
		metrics[i] = *p.metrics[name]
	}
	p.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Fprintf(w, "PROFILER REPORT - uptime %v\n", uptime.Truncate(time.Millisecond))
	if len(ops) > 0 {
		fmt.Fprintf(w, "\nOPERATION TIMINGS:\n")
		for _, s := range ops {
			fmt.Fprintf(w, "  %s: avg=%v, p50=%v, p95=%v, min=%v, max=%v, count=%d\n",
				s.Name,
				s.Mean.Truncate(time.Microsecond),
				s.P50.Truncate(time.Microsecond),
				s.P95.Truncate(time.Microsecond),
				s.Min.Truncate(time.Microsecond),
				s.Max.Truncate(time.Microsecond),
				s.Count)
		}
	}
	if len(metrics) > 0 {
		fmt.Fprintf(w, "\nCUSTOM METRICS:\n")
		for i, m := range metrics {
			fmt.Fprintf(w, "  %s: avg=%.2f, min=%.2f, max=%.2f, samples=%d\n",
				names[i], m.sum/float64(m.count), m.min, m.max, m.count)
		}
	}
	fmt.Fprintf(w, "\nMEMORY USAGE:\n")
	fmt.Fprintf(w, "  Heap Alloc: %s\n", formatBytes(mem.HeapAlloc))
	fmt.Fprintf(w, "  Total Alloc: %s\n", formatBytes(mem.TotalAlloc))
	fmt.Fprintf(w, "  GC Cycles: %d\n", mem.NumGC)
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
