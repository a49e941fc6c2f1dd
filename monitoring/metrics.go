// Package monitoring 收集服务运行指标
package monitoring

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
	MetricTypeSummary MetricType = "summary"
)

// maxSamples bounds the latency window kept per summary.
const maxSamples = 1000

// Labels are rendered in key order so a metric's identity is stable.
type Labels map[string]string

func (l Labels) key() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, l[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

type series struct {
	name    string
	typ     MetricType
	help    string
	labels  string
	value   float64
	samples []float64
	count   int64
	sum     float64
}

// Summary 延迟摘要
type Summary struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Max   float64 `json:"max"`
}

// Collector 指标收集器
type Collector struct {
	mu        sync.RWMutex
	series    map[string]*series
	help      map[string]string
	startTime time.Time
}

// NewCollector 创建指标收集器
func NewCollector() *Collector {
	return &Collector{
		series:    make(map[string]*series),
		help:      make(map[string]string),
		startTime: time.Now(),
	}
}

// Describe sets the HELP text exported for name.
func (c *Collector) Describe(name, help string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.help[name] = help
}

func (c *Collector) get(name string, typ MetricType, labels Labels) *series {
	lk := labels.key()
	id := name + lk
	s, ok := c.series[id]
	if !ok {
		s = &series{name: name, typ: typ, labels: lk}
		c.series[id] = s
	}
	return s
}

// IncrCounter 增加计数器
func (c *Collector) IncrCounter(name string, delta float64, labels Labels) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.get(name, MetricTypeCounter, labels).value += delta
}

// SetGauge 设置仪表
func (c *Collector) SetGauge(name string, value float64, labels Labels) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.get(name, MetricTypeGauge, labels).value = value
}

// Observe records one sample; percentiles cover the most recent samples only.
func (c *Collector) Observe(name string, value float64, labels Labels) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.get(name, MetricTypeSummary, labels)
	s.count++
	s.sum += value
	s.samples = append(s.samples, value)
	if len(s.samples) > maxSamples {
		s.samples = s.samples[len(s.samples)-maxSamples:]
	}
}

// Value returns a counter or gauge value, and false when it was never set.
func (c *Collector) Value(name string, labels Labels) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[name+labels.key()]
	if !ok {
		return 0, false
	}
	return s.value, true
}

// Summary returns the summary for name, and false when nothing was observed.
func (c *Collector) Summary(name string, labels Labels) (Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[name+labels.key()]
	if !ok || s.typ != MetricTypeSummary {
		return Summary{}, false
	}
	return summarize(s), true
}

func summarize(s *series) Summary {
	out := Summary{Count: s.count, Sum: s.sum}
	if s.count > 0 {
		out.Avg = s.sum / float64(s.count)
	}
	if len(s.samples) == 0 {
		return out
	}
	sorted := append([]float64(nil), s.samples...)
	sort.Float64s(sorted)
	out.P50 = quantile(sorted, 0.5)
	out.P95 = quantile(sorted, 0.95)
	out.Max = sorted[len(sorted)-1]
	return out
}

// quantile uses the nearest-rank method on sorted values.
func quantile(sorted []float64, q float64) float64 {
	idx := int(q*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (c *Collector) sortedIDs() []string {
	ids := make([]string, 0, len(c.series))
	for id := range c.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot 导出JSON友好的指标快照
func (c *Collector) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	metrics := make(map[string]any, len(c.series))
	for _, id := range c.sortedIDs() {
		s := c.series[id]
		if s.typ == MetricTypeSummary {
			metrics[id] = summarize(s)
		} else {
			metrics[id] = s.value
		}
	}
	return map[string]any{
		"uptime_seconds": time.Since(c.startTime).Seconds(),
		"metrics":        metrics,
		"system":         systemStats(),
	}
}

// ExportPrometheus 导出Prometheus文本格式
func (c *Collector) ExportPrometheus() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var b strings.Builder
	described := make(map[string]bool)
	for _, id := range c.sortedIDs() {
		s := c.series[id]
		if !described[s.name] {
			described[s.name] = true
			help := c.help[s.name]
			if help == "" {
				help = "Metric " + s.name
			}
			fmt.Fprintf(&b, "# HELP %s %s\n", s.name, help)
			fmt.Fprintf(&b, "# TYPE %s %s\n", s.name, s.typ)
		}
		if s.typ == MetricTypeSummary {
			sum := summarize(s)
			fmt.Fprintf(&b, "%s_count%s %d\n", s.name, s.labels, sum.Count)
			fmt.Fprintf(&b, "%s_sum%s %g\n", s.name, s.labels, sum.Sum)
			continue
		}
		fmt.Fprintf(&b, "%s%s %g\n", s.name, s.labels, s.value)
	}

	fmt.Fprintf(&b, "# TYPE process_uptime_seconds gauge\nprocess_uptime_seconds %g\n", time.Since(c.startTime).Seconds())
	fmt.Fprintf(&b, "# TYPE go_goroutines gauge\ngo_goroutines %d\n", runtime.NumGoroutine())
	return b.String()
}

// systemStats 获取系统统计
func systemStats() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"heap_alloc": m.HeapAlloc,
		"heap_sys":   m.HeapSys,
		"gc_count":   m.NumGC,
		"num_cpu":    runtime.NumCPU(),
	}
}
