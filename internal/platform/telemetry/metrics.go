// Package telemetry records request and booking metrics and serves them in
// the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram keeps non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	mu           sync.Mutex
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{boundaries: boundaries, bucketCounts: make([]int64, len(boundaries))}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		if atomic.CompareAndSwapUint64(&h.sum, old, math.Float64bits(math.Float64frombits(old)+v)) {
			break
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

// counterVec is a counter keyed by label values joined with "|".
type counterVec struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterVec() *counterVec { return &counterVec{items: make(map[string]*int64)} }

func (v *counterVec) inc(labels ...string) {
	key := strings.Join(labels, "|")
	v.mu.RLock()
	p, ok := v.items[key]
	v.mu.RUnlock()
	if !ok {
		v.mu.Lock()
		if p, ok = v.items[key]; !ok {
			p = new(int64)
			v.items[key] = p
		}
		v.mu.Unlock()
	}
	atomic.AddInt64(p, 1)
}

func (v *counterVec) get(labels ...string) int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if p, ok := v.items[strings.Join(labels, "|")]; ok {
		return atomic.LoadInt64(p)
	}
	return 0
}

// snapshot returns sorted keys so scrapes are stable.
func (v *counterVec) snapshot() ([]string, map[string]int64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.items))
	vals := make(map[string]int64, len(v.items))
	for k, p := range v.items {
		keys = append(keys, k)
		vals[k] = atomic.LoadInt64(p)
	}
	sort.Strings(keys)
	return keys, vals
}

// PoolStatsFunc reports database pool usage at scrape time.
type PoolStatsFunc func() (total, idle, acquired int32)

// Metrics collects HTTP and scheduling metrics for one process.
type Metrics struct {
	active      int64
	histMu      sync.RWMutex
	durations   map[string]*histogram // method|route|status
	bookings    *counterVec           // outcome
	transitions *counterVec           // from|to
	poolStats   PoolStatsFunc
}

func New() *Metrics {
	return &Metrics{
		durations:   make(map[string]*histogram),
		bookings:    newCounterVec(),
		transitions: newCounterVec(),
	}
}

// WithPoolStats adds database pool gauges to the exposition.
func (m *Metrics) WithPoolStats(fn PoolStatsFunc) *Metrics {
	m.poolStats = fn
	return m
}

// Booking counts a booking attempt by outcome.
func (m *Metrics) Booking(outcome string) { m.bookings.inc(outcome) }

// Transition counts a status change.
func (m *Metrics) Transition(from, to string) { m.transitions.inc(from, to) }

// BookingCount returns how many bookings ended with outcome.
func (m *Metrics) BookingCount(outcome string) int64 { return m.bookings.get(outcome) }

func (m *Metrics) durationFor(key string) *histogram {
	m.histMu.RLock()
	h, ok := m.durations[key]
	m.histMu.RUnlock()
	if ok {
		return h
	}
	m.histMu.Lock()
	defer m.histMu.Unlock()
	if h, ok = m.durations[key]; !ok {
		h = newHistogram(defaultDurationBuckets)
		m.durations[key] = h
	}
	return h
}

// Middleware records request duration by method, route and status.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			start := time.Now()
			err := next(c)
			atomic.AddInt64(&m.active, -1)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			key := c.Request().Method + "|" + route + "|" + strconv.Itoa(status)
			m.durationFor(key).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		m.writeDurations(&b)

		b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

		b.WriteString("# HELP booking_attempts_total Booking attempts by outcome.\n")
		b.WriteString("# TYPE booking_attempts_total counter\n")
		keys, vals := m.bookings.snapshot()
		for _, k := range keys {
			fmt.Fprintf(&b, "booking_attempts_total{outcome=%q} %d\n", k, vals[k])
		}
		b.WriteByte('\n')

		b.WriteString("# HELP appointment_status_transitions_total Appointment status changes.\n")
		b.WriteString("# TYPE appointment_status_transitions_total counter\n")
		keys, vals = m.transitions.snapshot()
		for _, k := range keys {
			from, to, _ := strings.Cut(k, "|")
			fmt.Fprintf(&b, "appointment_status_transitions_total{from=%q,to=%q} %d\n", from, to, vals[k])
		}
		b.WriteByte('\n')

		if m.poolStats != nil {
			total, idle, acquired := m.poolStats()
			for _, g := range []struct {
				name, help string
				val        int32
			}{
				{"db_pool_total_connections", "Open database pool connections.", total},
				{"db_pool_idle_connections", "Idle database pool connections.", idle},
				{"db_pool_acquired_connections", "Database pool connections in use.", acquired},
			} {
				fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n\n", g.name, g.help, g.name, g.name, g.val)
			}
		}

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func (m *Metrics) writeDurations(b *strings.Builder) {
	const name = "http_server_request_duration_seconds"
	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", name)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	m.histMu.RLock()
	keys := make([]string, 0, len(m.durations))
	for k := range m.durations {
		keys = append(keys, k)
	}
	hists := make(map[string]*histogram, len(m.durations))
	for k, h := range m.durations {
		hists[k] = h
	}
	m.histMu.RUnlock()
	sort.Strings(keys)

	for _, k := range keys {
		parts := strings.SplitN(k, "|", 3)
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		h := hists[k]
		cum := h.cumulativeBuckets()
		for i, bound := range h.boundaries {
			fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, bound, cum[i])
		}
		fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.Count())
		fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
		fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.Count())
	}
	b.WriteByte('\n')
}
