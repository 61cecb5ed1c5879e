// Package metrics provides a small Prometheus-exposition-format collector
// for the relay, without pulling in the full client_golang dependency.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates named counters and gauges.
type Collector struct {
	mu       sync.Mutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	start    time.Time
}

func New() *Collector {
	return &Collector{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		start:    time.Now(),
	}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)   { g.value.Store(v) }
func (g *Gauge) Inc()          { g.value.Add(1) }
func (g *Gauge) Dec()          { g.value.Add(-1) }
func (g *Gauge) Value() int64  { return g.value.Load() }

// Counter returns the counter with the given name, creating it on first use.
func (c *Collector) Counter(name, help string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.counters[name]; ok {
		return existing
	}
	ctr := &Counter{name: name, help: help}
	c.counters[name] = ctr
	return ctr
}

// Gauge returns the gauge with the given name, creating it on first use.
func (c *Collector) Gauge(name, help string) *Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.gauges[name]; ok {
		return existing
	}
	g := &Gauge{name: name, help: help}
	c.gauges[name] = g
	return g
}

// Handler serves the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		c.mu.Lock()
		names := make([]string, 0, len(c.counters)+len(c.gauges))
		for name := range c.counters {
			names = append(names, name)
		}
		for name := range c.gauges {
			names = append(names, name)
		}
		counters := make(map[string]*Counter, len(c.counters))
		for name, ctr := range c.counters {
			counters[name] = ctr
		}
		gauges := make(map[string]*Gauge, len(c.gauges))
		for name, g := range c.gauges {
			gauges[name] = g
		}
		c.mu.Unlock()

		sort.Strings(names)
		for _, name := range names {
			if ctr, ok := counters[name]; ok {
				if ctr.help != "" {
					fmt.Fprintf(w, "# HELP %s %s\n", name, ctr.help)
				}
				fmt.Fprintf(w, "# TYPE %s counter\n%s %d\n", name, name, ctr.Value())
				continue
			}
			g := gauges[name]
			if g.help != "" {
				fmt.Fprintf(w, "# HELP %s %s\n", name, g.help)
			}
			fmt.Fprintf(w, "# TYPE %s gauge\n%s %d\n", name, name, g.Value())
		}

		fmt.Fprintf(w, "# TYPE process_uptime_seconds gauge\nprocess_uptime_seconds %d\n",
			int64(time.Since(c.start).Seconds()))
	})
}
