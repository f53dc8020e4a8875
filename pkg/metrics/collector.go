package metrics

import "time"

// Source is implemented by anything the collector can poll for gauge
// values on a fixed interval. *router.Router satisfies it.
type Source interface {
	// Snapshot returns the current readiness of each manager by
	// [kind, id] and the number of buffered downlink entries.
	Snapshot() Snapshot
}

// Snapshot is a point-in-time view of router state used to update gauges
// that can't be updated incrementally at the call site.
type Snapshot struct {
	ManagerReady  map[[2]string]bool // [kind, id] -> ready
	BufferEntries int
}

// Collector polls a Source on a fixed interval and updates the package's
// gauge metrics. Counters and histograms are updated inline by callers;
// this only covers values that must be recomputed from current state.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap := c.source.Snapshot()

	for key, ready := range snap.ManagerReady {
		v := 0.0
		if ready {
			v = 1.0
		}
		ManagerReady.WithLabelValues(key[0], key[1]).Set(v)
	}

	BufferEntriesTotal.Set(float64(snap.BufferEntries))
}
