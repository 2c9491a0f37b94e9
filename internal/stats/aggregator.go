// Package stats aggregates the results of a run and renders the exit
// summary.
//
// Aggregate condenses a supervisor.Outcome into RunStats:
//   - Counts per terminal state
//   - Exit code histogram
//   - Run time percentiles (T-Digest)
//   - Output pipeline health (dropped lines, truncated captures)
package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/devrunner/internal/supervisor"
)

// RunStats is a snapshot of one finished run.
type RunStats struct {
	Processes int
	Watch     int

	// Counts per terminal state
	Exited      int
	Killed      int
	SpawnFailed int
	Cancelled   int

	Failed      int
	ForceKilled int

	// ExitCodes counts processes by exit code. Processes that never exited
	// are not counted.
	ExitCodes map[int]int

	// Run time of processes that were spawned
	DurationP50 time.Duration
	DurationP95 time.Duration
	DurationMax time.Duration

	// Pipeline health (lossy-by-design)
	LinesDropped     int64
	ProcessesDropped int
	Truncated        int
}

// DurationDigest tracks a run time distribution in bounded memory.
// Safe for concurrent use.
type DurationDigest struct {
	mu     sync.Mutex
	digest *tdigest.TDigest
	count  int
	max    time.Duration
}

// NewDurationDigest creates an empty digest.
func NewDurationDigest() *DurationDigest {
	return &DurationDigest{
		digest: tdigest.NewWithCompression(100), // ~100 centroids
	}
}

// Add records one observation.
func (d *DurationDigest) Add(v time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.digest.Add(float64(v), 1)
	d.count++
	if v > d.max {
		d.max = v
	}
}

// Quantile returns the estimated q-quantile (0.0-1.0), or 0 when empty.
func (d *DurationDigest) Quantile(q float64) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count == 0 {
		return 0
	}
	return time.Duration(d.digest.Quantile(q))
}

// Count returns the number of observations.
func (d *DurationDigest) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Max returns the largest observation.
func (d *DurationDigest) Max() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.max
}

// Aggregate condenses an outcome. A nil outcome yields zero stats.
func Aggregate(o *supervisor.Outcome) *RunStats {
	s := &RunStats{ExitCodes: make(map[int]int)}
	if o == nil {
		return s
	}

	durations := NewDurationDigest()
	for _, r := range o.InOrder() {
		s.Processes++
		if r.Watch {
			s.Watch++
		}

		switch r.State {
		case supervisor.StateExited:
			s.Exited++
		case supervisor.StateKilled:
			s.Killed++
		case supervisor.StateSpawnFailed:
			s.SpawnFailed++
		case supervisor.StateCancelled:
			s.Cancelled++
		}

		if r.Failed() {
			s.Failed++
		}
		if r.ForceKilled {
			s.ForceKilled++
		}
		if r.ExitCode >= 0 {
			s.ExitCodes[r.ExitCode]++
		}
		if !r.StartedAt.IsZero() {
			durations.Add(r.Duration)
		}

		if r.LinesDropped > 0 {
			s.LinesDropped += r.LinesDropped
			s.ProcessesDropped++
		}
		if r.OutputTruncated {
			s.Truncated++
		}
	}

	s.DurationP50 = durations.Quantile(0.50)
	s.DurationP95 = durations.Quantile(0.95)
	s.DurationMax = durations.Max()
	return s
}
