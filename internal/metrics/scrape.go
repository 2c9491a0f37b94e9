package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/randomizedcoder/devrunner/internal/supervisor"
)

// Snapshot is the state of a running devrunner as read from its /metrics.
type Snapshot struct {
	Version   string
	RunID     string
	Policy    string
	StartMode string
	Active    int
	Processes []ProcessSnapshot
}

// ProcessSnapshot is one process as seen from the metrics endpoint.
type ProcessSnapshot struct {
	Name      string
	Kind      string
	State     supervisor.State
	PID       int
	ExitCode  int
	StartedAt time.Time
}

// MetricsURL turns "host:port" into a /metrics URL. Values that already
// carry a scheme are returned unchanged.
func MetricsURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr + "/metrics"
}

// Scrape fetches and decodes a devrunner metrics endpoint.
func Scrape(ctx context.Context, client *http.Client, url string) (*Snapshot, error) {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	// Parse Prometheus text format
	decoder := expfmt.NewDecoder(resp.Body, expfmt.FmtText)
	families := make(map[string]*dto.MetricFamily)

	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		families[mf.GetName()] = &mf
	}

	return snapshotFrom(families)
}

func snapshotFrom(families map[string]*dto.MetricFamily) (*Snapshot, error) {
	info, ok := families[metricInfo]
	if !ok || len(info.GetMetric()) == 0 {
		return nil, fmt.Errorf("%s not found: not a devrunner metrics endpoint", metricInfo)
	}

	snap := &Snapshot{}
	labels := labelMap(info.GetMetric()[0])
	snap.Version = labels["version"]
	snap.RunID = labels["run_id"]
	snap.Policy = labels["policy"]
	snap.StartMode = labels["start_mode"]

	if mf, ok := families[namespace+"_active_processes"]; ok && len(mf.GetMetric()) > 0 {
		snap.Active = int(gaugeValue(mf.GetMetric()[0]))
	}

	byName := make(map[string]*ProcessSnapshot)
	if mf, ok := families[metricProcessState]; ok {
		for _, m := range mf.GetMetric() {
			l := labelMap(m)
			byName[l["process"]] = &ProcessSnapshot{
				Name:     l["process"],
				Kind:     l["kind"],
				State:    supervisor.State(int(gaugeValue(m))),
				ExitCode: -1,
			}
		}
	}

	perProcess := func(name string, apply func(p *ProcessSnapshot, v float64)) {
		mf, ok := families[name]
		if !ok {
			return
		}
		for _, m := range mf.GetMetric() {
			if p, ok := byName[labelMap(m)["process"]]; ok {
				apply(p, gaugeValue(m))
			}
		}
	}
	perProcess(metricProcessPID, func(p *ProcessSnapshot, v float64) { p.PID = int(v) })
	perProcess(metricProcessExit, func(p *ProcessSnapshot, v float64) { p.ExitCode = int(v) })
	perProcess(metricProcessStarted, func(p *ProcessSnapshot, v float64) {
		sec := int64(v)
		p.StartedAt = time.Unix(sec, int64((v-float64(sec))*1e9))
	})

	for _, p := range byName {
		snap.Processes = append(snap.Processes, *p)
	}
	sort.Slice(snap.Processes, func(i, j int) bool {
		return snap.Processes[i].Name < snap.Processes[j].Name
	})
	return snap, nil
}

func labelMap(m *dto.Metric) map[string]string {
	out := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func gaugeValue(m *dto.Metric) float64 {
	if g := m.GetGauge(); g != nil {
		return g.GetValue()
	}
	if u := m.GetUntyped(); u != nil {
		return u.GetValue()
	}
	return 0
}
