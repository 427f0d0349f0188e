// Package health runs named dependency probes for the readiness endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultProbeTimeout bounds a single probe so a hung RPC node cannot
// stall the whole health response.
const DefaultProbeTimeout = 5 * time.Second

// Status is the result of probing one dependency.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// OK reports a passing probe.
func OK() Status {
	return Status{Healthy: true}
}

// Fail reports a failing probe with its reason.
func Fail(detail string) Status {
	return Status{Healthy: false, Detail: detail}
}

// Probe checks one dependency. The registry stamps the Name field, so
// probes only fill Healthy and Detail.
type Probe func(ctx context.Context) Status

// Registry holds named probes and runs them on demand.
type Registry struct {
	mu      sync.RWMutex
	probes  []namedProbe
	timeout time.Duration
}

type namedProbe struct {
	name  string
	probe Probe
}

// NewRegistry creates a probe registry with the default per-probe timeout.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultProbeTimeout}
}

// SetTimeout overrides the per-probe timeout.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

// Register adds a named probe.
func (r *Registry) Register(name string, probe Probe) {
	r.mu.Lock()
	r.probes = append(r.probes, namedProbe{name: name, probe: probe})
	r.mu.Unlock()
}

// CheckAll runs every probe under the per-probe timeout and returns the
// aggregate health plus individual results in registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	probes := make([]namedProbe, len(r.probes))
	copy(probes, r.probes)
	timeout := r.timeout
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(probes))

	for i, np := range probes {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		st := np.probe(pctx)
		cancel()

		st.Name = np.name
		statuses[i] = st
		if !st.Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}
