// Package probe executes a single network measurement and shapes its outcome.
//
// The measurement itself sits behind the Prober interface; the default
// implementation uses speedtest.net servers. Runner is the only entry point
// the scheduler uses: it never returns an error, it returns a record that is
// either a measurement or a failure marker.
package probe

import "context"

// Metrics is the raw outcome of one successful measurement.
type Metrics struct {
	PingMs   float64
	Download float64 // Mbps
	Upload   float64 // Mbps
}

// Prober performs the actual network measurement.
//
// Implementations must honor ctx cancellation; the runner wraps calls in a
// deadline so a hung probe is cut off rather than blocking a worker forever.
type Prober interface {
	Probe(ctx context.Context) (Metrics, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) (Metrics, error)

func (f ProberFunc) Probe(ctx context.Context) (Metrics, error) { return f(ctx) }
