package probe

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"netpulse/internal/store"
	"netpulse/pkg/logx"
)

// DefaultTimeout bounds a probe when no timeout is configured.
const DefaultTimeout = 5 * time.Minute

// Runner executes probes and converts every failure into a failed record.
type Runner struct {
	prober  Prober
	timeout time.Duration
	log     logx.Logger
}

func NewRunner(p Prober, timeout time.Duration, log logx.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{prober: p, timeout: timeout, log: log}
}

// Run executes one probe. It never returns an error: any failure (network
// error, timeout, prober panic) yields a record with Failed=true and zeroed
// metrics. CreatedAt is the probe initiation time.
func (r *Runner) Run(ctx context.Context, scheduled bool) store.Record {
	started := time.Now()
	rec := store.Record{CreatedAt: started, Scheduled: scheduled}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	m, err := r.probe(runCtx)
	if err != nil {
		rec.Failed = true
		r.log.Warn("probe failed",
			logx.Err(err),
			logx.Bool("scheduled", scheduled),
			logx.Duration("dur", time.Since(started)))
		return rec
	}

	rec.PingMs = m.PingMs
	rec.Download = m.Download
	rec.Upload = m.Upload
	r.log.Info("probe completed",
		logx.Float64("ping_ms", m.PingMs),
		logx.Float64("download_mbps", m.Download),
		logx.Float64("upload_mbps", m.Upload),
		logx.Bool("scheduled", scheduled),
		logx.Duration("dur", time.Since(started)))
	return rec
}

// probe guards against prober panics so one bad measurement cannot take a
// worker down.
func (r *Runner) probe(ctx context.Context) (m Metrics, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("probe panic: %v", p)
			r.log.Error("probe panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	return r.prober.Probe(ctx)
}
