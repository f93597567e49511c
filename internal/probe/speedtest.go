package probe

import (
	"context"
	"fmt"
	"sort"

	st "github.com/showwin/speedtest-go/speedtest"
)

// SpeedtestConfig tunes the speedtest.net prober.
type SpeedtestConfig struct {
	// ServerCount is how many of the nearest servers are latency-tested
	// before the full download/upload run picks the best one.
	ServerCount int
	// MaxConnections is passed through to speedtest-go.
	MaxConnections int
	SavingMode     bool
}

type speedtestProber struct {
	cfg SpeedtestConfig
}

// NewSpeedtestProber measures against speedtest.net: fetch the server list,
// ping the nearest candidates, then run download and upload against the
// lowest-latency server.
func NewSpeedtestProber(cfg SpeedtestConfig) Prober {
	if cfg.ServerCount <= 0 {
		cfg.ServerCount = 5
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 4
	}
	return &speedtestProber{cfg: cfg}
}

func (p *speedtestProber) Probe(ctx context.Context) (Metrics, error) {
	// Fresh client per run; speedtest-go can keep package-level state.
	stc := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     p.cfg.SavingMode,
		MaxConnections: p.cfg.MaxConnections,
	}))
	stc.SetNThread(p.cfg.MaxConnections)
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
	}()

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return Metrics{}, fmt.Errorf("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	n := p.cfg.ServerCount
	if n > len(servers) {
		n = len(servers)
	}

	var best *st.Server
	for _, s := range servers[:n] {
		if err := ctx.Err(); err != nil {
			return Metrics{}, err
		}
		if err := s.PingTestContext(ctx, nil); err != nil {
			continue
		}
		if s.Latency <= 0 {
			continue
		}
		if best == nil || s.Latency < best.Latency {
			best = s
		}
	}
	if best == nil {
		return Metrics{}, fmt.Errorf("all latency tests failed")
	}

	if err := best.DownloadTestContext(ctx); err != nil {
		return Metrics{}, fmt.Errorf("download test: %w", err)
	}
	if err := best.UploadTestContext(ctx); err != nil {
		return Metrics{}, fmt.Errorf("upload test: %w", err)
	}

	return Metrics{
		PingMs:   float64(best.Latency.Milliseconds()),
		Download: best.DLSpeed.Mbps(),
		Upload:   best.ULSpeed.Mbps(),
	}, nil
}
