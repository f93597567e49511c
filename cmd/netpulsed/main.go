package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netpulse/internal/api"
	"netpulse/internal/cache"
	"netpulse/internal/config"
	"netpulse/internal/probe"
	"netpulse/internal/queue"
	"netpulse/internal/store"
	nphttp "netpulse/internal/transport/http"
	"netpulse/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./netpulse.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	console := true
	if cfg.Log.Console != nil {
		console = *cfg.Log.Console
	}
	log, err := logx.New(logx.Config{
		Level:   cfg.Log.Level,
		Console: console,
		File:    logx.FileConfig{Enabled: cfg.Log.File != "", Path: cfg.Log.File},
	})
	if err != nil {
		return err
	}
	defer log.Close()

	busy, _ := cfg.DBBusyTimeout()
	st, err := store.Open(store.Config{Path: cfg.DB.Path, BusyTimeout: busy}, log.With(logx.String("svc", "store")))
	if err != nil {
		return err
	}
	defer st.Close()

	c := cache.New()

	probeTimeout, _ := cfg.ProbeTimeout()
	prober := probe.NewSpeedtestProber(probe.SpeedtestConfig{
		ServerCount:    cfg.Probe.ServerCount,
		MaxConnections: cfg.Probe.MaxConnections,
		SavingMode:     cfg.Probe.SavingMode,
	})
	runner := probe.NewRunner(prober, probeTimeout, log.With(logx.String("svc", "probe")))

	q := queue.New(queue.Config{
		Workers:   cfg.Queue.Workers,
		QueueSize: cfg.Queue.QueueSize,
		Schedule:  cfg.Schedule,
	}, runner, st, c, log.With(logx.String("svc", "queue")))
	if err := q.Start(ctx); err != nil {
		return err
	}

	svc := api.New(st, c, q, log.With(logx.String("svc", "api")))
	srv := nphttp.NewServer(nphttp.Config{
		Addr:         cfg.Listen,
		RunPerMinute: cfg.HTTP.RunPerMinute,
	}, svc, log.With(logx.String("svc", "http")))

	httpErr := make(chan error, 1)
	go func() { httpErr <- srv.Start() }()

	go func() {
		err := config.Watch(ctx, cfgPath, log.With(logx.String("svc", "config")), func(next *config.Config) {
			if err := q.Apply(queue.Config{Schedule: next.Schedule}); err != nil {
				log.Warn("schedule not applied", logx.Err(err))
			}
		})
		if err != nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	log.Info("netpulse started",
		logx.String("listen", cfg.Listen),
		logx.String("db", cfg.DB.Path),
		logx.String("schedule", cfg.Schedule))

	select {
	case <-ctx.Done():
	case err := <-httpErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", logx.Err(err))
	}
	q.Stop(shutdownCtx)
	log.Info("netpulse stopped")
	return nil
}
