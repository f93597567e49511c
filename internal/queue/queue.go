// Package queue accepts speedtest run requests and executes them on a
// background worker pool, outside the request path.
//
// Each accepted run independently produces one record: there is no dedup of
// pending work. A worker runs the probe, appends the outcome to the store,
// then flushes the aggregate cache, in that order.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"netpulse/internal/cache"
	"netpulse/internal/probe"
	"netpulse/internal/store"
	"netpulse/pkg/logx"
)

var (
	// ErrNotRunning reports an enqueue before Start or after Stop.
	ErrNotRunning = errors.New("queue not running")
	// ErrQueueFull reports that the job buffer is at capacity.
	ErrQueueFull = errors.New("queue full")
)

// Config controls the worker pool and the periodic schedule.
type Config struct {
	Workers   int
	QueueSize int
	// Schedule is a cron spec (5 or 6 fields, or @every syntax) for periodic
	// runs. Empty disables the schedule; manual runs still work.
	Schedule string
}

type job struct {
	scheduled  bool
	enqueuedAt time.Time
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	runner *probe.Runner
	st     store.Store
	cache  *cache.Cache

	q        chan job
	stopCh   chan struct{}
	stopDone chan struct{}
	wg       sync.WaitGroup

	c      *cron.Cron
	parser cron.Parser
	entry  cron.EntryID
}

func New(cfg Config, runner *probe.Runner, st store.Store, c *cache.Cache, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		runner: runner,
		st:     st,
		cache:  c,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start launches the worker pool and, if configured, the periodic schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil
	}

	s.q = make(chan job, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, s.stopCh, s.q, i)
	}

	if err := s.startCronLocked(s.cfg.Schedule); err != nil {
		s.stopLocked()
		return err
	}

	s.log.Info("queue started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("queue_size", s.cfg.QueueSize),
		logx.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop halts the schedule and the workers. Jobs already dequeued finish
// their probe; queued but unstarted jobs are dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	done := s.stopLocked()
	s.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) stopLocked() chan struct{} {
	if s.stopCh == nil {
		return s.stopDone
	}
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	close(s.stopCh)
	s.stopCh = nil

	done := make(chan struct{})
	s.stopDone = done
	go func() {
		s.wg.Wait()
		close(done)
	}()
	return done
}

// Enqueue submits one run and returns as soon as it is accepted. Multiple
// concurrent calls are all accepted; each produces its own record.
func (s *Service) Enqueue(manual bool) error {
	s.mu.Lock()
	q := s.q
	running := s.stopCh != nil
	s.mu.Unlock()

	if !running {
		return ErrNotRunning
	}
	select {
	case q <- job{scheduled: !manual, enqueuedAt: time.Now()}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports how many accepted runs are waiting for a worker.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q == nil {
		return 0
	}
	return len(s.q)
}

// Apply re-applies the periodic schedule after a config reload. Worker pool
// sizing is fixed for the process lifetime.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg.Schedule
	s.cfg.Schedule = cfg.Schedule
	if s.stopCh == nil || old == cfg.Schedule {
		return nil
	}
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	if err := s.startCronLocked(cfg.Schedule); err != nil {
		return err
	}
	s.log.Info("schedule applied", logx.String("schedule", cfg.Schedule))
	return nil
}

func (s *Service) startCronLocked(spec string) error {
	if spec == "" {
		return nil
	}
	c := cron.New(cron.WithParser(s.parser))
	id, err := c.AddFunc(spec, func() {
		if err := s.Enqueue(false); err != nil {
			s.log.Warn("scheduled run not accepted", logx.Err(err))
		}
	})
	if err != nil {
		return err
	}
	s.c = c
	s.entry = id
	c.Start()
	return nil
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, q <-chan job, idx int) {
	defer s.wg.Done()
	log := s.log.With(logx.Int("worker", idx))

	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.process(ctx, log, j)
		}
	}
}

// process runs one job: probe, append, flush. The append must land before
// the cache flush so readers never observe a flushed cache without the new
// record.
func (s *Service) process(ctx context.Context, log logx.Logger, j job) {
	rec := s.runner.Run(ctx, j.scheduled)

	id, err := s.st.Append(ctx, rec)
	if err != nil {
		// The triggering request has already returned; the result is lost.
		// Not retried: a retry would be a duplicate probe, not this one.
		log.Error("speedtest result lost",
			logx.Err(err),
			logx.Bool("failed_probe", rec.Failed),
			logx.Float64("download_mbps", rec.Download),
			logx.Duration("queue_delay", rec.CreatedAt.Sub(j.enqueuedAt)))
		return
	}
	s.cache.Flush()

	log.Debug("speedtest recorded",
		logx.Int64("id", id),
		logx.Bool("failed", rec.Failed),
		logx.Bool("scheduled", j.scheduled))
}
