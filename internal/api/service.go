// Package api composes store, cache and queue into the boundary operations
// the transport layer serves: history pages, windowed result sets, failure
// rates, latest-with-stats, on-demand runs and deletes.
package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"netpulse/internal/cache"
	"netpulse/internal/store"
	"netpulse/pkg/logx"
)

var (
	// ErrValidation reports malformed caller input. No state changes.
	ErrValidation = errors.New("validation failed")
	// ErrNoResults reports that no speedtest has ever been recorded.
	ErrNoResults = errors.New("no speedtests have been run")
)

// DefaultPerPage matches the original API's page size.
const DefaultPerPage = 15

type Service struct {
	st    store.Store
	cache *cache.Cache
	queue RunQueue
	log   logx.Logger
}

// RunQueue is the submission side of the scheduler.
type RunQueue interface {
	Enqueue(manual bool) error
}

func New(st store.Store, c *cache.Cache, q RunQueue, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{st: st, cache: c, queue: q, log: log}
}

// Page is one page of the plain index listing, failed runs included.
type Page struct {
	Records []store.Record `json:"data"`
	Page    int            `json:"current_page"`
	PerPage int            `json:"per_page"`
	Total   int64          `json:"total"`
}

func (s *Service) List(ctx context.Context, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	recs, total, err := s.st.List(ctx, page, DefaultPerPage)
	if err != nil {
		return Page{}, err
	}
	return Page{Records: recs, Page: page, PerPage: DefaultPerPage, Total: total}, nil
}

// Window returns the successful records of the last N days, oldest first,
// memoized for a day. An empty window is a valid result, not an error.
func (s *Service) Window(ctx context.Context, days int) ([]store.Record, error) {
	if days < 1 {
		return nil, fmt.Errorf("%w: days must be a positive integer", ErrValidation)
	}
	return cache.Remember(s.cache, cache.WindowKey(days), cache.WindowTTL, func() ([]store.Record, error) {
		return s.st.Window(ctx, days, true)
	})
}

// ParseDays validates a day-count path parameter.
func ParseDays(raw string) (int, error) {
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: days must be an integer", ErrValidation)
	}
	if days < 1 {
		return 0, fmt.Errorf("%w: days must be a positive integer", ErrValidation)
	}
	return days, nil
}

// FailureStats describes probe reliability over a window.
type FailureStats struct {
	Total    int     `json:"total"`
	Failed   int     `json:"failed"`
	Rate     float64 `json:"rate"`
	ZeroData bool    `json:"zero_data,omitempty"`
}

// FailureRate computes the failed share of all runs in the last N days.
// An empty window yields rate 0 with the zero-data flag set, never NaN.
func (s *Service) FailureRate(ctx context.Context, days int) (FailureStats, error) {
	if days < 1 {
		return FailureStats{}, fmt.Errorf("%w: days must be a positive integer", ErrValidation)
	}
	recs, err := s.st.Window(ctx, days, false)
	if err != nil {
		return FailureStats{}, err
	}

	stats := FailureStats{Total: len(recs)}
	for _, r := range recs {
		if r.Failed {
			stats.Failed++
		}
	}
	if stats.Total == 0 {
		stats.ZeroData = true
		return stats, nil
	}
	stats.Rate = float64(stats.Failed) / float64(stats.Total)
	if math.IsNaN(stats.Rate) {
		stats.Rate = 0
	}
	return stats, nil
}

// Latest bundles the most recent successful run with all-time statistics.
type Latest struct {
	Latest  store.Record    `json:"data"`
	Average store.Aggregate `json:"average"`
	Max     store.Aggregate `json:"max"`
}

// Latest returns the newest successful record plus averages and maxima over
// all successful records. ErrNoResults when nothing has ever been recorded.
func (s *Service) Latest(ctx context.Context) (Latest, error) {
	rec, ok, err := s.st.LatestSuccessful(ctx)
	if err != nil {
		return Latest{}, err
	}
	if !ok {
		return Latest{}, ErrNoResults
	}

	avg, _, err := s.st.Aggregate(ctx, store.AggAvg)
	if err != nil {
		return Latest{}, err
	}
	max, _, err := s.st.Aggregate(ctx, store.AggMax)
	if err != nil {
		return Latest{}, err
	}
	return Latest{Latest: rec, Average: avg, Max: max}, nil
}

// RunNow enqueues a manual run. The result arrives later through the worker;
// an error here means only that submission itself failed.
func (s *Service) RunNow(ctx context.Context) error {
	return s.queue.Enqueue(true)
}

// DeleteAll wipes the history and flushes every cached window.
func (s *Service) DeleteAll(ctx context.Context) (int64, error) {
	n, err := s.st.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	s.cache.Flush()
	s.log.Info("speedtest history deleted", logx.Int64("count", n))
	return n, nil
}

// Delete removes one record. Deleting an unknown id is a no-op success:
// the caller's intent (record gone) already holds.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.st.DeleteByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.cache.Flush()
	return nil
}
