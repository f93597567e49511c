package store

import (
	"context"
	"errors"
	"time"

	"netpulse/pkg/logx"
)

// ErrNotFound reports a lookup or delete of a record that does not exist.
// It is distinct from storage failures and must never surface as one.
var ErrNotFound = errors.New("speedtest not found")

// Config configures the result store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Record is a single speedtest outcome.
//
// Failed records keep zeroed metrics; they count toward failure rates and the
// plain listing but are excluded from averages, maxima and "latest".
type Record struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	PingMs    float64   `json:"ping"`
	Download  float64   `json:"download"`
	Upload    float64   `json:"upload"`
	Failed    bool      `json:"failed"`
	Scheduled bool      `json:"scheduled"`
}

// AggKind selects the statistic computed by Aggregate.
type AggKind int

const (
	AggAvg AggKind = iota
	AggMax
)

// Aggregate holds a per-metric statistic over successful records.
type Aggregate struct {
	PingMs   float64 `json:"ping"`
	Download float64 `json:"download"`
	Upload   float64 `json:"upload"`
}

// Store is the persistence API for speedtest records.
//
// Implementations must be safe for concurrent append/read/delete from
// multiple goroutines.
type Store interface {
	// Append inserts a record and returns its assigned id.
	Append(ctx context.Context, r Record) (int64, error)
	// List returns one page of records, newest first, plus the total count.
	// Pages are 1-based.
	List(ctx context.Context, page, perPage int) ([]Record, int64, error)
	// Window returns records with CreatedAt >= now-days, oldest first,
	// optionally restricted to successful runs.
	Window(ctx context.Context, days int, successOnly bool) ([]Record, error)
	// Aggregate computes avg or max over all successful records.
	// ok is false when no successful record exists.
	Aggregate(ctx context.Context, kind AggKind) (agg Aggregate, ok bool, err error)
	// LatestSuccessful returns the most recent non-failed record.
	LatestSuccessful(ctx context.Context) (Record, bool, error)
	// Count returns the total number of records, failed ones included.
	Count(ctx context.Context) (int64, error)
	// DeleteAll removes every record and reports how many were deleted.
	DeleteAll(ctx context.Context) (int64, error)
	// DeleteByID removes one record; ErrNotFound for an unknown id.
	DeleteByID(ctx context.Context, id int64) error
	Close() error
}

// Open initializes the SQLite-backed store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
