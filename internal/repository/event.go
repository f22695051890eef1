package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/code-and-effect/effective-orders-sub000/internal/checkout"
)

const (
	// Sized for a year of notifications at a comfortable false-positive
	// rate; a false positive only costs one extra SELECT.
	eventBloomCapacity = 1_000_000
	eventBloomFPR      = 0.001

	insertEventSQL = `INSERT INTO provider_events (provider, event_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`
	selectEventSQL = `SELECT 1 FROM provider_events WHERE provider = $1 AND event_id = $2`
)

var _ checkout.EventStore = (*EventRepository)(nil)

// EventRepository records processed provider notification ids. A bloom
// filter answers "definitely new" without a query; the unique insert into
// provider_events is the authoritative check either way.
type EventRepository struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// NewEventRepository returns an EventRepository that uses the given pool.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{
		pool:   pool,
		filter: bloom.NewWithEstimates(eventBloomCapacity, eventBloomFPR),
	}
}

// MarkProcessed records (provider, eventID) and reports whether it was new.
// The database insert decides; the filter only short-circuits reads for ids
// this process has already seen.
func (r *EventRepository) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	key := []byte(provider + "\x00" + eventID)

	r.mu.Lock()
	seenLocally := r.filter.Test(key)
	r.mu.Unlock()

	if seenLocally {
		// Probably a replay; confirm against the table.
		var one int
		err := r.pool.QueryRow(ctx, selectEventSQL, provider, eventID).Scan(&one)
		if err == nil {
			return false, nil
		}
	}

	tag, err := r.pool.Exec(ctx, insertEventSQL, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("recording provider event: %w", err)
	}

	r.mu.Lock()
	r.filter.Add(key)
	r.mu.Unlock()

	return tag.RowsAffected() == 1, nil
}
