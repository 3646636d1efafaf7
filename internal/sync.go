package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const _interSourceDelay = 2 * time.Second

// Coordinator wires the acquisition engine, the store, and the distributed
// lock into the three sync operations the API layer calls.
type Coordinator struct {
	store  *Store
	locks  *sourceLocks
	engine *Engine

	// fetch is the engine's FetchReviews, swappable in tests.
	fetch func(ctx context.Context, ref OrgRef) *FetchResult

	interSourceDelay time.Duration
}

// NewCoordinator builds a coordinator around one engine instance. In batch
// mode the engine is reset between sources; only its proxy index carries
// over.
func NewCoordinator(store *Store, rdb *redis.Client, engine *Engine) *Coordinator {
	return &Coordinator{
		store:            store,
		locks:            newSourceLocks(rdb),
		engine:           engine,
		fetch:            engine.FetchReviews,
		interSourceDelay: _interSourceDelay,
	}
}

// SyncReviews runs a full sync: fetch everything, then transactionally
// replace the stored set. A fetch that comes back empty never destroys
// local data; only last_synced_at advances.
func (c *Coordinator) SyncReviews(ctx context.Context, src *Source) (*Source, error) {
	release, err := c.locks.acquire(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	return c.syncLocked(ctx, src, false)
}

// SyncNewReviews runs an incremental sync: fetch, then insert only reviews
// not already stored. Nothing is deleted.
func (c *Coordinator) SyncNewReviews(ctx context.Context, src *Source) (*Source, error) {
	release, err := c.locks.acquire(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	return c.syncLocked(ctx, src, true)
}

func (c *Coordinator) syncLocked(ctx context.Context, src *Source, incremental bool) (*Source, error) {
	ctx = WithLogger(ctx, Log(ctx).With("source", src.ID))

	ref, err := ParseOrganizationURL(src.URL)
	if err != nil {
		return nil, err
	}

	fr := c.fetch(ctx, ref)

	if len(fr.Reviews) == 0 {
		Log(ctx).Warn("fetch returned no reviews; keeping the stored set", "org", ref.ID)
		if err := c.store.TouchLastSynced(ctx, src); err != nil {
			return nil, err
		}
		return src, nil
	}

	if incremental {
		err = c.store.ApplyIncrementalSync(ctx, src, fr)
	} else {
		err = c.store.ApplyFullSync(ctx, src, fr)
	}
	if err != nil {
		return nil, fmt.Errorf("materializing reviews: %w", err)
	}

	return src, nil
}

// SyncOutcome reports one source's result from a batch run.
type SyncOutcome struct {
	SourceID int64
	Synced   int
	Err      error
}

// SyncAllSources walks every registered source in sequence, rotating the
// proxy and resetting the session between them.
func (c *Coordinator) SyncAllSources(ctx context.Context, incremental bool) []SyncOutcome {
	sources, err := c.store.ListSources(ctx)
	if err != nil {
		Log(ctx).Error("unable to list sources for batch sync", "err", err)
		return nil
	}

	outcomes := make([]SyncOutcome, 0, len(sources))
	for i, src := range sources {
		if i > 0 {
			if c.engine != nil {
				c.engine.Reset()
			}
			if !sleepCtx(ctx, c.interSourceDelay) {
				break
			}
		}

		var synced *Source
		if incremental {
			synced, err = c.SyncNewReviews(ctx, src)
		} else {
			synced, err = c.SyncReviews(ctx, src)
		}

		outcome := SyncOutcome{SourceID: src.ID, Err: err}
		if synced != nil {
			outcome.Synced = synced.TotalReviews
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}
