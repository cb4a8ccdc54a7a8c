package migration

import (
	"context"
	"time"

	"github.com/erp/offline/internal/domain/offline"
)

// DefaultSteps returns the record-shape migrations of the current build
func DefaultSteps() []Step {
	return []Step{
		{
			Version:     1,
			Description: "initialise store",
			Apply:       initialiseStore,
		},
		{
			Version:     2,
			Description: "backfill fetched_at on cached records",
			Apply:       backfillFetchedAt,
		},
		{
			Version:     3,
			Description: "discard pending operations that cannot be replayed",
			Apply:       discardInvalidOperations,
		},
	}
}

func initialiseStore(ctx context.Context, store offline.LocalStore, _ time.Time) error {
	return store.Ping(ctx)
}

// backfillFetchedAt stamps records written before fetched_at existed with now,
// so they get a full retention period instead of being evicted immediately.
func backfillFetchedAt(ctx context.Context, store offline.LocalStore, now time.Time) error {
	for _, entityType := range offline.TrackedEntityTypes() {
		records, err := store.GetAll(ctx, entityType)
		if err != nil {
			return err
		}
		for _, record := range records {
			if !record.FetchedAt.IsZero() {
				continue
			}
			record.FetchedAt = now
			if err := store.Put(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func discardInvalidOperations(ctx context.Context, store offline.LocalStore, _ time.Time) error {
	ops, err := store.ListOperations(ctx)
	if err != nil {
		return err
	}
	for i := range ops {
		if ops[i].Validate() == nil {
			continue
		}
		if err := store.DeleteOperation(ctx, ops[i].ID); err != nil {
			return err
		}
	}
	return nil
}
