package tracker

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/rostersync/internal/domain"
)

// stateLoader batches previous-state lookups for one entity type so a
// detection pass issues one provider call per batch window instead of one
// per entity.
type stateLoader struct {
	loader *dataloader.Loader
}

func newStateLoader(provider StateProvider, entityType string) *stateLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]string, len(keys))
		for i, key := range keys {
			ids[i] = key.String()
		}

		states, err := provider.PreviousStates(ctx, entityType, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if state, ok := states[id]; ok {
				results[i] = &dataloader.Result{Data: state}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	return &stateLoader{
		loader: dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond)),
	}
}

// LoadAll resolves the previous snapshots for the given keys, returning a
// map holding only the keys the provider knew about.
func (l *stateLoader) LoadAll(ctx context.Context, keys []string) (map[string]domain.EntitySnapshot, error) {
	if len(keys) == 0 {
		return map[string]domain.EntitySnapshot{}, nil
	}

	loaderKeys := make(dataloader.Keys, len(keys))
	for i, key := range keys {
		loaderKeys[i] = dataloader.StringKey(key)
	}

	values, errs := l.loader.LoadMany(ctx, loaderKeys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	states := make(map[string]domain.EntitySnapshot, len(keys))
	for i, value := range values {
		if value == nil {
			continue
		}
		if snapshot, ok := value.(domain.EntitySnapshot); ok {
			// The loader caches results; hand out a copied property bag
			// so callers never mutate the cached snapshot.
			snapshot.Properties = snapshot.CloneProperties()
			states[keys[i]] = snapshot
		}
	}
	return states, nil
}
