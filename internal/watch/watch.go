// Package watch delivers live mission snapshots by polling the event log.
// Whenever new events appear for an owner, the subscriber receives the full
// owner-scoped mission set, so consumers never have to reconcile deltas.
package watch

import (
	"context"
	"time"

	"orbit/internal/domain"
	"orbit/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	eventBatch      = 100
)

// Watcher polls the events table and invokes subscriber callbacks.
type Watcher struct {
	Repo     repo.Repo
	Interval time.Duration
}

func New(r repo.Repo) *Watcher {
	return &Watcher{Repo: r, Interval: defaultInterval}
}

// Subscribe starts a poll loop for the owner. onChange receives the complete
// mission set initially and after every batch of new events. A storage error
// is reported through onError once and ends the subscription; callers
// re-subscribe to resume. The returned cancel func stops the loop.
func (w *Watcher) Subscribe(ctx context.Context, ownerID string, onChange func([]domain.Mission), onError func(error)) (func(), error) {
	cursor, err := w.Repo.LatestEventID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	missions, err := w.Repo.ListMissions(ctx, repo.MissionFilters{OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	onChange(missions)

	ctx, cancel := context.WithCancel(ctx)
	go w.run(ctx, ownerID, cursor, onChange, onError)
	return cancel, nil
}

func (w *Watcher) run(ctx context.Context, ownerID string, cursor int64, onChange func([]domain.Mission), onError func(error)) {
	interval := w.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		events, err := w.Repo.EventsAfter(ctx, eventBatch, cursor, ownerID)
		if err != nil {
			if ctx.Err() == nil && onError != nil {
				onError(err)
			}
			return
		}
		if len(events) == 0 {
			continue
		}
		cursor = events[len(events)-1].ID
		missions, err := w.Repo.ListMissions(ctx, repo.MissionFilters{OwnerID: ownerID})
		if err != nil {
			if ctx.Err() == nil && onError != nil {
				onError(err)
			}
			return
		}
		onChange(missions)
	}
}
