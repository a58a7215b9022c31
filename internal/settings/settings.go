package settings

import (
	"context"
	"errors"
	"sync"

	"gitlab.com/parcelmkt/fulfillment/internal/repository"
)

type Repo interface {
	Get(ctx context.Context) (*repository.AppSettings, error)
	Create(ctx context.Context) (*repository.AppSettings, error)
}

// Accessor is a read-through cache over the single app_settings row. The row
// is created lazily on first access; the unique key constraint keeps
// concurrent first accesses from producing more than one row.
type Accessor struct {
	repo Repo

	mu     sync.RWMutex
	cached *repository.AppSettings
}

func New(repo Repo) *Accessor {
	return &Accessor{repo: repo}
}

func (a *Accessor) Get(ctx context.Context) (*repository.AppSettings, error) {
	a.mu.RLock()
	if a.cached != nil {
		s := *a.cached
		a.mu.RUnlock()
		return &s, nil
	}
	a.mu.RUnlock()

	s, err := a.repo.Get(ctx)
	if errors.Is(err, repository.ErrObjectNotFound) {
		s, err = a.repo.Create(ctx)
	}
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.cached = s
	a.mu.Unlock()

	copied := *s
	return &copied, nil
}

// Invalidate drops the cached row; the next Get re-reads the store. Called
// after the operator edits pricing knobs.
func (a *Accessor) Invalidate() {
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
}
