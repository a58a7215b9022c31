package status

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker runs the synchronizer sweep on a fixed interval.
type Worker struct {
	syncer   *Synchronizer
	interval time.Duration
	logger   *zap.Logger

	wg       sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
}

func NewWorker(synchronizer *Synchronizer, interval time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		syncer:   synchronizer,
		interval: interval,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("status sync worker started", zap.Duration("interval", w.interval))
	w.wg.Add(1)
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncer.SyncAll(ctx); err != nil {
				w.logger.Warn("status sweep finished with errors", zap.Error(err))
			}
		case <-w.shutdown:
			w.logger.Info("status sync worker stopping")
			return
		case <-ctx.Done():
			w.Shutdown()
			return
		}
	}
}

func (w *Worker) Shutdown() {
	w.stopOnce.Do(func() {
		close(w.shutdown)
		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			w.logger.Warn("status sync worker shutdown timed out")
		}
	})
}
