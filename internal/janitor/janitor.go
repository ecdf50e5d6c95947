package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dtroode/authkeeper/internal/logger"
)

// Purger removes expired refresh sessions.
type Purger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Recorder counts purged sessions.
type Recorder interface {
	ObservePurged(n int64)
}

type nopRecorder struct{}

func (nopRecorder) ObservePurged(int64) {}

// Janitor periodically purges refresh sessions that expired more than
// retention ago. Younger expired sessions are kept so refresh can still
// report them as expired.
type Janitor struct {
	purger    Purger
	recorder  Recorder
	interval  time.Duration
	retention time.Duration
	logger    *logger.Logger
	now       func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates Janitor. Nil recorder disables metrics.
func New(purger Purger, recorder Recorder, interval, retention time.Duration, logger *logger.Logger) *Janitor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if retention < 0 {
		retention = 0
	}

	return &Janitor{
		purger:    purger,
		recorder:  recorder,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// RunOnce purges sessions that expired before now minus retention.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.purger.DeleteExpired(ctx, j.now().Add(-j.retention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}

	j.recorder.ObservePurged(n)
	if n > 0 {
		j.logger.Info("Janitor: purged expired sessions", "count", n)
	}

	return n, nil
}

// Start runs RunOnce every interval until ctx is cancelled or Stop is called.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go j.run(ctx)
}

// Stop cancels the loop and waits for it to return.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}

func (j *Janitor) run(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.Error("Janitor: purge failed", "error", err)
			}
		}
	}
}
