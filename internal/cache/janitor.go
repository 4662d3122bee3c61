package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Janitor runs PurgeOlderThan on a fixed schedule to bound storage growth.
type Janitor struct {
	sched  *gocron.Scheduler
	store  *Store
	every  time.Duration
	maxAge time.Duration
	log    *slog.Logger
}

func NewJanitor(store *Store, every, maxAge time.Duration, log *slog.Logger) *Janitor {
	if every <= 0 {
		every = time.Hour
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{
		sched:  gocron.NewScheduler(time.UTC),
		store:  store,
		every:  every,
		maxAge: maxAge,
		log:    log,
	}
}

func (j *Janitor) Start() error {
	_, err := j.sched.Every(j.every).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		n, err := j.store.PurgeOlderThan(ctx, j.maxAge)
		if err != nil {
			j.log.Warn("cache purge failed", "err", err)
			return
		}
		if n > 0 {
			j.log.Info("cache purge", "removed", n, "max_age", j.maxAge)
		}
	})
	if err != nil {
		return err
	}
	j.sched.StartAsync()
	return nil
}

func (j *Janitor) Stop() {
	if j.sched != nil {
		j.sched.Stop()
	}
}
