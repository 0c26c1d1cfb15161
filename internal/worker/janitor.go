package worker

import (
	"context"
	"log"
	"time"

	"github.com/MuhammadShayanUmarX/vm-nebula-task/internal/session"
)

// Janitor periodically drops sessions idle past the retention window.
type Janitor struct {
	store     session.Store
	retention time.Duration
	interval  time.Duration
	logger    *log.Logger
}

func NewJanitor(store session.Store, retention, interval time.Duration, logger *log.Logger) *Janitor {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.retention)
	deleted, err := j.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		if j.logger != nil {
			j.logger.Printf("session cleanup failed: %v", err)
		}
		return
	}
	if deleted > 0 && j.logger != nil {
		j.logger.Printf("session cleanup removed %d idle sessions", deleted)
	}
}
