package kms

import (
	"context"
	"time"

	"log/slog"
)

// Scheduler periodically sweeps for keys whose PendingDeletion window
// has elapsed and destroys their material. It runs out of band from
// Encrypt/Decrypt, as a separate goroutine, so the hot path never pays
// for a deletion sweep.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger
}

// NewScheduler builds a Scheduler polling svc every interval.
func NewScheduler(svc *Service, interval time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{svc: svc, interval: interval, log: log}
}

// Run blocks, sweeping at Scheduler's interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Scheduler) sweepOnce() {
	now := time.Now().UTC()
	s.svc.mu.Lock()
	var due []string
	for id, r := range s.svc.records {
		if r.Metadata.KeyState == KeyStatePendingDeletion && !r.Metadata.DeletionDate.IsZero() && !now.Before(r.Metadata.DeletionDate) {
			due = append(due, id)
		}
	}
	for _, id := range due {
		delete(s.svc.records, id)
	}
	var persistErr error
	if len(due) > 0 {
		persistErr = s.svc.persist()
	}
	s.svc.mu.Unlock()

	for _, id := range due {
		s.log.Info("destroyed key material past pending-deletion window", "key_id", id)
	}
	if persistErr != nil {
		s.log.Error("failed to persist keystore after deletion sweep", "error", persistErr)
	}
}
