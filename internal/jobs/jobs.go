// Package jobs provides the DB-backed sync job queue. Each federated
// calendar record has at most one pending job; a polling worker claims jobs
// under short leases so multiple server instances can drain the same queue.
package jobs

import (
	"context"
	"time"

	"github.com/fedcal/fedcal/internal/federation"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Queue enqueues resync jobs. It implements federation.Scheduler.
type Queue struct {
	DB *pgxpool.Pool
}

// ScheduleSync records that the given federated calendar needs a resync.
// If a job for the record already exists its scheduled_at moves to now,
// which also invalidates any lease a worker is currently holding on it, so
// a notification arriving mid-sync still produces a fresh run.
func (q *Queue) ScheduleSync(ctx context.Context, recordID uuid.UUID) error {
	_, err := q.DB.Exec(ctx, `
		INSERT INTO federation_sync_job (federated_calendar_id)
		VALUES ($1)
		ON CONFLICT (federated_calendar_id) DO UPDATE SET scheduled_at = now()
	`, recordID)
	return err
}

// Worker drains the job queue, running one sync pass per claimed job.
type Worker struct {
	DB        *pgxpool.Pool
	Calendars store.FederatedCalendarRepository
	Engine    *federation.SyncEngine

	// Interval between idle polls.
	Interval time.Duration

	// RetryDelay before a failed job becomes claimable again.
	RetryDelay time.Duration

	// Lease is how long a claimed job stays invisible to other workers.
	// It must exceed the longest sync pass, or a second worker will pick
	// the job up while the first is still on it.
	Lease time.Duration
}

// Run polls until the context is canceled. After each claimed job it
// immediately polls again, so bursts drain without waiting out the interval.
func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	log.Info().Dur("interval", interval).Msg("sync worker started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for {
			claimed, err := w.RunOne(ctx)
			if err != nil {
				log.Error().Err(err).Msg("sync job failed")
				break
			}
			if !claimed {
				break
			}
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("sync worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOne claims and executes at most one due job. It reports whether a job
// was claimed.
//
// Claiming pushes the job's scheduled_at forward by the lease, and the
// claimed timestamp acts as a token: completion statements only match while
// the token is unchanged. A ScheduleSync landing mid-run rewrites
// scheduled_at, the completion matches nothing, and the job stays queued
// for another pass.
func (w *Worker) RunOne(ctx context.Context) (bool, error) {
	lease := w.Lease
	if lease <= 0 {
		lease = 2 * time.Minute
	}

	var jobID, recordID uuid.UUID
	var attempts int
	var claimed time.Time
	err := w.DB.QueryRow(ctx, `
		UPDATE federation_sync_job
		SET scheduled_at = now() + make_interval(secs => $1)
		WHERE id = (
			SELECT id FROM federation_sync_job
			WHERE scheduled_at <= now()
			ORDER BY scheduled_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, federated_calendar_id, attempts, scheduled_at
	`, lease.Seconds()).Scan(&jobID, &recordID, &attempts, &claimed)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	rec, err := w.Calendars.GetByID(ctx, recordID)
	if err != nil {
		return true, err
	}
	if rec == nil {
		// The record was unshared while the job was pending.
		_, err := w.DB.Exec(ctx, `
			DELETE FROM federation_sync_job WHERE id = $1 AND scheduled_at = $2
		`, jobID, claimed)
		return true, err
	}

	if _, err := w.Engine.SyncOne(ctx, rec); err != nil {
		retry := w.RetryDelay
		if retry <= 0 {
			retry = time.Minute
		}
		log.Warn().Err(err).Stringer("record", recordID).Int("attempts", attempts+1).Msg("sync failed, releasing job for retry")
		_, uerr := w.DB.Exec(ctx, `
			UPDATE federation_sync_job
			SET attempts = attempts + 1, scheduled_at = now() + make_interval(secs => $3)
			WHERE id = $1 AND scheduled_at = $2
		`, jobID, claimed, retry.Seconds())
		return true, uerr
	}

	_, err = w.DB.Exec(ctx, `
		DELETE FROM federation_sync_job WHERE id = $1 AND scheduled_at = $2
	`, jobID, claimed)
	return true, err
}
