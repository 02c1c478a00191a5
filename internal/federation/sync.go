package federation

import (
	"context"
	"time"

	"github.com/fedcal/fedcal/internal/identity"
	"github.com/fedcal/fedcal/internal/metrics"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/rs/zerolog/log"
)

// SyncEngine performs incremental synchronization passes against remote
// peers. The stored token only ever moves forward; a pull that returns an
// unparsable token leaves the record byte-for-byte as it was, so retries
// are always safe.
type SyncEngine struct {
	Calendars store.FederatedCalendarRepository
	Puller    SyncPuller

	ServerHost string

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (e *SyncEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SyncOne runs one incremental pull for the given record and returns the
// number of changed objects applied to the local mirror.
func (e *SyncEngine) SyncOne(ctx context.Context, rec *store.FederatedCalendar) (int, error) {
	own := identity.CloudID{User: rec.Principal, Host: e.ServerHost}

	newToken, changed, err := e.Puller.Pull(ctx, PullRequest{
		RecordID: rec.ID,
		URL:      rec.RemoteURL,
		Username: identity.EncodeSegment(own.String()),
		Password: rec.SharedSecret,
		// A never-synced record carries token 0, which formats to the
		// initial-sync sentinel.
		SyncToken: FormatSyncToken(rec.SyncToken),
	})
	if err != nil {
		metrics.SyncRuns.WithLabelValues(metrics.OutcomeError).Inc()
		return 0, err
	}

	parsed, err := ParseSyncToken(newToken)
	if err != nil {
		// Protocol violation: never advance or corrupt the stored
		// continuation point on an unparsable token.
		metrics.SyncRuns.WithLabelValues(metrics.OutcomeProtocolViolation).Inc()
		log.Warn().Stringer("record", rec.ID).Str("token", newToken).Msg("remote returned malformed sync token, skipping state update")
		return 0, nil
	}

	at := e.now()
	if parsed != rec.SyncToken || changed > 0 {
		if err := e.Calendars.UpdateSyncState(ctx, rec.ID, parsed, at); err != nil {
			return 0, err
		}
		rec.SyncToken = parsed
		rec.LastSyncedAt = &at
		metrics.SyncRuns.WithLabelValues(metrics.OutcomeOK).Inc()
		log.Info().Stringer("record", rec.ID).Int64("token", parsed).Int("changed", changed).Msg("calendar synchronized")
		return changed, nil
	}

	// Nothing moved: record the attempt without rewriting the token.
	if err := e.Calendars.TouchSynced(ctx, rec.ID, at); err != nil {
		return 0, err
	}
	rec.LastSyncedAt = &at
	metrics.SyncRuns.WithLabelValues(metrics.OutcomeNoop).Inc()
	return 0, nil
}
