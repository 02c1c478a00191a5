package federation

import (
	"context"

	"github.com/fedcal/fedcal/internal/identity"
	"github.com/fedcal/fedcal/internal/metrics"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// InboundService handles share offers and notifications arriving from
// remote federation peers.
type InboundService struct {
	// Enabled is the federation feature flag, injected from configuration
	// and read once per call.
	Enabled bool

	Users     store.UserRepository
	Calendars store.FederatedCalendarRepository
	Jobs      Scheduler

	ServerHost string

	// DeriveName maps the sharer's identity to the local collection name;
	// injectable for tests, defaults to identity.DefaultName.
	DeriveName identity.NameDeriver
}

func (s *InboundService) deriveName(sharer string) string {
	if s.DeriveName != nil {
		return s.DeriveName(sharer)
	}
	return identity.DefaultName(sharer)
}

// resolveLocalUser maps a cloud identity to a local account, or nil if the
// identity does not live on this server.
func (s *InboundService) resolveLocalUser(ctx context.Context, cloudID string) (*store.User, error) {
	id, err := identity.Parse(cloudID)
	if err != nil || id.Host != s.ServerHost {
		return nil, nil
	}
	return s.Users.GetByUID(ctx, id.User)
}

// ShareReceived materializes an incoming share offer as a federated
// calendar record and schedules its initial sync. A repeated share from the
// same sharer to the same sharee replaces the prior record.
func (s *InboundService) ShareReceived(ctx context.Context, req ShareRequest) (uuid.UUID, error) {
	id, err := s.shareReceived(ctx, req)
	if err != nil {
		metrics.SharesReceived.WithLabelValues(metrics.OutcomeRejected).Inc()
		return uuid.Nil, err
	}
	metrics.SharesReceived.WithLabelValues(metrics.OutcomeOK).Inc()
	return id, nil
}

func (s *InboundService) shareReceived(ctx context.Context, req ShareRequest) (uuid.UUID, error) {
	if !s.Enabled {
		return uuid.Nil, ErrFederationDisabled
	}
	if req.ShareType != ShareTypeUser {
		return uuid.Nil, ErrUnsupportedShareType
	}
	if err := req.Protocol.Validate(); err != nil {
		return uuid.Nil, err
	}
	if req.SharedSecret == "" || req.Owner == "" {
		return uuid.Nil, BadRequest("incomplete protocol data")
	}

	sharee, err := s.resolveLocalUser(ctx, req.ShareWith)
	if err != nil {
		return uuid.Nil, err
	}
	if sharee == nil {
		return uuid.Nil, BadRequest("sharee not found")
	}

	var color *string
	if req.Protocol.Color != "" {
		color = &req.Protocol.Color
	}

	rec := store.FederatedCalendar{
		Principal:         sharee.UID,
		LocalName:         s.deriveName(req.Owner),
		RemoteURL:         req.Protocol.URL,
		DisplayName:       req.Protocol.DisplayName,
		Color:             color,
		Components:        req.Protocol.Components,
		SharedSecret:      req.SharedSecret,
		SharerIdentity:    req.Owner,
		SharerDisplayName: req.OwnerDisplayName,
		// Protocol v1 grants read-only regardless of the advertised access.
		Permissions: PermRead,
		SyncToken:   0,
	}

	id, err := s.Calendars.Replace(ctx, rec)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.Jobs.ScheduleSync(ctx, id); err != nil {
		// The record exists; the next notification or worker pass will
		// still pick it up.
		log.Error().Err(err).Stringer("record", id).Msg("failed to schedule initial sync")
	}

	log.Info().Str("sharer", req.Owner).Str("sharee", sharee.UID).Stringer("record", id).Msg("incoming calendar share accepted")
	return id, nil
}

// NotificationReceived handles an incoming notification. Unknown
// notification kinds are ignored rather than rejected so newer peers can
// speak to older servers.
func (s *InboundService) NotificationReceived(ctx context.Context, kind, resourceType string, n SyncNotification) ([]any, error) {
	if kind != NotificationSyncCalendar {
		return []any{}, nil
	}
	if resourceType != ResourceTypeCalendar {
		metrics.Notifications.WithLabelValues("in", metrics.OutcomeRejected).Inc()
		return nil, BadRequest("invalid resource type: %s", resourceType)
	}
	if n.SharedSecret == "" || n.ShareWith == "" || n.CalendarURL == "" {
		metrics.Notifications.WithLabelValues("in", metrics.OutcomeRejected).Inc()
		return nil, BadRequest("incomplete notification data")
	}

	sharee, err := s.resolveLocalUser(ctx, n.ShareWith)
	if err != nil {
		return nil, err
	}
	if sharee == nil {
		metrics.Notifications.WithLabelValues("in", metrics.OutcomeRejected).Inc()
		return nil, BadRequest("sharee not found")
	}

	// The secret in the lookup key doubles as authentication: a stale or
	// forged secret simply yields zero records.
	recs, err := s.Calendars.FindForNotification(ctx, n.CalendarURL, sharee.UID, n.SharedSecret)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		metrics.Notifications.WithLabelValues("in", metrics.OutcomeRejected).Inc()
		return nil, BadRequest("calendar is not shared with the sharee")
	}

	for _, rec := range recs {
		if err := s.Jobs.ScheduleSync(ctx, rec.ID); err != nil {
			return nil, err
		}
	}

	metrics.Notifications.WithLabelValues("in", metrics.OutcomeOK).Inc()
	log.Debug().Str("sharee", sharee.UID).Int("records", len(recs)).Msg("sync notification scheduled")
	return []any{}, nil
}
