package federation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/fedcal/fedcal/internal/identity"
	"github.com/fedcal/fedcal/internal/metrics"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/rs/zerolog/log"
)

// OutboundService creates outgoing calendar shares: it mints the per-share
// secret, builds the canonical fetch URL, delivers the offer, and persists
// the share only once the peer has acknowledged it.
type OutboundService struct {
	Users  store.UserRepository
	Shares store.OutgoingShareRepository
	Sender ShareSender

	BaseURL    string
	ServerHost string

	// NewSecret mints a fresh share secret; injectable for tests.
	NewSecret func() (string, error)
}

// MintSecret returns a fresh random share secret (32 bytes of entropy,
// hex-encoded).
func MintSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint share secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ShareWith shares a local calendar with a remote principal of the shape
// principals/remote-users/<encoded-identity>. Any other principal shape is
// a silent no-op. Persistence happens only after the peer accepts the
// delivery, so an unacknowledged re-share never invalidates a working one.
func (s *OutboundService) ShareWith(ctx context.Context, cal *store.Calendar, remotePrincipal string, access int) error {
	remoteID, err := identity.ParseRemotePrincipal(remotePrincipal)
	if err != nil {
		log.Debug().Str("principal", remotePrincipal).Msg("ignoring share with non-remote principal")
		return nil
	}
	recipient, err := identity.Parse(remoteID)
	if err != nil {
		log.Debug().Str("identity", remoteID).Msg("ignoring share with malformed remote identity")
		return nil
	}

	owner, err := s.Users.GetByUID(ctx, cal.OwnerUID)
	if err != nil {
		return err
	}
	if owner == nil {
		log.Warn().Str("owner", cal.OwnerUID).Str("calendar", cal.URI).Msg("share owner not found, aborting")
		return nil
	}

	mint := s.NewSecret
	if mint == nil {
		mint = MintSecret
	}
	secret, err := mint()
	if err != nil {
		return err
	}

	ownerID := identity.CloudID{User: owner.UID, Host: s.ServerHost}.String()
	url := RemoteCalendarURL(s.BaseURL, remoteID, cal.URI, owner.UID)

	displayName := cal.DisplayName
	if displayName == "" {
		displayName = cal.URI
	}
	var color string
	if cal.Color != nil {
		color = *cal.Color
	}

	req := ShareRequest{
		ShareWith:        remoteID,
		Name:             cal.URI,
		ProviderID:       cal.ID.String(),
		Owner:            ownerID,
		OwnerDisplayName: owner.DisplayName,
		Sender:           ownerID,
		ShareType:        ShareTypeUser,
		ResourceType:     ResourceTypeCalendar,
		SharedSecret:     secret,
		Protocol: CalendarProtocol{
			Version:     ProtocolVersionV1,
			URL:         url,
			DisplayName: displayName,
			Color:       color,
			Access:      access,
			Components:  cal.Components,
		},
	}

	if err := s.Sender.SendShare(ctx, recipient, req); err != nil {
		metrics.SharesSent.WithLabelValues(metrics.OutcomeError).Inc()
		log.Warn().Err(err).Str("recipient", remoteID).Str("calendar", cal.URI).Msg("share delivery failed, keeping prior share if any")
		return err
	}

	if _, err := s.Shares.Replace(ctx, store.OutgoingShare{
		CalendarID:      cal.ID,
		ShareType:       "calendar",
		Access:          access,
		RemotePrincipal: remotePrincipal,
		SharedSecret:    secret,
	}); err != nil {
		return err
	}

	metrics.SharesSent.WithLabelValues(metrics.OutcomeOK).Inc()
	log.Info().Str("recipient", remoteID).Str("calendar", cal.URI).Msg("calendar shared with remote principal")
	return nil
}
