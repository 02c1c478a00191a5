package federation

import (
	"context"

	"github.com/fedcal/fedcal/internal/identity"
	"github.com/fedcal/fedcal/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Notifier sends "please resync" signals to remote sharees. It has no local
// state to protect, so delivery errors propagate to the caller as-is.
type Notifier struct {
	Sender  NotificationSender
	BaseURL string
}

// NotifySyncCalendar tells the sharee identified by remote that the given
// shared calendar changed. The secret must be the one the share was created
// with; the recipient authenticates the notification against it.
func (n *Notifier) NotifySyncCalendar(ctx context.Context, remote identity.CloudID, ownerUID, calendarURI, secret string) error {
	req := NotificationRequest{
		NotificationType: NotificationSyncCalendar,
		ResourceType:     ResourceTypeCalendar,
		Notification: SyncNotification{
			SharedSecret: secret,
			ShareWith:    remote.String(),
			CalendarURL:  RemoteCalendarURL(n.BaseURL, remote.String(), calendarURI, ownerUID),
		},
	}

	if err := n.Sender.SendNotification(ctx, remote, req); err != nil {
		metrics.Notifications.WithLabelValues("out", metrics.OutcomeError).Inc()
		log.Warn().Err(err).Str("recipient", remote.String()).Str("calendar", calendarURI).Msg("sync notification delivery failed")
		return err
	}

	metrics.Notifications.WithLabelValues("out", metrics.OutcomeOK).Inc()
	return nil
}
