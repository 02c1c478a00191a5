package federation

import (
	"context"

	"github.com/fedcal/fedcal/internal/identity"
	"github.com/google/uuid"
)

// ShareSender delivers an OCM share offer to the server hosting the
// recipient.
type ShareSender interface {
	SendShare(ctx context.Context, recipient identity.CloudID, req ShareRequest) error
}

// NotificationSender delivers an OCM notification to the server hosting the
// recipient.
type NotificationSender interface {
	SendNotification(ctx context.Context, recipient identity.CloudID, req NotificationRequest) error
}

// PullRequest describes one incremental CalDAV pull.
type PullRequest struct {
	RecordID  uuid.UUID
	URL       string
	Username  string
	Password  string
	SyncToken string
}

// SyncPuller performs one sync-collection pull against a remote calendar,
// applying the returned changes to the local mirror as a side effect. It
// returns the server's new token and the number of changed objects.
type SyncPuller interface {
	Pull(ctx context.Context, req PullRequest) (newToken string, changed int, err error)
}

// Scheduler enqueues a resync job for one federated calendar record.
// Enqueueing an already-pending record is a no-op.
type Scheduler interface {
	ScheduleSync(ctx context.Context, recordID uuid.UUID) error
}

// RemoteWriter pushes object mutations to the server owning a federated
// calendar. Used by the write-through facade before any local write.
type RemoteWriter interface {
	Put(ctx context.Context, rec RemoteTarget, objectURI, data string) (etag string, err error)
	Delete(ctx context.Context, rec RemoteTarget, objectURI string) error
}

// RemoteTarget carries the addressing and credentials of one federated
// calendar's remote endpoint.
type RemoteTarget struct {
	URL          string
	Principal    string
	SharedSecret string
}
