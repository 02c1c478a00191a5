package store

import (
	"time"

	"github.com/google/uuid"
)

// User is a locally provisioned account. The UID is the user half of the
// account's cloud id.
type User struct {
	ID          uuid.UUID
	UID         string
	DisplayName string
	CreatedAt   time.Time
}

// Calendar is a local calendar collection that can be shared out to
// federated peers.
type Calendar struct {
	ID          uuid.UUID
	OwnerUID    string
	URI         string
	DisplayName string
	Color       *string
	Components  string
	// SyncSeq is the calendar's change counter; every object mutation bumps
	// it, and issued sync tokens embed it.
	SyncSeq   int64
	CreatedAt time.Time
}

// CalendarObject is one iCalendar object of a local calendar. Deleted
// objects stay as tombstones so sync-collection reports can include them.
type CalendarObject struct {
	ID           uuid.UUID
	CalendarID   uuid.UUID
	URI          string
	UID          string
	ETag         string
	Data         string
	DeletedAt    *time.Time
	UpdatedSeq   int64
	LastModified time.Time
}

// OutgoingShare records that a local calendar is shared with one remote
// principal. Re-sharing the same pair replaces the row and invalidates the
// old secret.
type OutgoingShare struct {
	ID              uuid.UUID
	CalendarID      uuid.UUID
	ShareType       string
	Access          int
	RemotePrincipal string
	SharedSecret    string
	CreatedAt       time.Time
}

// ShareGrant is the authentication view of an outgoing share: the share
// joined with the calendar it covers.
type ShareGrant struct {
	ShareID     uuid.UUID
	CalendarURI string
	OwnerUID    string
}

// FederatedCalendar is the sharee-side record of an accepted share: a local
// mirror of a calendar owned by a remote server. Exactly one exists per
// (principal, local name) pair.
type FederatedCalendar struct {
	ID                uuid.UUID
	Principal         string
	LocalName         string
	RemoteURL         string
	DisplayName       string
	Color             *string
	Components        string
	SharedSecret      string
	SharerIdentity    string
	SharerDisplayName string
	Permissions       int
	SyncToken         int64
	LastSyncedAt      *time.Time
	CreatedAt         time.Time
}

// Has reports whether the record's permission bitmask contains perm.
func (c *FederatedCalendar) Has(perm int) bool {
	return c.Permissions&perm != 0
}

// FederatedObject is one mirrored iCalendar object of a federated calendar.
type FederatedObject struct {
	ID           uuid.UUID
	CalendarID   uuid.UUID
	URI          string
	UID          string
	ETag         string
	Data         string
	LastModified time.Time
}

// SyncJob is one pending resync of a federated calendar. At most one row
// exists per record.
type SyncJob struct {
	ID          uuid.UUID
	CalendarID  uuid.UUID
	ScheduledAt time.Time
	Attempts    int
}
