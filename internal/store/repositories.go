package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lookups return (nil, nil) when no row matches; errors are reserved for
// infrastructure failures.

// UserRepository defines persistence operations for local accounts.
type UserRepository interface {
	GetByUID(ctx context.Context, uid string) (*User, error)
	Create(ctx context.Context, user User) (*User, error)
}

// CalendarRepository handles local calendar collections.
type CalendarRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Calendar, error)
	GetByOwnerAndURI(ctx context.Context, ownerUID, uri string) (*Calendar, error)
	ListByOwner(ctx context.Context, ownerUID string) ([]Calendar, error)
	Create(ctx context.Context, cal Calendar) (*Calendar, error)
}

// ObjectChange is one entry of a sync-collection delta.
type ObjectChange struct {
	URI     string
	ETag    string
	Deleted bool
}

// CalendarObjectRepository handles objects of local calendars, including the
// change tracking that backs sync-collection reports.
type CalendarObjectRepository interface {
	Get(ctx context.Context, calendarID uuid.UUID, uri string) (*CalendarObject, error)
	List(ctx context.Context, calendarID uuid.UUID) ([]CalendarObject, error)
	// Put upserts an object and bumps the calendar's change counter in the
	// same transaction.
	Put(ctx context.Context, calendarID uuid.UUID, uri, uid, etag, data string) (*CalendarObject, error)
	// Delete tombstones an object and bumps the change counter.
	Delete(ctx context.Context, calendarID uuid.UUID, uri string) error
	// ChangesSince returns all changes after the given sequence value plus
	// the calendar's current sequence.
	ChangesSince(ctx context.Context, calendarID uuid.UUID, since int64) ([]ObjectChange, int64, error)
}

// OutgoingShareRepository handles sharer-side share records.
type OutgoingShareRepository interface {
	// Replace atomically swaps any prior share for (calendar, remote
	// principal) with the given one. Concurrent readers never observe the
	// pair unshared.
	Replace(ctx context.Context, share OutgoingShare) (*OutgoingShare, error)
	// FindGrants resolves (remote principal, secret) to the calendars that
	// combination may access.
	FindGrants(ctx context.Context, remotePrincipal, secret string) ([]ShareGrant, error)
	ListByCalendar(ctx context.Context, calendarID uuid.UUID) ([]OutgoingShare, error)
}

// FederatedCalendarRepository handles sharee-side federated calendar records.
type FederatedCalendarRepository interface {
	// Replace atomically swaps any prior record for (principal, local name)
	// with the given one, discarding the old record's objects, and returns
	// the new id.
	Replace(ctx context.Context, rec FederatedCalendar) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*FederatedCalendar, error)
	ListByPrincipal(ctx context.Context, principal string) ([]FederatedCalendar, error)
	// FindForNotification authenticates a sync notification: remote URL,
	// principal, and secret must all match.
	FindForNotification(ctx context.Context, remoteURL, principal, secret string) ([]FederatedCalendar, error)
	UpdateSyncState(ctx context.Context, id uuid.UUID, token int64, at time.Time) error
	TouchSynced(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePresentation(ctx context.Context, id uuid.UUID, displayName, color *string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// FederatedObjectRepository handles the local mirror of a federated
// calendar's objects.
type FederatedObjectRepository interface {
	Get(ctx context.Context, calendarID uuid.UUID, uri string) (*FederatedObject, error)
	List(ctx context.Context, calendarID uuid.UUID) ([]FederatedObject, error)
	Upsert(ctx context.Context, obj FederatedObject) (*FederatedObject, error)
	Delete(ctx context.Context, calendarID uuid.UUID, uri string) error
}
