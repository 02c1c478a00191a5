package federation

import (
	"context"
	"time"

	"github.com/fedcal/fedcal/internal/identity"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/rs/zerolog/log"
)

// ACE is one access-control entry derived for a federated calendar. All
// derived entries are protected: neither inheritable nor overridable.
type ACE struct {
	Privilege string
	Principal string
	Protected bool
}

// WebDAV privilege names used in derived ACLs.
const (
	PrivRead            = "{DAV:}read"
	PrivReadACL         = "{DAV:}read-acl"
	PrivWriteProperties = "{DAV:}write-properties"
	PrivBind            = "{DAV:}bind"
	PrivWriteContent    = "{DAV:}write-content"
	PrivUnbind          = "{DAV:}unbind"
)

// PropertyPatch carries the only locally mutable presentation properties of
// a federated calendar. Nil fields are untouched.
type PropertyPatch struct {
	DisplayName *string
	Color       *string
}

// Facade exposes a federated calendar record through the generic calendar
// collection contract. It is a write-through proxy: every child mutation
// goes to the remote source of truth first, and only on success touches the
// local mirror.
type Facade struct {
	rec       *store.FederatedCalendar
	calendars store.FederatedCalendarRepository
	objects   store.FederatedObjectRepository
	remote    RemoteWriter
}

// NewFacade wraps one federated calendar record.
func NewFacade(rec *store.FederatedCalendar, calendars store.FederatedCalendarRepository, objects store.FederatedObjectRepository, remote RemoteWriter) *Facade {
	return &Facade{rec: rec, calendars: calendars, objects: objects, remote: remote}
}

// Name is the deterministic local collection name.
func (f *Facade) Name() string {
	return f.rec.LocalName
}

// Owner is the encoded identity of the remote sharer.
func (f *Facade) Owner() string {
	return identity.EncodeSegment(f.rec.SharerIdentity)
}

// Group always resolves empty; federated calendars have no local group.
func (f *Facade) Group() string {
	return ""
}

// DisplayName returns the mirrored presentation name.
func (f *Facade) DisplayName() string {
	return f.rec.DisplayName
}

// LastModified is the time of the last sync attempt.
func (f *Facade) LastModified() time.Time {
	if f.rec.LastSyncedAt != nil {
		return *f.rec.LastSyncedAt
	}
	return f.rec.CreatedAt
}

// Rename is always rejected: the name encodes the federation relationship.
func (f *Facade) Rename(string) error {
	return ErrNotAllowed
}

// SetACL is always rejected: the trust boundary of a federated calendar is
// derived from the share, not locally mutable.
func (f *Facade) SetACL([]ACE) error {
	return ErrNotAllowed
}

// ACL derives the access-control list from the record's permission bitmask.
func (f *Facade) ACL() []ACE {
	principal := f.rec.Principal
	acl := []ACE{
		{Privilege: PrivRead, Principal: principal, Protected: true},
		{Privilege: PrivReadACL, Principal: principal, Protected: true},
		{Privilege: PrivWriteProperties, Principal: principal, Protected: true},
	}
	if f.rec.Has(PermCreate) {
		acl = append(acl, ACE{Privilege: PrivBind, Principal: principal, Protected: true})
	}
	if f.rec.Has(PermUpdate) {
		acl = append(acl, ACE{Privilege: PrivWriteContent, Principal: principal, Protected: true})
	}
	if f.rec.Has(PermDelete) {
		acl = append(acl, ACE{Privilege: PrivUnbind, Principal: principal, Protected: true})
	}
	return acl
}

// ChildACL equals the collection's own ACL.
func (f *Facade) ChildACL() []ACE {
	return f.ACL()
}

// PatchProperties applies a property patch. Only displayName and color are
// accepted; an empty patch is a pure no-op with no storage call. The result
// maps each patched property to its status.
func (f *Facade) PatchProperties(ctx context.Context, patch PropertyPatch) (map[string]int, error) {
	result := map[string]int{}
	if patch.DisplayName == nil && patch.Color == nil {
		return result, nil
	}

	if err := f.calendars.UpdatePresentation(ctx, f.rec.ID, patch.DisplayName, patch.Color); err != nil {
		return nil, err
	}
	if patch.DisplayName != nil {
		f.rec.DisplayName = *patch.DisplayName
		result["displayname"] = 200
	}
	if patch.Color != nil {
		f.rec.Color = patch.Color
		result["calendar-color"] = 200
	}
	return result, nil
}

func (f *Facade) target() RemoteTarget {
	return RemoteTarget{
		URL:          f.rec.RemoteURL,
		Principal:    f.rec.Principal,
		SharedSecret: f.rec.SharedSecret,
	}
}

// ListObjects returns the mirrored objects.
func (f *Facade) ListObjects(ctx context.Context) ([]store.FederatedObject, error) {
	return f.objects.List(ctx, f.rec.ID)
}

// GetObject returns one mirrored object, or nil if absent.
func (f *Facade) GetObject(ctx context.Context, uri string) (*store.FederatedObject, error) {
	return f.objects.Get(ctx, f.rec.ID, uri)
}

// PutObject creates or updates a child object. The remote push happens
// first; if it fails the local mirror is untouched and the error
// propagates. On success the mirror stores the data under the identifier
// the remote returned.
func (f *Facade) PutObject(ctx context.Context, uri, uid, data string) (string, error) {
	etag, err := f.remote.Put(ctx, f.target(), uri, data)
	if err != nil {
		return "", err
	}

	if _, err := f.objects.Upsert(ctx, store.FederatedObject{
		CalendarID: f.rec.ID,
		URI:        uri,
		UID:        uid,
		ETag:       etag,
		Data:       data,
	}); err != nil {
		// The remote accepted the write; the mirror catches up on the next
		// sync pass.
		log.Error().Err(err).Str("uri", uri).Stringer("record", f.rec.ID).Msg("mirror write failed after remote push")
		return "", err
	}
	return etag, nil
}

// DeleteObject removes a child object, remote first.
func (f *Facade) DeleteObject(ctx context.Context, uri string) error {
	if err := f.remote.Delete(ctx, f.target(), uri); err != nil {
		return err
	}
	return f.objects.Delete(ctx, f.rec.ID, uri)
}

// Delete removes the local federated calendar record and its mirror. The
// remote peer is not notified; unsharing is driven by the sharer's own
// share management.
func (f *Facade) Delete(ctx context.Context) error {
	return f.calendars.Delete(ctx, f.rec.ID)
}
