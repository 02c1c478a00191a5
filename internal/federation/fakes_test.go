package federation

import (
	"context"
	"errors"
	"time"

	"github.com/fedcal/fedcal/internal/identity"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/google/uuid"
)

// In-memory fakes for the repository and transport collaborators.

type fakeUserRepo struct {
	users map[string]*store.User
}

func (f *fakeUserRepo) GetByUID(_ context.Context, uid string) (*store.User, error) {
	return f.users[uid], nil
}

func (f *fakeUserRepo) Create(_ context.Context, user store.User) (*store.User, error) {
	user.ID = uuid.New()
	if f.users == nil {
		f.users = map[string]*store.User{}
	}
	f.users[user.UID] = &user
	return &user, nil
}

type fakeShareRepo struct {
	replaced   []store.OutgoingShare
	replaceErr error
	grants     map[[2]string][]store.ShareGrant
	grantsErr  error
}

func (f *fakeShareRepo) Replace(_ context.Context, share store.OutgoingShare) (*store.OutgoingShare, error) {
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}
	share.ID = uuid.New()
	share.CreatedAt = time.Now()
	kept := f.replaced[:0]
	for _, prior := range f.replaced {
		if prior.CalendarID != share.CalendarID || prior.RemotePrincipal != share.RemotePrincipal {
			kept = append(kept, prior)
		}
	}
	f.replaced = append(kept, share)
	return &share, nil
}

func (f *fakeShareRepo) FindGrants(_ context.Context, remotePrincipal, secret string) ([]store.ShareGrant, error) {
	if f.grantsErr != nil {
		return nil, f.grantsErr
	}
	return f.grants[[2]string{remotePrincipal, secret}], nil
}

func (f *fakeShareRepo) ListByCalendar(_ context.Context, calendarID uuid.UUID) ([]store.OutgoingShare, error) {
	var out []store.OutgoingShare
	for _, s := range f.replaced {
		if s.CalendarID == calendarID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeFedCalRepo struct {
	records map[uuid.UUID]*store.FederatedCalendar

	updateSyncCalls  int
	touchSyncedCalls int
	presentations    int
}

func newFakeFedCalRepo() *fakeFedCalRepo {
	return &fakeFedCalRepo{records: map[uuid.UUID]*store.FederatedCalendar{}}
}

func (f *fakeFedCalRepo) Replace(_ context.Context, rec store.FederatedCalendar) (uuid.UUID, error) {
	for id, prior := range f.records {
		if prior.Principal == rec.Principal && prior.LocalName == rec.LocalName {
			delete(f.records, id)
		}
	}
	rec.ID = uuid.New()
	rec.CreatedAt = time.Now()
	f.records[rec.ID] = &rec
	return rec.ID, nil
}

func (f *fakeFedCalRepo) GetByID(_ context.Context, id uuid.UUID) (*store.FederatedCalendar, error) {
	return f.records[id], nil
}

func (f *fakeFedCalRepo) ListByPrincipal(_ context.Context, principal string) ([]store.FederatedCalendar, error) {
	var out []store.FederatedCalendar
	for _, rec := range f.records {
		if rec.Principal == principal {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeFedCalRepo) FindForNotification(_ context.Context, remoteURL, principal, secret string) ([]store.FederatedCalendar, error) {
	var out []store.FederatedCalendar
	for _, rec := range f.records {
		if rec.RemoteURL == remoteURL && rec.Principal == principal && rec.SharedSecret == secret {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeFedCalRepo) UpdateSyncState(_ context.Context, id uuid.UUID, token int64, at time.Time) error {
	rec, ok := f.records[id]
	if !ok {
		return errors.New("record not found")
	}
	f.updateSyncCalls++
	rec.SyncToken = token
	rec.LastSyncedAt = &at
	return nil
}

func (f *fakeFedCalRepo) TouchSynced(_ context.Context, id uuid.UUID, at time.Time) error {
	rec, ok := f.records[id]
	if !ok {
		return errors.New("record not found")
	}
	f.touchSyncedCalls++
	rec.LastSyncedAt = &at
	return nil
}

func (f *fakeFedCalRepo) UpdatePresentation(_ context.Context, id uuid.UUID, displayName, color *string) error {
	rec, ok := f.records[id]
	if !ok {
		return errors.New("record not found")
	}
	f.presentations++
	if displayName != nil {
		rec.DisplayName = *displayName
	}
	if color != nil {
		rec.Color = color
	}
	return nil
}

func (f *fakeFedCalRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.records, id)
	return nil
}

type fakeObjectRepo struct {
	objects map[string]store.FederatedObject
	upserts int
	deletes int
}

func objectKey(calendarID uuid.UUID, uri string) string {
	return calendarID.String() + "/" + uri
}

func (f *fakeObjectRepo) Get(_ context.Context, calendarID uuid.UUID, uri string) (*store.FederatedObject, error) {
	if obj, ok := f.objects[objectKey(calendarID, uri)]; ok {
		return &obj, nil
	}
	return nil, nil
}

func (f *fakeObjectRepo) List(_ context.Context, calendarID uuid.UUID) ([]store.FederatedObject, error) {
	var out []store.FederatedObject
	for _, obj := range f.objects {
		if obj.CalendarID == calendarID {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (f *fakeObjectRepo) Upsert(_ context.Context, obj store.FederatedObject) (*store.FederatedObject, error) {
	if f.objects == nil {
		f.objects = map[string]store.FederatedObject{}
	}
	f.upserts++
	obj.ID = uuid.New()
	obj.LastModified = time.Now()
	f.objects[objectKey(obj.CalendarID, obj.URI)] = obj
	return &obj, nil
}

func (f *fakeObjectRepo) Delete(_ context.Context, calendarID uuid.UUID, uri string) error {
	f.deletes++
	delete(f.objects, objectKey(calendarID, uri))
	return nil
}

type sentShare struct {
	recipient identity.CloudID
	req       ShareRequest
}

type fakeShareSender struct {
	sent []sentShare
	err  error
}

func (f *fakeShareSender) SendShare(_ context.Context, recipient identity.CloudID, req ShareRequest) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentShare{recipient: recipient, req: req})
	return nil
}

type sentNotification struct {
	recipient identity.CloudID
	req       NotificationRequest
}

type fakeNotificationSender struct {
	sent []sentNotification
	err  error
}

func (f *fakeNotificationSender) SendNotification(_ context.Context, recipient identity.CloudID, req NotificationRequest) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentNotification{recipient: recipient, req: req})
	return nil
}

type fakeScheduler struct {
	scheduled []uuid.UUID
	err       error
}

func (f *fakeScheduler) ScheduleSync(_ context.Context, recordID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.scheduled = append(f.scheduled, recordID)
	return nil
}

type fakePuller struct {
	token   string
	changed int
	err     error
	pulls   []PullRequest
}

func (f *fakePuller) Pull(_ context.Context, req PullRequest) (string, int, error) {
	f.pulls = append(f.pulls, req)
	if f.err != nil {
		return "", 0, f.err
	}
	return f.token, f.changed, nil
}

type fakeRemoteWriter struct {
	etag    string
	putErr  error
	delErr  error
	puts    int
	deletes int
}

func (f *fakeRemoteWriter) Put(_ context.Context, _ RemoteTarget, _, _ string) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	f.puts++
	return f.etag, nil
}

func (f *fakeRemoteWriter) Delete(_ context.Context, _ RemoteTarget, _ string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.deletes++
	return nil
}
