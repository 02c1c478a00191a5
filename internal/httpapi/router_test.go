package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fedcal/fedcal/internal/federation"
	"github.com/fedcal/fedcal/internal/store"
	"github.com/google/uuid"
)

type fakeUserRepo struct {
	users map[string]store.User
}

func (f *fakeUserRepo) GetByUID(_ context.Context, uid string) (*store.User, error) {
	if u, ok := f.users[uid]; ok {
		return &u, nil
	}
	return nil, nil
}

func (f *fakeUserRepo) Create(_ context.Context, u store.User) (*store.User, error) {
	return &u, nil
}

type fakeFedCalRepo struct {
	replaced  []store.FederatedCalendar
	forNotify []store.FederatedCalendar
}

func (f *fakeFedCalRepo) Replace(_ context.Context, rec store.FederatedCalendar) (uuid.UUID, error) {
	f.replaced = append(f.replaced, rec)
	return uuid.New(), nil
}

func (f *fakeFedCalRepo) GetByID(context.Context, uuid.UUID) (*store.FederatedCalendar, error) {
	return nil, nil
}

func (f *fakeFedCalRepo) ListByPrincipal(context.Context, string) ([]store.FederatedCalendar, error) {
	return nil, nil
}

func (f *fakeFedCalRepo) FindForNotification(context.Context, string, string, string) ([]store.FederatedCalendar, error) {
	return f.forNotify, nil
}

func (f *fakeFedCalRepo) UpdateSyncState(context.Context, uuid.UUID, int64, time.Time) error {
	return nil
}

func (f *fakeFedCalRepo) TouchSynced(context.Context, uuid.UUID, time.Time) error { return nil }

func (f *fakeFedCalRepo) UpdatePresentation(context.Context, uuid.UUID, *string, *string) error {
	return nil
}

func (f *fakeFedCalRepo) Delete(context.Context, uuid.UUID) error { return nil }

type fakeScheduler struct {
	scheduled []uuid.UUID
}

func (f *fakeScheduler) ScheduleSync(_ context.Context, id uuid.UUID) error {
	f.scheduled = append(f.scheduled, id)
	return nil
}

func newTestServer(healthErr error) (*Server, *fakeFedCalRepo, *fakeScheduler) {
	cals := &fakeFedCalRepo{}
	jobs := &fakeScheduler{}
	srv := &Server{
		Inbound: &federation.InboundService{
			Enabled:    true,
			Users:      &fakeUserRepo{users: map[string]store.User{"bob": {UID: "bob"}}},
			Calendars:  cals,
			Jobs:       jobs,
			ServerHost: "here.example",
		},
		DAV: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
		Health: func(context.Context) error { return healthErr },
	}
	return srv, cals, jobs
}

const validShare = `{
	"shareWith": "bob@here.example",
	"name": "Work",
	"providerId": "cal-1",
	"owner": "alice@peer.example",
	"sender": "alice@peer.example",
	"shareType": "user",
	"resourceType": "calendar",
	"sharedSecret": "s3cret",
	"protocol": {
		"version": "v1",
		"url": "https://peer.example/dav/remote-calendars/x/work_shared_by_alice",
		"displayName": "Work",
		"access": 3
	}
}`

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	srv, _, _ = newTestServer(errors.New("db down"))
	w = httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d, want 503", w.Code)
	}
}

func TestReceiveShareCreated(t *testing.T) {
	srv, cals, jobs := newTestServer(nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ocm/shares", strings.NewReader(validShare)))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, err := uuid.Parse(resp["id"]); err != nil {
		t.Errorf("id = %q is not a uuid", resp["id"])
	}
	if len(cals.replaced) != 1 {
		t.Errorf("records created = %d, want 1", len(cals.replaced))
	}
	if len(jobs.scheduled) != 1 {
		t.Errorf("jobs scheduled = %d, want 1", len(jobs.scheduled))
	}
}

func TestReceiveShareRejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"group share", strings.Replace(validShare, `"shareType": "user"`, `"shareType": "group"`, 1), http.StatusNotImplemented},
		{"read-write access", strings.Replace(validShare, `"access": 3`, `"access": 4`, 1), http.StatusBadRequest},
		{"unknown sharee host", strings.Replace(validShare, "bob@here.example", "bob@elsewhere.example", 1), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestServer(nil)
			w := httptest.NewRecorder()
			srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ocm/shares", strings.NewReader(tt.body)))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
			var resp map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("error body is not json: %v", err)
			}
			if resp["message"] == "" {
				t.Error("error body has no message")
			}
		})
	}
}

func TestReceiveShareWhenDisabled(t *testing.T) {
	srv, _, _ := newTestServer(nil)
	srv.Inbound.Enabled = false
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ocm/shares", strings.NewReader(validShare)))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestReceiveNotification(t *testing.T) {
	srv, cals, jobs := newTestServer(nil)
	cals.forNotify = []store.FederatedCalendar{{ID: uuid.New()}}
	body := `{
		"notificationType": "SYNC_CALENDAR",
		"resourceType": "calendar",
		"notification": {
			"sharedSecret": "s3cret",
			"shareWith": "bob@here.example",
			"calendarUrl": "https://peer.example/dav/remote-calendars/x/work_shared_by_alice"
		}
	}`
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ocm/notifications", strings.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", w.Body.String())
	}
	if len(jobs.scheduled) != 1 {
		t.Errorf("jobs scheduled = %d, want 1", len(jobs.scheduled))
	}
}

func TestReceiveUnknownNotificationTypeIgnored(t *testing.T) {
	srv, _, jobs := newTestServer(nil)
	body := `{"notificationType": "SOMETHING_ELSE", "resourceType": "calendar", "notification": {}}`
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ocm/notifications", strings.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if len(jobs.scheduled) != 0 {
		t.Errorf("jobs scheduled = %d, want 0", len(jobs.scheduled))
	}
}

func TestDAVMountStripsPrefix(t *testing.T) {
	srv, _, _ := newTestServer(nil)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dav/remote-calendars/x/y_shared_by_z", nil))
	if w.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want the stub handler's 418", w.Code)
	}
}
