package federation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fedcal/fedcal/internal/identity"
	"github.com/fedcal/fedcal/internal/store"
)

func seedSyncedRecord(t *testing.T, repo *fakeFedCalRepo, token int64) *store.FederatedCalendar {
	t.Helper()
	id, err := repo.Replace(context.Background(), store.FederatedCalendar{
		Principal:      "sharee1",
		LocalName:      "abc123",
		RemoteURL:      "https://nextcloud.host/remote.php/dav/remote-calendars/enc/cal1_shared_by_host1",
		SharedSecret:   "s3cret",
		SharerIdentity: "host1@nextcloud.host",
		Permissions:    PermRead,
		SyncToken:      token,
	})
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return repo.records[id]
}

func newEngine(repo *fakeFedCalRepo, puller *fakePuller, now time.Time) *SyncEngine {
	return &SyncEngine{
		Calendars:  repo,
		Puller:     puller,
		ServerHost: "nextcloud.local",
		Now:        func() time.Time { return now },
	}
}

func TestSyncOneAdvancesToken(t *testing.T) {
	repo := newFakeFedCalRepo()
	rec := seedSyncedRecord(t, repo, 100)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	puller := &fakePuller{token: SyncTokenPrefix + "101", changed: 10}
	engine := newEngine(repo, puller, now)

	changed, err := engine.SyncOne(context.Background(), rec)
	if err != nil {
		t.Fatalf("SyncOne: %v", err)
	}
	if changed != 10 {
		t.Errorf("changed = %d, want 10", changed)
	}
	if rec.SyncToken != 101 {
		t.Errorf("sync token = %d, want 101", rec.SyncToken)
	}
	if rec.LastSyncedAt == nil || !rec.LastSyncedAt.Equal(now) {
		t.Errorf("last synced = %v, want %v", rec.LastSyncedAt, now)
	}
	if repo.updateSyncCalls != 1 || repo.touchSyncedCalls != 0 {
		t.Errorf("persist calls = %d/%d, want 1 update, 0 touches", repo.updateSyncCalls, repo.touchSyncedCalls)
	}

	// Credentials of the outbound pull: encoded own identity + share secret,
	// prior token in wire form.
	pull := puller.pulls[0]
	if pull.Username != identity.EncodeSegment("sharee1@nextcloud.local") {
		t.Errorf("pull username = %q", pull.Username)
	}
	if pull.Password != "s3cret" {
		t.Errorf("pull password = %q", pull.Password)
	}
	if pull.SyncToken != SyncTokenPrefix+"100" {
		t.Errorf("pull token = %q", pull.SyncToken)
	}
}

func TestSyncOneInitialSyncSentinel(t *testing.T) {
	repo := newFakeFedCalRepo()
	rec := seedSyncedRecord(t, repo, 0)
	puller := &fakePuller{token: SyncTokenPrefix + "55", changed: 3}
	engine := newEngine(repo, puller, time.Now())

	if _, err := engine.SyncOne(context.Background(), rec); err != nil {
		t.Fatalf("SyncOne: %v", err)
	}
	if got := puller.pulls[0].SyncToken; got != SyncTokenPrefix+"0" {
		t.Errorf("initial pull token = %q, want sentinel %q", got, SyncTokenPrefix+"0")
	}
	if rec.SyncToken != 55 {
		t.Errorf("sync token = %d, want 55", rec.SyncToken)
	}
}

func TestSyncOneNoopOnlyTouchesTimestamp(t *testing.T) {
	repo := newFakeFedCalRepo()
	rec := seedSyncedRecord(t, repo, 100)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	puller := &fakePuller{token: SyncTokenPrefix + "100", changed: 0}
	engine := newEngine(repo, puller, now)

	changed, err := engine.SyncOne(context.Background(), rec)
	if err != nil {
		t.Fatalf("SyncOne: %v", err)
	}
	if changed != 0 {
		t.Errorf("changed = %d, want 0", changed)
	}
	if rec.SyncToken != 100 {
		t.Errorf("token moved on a no-op: %d", rec.SyncToken)
	}
	if rec.LastSyncedAt == nil || !rec.LastSyncedAt.Equal(now) {
		t.Error("no-op sync must still advance lastSyncedAt")
	}
	if repo.updateSyncCalls != 0 || repo.touchSyncedCalls != 1 {
		t.Errorf("persist calls = %d/%d, want 0 updates, 1 touch", repo.updateSyncCalls, repo.touchSyncedCalls)
	}
}

func TestSyncOneSameTokenWithChangesPersists(t *testing.T) {
	repo := newFakeFedCalRepo()
	rec := seedSyncedRecord(t, repo, 100)
	puller := &fakePuller{token: SyncTokenPrefix + "100", changed: 2}
	engine := newEngine(repo, puller, time.Now())

	changed, err := engine.SyncOne(context.Background(), rec)
	if err != nil {
		t.Fatalf("SyncOne: %v", err)
	}
	if changed != 2 {
		t.Errorf("changed = %d, want 2", changed)
	}
	if repo.updateSyncCalls != 1 {
		t.Error("non-zero change count must persist sync state")
	}
}

func TestSyncOneMalformedTokenIsTrueNoop(t *testing.T) {
	for _, token := range []string{
		"",
		SyncTokenPrefix,
		SyncTokenPrefix + "xyz",
		"https://evil.example/sync/5",
	} {
		repo := newFakeFedCalRepo()
		rec := seedSyncedRecord(t, repo, 100)
		before := *rec
		puller := &fakePuller{token: token, changed: 7}
		engine := newEngine(repo, puller, time.Now())

		changed, err := engine.SyncOne(context.Background(), rec)
		if err != nil {
			t.Fatalf("malformed token must not error the job, got %v", err)
		}
		if changed != 0 {
			t.Errorf("changed = %d, want 0 for token %q", changed, token)
		}
		if repo.updateSyncCalls != 0 || repo.touchSyncedCalls != 0 {
			t.Errorf("malformed token %q must persist nothing", token)
		}
		if rec.SyncToken != before.SyncToken || rec.LastSyncedAt != before.LastSyncedAt {
			t.Errorf("record mutated on malformed token %q", token)
		}
	}
}

func TestSyncOnePullErrorPropagates(t *testing.T) {
	repo := newFakeFedCalRepo()
	rec := seedSyncedRecord(t, repo, 100)
	pullErr := errors.New("remote unreachable")
	engine := newEngine(repo, &fakePuller{err: pullErr}, time.Now())

	if _, err := engine.SyncOne(context.Background(), rec); !errors.Is(err, pullErr) {
		t.Errorf("expected pull error to propagate, got %v", err)
	}
	if repo.updateSyncCalls != 0 || repo.touchSyncedCalls != 0 {
		t.Error("failed pull must persist nothing")
	}
}
