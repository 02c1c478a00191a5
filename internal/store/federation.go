package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// federatedCalendarRepo implements FederatedCalendarRepository.
type federatedCalendarRepo struct {
	pool *pgxpool.Pool
}

const federatedCalendarColumns = `id, principal, local_name, remote_url, display_name, color, components,
	shared_secret, sharer_identity, sharer_display_name, permissions, sync_token, last_synced_at, created_at`

func scanFederatedCalendar(row pgx.Row) (*FederatedCalendar, error) {
	var c FederatedCalendar
	err := row.Scan(&c.ID, &c.Principal, &c.LocalName, &c.RemoteURL, &c.DisplayName, &c.Color, &c.Components,
		&c.SharedSecret, &c.SharerIdentity, &c.SharerDisplayName, &c.Permissions, &c.SyncToken, &c.LastSyncedAt, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *federatedCalendarRepo) Replace(ctx context.Context, rec FederatedCalendar) (uuid.UUID, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	// Delete-then-insert inside one transaction: a concurrent reader either
	// sees the old record or the new one, never neither. The cascade drops
	// the old record's mirrored objects.
	if _, err := tx.Exec(ctx, `
		DELETE FROM federated_calendar
		WHERE principal = $1 AND local_name = $2
	`, rec.Principal, rec.LocalName); err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO federated_calendar (principal, local_name, remote_url, display_name, color, components,
			shared_secret, sharer_identity, sharer_display_name, permissions, sync_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, rec.Principal, rec.LocalName, rec.RemoteURL, rec.DisplayName, rec.Color, rec.Components,
		rec.SharedSecret, rec.SharerIdentity, rec.SharerDisplayName, rec.Permissions, rec.SyncToken).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *federatedCalendarRepo) GetByID(ctx context.Context, id uuid.UUID) (*FederatedCalendar, error) {
	return scanFederatedCalendar(r.pool.QueryRow(ctx,
		`SELECT `+federatedCalendarColumns+` FROM federated_calendar WHERE id = $1`, id))
}

func (r *federatedCalendarRepo) ListByPrincipal(ctx context.Context, principal string) ([]FederatedCalendar, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+federatedCalendarColumns+` FROM federated_calendar WHERE principal = $1 ORDER BY local_name`, principal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFederatedCalendars(rows)
}

func (r *federatedCalendarRepo) FindForNotification(ctx context.Context, remoteURL, principal, secret string) ([]FederatedCalendar, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+federatedCalendarColumns+`
		FROM federated_calendar
		WHERE remote_url = $1 AND principal = $2 AND shared_secret = $3
	`, remoteURL, principal, secret)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFederatedCalendars(rows)
}

func collectFederatedCalendars(rows pgx.Rows) ([]FederatedCalendar, error) {
	var recs []FederatedCalendar
	for rows.Next() {
		var c FederatedCalendar
		if err := rows.Scan(&c.ID, &c.Principal, &c.LocalName, &c.RemoteURL, &c.DisplayName, &c.Color, &c.Components,
			&c.SharedSecret, &c.SharerIdentity, &c.SharerDisplayName, &c.Permissions, &c.SyncToken, &c.LastSyncedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, c)
	}
	return recs, rows.Err()
}

func (r *federatedCalendarRepo) UpdateSyncState(ctx context.Context, id uuid.UUID, token int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE federated_calendar
		SET sync_token = $2, last_synced_at = $3
		WHERE id = $1
	`, id, token, at)
	return err
}

func (r *federatedCalendarRepo) TouchSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE federated_calendar SET last_synced_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *federatedCalendarRepo) UpdatePresentation(ctx context.Context, id uuid.UUID, displayName, color *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE federated_calendar
		SET display_name = COALESCE($2, display_name),
		    color        = COALESCE($3, color)
		WHERE id = $1
	`, id, displayName, color)
	return err
}

func (r *federatedCalendarRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM federated_calendar WHERE id = $1`, id)
	return err
}

// federatedObjectRepo implements FederatedObjectRepository.
type federatedObjectRepo struct {
	pool *pgxpool.Pool
}

func (r *federatedObjectRepo) Get(ctx context.Context, calendarID uuid.UUID, uri string) (*FederatedObject, error) {
	var o FederatedObject
	err := r.pool.QueryRow(ctx, `
		SELECT id, federated_calendar_id, uri, uid, etag, data, last_modified
		FROM federated_calendar_object
		WHERE federated_calendar_id = $1 AND uri = $2
	`, calendarID, uri).Scan(&o.ID, &o.CalendarID, &o.URI, &o.UID, &o.ETag, &o.Data, &o.LastModified)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (r *federatedObjectRepo) List(ctx context.Context, calendarID uuid.UUID) ([]FederatedObject, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, federated_calendar_id, uri, uid, etag, data, last_modified
		FROM federated_calendar_object
		WHERE federated_calendar_id = $1
		ORDER BY uri
	`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objs []FederatedObject
	for rows.Next() {
		var o FederatedObject
		if err := rows.Scan(&o.ID, &o.CalendarID, &o.URI, &o.UID, &o.ETag, &o.Data, &o.LastModified); err != nil {
			return nil, err
		}
		objs = append(objs, o)
	}
	return objs, rows.Err()
}

func (r *federatedObjectRepo) Upsert(ctx context.Context, obj FederatedObject) (*FederatedObject, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO federated_calendar_object (federated_calendar_id, uri, uid, etag, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (federated_calendar_id, uri) DO UPDATE SET
			uid           = EXCLUDED.uid,
			etag          = EXCLUDED.etag,
			data          = EXCLUDED.data,
			last_modified = now()
		RETURNING id, last_modified
	`, obj.CalendarID, obj.URI, obj.UID, obj.ETag, obj.Data).Scan(&obj.ID, &obj.LastModified)
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

func (r *federatedObjectRepo) Delete(ctx context.Context, calendarID uuid.UUID, uri string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM federated_calendar_object
		WHERE federated_calendar_id = $1 AND uri = $2
	`, calendarID, uri)
	return err
}
