package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// userRepo implements UserRepository.
type userRepo struct {
	pool *pgxpool.Pool
}

func (r *userRepo) GetByUID(ctx context.Context, uid string) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `
		SELECT id, uid, display_name, created_at
		FROM app_user
		WHERE uid = $1
	`, uid).Scan(&u.ID, &u.UID, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) Create(ctx context.Context, user User) (*User, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO app_user (uid, display_name)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, user.UID, user.DisplayName).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// calendarRepo implements CalendarRepository.
type calendarRepo struct {
	pool *pgxpool.Pool
}

const calendarColumns = `id, owner_uid, uri, display_name, color, components, sync_seq, created_at`

func scanCalendar(row pgx.Row) (*Calendar, error) {
	var c Calendar
	err := row.Scan(&c.ID, &c.OwnerUID, &c.URI, &c.DisplayName, &c.Color, &c.Components, &c.SyncSeq, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *calendarRepo) GetByID(ctx context.Context, id uuid.UUID) (*Calendar, error) {
	return scanCalendar(r.pool.QueryRow(ctx,
		`SELECT `+calendarColumns+` FROM calendar WHERE id = $1`, id))
}

func (r *calendarRepo) GetByOwnerAndURI(ctx context.Context, ownerUID, uri string) (*Calendar, error) {
	return scanCalendar(r.pool.QueryRow(ctx,
		`SELECT `+calendarColumns+` FROM calendar WHERE owner_uid = $1 AND uri = $2`, ownerUID, uri))
}

func (r *calendarRepo) ListByOwner(ctx context.Context, ownerUID string) ([]Calendar, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+calendarColumns+` FROM calendar WHERE owner_uid = $1 ORDER BY uri`, ownerUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cals []Calendar
	for rows.Next() {
		var c Calendar
		if err := rows.Scan(&c.ID, &c.OwnerUID, &c.URI, &c.DisplayName, &c.Color, &c.Components, &c.SyncSeq, &c.CreatedAt); err != nil {
			return nil, err
		}
		cals = append(cals, c)
	}
	return cals, rows.Err()
}

func (r *calendarRepo) Create(ctx context.Context, cal Calendar) (*Calendar, error) {
	if cal.Components == "" {
		cal.Components = "VEVENT"
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO calendar (owner_uid, uri, display_name, color, components)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, sync_seq, created_at
	`, cal.OwnerUID, cal.URI, cal.DisplayName, cal.Color, cal.Components).
		Scan(&cal.ID, &cal.SyncSeq, &cal.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &cal, nil
}

// calendarObjectRepo implements CalendarObjectRepository.
type calendarObjectRepo struct {
	pool *pgxpool.Pool
}

func (r *calendarObjectRepo) Get(ctx context.Context, calendarID uuid.UUID, uri string) (*CalendarObject, error) {
	var o CalendarObject
	err := r.pool.QueryRow(ctx, `
		SELECT id, calendar_id, uri, uid, etag, data, deleted_at, updated_seq, last_modified
		FROM calendar_object
		WHERE calendar_id = $1 AND uri = $2 AND deleted_at IS NULL
	`, calendarID, uri).Scan(&o.ID, &o.CalendarID, &o.URI, &o.UID, &o.ETag, &o.Data, &o.DeletedAt, &o.UpdatedSeq, &o.LastModified)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (r *calendarObjectRepo) List(ctx context.Context, calendarID uuid.UUID) ([]CalendarObject, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, calendar_id, uri, uid, etag, data, deleted_at, updated_seq, last_modified
		FROM calendar_object
		WHERE calendar_id = $1 AND deleted_at IS NULL
		ORDER BY uri
	`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objs []CalendarObject
	for rows.Next() {
		var o CalendarObject
		if err := rows.Scan(&o.ID, &o.CalendarID, &o.URI, &o.UID, &o.ETag, &o.Data, &o.DeletedAt, &o.UpdatedSeq, &o.LastModified); err != nil {
			return nil, err
		}
		objs = append(objs, o)
	}
	return objs, rows.Err()
}

func (r *calendarObjectRepo) Put(ctx context.Context, calendarID uuid.UUID, uri, uid, etag, data string) (*CalendarObject, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE calendar SET sync_seq = sync_seq + 1 WHERE id = $1 RETURNING sync_seq`,
		calendarID).Scan(&seq); err != nil {
		return nil, err
	}

	var o CalendarObject
	err = tx.QueryRow(ctx, `
		INSERT INTO calendar_object (calendar_id, uri, uid, etag, data, updated_seq)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (calendar_id, uri) DO UPDATE SET
			uid           = EXCLUDED.uid,
			etag          = EXCLUDED.etag,
			data          = EXCLUDED.data,
			deleted_at    = NULL,
			updated_seq   = EXCLUDED.updated_seq,
			last_modified = now()
		RETURNING id, calendar_id, uri, uid, etag, data, deleted_at, updated_seq, last_modified
	`, calendarID, uri, uid, etag, data, seq).
		Scan(&o.ID, &o.CalendarID, &o.URI, &o.UID, &o.ETag, &o.Data, &o.DeletedAt, &o.UpdatedSeq, &o.LastModified)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *calendarObjectRepo) Delete(ctx context.Context, calendarID uuid.UUID, uri string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE calendar SET sync_seq = sync_seq + 1 WHERE id = $1 RETURNING sync_seq`,
		calendarID).Scan(&seq); err != nil {
		return err
	}

	// Tombstone rather than remove so sync-collection deltas can report it.
	if _, err := tx.Exec(ctx, `
		UPDATE calendar_object
		SET deleted_at = now(), updated_seq = $3
		WHERE calendar_id = $1 AND uri = $2 AND deleted_at IS NULL
	`, calendarID, uri, seq); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *calendarObjectRepo) ChangesSince(ctx context.Context, calendarID uuid.UUID, since int64) ([]ObjectChange, int64, error) {
	// Read the counter first so the issued token never claims changes the
	// delta below does not contain.
	var seq int64
	if err := r.pool.QueryRow(ctx,
		`SELECT sync_seq FROM calendar WHERE id = $1`, calendarID).Scan(&seq); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT uri, etag, deleted_at IS NOT NULL
		FROM calendar_object
		WHERE calendar_id = $1 AND updated_seq > $2 AND updated_seq <= $3
		ORDER BY updated_seq
	`, calendarID, since, seq)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var changes []ObjectChange
	for rows.Next() {
		var c ObjectChange
		if err := rows.Scan(&c.URI, &c.ETag, &c.Deleted); err != nil {
			return nil, 0, err
		}
		changes = append(changes, c)
	}
	return changes, seq, rows.Err()
}

// outgoingShareRepo implements OutgoingShareRepository.
type outgoingShareRepo struct {
	pool *pgxpool.Pool
}

func (r *outgoingShareRepo) Replace(ctx context.Context, share OutgoingShare) (*OutgoingShare, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM calendar_outgoing_share
		WHERE calendar_id = $1 AND remote_principal = $2
	`, share.CalendarID, share.RemotePrincipal); err != nil {
		return nil, err
	}

	if share.ShareType == "" {
		share.ShareType = "calendar"
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO calendar_outgoing_share (calendar_id, share_type, access, remote_principal, shared_secret)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, share.CalendarID, share.ShareType, share.Access, share.RemotePrincipal, share.SharedSecret).
		Scan(&share.ID, &share.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &share, nil
}

func (r *outgoingShareRepo) FindGrants(ctx context.Context, remotePrincipal, secret string) ([]ShareGrant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, c.uri, c.owner_uid
		FROM calendar_outgoing_share s
		JOIN calendar c ON c.id = s.calendar_id
		WHERE s.remote_principal = $1 AND s.shared_secret = $2
	`, remotePrincipal, secret)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []ShareGrant
	for rows.Next() {
		var g ShareGrant
		if err := rows.Scan(&g.ShareID, &g.CalendarURI, &g.OwnerUID); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (r *outgoingShareRepo) ListByCalendar(ctx context.Context, calendarID uuid.UUID) ([]OutgoingShare, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, calendar_id, share_type, access, remote_principal, shared_secret, created_at
		FROM calendar_outgoing_share
		WHERE calendar_id = $1
		ORDER BY created_at
	`, calendarID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []OutgoingShare
	for rows.Next() {
		var s OutgoingShare
		if err := rows.Scan(&s.ID, &s.CalendarID, &s.ShareType, &s.Access, &s.RemotePrincipal, &s.SharedSecret, &s.CreatedAt); err != nil {
			return nil, err
		}
		shares = append(shares, s)
	}
	return shares, rows.Err()
}
