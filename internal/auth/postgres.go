package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"flextraff.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

const pgUniqueViolation = "23505"

// PGStore implements Store using PostgreSQL via database/sql.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore       { return &pgUsers{db: s.db} }
func (s *PGStore) Grants() GrantStore     { return &pgGrants{db: s.db} }
func (s *PGStore) Sessions() SessionStore { return &pgSessions{db: s.db} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// User store ---------------------------------------------------------------
type pgUsers struct{ db *sql.DB }

const userColumns = `id, handle, password_digest, display_name, email, role, active, last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u         User
		email     sql.NullString
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Handle, &u.PasswordDigest, &u.DisplayName, &email,
		&u.Role, &u.Active, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if email.Valid {
		u.Email = email.String
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	var email sql.NullString
	if u.Email != "" {
		email = sql.NullString{String: u.Email, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, handle, password_digest, display_name, email, role, active, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, u.Handle, u.PasswordDigest, u.DisplayName, email, u.Role, u.Active, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateHandle
	}
	return err
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUsers) FindByHandle(ctx context.Context, handle string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(handle)=lower($1)`, handle))
}

func (s *pgUsers) Update(ctx context.Context, u *User) error {
	var email sql.NullString
	if u.Email != "" {
		email = sql.NullString{String: u.Email, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`update users set handle=$2, display_name=$3, email=$4, role=$5, active=$6, updated_at=$7 where id=$1`,
		u.ID, u.Handle, u.DisplayName, email, u.Role, u.Active, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateHandle
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgUsers) UpdatePassword(ctx context.Context, id, digest string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_digest=$2, updated_at=now() where id=$1`, id, digest)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgUsers) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login_at=$2 where id=$1`, id, at)
	return err
}

func (s *pgUsers) List(ctx context.Context, limit, offset int) ([]*User, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at, id limit $1 offset $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// Grant store --------------------------------------------------------------
type pgGrants struct{ db *sql.DB }

func (s *pgGrants) Upsert(ctx context.Context, g *JunctionGrant) error {
	_, err := s.db.ExecContext(ctx,
		`insert into junction_grants(user_id, junction_id, level, granted_by, granted_at)
		 values($1,$2,$3,$4,$5)
		 on conflict (user_id, junction_id)
		 do update set level=excluded.level, granted_by=excluded.granted_by, granted_at=excluded.granted_at`,
		g.UserID, g.JunctionID, g.Level, g.GrantedBy, g.GrantedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		// Foreign key: the user does not exist.
		return ErrNotFound
	}
	return err
}

func (s *pgGrants) Delete(ctx context.Context, userID string, junctionID int64) error {
	_, err := s.db.ExecContext(ctx,
		`delete from junction_grants where user_id=$1 and junction_id=$2`, userID, junctionID)
	return err
}

func (s *pgGrants) ListByUser(ctx context.Context, userID string) ([]JunctionGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`select user_id, junction_id, level, granted_by, granted_at
		 from junction_grants where user_id=$1 order by junction_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := []JunctionGrant{}
	for rows.Next() {
		var g JunctionGrant
		if err := rows.Scan(&g.UserID, &g.JunctionID, &g.Level, &g.GrantedBy, &g.GrantedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Session store ------------------------------------------------------------
type pgSessions struct{ db *sql.DB }

func (s *pgSessions) Create(ctx context.Context, sess *Session) error {
	var ip, ua sql.NullString
	if sess.ClientIP != "" {
		ip = sql.NullString{String: sess.ClientIP, Valid: true}
	}
	if sess.UserAgent != "" {
		ua = sql.NullString{String: sess.UserAgent, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, user_id, refresh_digest, issued_at, expires_at, active, client_ip, user_agent)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		sess.ID, sess.UserID, sess.RefreshDigest, sess.IssuedAt, sess.ExpiresAt, sess.Active, ip, ua,
	)
	return err
}

// Consume is the rotation point: the conditional update makes concurrent
// refreshes with the same token race for a single row, so exactly one wins.
func (s *pgSessions) Consume(ctx context.Context, refreshDigest string, now time.Time) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`update sessions set active=false, last_used_at=$2
		 where refresh_digest=$1 and active and expires_at > $2
		 returning id, user_id, refresh_digest, issued_at, expires_at, last_used_at, active`,
		refreshDigest, now,
	)
	var (
		sess     Session
		lastUsed sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.RefreshDigest, &sess.IssuedAt,
		&sess.ExpiresAt, &lastUsed, &sess.Active); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionRevoked
		}
		return nil, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		sess.LastUsedAt = &t
	}
	return &sess, nil
}

func (s *pgSessions) Revoke(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set active=false where id=$1`, sessionID)
	return err
}

func (s *pgSessions) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set active=false where user_id=$1 and active`, userID)
	return err
}
