package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"gatehouse.org/internal/ids"
)

const uniqueViolation = "23505"

var _ UserStore = (*PGUserStore)(nil)

// PGUserStore implements UserStore using PostgreSQL.
//
// A user is one row in users with a unique index on email, so lookups by id
// and by email always resolve against the same committed row.
type PGUserStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db, now: time.Now}
}

const userColumns = `id, email, name, role, password_hash, permissions, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u     User
		role  string
		perms []byte
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.PasswordHash, &perms, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &u.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions for %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

func encodePermissions(perms []string) []byte {
	if perms == nil {
		perms = []string{}
	}
	b, _ := json.Marshal(perms)
	return b
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyExists
	}
	return err
}

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	if u == nil {
		return ErrInvalidInput
	}
	c := u.Clone()
	if err := validateNewUser(c); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	now := s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`insert into users(`+userColumns+`) values($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.Email, c.Name, string(c.Role), c.PasswordHash, encodePermissions(c.Permissions), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return mapWriteErr(err)
	}
	*u = *c
	return nil
}

func (s *PGUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email=$1`, NormalizeEmail(email))
	return scanUser(row)
}

func (s *PGUserStore) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	u, err := scanUser(tx.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1 for update`, id))
	if err != nil {
		return nil, err
	}
	if err := applyUpdate(u, upd); err != nil {
		return nil, err
	}
	u.UpdatedAt = s.now().UTC()
	_, err = tx.ExecContext(ctx,
		`update users set email=$2, name=$3, role=$4, password_hash=$5, permissions=$6, updated_at=$7 where id=$1`,
		u.ID, u.Email, u.Name, string(u.Role), u.PasswordHash, encodePermissions(u.Permissions), u.UpdatedAt,
	)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, mapWriteErr(err)
	}
	return u, nil
}

func (s *PGUserStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id=$1`, id)
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

func (s *PGUserStore) HasAdmin(ctx context.Context) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `select exists(select 1 from users where role=$1)`, string(RoleAdmin)).Scan(&ok)
	return ok, err
}

func (s *PGUserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PGUserStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&n)
	return n, err
}
