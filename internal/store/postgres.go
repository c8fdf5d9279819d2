package store

import (
	"context"
	"database/sql"

	"vidyahub.org/internal/ids"
)

var _ UserStore = (*PGUserStore)(nil)

const userColumns = `id, organization_id, role, full_name, coalesce(phone,''), coalesce(username,''),
	coalesce(email,''), coalesce(password_hash,''), coalesce(parent_id,''), is_active, created_at, updated_at`

// PGUserStore implements UserStore on PostgreSQL.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.OrganizationID, &u.Role, &u.FullName, &u.Phone, &u.Username,
		&u.Email, &u.PasswordHash, &u.ParentID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *PGUserStore) FindActive(ctx context.Context, id string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where id=$1 and is_active order by created_at`, id)
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

func (s *PGUserStore) FindActiveByPhone(ctx context.Context, phone string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where phone=$1 and is_active`, phone)
	return scanUser(row)
}

func (s *PGUserStore) FindActiveByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username=$1 and is_active`, username)
	return scanUser(row)
}

func (s *PGUserStore) ActiveChildren(ctx context.Context, parentID, organizationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id from users where parent_id=$1 and organization_id=$2 and is_active`,
		parentID, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		children = append(children, id)
	}
	return children, rows.Err()
}

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, organization_id, role, full_name, phone, username, email, password_hash, parent_id, is_active)
		 values($1,$2,$3,$4,nullif($5,''),nullif($6,''),nullif($7,''),nullif($8,''),nullif($9,''),$10)`,
		u.ID, u.OrganizationID, u.Role, u.FullName, u.Phone, u.Username, u.Email, u.PasswordHash, u.ParentID, u.IsActive,
	)
	return err
}

func (s *PGUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
