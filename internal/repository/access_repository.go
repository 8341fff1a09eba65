package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// AccessRepository answers read-only roster questions. Granting and revoking
// collaboration lives elsewhere.
type AccessRepository interface {
	CanAccess(ctx context.Context, callerID, ownerID string) (bool, error)
	AccessibleOwners(ctx context.Context, callerID string) ([]string, error)
	Members(ctx context.Context, ownerID string) ([]string, error)
	DisplayName(ctx context.Context, userID string) (string, error)
}

type sqlAccessRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLAccessRepository(db *sql.DB, dialect Dialect) AccessRepository {
	return &sqlAccessRepository{db: db, dialect: dialect}
}

func (r *sqlAccessRepository) CanAccess(ctx context.Context, callerID, ownerID string) (bool, error) {
	if callerID == "" || ownerID == "" {
		return false, nil
	}
	if callerID == ownerID {
		return true, nil
	}
	var n int
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(`
		SELECT COUNT(*) FROM list_collaborators WHERE owner_id=? AND member_id=?
	`), ownerID, callerID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check list access: %w", err)
	}
	return n > 0, nil
}

// AccessibleOwners returns the caller first, then every owner that shared a
// list with the caller.
func (r *sqlAccessRepository) AccessibleOwners(ctx context.Context, callerID string) ([]string, error) {
	owners, err := r.column(ctx, `SELECT owner_id FROM list_collaborators WHERE member_id=?`, callerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accessible owners: %w", err)
	}
	return withSelfFirst(callerID, owners), nil
}

func (r *sqlAccessRepository) Members(ctx context.Context, ownerID string) ([]string, error) {
	members, err := r.column(ctx, `SELECT member_id FROM list_collaborators WHERE owner_id=?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collaborators: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

func (r *sqlAccessRepository) DisplayName(ctx context.Context, userID string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(`SELECT display_name FROM users WHERE id=?`), userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load display name: %w", err)
	}
	return name, nil
}

func (r *sqlAccessRepository) column(ctx context.Context, query string, arg string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func withSelfFirst(callerID string, owners []string) []string {
	sort.Strings(owners)
	out := []string{callerID}
	for _, o := range owners {
		if o != callerID && (len(out) == 0 || out[len(out)-1] != o) {
			out = append(out, o)
		}
	}
	return out
}
