package repository

import (
	"context"
	"fmt"

	"shoplist-sync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// couchAccessRepository reads the roster from CouchDB: one "user:<id>"
// document per account and one "collab:<owner>:<member>" document per grant.
type couchAccessRepository struct {
	client *kivik.Client
	dbName string
}

func NewCouchDBAccessRepository(client *kivik.Client, dbName string) AccessRepository {
	return &couchAccessRepository{
		client: client,
		dbName: dbName,
	}
}

func collaboratorDocID(ownerID, memberID string) string {
	return fmt.Sprintf("collab:%s:%s", ownerID, memberID)
}

func (r *couchAccessRepository) CanAccess(ctx context.Context, callerID, ownerID string) (bool, error) {
	if callerID == "" || ownerID == "" {
		return false, nil
	}
	if callerID == ownerID {
		return true, nil
	}

	db := r.client.DB(r.dbName)
	row := db.Get(ctx, collaboratorDocID(ownerID, callerID))

	var grant domain.Collaborator
	if err := row.ScanDoc(&grant); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return false, nil
		}
		return false, fmt.Errorf("failed to check list access: %w", err)
	}
	return grant.OwnerID == ownerID && grant.MemberID == callerID, nil
}

func (r *couchAccessRepository) AccessibleOwners(ctx context.Context, callerID string) ([]string, error) {
	grants, err := r.findGrants(ctx, map[string]interface{}{
		"type":      domain.CollaboratorDocType,
		"member_id": callerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list accessible owners: %w", err)
	}

	owners := make([]string, 0, len(grants))
	for _, g := range grants {
		owners = append(owners, g.OwnerID)
	}
	return withSelfFirst(callerID, owners), nil
}

func (r *couchAccessRepository) Members(ctx context.Context, ownerID string) ([]string, error) {
	grants, err := r.findGrants(ctx, map[string]interface{}{
		"type":     domain.CollaboratorDocType,
		"owner_id": ownerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list collaborators: %w", err)
	}

	members := make([]string, 0, len(grants))
	for _, g := range grants {
		members = append(members, g.MemberID)
	}
	return members, nil
}

func (r *couchAccessRepository) DisplayName(ctx context.Context, userID string) (string, error) {
	db := r.client.DB(r.dbName)
	row := db.Get(ctx, fmt.Sprintf("user:%s", userID))

	var user domain.User
	if err := row.ScanDoc(&user); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return "", nil
		}
		return "", fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user.Name(), nil
}

func (r *couchAccessRepository) findGrants(ctx context.Context, selector map[string]interface{}) ([]domain.Collaborator, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": selector,
		"limit":    1000,
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []domain.Collaborator
	for rows.Next() {
		var g domain.Collaborator
		if err := rows.ScanDoc(&g); err != nil {
			return nil, fmt.Errorf("failed to scan collaborator: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}
