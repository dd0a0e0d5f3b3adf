// organization_repository.go implements OrganizationRepository, providing database queries
// for filtered organization listing, administration, and membership management.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/orgdirectory/orgdirectory/internal/db/models"
	"github.com/orgdirectory/orgdirectory/pkg/paging"
)

// ErrDuplicateKey is returned by Create when another organization already uses the key
var ErrDuplicateKey = errors.New("organization key already exists")

// uniqueViolation is the postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

const organizationColumns = `o.uuid, o.org_key, o.name, o.description, o.url, o.avatar_url, o.guarded, o.created_at, o.updated_at`

// OrganizationFilter restricts which organizations a listing returns.
// A zero value matches every organization.
type OrganizationFilter struct {
	// Keys limits results to these organization keys when non-empty
	Keys []string
	// MemberID limits results to organizations this user belongs to when non-empty
	MemberID string
}

// OrganizationRepository handles database operations for organizations
type OrganizationRepository struct {
	db *sqlx.DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *sqlx.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// whereClause renders the filter as a WHERE clause over alias "o" with
// positional arguments starting at $1.
func (f OrganizationFilter) whereClause() (string, []interface{}) {
	var conds []string
	var args []interface{}

	if len(f.Keys) > 0 {
		args = append(args, pq.Array(f.Keys))
		conds = append(conds, fmt.Sprintf("o.org_key = ANY($%d)", len(args)))
	}
	if f.MemberID != "" {
		args = append(args, f.MemberID)
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM organization_members om WHERE om.organization_uuid = o.uuid AND om.user_id = $%d)",
			len(args)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// FindOrganizations returns every organization matching the filter, in no particular order
func (r *OrganizationRepository) FindOrganizations(ctx context.Context, filter OrganizationFilter) ([]*models.Organization, error) {
	where, args := filter.whereClause()
	query := `SELECT ` + organizationColumns + ` FROM organizations o` + where

	orgs := make([]*models.Organization, 0)
	if err := r.db.SelectContext(ctx, &orgs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to find organizations: %w", err)
	}
	return orgs, nil
}

// SearchOrganizationsPage counts the matching organizations and reads page
// pageIndex of them inside one read-only repeatable-read transaction, so the
// total and the page always describe the same snapshot. A page past the end
// is answered from the count alone.
func (r *OrganizationRepository) SearchOrganizationsPage(ctx context.Context, filter OrganizationFilter, pageIndex, pageSize int) ([]*models.Organization, int, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin search transaction: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	total, err := countOrganizations(ctx, tx, filter)
	if err != nil {
		return nil, 0, err
	}

	orgs := make([]*models.Organization, 0)
	if offset, limit := paging.Window(pageIndex, pageSize, total); limit > 0 {
		orgs, err = selectOrganizationsPage(ctx, tx, filter, offset, limit)
		if err != nil {
			return nil, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit search transaction: %w", err)
	}
	return orgs, total, nil
}

// countOrganizations returns how many organizations match the filter
func countOrganizations(ctx context.Context, q sqlx.QueryerContext, filter OrganizationFilter) (int, error) {
	where, args := filter.whereClause()
	query := `SELECT COUNT(*) FROM organizations o` + where

	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count organizations: %w", err)
	}
	return count, nil
}

// selectOrganizationsPage returns one window of the matching organizations,
// newest first with ties broken by key.
func selectOrganizationsPage(ctx context.Context, q sqlx.QueryerContext, filter OrganizationFilter, offset, limit int) ([]*models.Organization, error) {
	where, args := filter.whereClause()
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM organizations o%s
		ORDER BY o.created_at DESC, o.org_key ASC
		LIMIT $%d OFFSET $%d`, organizationColumns, where, len(args)-1, len(args))

	orgs := make([]*models.Organization, 0, limit)
	if err := sqlx.SelectContext(ctx, q, &orgs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return orgs, nil
}

// GetByKey retrieves an organization by its key
func (r *OrganizationRepository) GetByKey(ctx context.Context, key string) (*models.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations o WHERE o.org_key = $1`

	org := &models.Organization{}
	err := r.db.GetContext(ctx, org, query, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// Create inserts a new organization. UUID and both timestamps must already be set.
func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (uuid, org_key, name, description, url, avatar_url, guarded, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		org.UUID, org.Key, org.Name, org.Description, org.URL, org.AvatarURL,
		org.Guarded, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// Update writes the mutable attributes of an organization. The stored
// updated_at only moves forward; the value actually stored is written back to
// org.UpdatedAt. Returns false when no organization has that key.
func (r *OrganizationRepository) Update(ctx context.Context, org *models.Organization) (bool, error) {
	query := `
		UPDATE organizations
		SET name = $2, description = $3, url = $4, avatar_url = $5,
		    updated_at = GREATEST(updated_at, $6)
		WHERE org_key = $1
		RETURNING updated_at
	`

	var updatedAt time.Time
	err := r.db.QueryRowxContext(ctx, query,
		org.Key, org.Name, org.Description, org.URL, org.AvatarURL, org.UpdatedAt,
	).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to update organization: %w", err)
	}

	org.UpdatedAt = updatedAt
	return true, nil
}

// === Organization Membership Operations ===

// AddMember adds a user to an organization. Adding an existing member is a no-op.
func (r *OrganizationRepository) AddMember(ctx context.Context, member *models.OrganizationMember) error {
	query := `
		INSERT INTO organization_members (organization_uuid, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_uuid, user_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query, member.OrganizationUUID, member.UserID, member.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from an organization
func (r *OrganizationRepository) RemoveMember(ctx context.Context, orgUUID, userID string) error {
	query := `DELETE FROM organization_members WHERE organization_uuid = $1 AND user_id = $2`
	if _, err := r.db.ExecContext(ctx, query, orgUUID, userID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}
