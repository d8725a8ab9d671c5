package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Membership is a raw membership row. Role is the stored value, unparsed.
type Membership struct {
	OrgID   string
	OrgName string
	Role    string
}

// RoleStore reads organization memberships
type RoleStore interface {
	// GetRole returns the stored role value, or ErrNotMember
	GetRole(ctx context.Context, orgID, userID string) (string, error)
	// ListMemberships returns every organization the user belongs to
	ListMemberships(ctx context.Context, userID string) ([]Membership, error)
}

// PostgresRoleStore implements RoleStore over the organization_members table
type PostgresRoleStore struct {
	db *sql.DB
}

// NewPostgresRoleStore creates a new role store
func NewPostgresRoleStore(db *sql.DB) *PostgresRoleStore {
	return &PostgresRoleStore{db: db}
}

// GetRole returns the user's stored role in the organization
func (s *PostgresRoleStore) GetRole(ctx context.Context, orgID, userID string) (string, error) {
	query := `
		SELECT role
		FROM organization_members
		WHERE org_id = $1 AND user_id = $2
	`

	var role string
	err := s.db.QueryRowContext(ctx, query, orgID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotMember
	}
	if err != nil {
		return "", fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListMemberships returns the user's memberships ordered by organization name
func (s *PostgresRoleStore) ListMemberships(ctx context.Context, userID string) ([]Membership, error) {
	query := `
		SELECT m.org_id, o.name, m.role
		FROM organization_members m
		JOIN organizations o ON o.id = m.org_id
		WHERE m.user_id = $1
		ORDER BY o.name, m.org_id
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.OrgID, &m.OrgName, &m.Role); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}
	return memberships, nil
}
