package rbac

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAccessDenied matches every *AccessDeniedError
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidRoleConfiguration matches every *InvalidRoleError
	ErrInvalidRoleConfiguration = errors.New("invalid role configuration")

	// ErrNotMember is returned by a RoleStore when no membership row exists
	ErrNotMember = errors.New("not a member of organization")
)

// AccessContext is the caller's resolved identity within one organization.
// It lives for a single request and is never persisted.
type AccessContext struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Role   Role   `json:"role"`
}

// HasPermission reports whether the caller's role grants permission
func (a *AccessContext) HasPermission(permission Permission) bool {
	return RoleHasPermission(a.Role, permission)
}

// IsAtLeast reports whether the caller's role ranks at or above minRole
func (a *AccessContext) IsAtLeast(minRole Role) bool {
	return RoleAtLeast(a.Role, minRole)
}

// Permissions returns the caller's effective permissions
func (a *AccessContext) Permissions() []Permission {
	return PermissionsFor(a.Role)
}

// Requirement is what a caller must satisfy. Zero fields are not checked.
type Requirement struct {
	MinRole    Role
	Permission Permission
}

// DenialReason identifies why access was refused
type DenialReason string

const (
	DenialNotMember         DenialReason = "not_member"
	DenialInsufficientRole  DenialReason = "insufficient_role"
	DenialMissingPermission DenialReason = "missing_permission"
)

// AccessDeniedError is returned when the caller may not act on the organization.
// A missing organization and a missing membership produce the same error.
type AccessDeniedError struct {
	OrgID              string
	UserID             string
	Reason             DenialReason
	RequiredRole       Role
	RequiredPermission Permission
}

// Error returns the client-safe message
func (e *AccessDeniedError) Error() string {
	switch e.Reason {
	case DenialInsufficientRole:
		return fmt.Sprintf("This action requires %s role or higher", e.RequiredRole)
	case DenialMissingPermission:
		return "You don't have permission to perform this action"
	default:
		return "Access denied"
	}
}

// Is lets errors.Is(err, ErrAccessDenied) match
func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// StatusCode returns the HTTP status for a denial
func (e *AccessDeniedError) StatusCode() int {
	return http.StatusForbidden
}

// InvalidRoleError is returned when a membership row holds a role value
// outside the known roles. Error() never includes the stored value.
type InvalidRoleError struct {
	OrgID  string
	UserID string
	Value  string
}

func (e *InvalidRoleError) Error() string {
	return "Invalid role configuration"
}

// Is lets errors.Is(err, ErrInvalidRoleConfiguration) match
func (e *InvalidRoleError) Is(target error) bool {
	return target == ErrInvalidRoleConfiguration
}

// StatusCode returns the HTTP status for a corrupted membership
func (e *InvalidRoleError) StatusCode() int {
	return http.StatusInternalServerError
}
