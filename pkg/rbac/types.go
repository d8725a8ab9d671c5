package rbac

import (
	"errors"
	"fmt"
	"sort"
)

// Role represents a member's role within an organization
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Permission represents a capability that can be granted to a role
type Permission string

const (
	PermOrgDelete Permission = "org:delete"
	PermOrgUpdate Permission = "org:update"
	PermOrgView   Permission = "org:view"

	PermBillingManage Permission = "billing:manage"
	PermBillingView   Permission = "billing:view"

	PermMembersManage Permission = "members:manage"
	PermMembersInvite Permission = "members:invite"
	PermMembersView   Permission = "members:view"

	PermAgentsCreate    Permission = "agents:create"
	PermAgentsDeleteAny Permission = "agents:delete_any"
	PermAgentsDeleteOwn Permission = "agents:delete_own"
	PermAgentsUpdateAny Permission = "agents:update_any"
	PermAgentsUpdateOwn Permission = "agents:update_own"
	PermAgentsView      Permission = "agents:view"
	PermAgentsRun       Permission = "agents:run"

	PermThreadsCreate    Permission = "threads:create"
	PermThreadsDeleteAny Permission = "threads:delete_any"
	PermThreadsDeleteOwn Permission = "threads:delete_own"
	PermThreadsView      Permission = "threads:view"

	PermSettingsUpdate Permission = "settings:update"
	PermSettingsView   Permission = "settings:view"
)

// ErrUnknownRole is returned when a stored role is not one of the four known roles
var ErrUnknownRole = errors.New("unknown role")

var allPermissions = []Permission{
	PermOrgDelete, PermOrgUpdate, PermOrgView,
	PermBillingManage, PermBillingView,
	PermMembersManage, PermMembersInvite, PermMembersView,
	PermAgentsCreate, PermAgentsDeleteAny, PermAgentsDeleteOwn,
	PermAgentsUpdateAny, PermAgentsUpdateOwn, PermAgentsView, PermAgentsRun,
	PermThreadsCreate, PermThreadsDeleteAny, PermThreadsDeleteOwn, PermThreadsView,
	PermSettingsUpdate, PermSettingsView,
}

var roleRanks = map[Role]int{
	RoleOwner:  4,
	RoleAdmin:  3,
	RoleMember: 2,
	RoleViewer: 1,
}

// rolePermissions lists each role's grants explicitly. Rank does not imply
// permissions: admins outrank members yet lack billing:manage and org:delete.
var rolePermissions = map[Role]map[Permission]struct{}{
	RoleOwner: permissionSet(allPermissions...),
	RoleAdmin: permissionSet(
		PermOrgUpdate, PermOrgView,
		PermBillingView,
		PermMembersManage, PermMembersInvite, PermMembersView,
		PermAgentsCreate, PermAgentsDeleteAny, PermAgentsDeleteOwn,
		PermAgentsUpdateAny, PermAgentsUpdateOwn, PermAgentsView, PermAgentsRun,
		PermThreadsCreate, PermThreadsDeleteAny, PermThreadsDeleteOwn, PermThreadsView,
		PermSettingsUpdate, PermSettingsView,
	),
	RoleMember: permissionSet(
		PermOrgView,
		PermMembersView,
		PermAgentsCreate, PermAgentsDeleteOwn, PermAgentsUpdateOwn, PermAgentsView, PermAgentsRun,
		PermThreadsCreate, PermThreadsDeleteOwn, PermThreadsView,
		PermSettingsView,
	),
	RoleViewer: permissionSet(
		PermOrgView,
		PermMembersView,
		PermAgentsView,
		PermThreadsView,
		PermSettingsView,
	),
}

func permissionSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// ParseRole converts a stored role value into a Role. Matching is exact.
func ParseRole(raw string) (Role, error) {
	role := Role(raw)
	if _, ok := roleRanks[role]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return role, nil
}

// Rank returns the role's position in the hierarchy; 0 for unknown roles.
func (r Role) Rank() int {
	return roleRanks[r]
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r.Rank() > 0
}

func (r Role) String() string {
	return string(r)
}

// RoleHasPermission reports whether role is granted permission.
// Unknown roles have no permissions.
func RoleHasPermission(role Role, permission Permission) bool {
	_, ok := rolePermissions[role][permission]
	return ok
}

// RoleAtLeast reports whether role ranks at or above minRole.
// Unknown roles rank below every known role.
func RoleAtLeast(role, minRole Role) bool {
	return role.Rank() >= minRole.Rank() && role.Valid()
}

// PermissionsFor returns the role's permissions in sorted order.
func PermissionsFor(role Role) []Permission {
	set := rolePermissions[role]
	perms := make([]Permission, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// AllPermissions returns every known permission
func AllPermissions() []Permission {
	return append([]Permission(nil), allPermissions...)
}
