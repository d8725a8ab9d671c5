// Package rbac implements organization-scoped role-based access control.
//
// # Roles
//
// Every organization member holds exactly one role:
//
//	owner  (4)  full control, including billing and deleting the organization
//	admin  (3)  everything except billing:manage and org:delete
//	member (2)  create, run and manage their own agents and threads
//	viewer (1)  read-only
//
// Rank and permissions are separate tables. Rank answers "is this role at
// least X", the permission table answers "may this role do Y". Neither is
// derived from the other.
//
// Stored role values are parsed with ParseRole. A value outside the four
// roles is a data integrity problem: Resolve logs it at error level and
// returns *InvalidRoleError, which the HTTP layer maps to a generic 500.
//
// # Resolving access
//
//	resolver := rbac.NewResolver(rbac.NewPostgresRoleStore(db), logger, metrics)
//
//	access, err := resolver.RequireAdmin(ctx, orgID, userID)
//	access, err := resolver.RequirePermission(rbac.PermBillingManage)(ctx, orgID, userID)
//
// A caller who is not a member gets the same "Access denied" error whether or
// not the organization exists.
//
// # HTTP
//
// Middleware.Require turns any Gate into mux middleware:
//
//	mw := rbac.NewMiddleware(logger)
//	router.Handle("/v1/organizations/{org_id}/billing",
//		mw.Require(resolver.RequirePermission(rbac.PermBillingManage))(handler))
//
// Denials answer 403 with the denial message, invalid roles answer 500.
package rbac
