package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Gate resolves the caller's access for one fixed requirement
type Gate func(ctx context.Context, orgID, userID string) (*AccessContext, error)

// Resolver turns (org, user) into an AccessContext with a single role lookup
type Resolver struct {
	store   RoleStore
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewResolver creates a resolver. metrics may be nil.
func NewResolver(store RoleStore, logger logrus.FieldLogger, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		store:   store,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer(observability.TracerName),
	}
}

// Resolve loads the caller's role in orgID and checks it against req.
//
// Errors:
//   - *AccessDeniedError when the caller is not a member or fails req
//   - *InvalidRoleError when the stored role is unknown
//   - a wrapped store error when the lookup itself fails
func (r *Resolver) Resolve(ctx context.Context, orgID, userID string, req Requirement) (*AccessContext, error) {
	ctx, span := r.tracer.Start(ctx, "rbac.Resolve", trace.WithAttributes(
		attribute.String("org.id", orgID),
		attribute.String("rbac.min_role", string(req.MinRole)),
		attribute.String("rbac.permission", string(req.Permission)),
	))
	defer span.End()

	logger := r.logger.WithFields(logrus.Fields{"org_id": orgID, "user_id": userID})

	raw, err := r.store.GetRole(ctx, orgID, userID)
	if errors.Is(err, ErrNotMember) {
		return nil, r.deny(span, logger, &AccessDeniedError{OrgID: orgID, UserID: userID, Reason: DenialNotMember})
	}
	if err != nil {
		r.metrics.RecordAccessDecision("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "role lookup failed")
		logger.WithError(err).Error("Failed to load organization role")
		return nil, fmt.Errorf("failed to resolve membership: %w", err)
	}

	role, err := ParseRole(raw)
	if err != nil {
		r.metrics.RecordAccessDecision("invalid_role")
		span.SetStatus(codes.Error, "invalid role configuration")
		logger.WithField("stored_role", raw).Error("Membership has an invalid role")
		return nil, &InvalidRoleError{OrgID: orgID, UserID: userID, Value: raw}
	}

	access := &AccessContext{UserID: userID, OrgID: orgID, Role: role}

	if req.MinRole != "" && !access.IsAtLeast(req.MinRole) {
		return nil, r.deny(span, logger, &AccessDeniedError{
			OrgID: orgID, UserID: userID, Reason: DenialInsufficientRole, RequiredRole: req.MinRole,
		})
	}
	if req.Permission != "" && !access.HasPermission(req.Permission) {
		return nil, r.deny(span, logger, &AccessDeniedError{
			OrgID: orgID, UserID: userID, Reason: DenialMissingPermission, RequiredPermission: req.Permission,
		})
	}

	r.metrics.RecordAccessDecision("allowed")
	span.SetAttributes(attribute.String("rbac.role", string(role)))
	return access, nil
}

func (r *Resolver) deny(span trace.Span, logger logrus.FieldLogger, err *AccessDeniedError) error {
	r.metrics.RecordAccessDecision("denied")
	span.SetAttributes(attribute.String("rbac.denial", string(err.Reason)))
	logger.WithField("reason", err.Reason).Debug("Access denied")
	return err
}

// RequireRole returns a gate that needs at least minRole
func (r *Resolver) RequireRole(minRole Role) Gate {
	req := Requirement{MinRole: minRole}
	return func(ctx context.Context, orgID, userID string) (*AccessContext, error) {
		return r.Resolve(ctx, orgID, userID, req)
	}
}

// RequirePermission returns a gate that needs permission
func (r *Resolver) RequirePermission(permission Permission) Gate {
	req := Requirement{Permission: permission}
	return func(ctx context.Context, orgID, userID string) (*AccessContext, error) {
		return r.Resolve(ctx, orgID, userID, req)
	}
}

// RequireViewer admits any member of the organization
func (r *Resolver) RequireViewer(ctx context.Context, orgID, userID string) (*AccessContext, error) {
	return r.Resolve(ctx, orgID, userID, Requirement{MinRole: RoleViewer})
}

// RequireMember admits members, admins and owners
func (r *Resolver) RequireMember(ctx context.Context, orgID, userID string) (*AccessContext, error) {
	return r.Resolve(ctx, orgID, userID, Requirement{MinRole: RoleMember})
}

// RequireAdmin admits admins and owners
func (r *Resolver) RequireAdmin(ctx context.Context, orgID, userID string) (*AccessContext, error) {
	return r.Resolve(ctx, orgID, userID, Requirement{MinRole: RoleAdmin})
}

// RequireOwner admits owners only
func (r *Resolver) RequireOwner(ctx context.Context, orgID, userID string) (*AccessContext, error) {
	return r.Resolve(ctx, orgID, userID, Requirement{MinRole: RoleOwner})
}

// MembershipAccess is one organization the user belongs to, with the
// permissions their role grants there
type MembershipAccess struct {
	OrgID       string       `json:"org_id"`
	OrgName     string       `json:"org_name"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}

// Memberships lists the user's organizations. Rows with an invalid stored
// role are logged and left out.
func (r *Resolver) Memberships(ctx context.Context, userID string) ([]MembershipAccess, error) {
	rows, err := r.store.ListMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	result := make([]MembershipAccess, 0, len(rows))
	for _, m := range rows {
		role, err := ParseRole(m.Role)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"org_id":      m.OrgID,
				"user_id":     userID,
				"stored_role": m.Role,
			}).Error("Membership has an invalid role")
			continue
		}
		result = append(result, MembershipAccess{
			OrgID:       m.OrgID,
			OrgName:     m.OrgName,
			Role:        role,
			Permissions: PermissionsFor(role),
		})
	}
	return result, nil
}
