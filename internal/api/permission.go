package api

import (
	"net/http"

	"ragcore/internal/domain"
	"ragcore/internal/ragerr"
)

// requireRole checks that the caller holds at least minRole on kbID. An
// admin-scoped API key carries implicit owner-level rights on every
// knowledge base in its tenant and skips the membership lookup entirely;
// anyone else needs an explicit Membership row at or above minRole.
func (s *Server) requireRole(r *http.Request, kbID string, minRole domain.MembershipRole) error {
	auth := authFromContext(r.Context())
	if auth.Scope == domain.ScopeAdmin {
		return nil
	}
	if auth.UserID == "" {
		return ragerr.New(ragerr.PermissionDenied, "membership_required", "this operation requires an authenticated user identity")
	}

	m, ok, err := s.relational.GetMembership(r.Context(), auth.UserID, kbID)
	if err != nil {
		return err
	}
	if !ok || !m.Role.Allows(minRole) {
		return ragerr.New(ragerr.PermissionDenied, "insufficient_role", "this operation requires at least "+string(minRole)+" access")
	}
	return nil
}
