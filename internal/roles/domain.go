package roles

import "time"

// Permission is one (resource, action) grant carried by a role.
type Permission struct {
	Resource string `json:"resource" validate:"required"`
	Action   string `json:"action" validate:"required"`
}

// Role is the catalog entity. Roles are keyed by (Namespace, Name).
type Role struct {
	Namespace    string       `json:"namespace"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	TenantID     string       `json:"tenantId,omitempty"`
	InheritsFrom []string     `json:"inheritsFrom"`
	Permissions  []Permission `json:"permissions"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy so callers cannot mutate catalog state.
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	cp := *r
	cp.InheritsFrom = append([]string(nil), r.InheritsFrom...)
	cp.Permissions = append([]Permission(nil), r.Permissions...)
	return &cp
}

// CreateRoleRequest is the payload for creating a role.
type CreateRoleRequest struct {
	Name         string       `json:"name" validate:"required"`
	Description  string       `json:"description"`
	TenantID     string       `json:"tenantId"`
	InheritsFrom []string     `json:"inheritsFrom"`
	Permissions  []Permission `json:"permissions" validate:"dive"`
}

// UpdateRoleRequest carries a partial update. Nil pointer fields are left
// unchanged; an explicit empty slice clears the field.
type UpdateRoleRequest struct {
	Description  *string       `json:"description"`
	TenantID     *string       `json:"tenantId"`
	InheritsFrom *[]string     `json:"inheritsFrom"`
	Permissions  *[]Permission `json:"permissions" validate:"omitempty,dive"`
}

// SyncStatus reports how the authorization backend sync went.
type SyncStatus string

const (
	// SyncSuccess means every tuple write and delete succeeded.
	SyncSuccess SyncStatus = "success"
	// SyncPartial means at least one tuple operation failed and was
	// recorded as a warning. The catalog commit stands regardless.
	SyncPartial SyncStatus = "partial"
)

// SyncResult aggregates the outcome of one sync pass.
type SyncResult struct {
	Status   SyncStatus `json:"status"`
	Warnings []string   `json:"warnings,omitempty"`
}

// Merge folds another result into this one.
func (s *SyncResult) Merge(other SyncResult) {
	if other.Status == SyncPartial {
		s.Status = SyncPartial
	}
	s.Warnings = append(s.Warnings, other.Warnings...)
}

// Warn records a failure as a non-fatal warning.
func (s *SyncResult) Warn(msg string) {
	s.Status = SyncPartial
	s.Warnings = append(s.Warnings, msg)
}

// MutationResult is the response for create, update, and delete.
type MutationResult struct {
	Role *Role      `json:"role"`
	Sync SyncResult `json:"syncStatus"`
}

// RoleDetails is the response for get: the catalog entity plus the
// backend's view of its effective permissions and inherited roles.
type RoleDetails struct {
	Role           *Role        `json:"role"`
	Permissions    []Permission `json:"permissions"`
	InheritedRoles []string     `json:"inheritedRoles"`
	Warnings       []string     `json:"warnings,omitempty"`
}

// dedupeStrings removes duplicates preserving first-seen order.
func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// dedupePermissions removes duplicate (resource, action) pairs preserving order.
func dedupePermissions(in []Permission) []Permission {
	if len(in) == 0 {
		return []Permission{}
	}
	seen := make(map[Permission]struct{}, len(in))
	out := make([]Permission, 0, len(in))
	for _, p := range in {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
