package roles

import (
	"context"
	"log/slog"

	"github.com/duongnv129/ory-self-hosted-sub002/internal/observability"
	"github.com/duongnv129/ory-self-hosted-sub002/internal/shared"
)

// Syncer projects catalog mutations onto the external tuple store.
// Implementations must not fail across this boundary; failures are
// reported as warnings inside SyncResult.
type Syncer interface {
	SyncCreate(ctx context.Context, namespace string, role *Role) SyncResult
	SyncUpdate(ctx context.Context, namespace string, before, after *Role) SyncResult
	SyncDelete(ctx context.Context, namespace string, role *Role) SyncResult
	RolePermissions(ctx context.Context, namespace, name string) ([]Permission, []string, []string)
	CheckPermission(ctx context.Context, namespace, name, resource, action string) (bool, error)
}

// Persister receives best-effort save requests after mutations.
type Persister interface {
	SaveAfterMutation(ctx context.Context)
	SaveNow(ctx context.Context) error
}

// Service runs the fixed mutation pipeline: validate, commit to the
// catalog, sync the tuple store best-effort, persist best-effort. After
// the catalog commit the change is authoritative; nothing downstream
// rolls it back.
type Service struct {
	logger    *slog.Logger
	catalog   *Catalog
	validator *GraphValidator
	syncer    Syncer
	persister Persister
	audit     *shared.AuditLogger
	metrics   *observability.Metrics
}

// NewService wires the pipeline. syncer, persister, audit, and metrics
// may be nil; the corresponding step is skipped.
func NewService(logger *slog.Logger, catalog *Catalog, validator *GraphValidator, syncer Syncer, persister Persister, audit *shared.AuditLogger, metrics *observability.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = NewGraphValidator(0)
	}
	return &Service{
		logger:    logger,
		catalog:   catalog,
		validator: validator,
		syncer:    syncer,
		persister: persister,
		audit:     audit,
		metrics:   metrics,
	}
}

// Create validates and inserts a new role, then projects it externally.
func (s *Service) Create(ctx context.Context, namespace string, req CreateRoleRequest) (*MutationResult, error) {
	validation := s.validator.Validate(req.Name, req.InheritsFrom, s.catalog.NamespaceView(namespace))
	if !validation.Valid {
		return nil, &ValidationError{Errors: validation.Errors, Warnings: validation.Warnings}
	}

	role := &Role{
		Name:         req.Name,
		Description:  req.Description,
		TenantID:     req.TenantID,
		InheritsFrom: req.InheritsFrom,
		Permissions:  req.Permissions,
	}
	created, err := s.catalog.Create(namespace, role)
	if err != nil {
		return nil, err
	}

	result := &MutationResult{Role: created, Sync: SyncResult{Status: SyncSuccess, Warnings: validation.Warnings}}
	if s.syncer != nil {
		result.Sync.Merge(s.syncer.SyncCreate(ctx, namespace, created))
	}
	s.finishMutation(ctx, "role.create", namespace, created.Name, result.Sync.Warnings)
	return result, nil
}

// Update applies a partial update. Omitted fields stay untouched; an
// explicit empty list clears the field.
func (s *Service) Update(ctx context.Context, namespace, name string, req UpdateRoleRequest) (*MutationResult, error) {
	before, err := s.catalog.Get(namespace, name)
	if err != nil {
		return nil, err
	}

	proposedParents := before.InheritsFrom
	if req.InheritsFrom != nil {
		proposedParents = *req.InheritsFrom
	}
	validation := s.validator.Validate(name, proposedParents, s.catalog.NamespaceView(namespace))
	if !validation.Valid {
		return nil, &ValidationError{Errors: validation.Errors, Warnings: validation.Warnings}
	}

	after, err := s.catalog.Update(namespace, name, req)
	if err != nil {
		return nil, err
	}

	result := &MutationResult{Role: after, Sync: SyncResult{Status: SyncSuccess, Warnings: validation.Warnings}}
	if s.syncer != nil {
		result.Sync.Merge(s.syncer.SyncUpdate(ctx, namespace, before, after))
	}
	s.finishMutation(ctx, "role.update", namespace, name, result.Sync.Warnings)
	return result, nil
}

// Delete strips the role's external tuples, then removes the catalog
// entry. Tuple removal failures surface as warnings, never as a block.
func (s *Service) Delete(ctx context.Context, namespace, name string) (*MutationResult, error) {
	role, err := s.catalog.Get(namespace, name)
	if err != nil {
		return nil, err
	}

	sync := SyncResult{Status: SyncSuccess}
	if s.syncer != nil {
		sync = s.syncer.SyncDelete(ctx, namespace, role)
	}

	deleted, err := s.catalog.Delete(namespace, name)
	if err != nil {
		return nil, err
	}

	result := &MutationResult{Role: deleted, Sync: sync}
	s.finishMutation(ctx, "role.delete", namespace, name, result.Sync.Warnings)
	return result, nil
}

// Get returns the catalog entity plus the backend's view of its
// effective permissions and inherited roles.
func (s *Service) Get(ctx context.Context, namespace, name string) (*RoleDetails, error) {
	role, err := s.catalog.Get(namespace, name)
	if err != nil {
		return nil, err
	}
	details := &RoleDetails{
		Role:           role,
		Permissions:    append([]Permission(nil), role.Permissions...),
		InheritedRoles: append([]string(nil), role.InheritsFrom...),
	}
	if s.syncer != nil {
		details.Permissions, details.InheritedRoles, details.Warnings = s.syncer.RolePermissions(ctx, namespace, name)
	}
	return details, nil
}

// List returns the namespace's roles, optionally filtered by tenant.
func (s *Service) List(ctx context.Context, namespace, tenantID string) []Role {
	return s.catalog.List(namespace, tenantID)
}

// Namespaces lists namespaces that currently hold roles.
func (s *Service) Namespaces() []string {
	return s.catalog.Namespaces()
}

// Check proxies a permission check for the role's member-set.
func (s *Service) Check(ctx context.Context, namespace, name, resource, action string) (bool, error) {
	if _, err := s.catalog.Get(namespace, name); err != nil {
		return false, err
	}
	if s.syncer == nil {
		return false, nil
	}
	return s.syncer.CheckPermission(ctx, namespace, name, resource, action)
}

// Save triggers a synchronous snapshot write.
func (s *Service) Save(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.SaveNow(ctx)
}

func (s *Service) finishMutation(ctx context.Context, action, namespace, name string, warnings []string) {
	s.metrics.AddSyncWarnings(len(warnings))
	if len(warnings) > 0 {
		s.logger.Warn("sync degraded to partial",
			slog.String("action", action),
			slog.String("namespace", namespace),
			slog.String("role", name),
			slog.Int("warnings", len(warnings)))
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Action:    action,
		Namespace: namespace,
		Role:      name,
		Warnings:  warnings,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
	if s.persister != nil {
		s.persister.SaveAfterMutation(ctx)
	}
}
