package keto

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/duongnv129/ory-self-hosted-sub002/internal/roles"
)

// defaultCollectionSuffix qualifies bare resource names: "product"
// becomes "product:items".
const defaultCollectionSuffix = ":items"

// tupleAPI is the slice of Client the syncer needs; tests supply a fake.
type tupleAPI interface {
	CreateTuple(ctx context.Context, t RelationTuple) error
	DeleteTuple(ctx context.Context, t RelationTuple) error
	QueryTuples(ctx context.Context, query TupleQuery) ([]RelationTuple, error)
	Check(ctx context.Context, t RelationTuple) (bool, error)
	Alive(ctx context.Context) error
}

// Syncer keeps the Keto tuple store aligned with catalog mutations.
// It never returns an error across its boundary: every tuple failure is
// converted into a warning aggregated in the SyncResult. The catalog is
// the source of truth; the tuple store is an eventually-reconciled
// projection.
type Syncer struct {
	api    tupleAPI
	cache  *ReadbackCache
	logger *slog.Logger

	statusMu      sync.Mutex
	statusValue   string
	statusChecked time.Time
}

// NewSyncer builds a syncer over the given client. cache may be nil.
func NewSyncer(api tupleAPI, cache *ReadbackCache, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{api: api, cache: cache, logger: logger}
}

// NormalizeResource appends the default collection suffix to resource
// names lacking a namespace qualifier.
func NormalizeResource(resource string) string {
	if strings.Contains(resource, ":") {
		return resource
	}
	return resource + defaultCollectionSuffix
}

// hierarchyTuple makes the child's member-set a subject-set of the
// parent's member-set, so the child inherits everything granted to the
// parent.
func hierarchyTuple(namespace, child, parent string) RelationTuple {
	return RelationTuple{
		Namespace: namespace,
		Object:    parent,
		Relation:  RelationMember,
		SubjectSet: &SubjectSet{
			Namespace: namespace,
			Object:    child,
			Relation:  RelationMember,
		},
	}
}

// permissionTuple grants the role's member-set the action on the resource.
func permissionTuple(namespace, role string, p roles.Permission) RelationTuple {
	return RelationTuple{
		Namespace: namespace,
		Object:    NormalizeResource(p.Resource),
		Relation:  p.Action,
		SubjectSet: &SubjectSet{
			Namespace: namespace,
			Object:    role,
			Relation:  RelationMember,
		},
	}
}

// SyncCreate writes the role's hierarchy and permission tuples.
// Edges are written sequentially in input order.
func (s *Syncer) SyncCreate(ctx context.Context, namespace string, role *roles.Role) roles.SyncResult {
	result := roles.SyncResult{Status: roles.SyncSuccess}
	for _, parent := range role.InheritsFrom {
		if err := s.api.CreateTuple(ctx, hierarchyTuple(namespace, role.Name, parent)); err != nil {
			result.Warn(fmt.Sprintf("create hierarchy edge %s -> %s: %v", role.Name, parent, err))
		}
	}
	for _, p := range role.Permissions {
		if err := s.api.CreateTuple(ctx, permissionTuple(namespace, role.Name, p)); err != nil {
			result.Warn(fmt.Sprintf("create permission %s#%s for %s: %v", NormalizeResource(p.Resource), p.Action, role.Name, err))
		}
	}
	s.invalidate(ctx, &result)
	return result
}

// SyncUpdate reconciles tuples after an update. Hierarchy edges are
// diffed surgically: only edges that disappeared are deleted and only
// new ones are created. A blanket delete-then-recreate would also
// destroy tuples where this role is the parent of another role.
// Permission tuples have no downstream dependents and are fully replaced.
func (s *Syncer) SyncUpdate(ctx context.Context, namespace string, before, after *roles.Role) roles.SyncResult {
	result := roles.SyncResult{Status: roles.SyncSuccess}

	oldParents := stringSet(before.InheritsFrom)
	newParents := stringSet(after.InheritsFrom)
	for _, parent := range before.InheritsFrom {
		if _, keep := newParents[parent]; keep {
			continue
		}
		if err := s.api.DeleteTuple(ctx, hierarchyTuple(namespace, after.Name, parent)); err != nil {
			result.Warn(fmt.Sprintf("delete hierarchy edge %s -> %s: %v", after.Name, parent, err))
		}
	}
	for _, parent := range after.InheritsFrom {
		if _, existed := oldParents[parent]; existed {
			continue
		}
		if err := s.api.CreateTuple(ctx, hierarchyTuple(namespace, after.Name, parent)); err != nil {
			result.Warn(fmt.Sprintf("create hierarchy edge %s -> %s: %v", after.Name, parent, err))
		}
	}

	if !permissionsEqual(before.Permissions, after.Permissions) {
		for _, p := range before.Permissions {
			if err := s.api.DeleteTuple(ctx, permissionTuple(namespace, after.Name, p)); err != nil {
				result.Warn(fmt.Sprintf("delete permission %s#%s for %s: %v", NormalizeResource(p.Resource), p.Action, after.Name, err))
			}
		}
		for _, p := range after.Permissions {
			if err := s.api.CreateTuple(ctx, permissionTuple(namespace, after.Name, p)); err != nil {
				result.Warn(fmt.Sprintf("create permission %s#%s for %s: %v", NormalizeResource(p.Resource), p.Action, after.Name, err))
			}
		}
	}

	s.invalidate(ctx, &result)
	return result
}

// SyncDelete removes every tuple in which the role is a subject: its
// outgoing hierarchy edges and its permission grants. Incoming edges
// belong to other roles and are left alone. Failures never block the
// catalog deletion.
func (s *Syncer) SyncDelete(ctx context.Context, namespace string, role *roles.Role) roles.SyncResult {
	result := roles.SyncResult{Status: roles.SyncSuccess}
	for _, parent := range role.InheritsFrom {
		if err := s.api.DeleteTuple(ctx, hierarchyTuple(namespace, role.Name, parent)); err != nil {
			result.Warn(fmt.Sprintf("delete hierarchy edge %s -> %s: %v", role.Name, parent, err))
		}
	}
	for _, p := range role.Permissions {
		if err := s.api.DeleteTuple(ctx, permissionTuple(namespace, role.Name, p)); err != nil {
			result.Warn(fmt.Sprintf("delete permission %s#%s for %s: %v", NormalizeResource(p.Resource), p.Action, role.Name, err))
		}
	}
	s.invalidate(ctx, &result)
	return result
}

type readbackPayload struct {
	Permissions    []roles.Permission `json:"permissions"`
	InheritedRoles []string           `json:"inheritedRoles"`
}

// RolePermissions reconstructs the role's permissions and inherited
// roles from the tuple store. When the backend is unreachable it returns
// empty results plus a warning rather than failing the caller.
func (s *Syncer) RolePermissions(ctx context.Context, namespace, name string) ([]roles.Permission, []string, []string) {
	key, err := s.cache.BuildKey(ctx, "rolesync:readback", namespace, name)
	if err != nil {
		// Cache trouble is not backend trouble; fall back to a direct load.
		s.logger.Warn("readback cache key", slog.Any("error", err))
		key = ""
	}

	load := func(ctx context.Context) (interface{}, error) {
		tuples, err := s.api.QueryTuples(ctx, TupleQuery{
			SubjectSet: &SubjectSet{Namespace: namespace, Object: name, Relation: RelationMember},
		})
		if err != nil {
			return nil, err
		}
		payload := readbackPayload{Permissions: []roles.Permission{}, InheritedRoles: []string{}}
		for _, t := range tuples {
			if t.Relation == RelationMember && t.Namespace == namespace {
				payload.InheritedRoles = append(payload.InheritedRoles, t.Object)
				continue
			}
			payload.Permissions = append(payload.Permissions, roles.Permission{Resource: t.Object, Action: t.Relation})
		}
		return payload, nil
	}

	var payload readbackPayload
	if key != "" {
		err = s.cache.FetchJSON(ctx, key, &payload, load)
	} else {
		var value interface{}
		value, err = load(ctx)
		if err == nil {
			payload = value.(readbackPayload)
		}
	}
	if err != nil {
		return []roles.Permission{}, []string{}, []string{fmt.Sprintf("query permissions for %s: %v", name, err)}
	}
	return payload.Permissions, payload.InheritedRoles, nil
}

// CheckPermission asks the backend whether the role's member-set holds
// the action on the resource.
func (s *Syncer) CheckPermission(ctx context.Context, namespace, name, resource, action string) (bool, error) {
	return s.api.Check(ctx, RelationTuple{
		Namespace: namespace,
		Object:    NormalizeResource(resource),
		Relation:  action,
		SubjectSet: &SubjectSet{
			Namespace: namespace,
			Object:    name,
			Relation:  RelationMember,
		},
	})
}

// BackendStatus reports reachability for the health probe, cached
// briefly so probes do not hammer the backend.
func (s *Syncer) BackendStatus(ctx context.Context) string {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if time.Since(s.statusChecked) < 10*time.Second && s.statusValue != "" {
		return s.statusValue
	}
	s.statusChecked = time.Now()
	if err := s.api.Alive(ctx); err != nil {
		s.statusValue = "unreachable"
	} else {
		s.statusValue = "ok"
	}
	return s.statusValue
}

func (s *Syncer) invalidate(ctx context.Context, result *roles.SyncResult) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("readback cache bump", slog.Any("error", err))
		result.Warnings = append(result.Warnings, fmt.Sprintf("invalidate readback cache: %v", err))
	}
}

func stringSet(in []string) map[string]struct{} {
	set := make(map[string]struct{}, len(in))
	for _, s := range in {
		set[s] = struct{}{}
	}
	return set
}

func permissionsEqual(a, b []roles.Permission) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[roles.Permission]struct{}, len(a))
	for _, p := range a {
		set[p] = struct{}{}
	}
	for _, p := range b {
		if _, ok := set[p]; !ok {
			return false
		}
	}
	return true
}
