package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	created []*Role
	updated [][2]*Role
	deleted []*Role

	createWarnings []string
	deleteWarnings []string

	permissions    []Permission
	inheritedRoles []string
	queryWarnings  []string

	checkAllowed bool
	checkErr     error
}

func (f *fakeSyncer) SyncCreate(ctx context.Context, namespace string, role *Role) SyncResult {
	f.created = append(f.created, role.Clone())
	result := SyncResult{Status: SyncSuccess}
	for _, w := range f.createWarnings {
		result.Warn(w)
	}
	return result
}

func (f *fakeSyncer) SyncUpdate(ctx context.Context, namespace string, before, after *Role) SyncResult {
	f.updated = append(f.updated, [2]*Role{before.Clone(), after.Clone()})
	return SyncResult{Status: SyncSuccess}
}

func (f *fakeSyncer) SyncDelete(ctx context.Context, namespace string, role *Role) SyncResult {
	f.deleted = append(f.deleted, role.Clone())
	result := SyncResult{Status: SyncSuccess}
	for _, w := range f.deleteWarnings {
		result.Warn(w)
	}
	return result
}

func (f *fakeSyncer) RolePermissions(ctx context.Context, namespace, name string) ([]Permission, []string, []string) {
	return f.permissions, f.inheritedRoles, f.queryWarnings
}

func (f *fakeSyncer) CheckPermission(ctx context.Context, namespace, name, resource, action string) (bool, error) {
	return f.checkAllowed, f.checkErr
}

type fakePersister struct {
	afterMutation int
	saveNow       int
}

func (f *fakePersister) SaveAfterMutation(ctx context.Context) { f.afterMutation++ }
func (f *fakePersister) SaveNow(ctx context.Context) error     { f.saveNow++; return nil }

func newTestService(t *testing.T) (*Service, *fakeSyncer, *fakePersister) {
	t.Helper()
	syncer := &fakeSyncer{}
	persister := &fakePersister{}
	service := NewService(nil, NewCatalog(), NewGraphValidator(0), syncer, persister, nil, nil)
	return service, syncer, persister
}

func TestServiceCreateManagerScenario(t *testing.T) {
	service, syncer, persister := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, "roles", CreateRoleRequest{Name: "customer"})
	require.NoError(t, err)

	result, err := service.Create(ctx, "roles", CreateRoleRequest{
		Name:         "manager",
		InheritsFrom: []string{"customer"},
		Permissions:  []Permission{{Resource: "product", Action: "view"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"customer"}, result.Role.InheritsFrom)
	assert.Equal(t, SyncSuccess, result.Sync.Status)
	require.Len(t, syncer.created, 2)
	assert.Equal(t, "manager", syncer.created[1].Name)
	assert.Equal(t, 2, persister.afterMutation)

	syncer.permissions = []Permission{{Resource: "product", Action: "view"}}
	syncer.inheritedRoles = []string{"customer"}
	details, err := service.Get(ctx, "roles", "manager")
	require.NoError(t, err)
	assert.Equal(t, []string{"customer"}, details.InheritedRoles)
	assert.Equal(t, []Permission{{Resource: "product", Action: "view"}}, details.Permissions)
}

func TestServiceCreateValidationAbortsBeforeAnyCommit(t *testing.T) {
	service, syncer, persister := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, "roles", CreateRoleRequest{
		Name:         "manager",
		InheritsFrom: []string{"missing"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors[0], "does not exist")

	_, err = service.Get(ctx, "roles", "manager")
	assert.ErrorIs(t, err, ErrNotFound, "nothing committed")
	assert.Empty(t, syncer.created, "no sync on validation failure")
	assert.Zero(t, persister.afterMutation)
}

func TestServiceCreateConflict(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, "roles", CreateRoleRequest{Name: "manager"})
	require.NoError(t, err)
	_, err = service.Create(ctx, "roles", CreateRoleRequest{Name: "manager"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestServiceUpdateCycleRejectedAndStateUnchanged(t *testing.T) {
	service, syncer, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, "roles", CreateRoleRequest{Name: "customer"})
	require.NoError(t, err)
	_, err = service.Create(ctx, "roles", CreateRoleRequest{Name: "manager", InheritsFrom: []string{"customer"}})
	require.NoError(t, err)

	parents := []string{"manager"}
	_, err = service.Update(ctx, "roles", "customer", UpdateRoleRequest{InheritsFrom: &parents})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors[0], "circular dependency")

	got, err := service.Get(ctx, "roles", "customer")
	require.NoError(t, err)
	assert.Empty(t, got.Role.InheritsFrom, "stored state unchanged after rejected update")
	assert.Empty(t, syncer.updated)
}

func TestServiceUpdateOmittedInheritanceKeepsEdges(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, "roles", CreateRoleRequest{Name: "customer"})
	require.NoError(t, err)
	_, err = service.Create(ctx, "roles", CreateRoleRequest{Name: "manager", InheritsFrom: []string{"customer"}})
	require.NoError(t, err)

	desc := "updated"
	result, err := service.Update(ctx, "roles", "manager", UpdateRoleRequest{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, []string{"customer"}, result.Role.InheritsFrom)

	cleared := []string{}
	result, err = service.Update(ctx, "roles", "manager", UpdateRoleRequest{InheritsFrom: &cleared})
	require.NoError(t, err)
	assert.Empty(t, result.Role.InheritsFrom)
}

func TestServiceDeleteSurvivesSyncFailure(t *testing.T) {
	service, syncer, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, "roles", CreateRoleRequest{Name: "manager", Permissions: []Permission{{Resource: "product", Action: "view"}}})
	require.NoError(t, err)

	syncer.deleteWarnings = []string{"delete permission product:items#view for manager: connection refused"}
	result, err := service.Delete(ctx, "roles", "manager")
	require.NoError(t, err, "catalog deletion must not be blocked by sync failure")
	assert.Equal(t, SyncPartial, result.Sync.Status)
	require.NotEmpty(t, result.Sync.Warnings, "never silent total failure")

	_, err = service.Get(ctx, "roles", "manager")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceDeleteNotFound(t *testing.T) {
	service, _, _ := newTestService(t)
	_, err := service.Delete(context.Background(), "roles", "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceCreatePartialSyncStillCommits(t *testing.T) {
	service, syncer, _ := newTestService(t)
	ctx := context.Background()

	syncer.createWarnings = []string{"create permission product:items#view for manager: timeout"}
	result, err := service.Create(ctx, "roles", CreateRoleRequest{
		Name:        "manager",
		Permissions: []Permission{{Resource: "product", Action: "view"}},
	})
	require.NoError(t, err)
	assert.Equal(t, SyncPartial, result.Sync.Status)
	assert.Len(t, result.Sync.Warnings, 1)

	_, err = service.Get(ctx, "roles", "manager")
	assert.NoError(t, err, "catalog commit stands despite partial sync")
}

func TestServiceGetFallsBackToCatalogWithoutSyncer(t *testing.T) {
	service := NewService(nil, NewCatalog(), NewGraphValidator(0), nil, nil, nil, nil)
	ctx := context.Background()

	_, err := service.Create(ctx, "roles", CreateRoleRequest{
		Name:        "manager",
		Permissions: []Permission{{Resource: "product", Action: "view"}},
	})
	require.NoError(t, err)

	details, err := service.Get(ctx, "roles", "manager")
	require.NoError(t, err)
	assert.Equal(t, []Permission{{Resource: "product", Action: "view"}}, details.Permissions)
}

func TestServiceExplicitSave(t *testing.T) {
	service, _, persister := newTestService(t)
	require.NoError(t, service.Save(context.Background()))
	assert.Equal(t, 1, persister.saveNow)
}
