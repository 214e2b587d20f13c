package roles

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/duongnv129/ory-self-hosted-sub002/testing"
)

func newTestRouter(t *testing.T) (chi.Router, *fakeSyncer) {
	t.Helper()
	syncer := &fakeSyncer{}
	service := NewService(nil, NewCatalog(), NewGraphValidator(0), syncer, nil, nil, nil)
	handler := NewHandler(nil, service, "roles")

	r := chi.NewRouter()
	r.Route("/roles", handler.MountRoutes)
	r.Get("/namespaces", handler.ListNamespaces)
	return r, syncer
}

func doJSON(t *testing.T, r http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)
	return res
}

func TestHandlerCreateRole(t *testing.T) {
	r, _ := newTestRouter(t)

	res := doJSON(t, r, http.MethodPost, "/roles", map[string]any{
		"name":        "customer",
		"description": "shop visitor",
		"permissions": []map[string]string{{"resource": "product", "action": "view"}},
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	var result MutationResult
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &result))
	assert.Equal(t, "customer", result.Role.Name)
	assert.Equal(t, SyncSuccess, result.Sync.Status)
}

func TestHandlerCreateRoleRequiresName(t *testing.T) {
	r, _ := newTestRouter(t)
	res := doJSON(t, r, http.MethodPost, "/roles", map[string]any{"description": "nameless"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHandlerCreateRoleRejectsMalformedJSON(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/roles", bytes.NewBufferString("{nope"))
	res := httptest.NewRecorder()
	r.ServeHTTP(res, req)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestHandlerDuplicateNameConflicts(t *testing.T) {
	r, _ := newTestRouter(t)
	res := doJSON(t, r, http.MethodPost, "/roles", map[string]any{"name": "manager"})
	require.Equal(t, http.StatusCreated, res.Code)

	res = doJSON(t, r, http.MethodPost, "/roles", map[string]any{"name": "manager"})
	assert.Equal(t, http.StatusConflict, res.Code)
}

func TestHandlerUnknownParentIsValidationError(t *testing.T) {
	r, _ := newTestRouter(t)
	res := doJSON(t, r, http.MethodPost, "/roles", map[string]any{
		"name":         "manager",
		"inheritsFrom": []string{"ghost"},
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "does not exist")
}

func TestHandlerCycleRejectedOnUpdate(t *testing.T) {
	r, _ := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, r, http.MethodPost, "/roles", map[string]any{"name": "customer"}).Code)
	require.Equal(t, http.StatusCreated, doJSON(t, r, http.MethodPost, "/roles", map[string]any{
		"name":         "manager",
		"inheritsFrom": []string{"customer"},
	}).Code)

	res := doJSON(t, r, http.MethodPut, "/roles/customer", map[string]any{
		"inheritsFrom": []string{"manager"},
	})
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "circular")
}

func TestHandlerGetRole(t *testing.T) {
	r, syncer := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, r, http.MethodPost, "/roles", map[string]any{"name": "manager"}).Code)

	syncer.permissions = []Permission{{Resource: "product:items", Action: "view"}}
	syncer.inheritedRoles = []string{"customer"}

	res := doJSON(t, r, http.MethodGet, "/roles/manager", nil)
	require.Equal(t, http.StatusOK, res.Code)

	var details RoleDetails
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &details))
	assert.Equal(t, []string{"customer"}, details.InheritedRoles)
	assert.Equal(t, []Permission{{Resource: "product:items", Action: "view"}}, details.Permissions)
}

func TestHandlerGetMissingRoleIs404(t *testing.T) {
	r, _ := newTestRouter(t)
	res := doJSON(t, r, http.MethodGet, "/roles/nobody", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestHandlerDeleteRole(t *testing.T) {
	r, _ := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, r, http.MethodPost, "/roles", map[string]any{"name": "manager"}).Code)

	res := doJSON(t, r, http.MethodDelete, "/roles/manager", nil)
	require.Equal(t, http.StatusOK, res.Code)

	res = doJSON(t, r, http.MethodGet, "/roles/manager", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestHandlerListFiltersByTenant(t *testing.T) {
	r, _ := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, r, http.MethodPost, "/roles", map[string]any{"name": "a", "tenantId": "t1"}).Code)
	require.Equal(t, http.StatusCreated, doJSON(t, r, http.MethodPost, "/roles", map[string]any{"name": "b", "tenantId": "t2"}).Code)

	res := doJSON(t, r, http.MethodGet, "/roles?tenant_id=t1", nil)
	require.Equal(t, http.StatusOK, res.Code)

	var body struct {
		Roles []Role `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Roles, 1)
	assert.Equal(t, "a", body.Roles[0].Name)
}

func TestHandlerNamespaceQueryPartitions(t *testing.T) {
	r, _ := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, r, http.MethodPost, "/roles?namespace=tenant-a", map[string]any{"name": "admin"}).Code)

	res := doJSON(t, r, http.MethodGet, "/roles/admin", nil)
	assert.Equal(t, http.StatusNotFound, res.Code, "default namespace does not see tenant-a")

	res = doJSON(t, r, http.MethodGet, "/roles/admin?namespace=tenant-a", nil)
	assert.Equal(t, http.StatusOK, res.Code)

	res = doJSON(t, r, http.MethodGet, "/namespaces", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "tenant-a")
}

func TestHandlerCheckRequiresParams(t *testing.T) {
	r, _ := newTestRouter(t)
	require.Equal(t, http.StatusCreated, doJSON(t, r, http.MethodPost, "/roles", map[string]any{"name": "manager"}).Code)

	res := doJSON(t, r, http.MethodGet, "/roles/manager/check", nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = doJSON(t, r, http.MethodGet, "/roles/manager/check?resource=product&action=view", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "allowed")
}

func TestHandlerPartialSyncSurfacesWarnings(t *testing.T) {
	r, syncer := newTestRouter(t)
	syncer.createWarnings = []string{"create permission product:items#view for manager: timeout"}

	res := doJSON(t, r, http.MethodPost, "/roles", map[string]any{
		"name":        "manager",
		"permissions": []map[string]string{{"resource": "product", "action": "view"}},
	})
	require.Equal(t, http.StatusCreated, res.Code, "catalog success despite sync trouble")

	var result MutationResult
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &result))
	assert.Equal(t, SyncPartial, result.Sync.Status)
	require.Len(t, result.Sync.Warnings, 1)
}
