package roles

import (
	"sort"
	"sync"
	"time"
)

// Catalog is the authoritative in-memory role store, partitioned by
// namespace. It assumes a single writer per instance; multi-instance
// coordination requires an external shared store and is out of scope.
type Catalog struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]*Role
	now        func() time.Time
}

// NewCatalog builds an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		namespaces: make(map[string]map[string]*Role),
		now:        time.Now,
	}
}

// WithNow overrides the catalog clock for testing.
func (c *Catalog) WithNow(fn func() time.Time) {
	if fn != nil {
		c.now = fn
	}
}

// Create inserts a role. Returns ErrConflict when the name is taken.
func (c *Catalog) Create(namespace string, role *Role) (*Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.namespaces[namespace]
	if !ok {
		ns = make(map[string]*Role)
		c.namespaces[namespace] = ns
	}
	if _, exists := ns[role.Name]; exists {
		return nil, ErrConflict
	}

	stored := role.Clone()
	stored.Namespace = namespace
	stored.InheritsFrom = dedupeStrings(stored.InheritsFrom)
	stored.Permissions = dedupePermissions(stored.Permissions)
	now := c.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	ns[role.Name] = stored
	return stored.Clone(), nil
}

// Get returns a copy of the role or ErrNotFound.
func (c *Catalog) Get(namespace, name string) (*Role, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	role, ok := c.namespaces[namespace][name]
	if !ok {
		return nil, ErrNotFound
	}
	return role.Clone(), nil
}

// List returns the namespace's roles sorted by name, optionally filtered
// by tenant.
func (c *Catalog) List(namespace, tenantID string) []Role {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns := c.namespaces[namespace]
	out := make([]Role, 0, len(ns))
	for _, role := range ns {
		if tenantID != "" && role.TenantID != tenantID {
			continue
		}
		out = append(out, *role.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Update applies only the explicitly provided fields and returns the
// updated role. Nil pointer fields are left unchanged.
func (c *Catalog) Update(namespace, name string, req UpdateRoleRequest) (*Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	role, ok := c.namespaces[namespace][name]
	if !ok {
		return nil, ErrNotFound
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.TenantID != nil {
		role.TenantID = *req.TenantID
	}
	if req.InheritsFrom != nil {
		role.InheritsFrom = dedupeStrings(*req.InheritsFrom)
	}
	if req.Permissions != nil {
		role.Permissions = dedupePermissions(*req.Permissions)
	}
	role.UpdatedAt = c.now().UTC()
	return role.Clone(), nil
}

// Delete removes the role and returns its final state, or ErrNotFound.
func (c *Catalog) Delete(namespace, name string) (*Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	role, ok := c.namespaces[namespace][name]
	if !ok {
		return nil, ErrNotFound
	}
	delete(c.namespaces[namespace], name)
	return role.Clone(), nil
}

// Namespaces lists the known namespaces sorted by name.
func (c *Catalog) Namespaces() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.namespaces))
	for ns, roles := range c.namespaces {
		if len(roles) == 0 {
			continue
		}
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// NamespaceView returns a copy of the namespace index for validation.
func (c *Catalog) NamespaceView(namespace string) map[string]*Role {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ns := c.namespaces[namespace]
	view := make(map[string]*Role, len(ns))
	for name, role := range ns {
		view[name] = role.Clone()
	}
	return view
}

// Snapshot exports a deep copy of all collections for persistence.
func (c *Catalog) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byNS := make(map[string][]Role, len(c.namespaces))
	for ns, roles := range c.namespaces {
		list := make([]Role, 0, len(roles))
		for _, role := range roles {
			list = append(list, *role.Clone())
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		byNS[ns] = list
	}
	return &Snapshot{RolesByNamespace: byNS}
}

// Load replaces the catalog contents with the snapshot's.
func (c *Catalog) Load(s *Snapshot) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.namespaces = make(map[string]map[string]*Role, len(s.RolesByNamespace))
	for ns, list := range s.RolesByNamespace {
		m := make(map[string]*Role, len(list))
		for i := range list {
			role := list[i].Clone()
			role.Namespace = ns
			m[role.Name] = role
		}
		c.namespaces[ns] = m
	}
}
