package roles

import "github.com/duongnv129/ory-self-hosted-sub002/internal/persist"

// Snapshot is the persisted file format: every role collection keyed by
// namespace plus write metadata stamped by the persistence manager.
type Snapshot struct {
	RolesByNamespace map[string][]Role `json:"rolesByNamespace"`
	Meta             persist.Metadata  `json:"metadata"`
}

// SetMetadata implements persist.Snapshot.
func (s *Snapshot) SetMetadata(m persist.Metadata) { s.Meta = m }

// Metadata implements persist.Snapshot.
func (s *Snapshot) Metadata() persist.Metadata { return s.Meta }
