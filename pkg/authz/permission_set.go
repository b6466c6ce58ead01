package authz

import "github.com/StricklySoft/stricklysoft-gateway/pkg/models"

// exactKey indexes permissions granted on one resource instance.
type exactKey struct {
	Kind   string
	ID     int64
	Action string
}

// kindActionKey indexes wildcard permissions, which apply to every
// instance of a kind.
type kindActionKey struct {
	Kind   string
	Action string
}

// PermissionSet is an immutable collection of permissions with O(1)
// lookups for both exact-id and wildcard grants.
//
// Internally, permissions are split into two groups at construction time:
//   - Exact permissions (a concrete ResourceID) are keyed by
//     {kind, id, action}.
//   - Wildcard permissions (nil ResourceID) are keyed by {kind, action}.
//
// Exact and wildcard grants are equivalent for [PermissionSet.Match];
// either is sufficient and neither takes precedence.
//
// PermissionSet is safe for concurrent read access after construction.
type PermissionSet struct {
	exact    map[exactKey]struct{}
	wildcard map[kindActionKey]struct{}

	// all holds the deduplicated permissions in insertion order.
	all []models.Permission
}

// NewPermissionSet creates a [PermissionSet] from the given permissions.
// Permissions are deduplicated by their (kind, id, action) tuple. The input
// slice is not modified.
//
// A nil or empty input produces a valid, empty PermissionSet.
func NewPermissionSet(perms []models.Permission) *PermissionSet {
	ps := &PermissionSet{
		exact:    make(map[exactKey]struct{}, len(perms)),
		wildcard: make(map[kindActionKey]struct{}),
	}

	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		key := p.Key()
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		ps.all = append(ps.all, p)

		if p.IsWildcard() {
			ps.wildcard[kindActionKey{Kind: p.ResourceKind, Action: p.Action}] = struct{}{}
		} else {
			ps.exact[exactKey{Kind: p.ResourceKind, ID: *p.ResourceID, Action: p.Action}] = struct{}{}
		}
	}

	return ps
}

// Has reports whether an exact-id permission for the tuple was granted. It
// does NOT evaluate wildcard permissions; use [PermissionSet.Match] for
// authorization decisions.
func (ps *PermissionSet) Has(kind string, id int64, action string) bool {
	_, exists := ps.exact[exactKey{Kind: kind, ID: id, Action: action}]
	return exists
}

// Match reports whether the set grants action on the resource, either
// through a permission on that exact id or a wildcard on the kind.
func (ps *PermissionSet) Match(kind string, id int64, action string) bool {
	if ps.Has(kind, id, action) {
		return true
	}
	_, exists := ps.wildcard[kindActionKey{Kind: kind, Action: action}]
	return exists
}

// Permissions returns a copy of the permissions in insertion order.
func (ps *PermissionSet) Permissions() []models.Permission {
	copied := make([]models.Permission, len(ps.all))
	copy(copied, ps.all)
	return copied
}

// Len returns the number of unique permissions in the set.
func (ps *PermissionSet) Len() int {
	return len(ps.all)
}
