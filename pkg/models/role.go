package models

import (
	"fmt"
	"strconv"
)

// Role groups permissions. Clients and roles are many-to-many.
type Role struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`
}

// ResourceFunction is the resource kind for callable functions.
const ResourceFunction = "function"

// Standard actions.
const (
	ActionExecute = "execute"
	ActionRead    = "read"
)

// Permission grants an action on a resource kind. A nil ResourceID matches
// every instance of the kind.
type Permission struct {
	ID           int64  `json:"id" db:"id"`
	RoleID       int64  `json:"role_id" db:"role_id"`
	ResourceKind string `json:"resource_kind" db:"resource_kind"`
	ResourceID   *int64 `json:"resource_id,omitempty" db:"resource_id"`
	Action       string `json:"action" db:"action"`
}

// IsWildcard reports whether the permission applies to all instances.
func (p Permission) IsWildcard() bool {
	return p.ResourceID == nil
}

// Key renders the (kind, id, action) tuple, with "*" for a wildcard id.
// The store holds at most one permission per key.
func (p Permission) Key() string {
	id := "*"
	if p.ResourceID != nil {
		id = strconv.FormatInt(*p.ResourceID, 10)
	}
	return fmt.Sprintf("%s:%s:%s", p.ResourceKind, id, p.Action)
}

// Matches reports whether the permission grants action on the resource.
func (p Permission) Matches(kind string, id int64, action string) bool {
	if p.ResourceKind != kind || p.Action != action {
		return false
	}
	return p.ResourceID == nil || *p.ResourceID == id
}
