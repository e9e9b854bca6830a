package auth

import (
	"math/bits"
	"strings"
)

// Permission is one of the seven flags of an access rule.
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermReadAll
	PermCreate
	PermUpdate
	PermUpdateAll
	PermDelete
	PermDeleteAll
)

// AllPermissions lists every flag in column order.
var AllPermissions = []Permission{
	PermRead, PermReadAll, PermCreate, PermUpdate, PermUpdateAll, PermDelete, PermDeleteAll,
}

var permissionNames = map[Permission]string{
	PermRead:      "read",
	PermReadAll:   "read_all",
	PermCreate:    "create",
	PermUpdate:    "update",
	PermUpdateAll: "update_all",
	PermDelete:    "delete",
	PermDeleteAll: "delete_all",
}

func (p Permission) String() string {
	if name, ok := permissionNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParsePermission accepts both the short flag name and the legacy
// "<flag>_permission" column name.
func ParsePermission(s string) (Permission, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(s)), "_permission")
	for p, name := range permissionNames {
		if name == s {
			return p, true
		}
	}
	return 0, false
}

// PermissionSet is a union of permission flags.
type PermissionSet uint8

// NewPermissionSet builds a set from individual flags.
func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s = s.With(p)
	}
	return s
}

func (s PermissionSet) Has(p Permission) bool { return s&PermissionSet(p) != 0 }

func (s PermissionSet) With(p Permission) PermissionSet { return s | PermissionSet(p) }

func (s PermissionSet) Union(o PermissionSet) PermissionSet { return s | o }

func (s PermissionSet) Empty() bool { return s == 0 }

func (s PermissionSet) Len() int { return bits.OnesCount8(uint8(s)) }

// Names returns the flag names in column order.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, s.Len())
	for _, p := range AllPermissions {
		if s.Has(p) {
			out = append(out, p.String())
		}
	}
	return out
}

func (s PermissionSet) String() string {
	if s.Empty() {
		return "none"
	}
	return strings.Join(s.Names(), ",")
}

// BusinessElement names a protected resource domain.
type BusinessElement string

const (
	ElementAccessRule BusinessElement = "access_rule"
	ElementCategory   BusinessElement = "category"
	ElementProduct    BusinessElement = "product"
	ElementOrder      BusinessElement = "order"
	ElementUser       BusinessElement = "user"
	ElementUserRoles  BusinessElement = "user_roles"
	ElementFileUpload BusinessElement = "file_upload"
)

// BusinessElements is the known catalog, seeded into business_elements.
var BusinessElements = []BusinessElement{
	ElementAccessRule,
	ElementCategory,
	ElementProduct,
	ElementOrder,
	ElementUser,
	ElementUserRoles,
	ElementFileUpload,
}

// ParseBusinessElement resolves a name from the catalog.
func ParseBusinessElement(s string) (BusinessElement, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "fileupload" {
		s = string(ElementFileUpload)
	}
	for _, e := range BusinessElements {
		if string(e) == s {
			return e, true
		}
	}
	return "", false
}

func (e BusinessElement) String() string { return string(e) }

// Action is a guarded CRUD shape.
type Action string

const (
	ActionList   Action = "list"
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// flags returns the own-record and every-record permissions for an action.
func (a Action) flags() (own, all Permission) {
	switch a {
	case ActionList, ActionRead:
		return PermRead, PermReadAll
	case ActionUpdate:
		return PermUpdate, PermUpdateAll
	case ActionDelete:
		return PermDelete, PermDeleteAll
	case ActionCreate:
		return PermCreate, PermCreate
	}
	return 0, 0
}
