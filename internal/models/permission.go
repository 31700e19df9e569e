package models

import "time"

// PermissionNamespacePrefix marks tokens that live in the permission
// namespace. Roles and permissions are disjoint: a role token never
// carries the prefix, a permission token always does.
const PermissionNamespacePrefix = "perm:"

// RolePermission maps one role to one permission token. An identity's
// effective permissions are the rows of its role.
type RolePermission struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Role       string `gorm:"not null;uniqueIndex:idx_role_permission"`
	Permission string `gorm:"not null;uniqueIndex:idx_role_permission"`
	CreatedAt  time.Time
}
