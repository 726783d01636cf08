package models

import "strings"

// Roles carried in the token's role claim.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// NormalizeRole lower-cases and trims a role claim.
func NormalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// IsStaffRole reports whether role may author assignments and read any learner's work.
func IsStaffRole(role string) bool {
	switch NormalizeRole(role) {
	case RoleTeacher, RoleAdmin:
		return true
	default:
		return false
	}
}
