// Package auth - scopes.go defines permission scope constants for directory resources
// and the HasScope check used by the scope middleware.
package auth

import (
	"fmt"
)

// Scope represents a permission/scope type
type Scope string

const (
	// Organization scopes
	ScopeOrganizationsRead  Scope = "organizations:read"  // View organizations and members
	ScopeOrganizationsWrite Scope = "organizations:write" // Create and update organizations, manage members

	// Live measure scopes
	ScopeMeasuresRead  Scope = "measures:read"
	ScopeMeasuresWrite Scope = "measures:write"

	// Admin scope (wildcard - all permissions)
	ScopeAdmin Scope = "admin"
)

// AllScopes returns all valid scopes
func AllScopes() []Scope {
	return []Scope{
		ScopeOrganizationsRead,
		ScopeOrganizationsWrite,
		ScopeMeasuresRead,
		ScopeMeasuresWrite,
		ScopeAdmin,
	}
}

// impliedBy maps a read scope to the write scope that also grants it
var impliedBy = map[Scope]Scope{
	ScopeOrganizationsRead: ScopeOrganizationsWrite,
	ScopeMeasuresRead:      ScopeMeasuresWrite,
}

// ValidScopes returns a map of valid scope strings
func ValidScopes() map[string]bool {
	validScopes := make(map[string]bool)
	for _, scope := range AllScopes() {
		validScopes[string(scope)] = true
	}
	return validScopes
}

// ValidateScopes checks if all provided scopes are valid
func ValidateScopes(scopes []string) error {
	validScopes := ValidScopes()

	for _, scope := range scopes {
		if !validScopes[scope] {
			return fmt.Errorf("invalid scope: %s", scope)
		}
	}

	return nil
}

// HasScope checks if a user has a required scope.
// The admin scope grants everything and a write scope grants its read scope.
func HasScope(userScopes []string, required Scope) bool {
	for _, scope := range userScopes {
		switch Scope(scope) {
		case required, ScopeAdmin:
			return true
		}
		if w, ok := impliedBy[required]; ok && Scope(scope) == w {
			return true
		}
	}
	return false
}
