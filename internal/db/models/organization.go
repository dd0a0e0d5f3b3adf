// Package models - organization.go defines the Organization model, a named tenant
// identified by a unique key and listed newest-first by the directory search.
package models

import (
	"strings"
	"time"
)

// Organization represents an organization in the directory
type Organization struct {
	UUID        string    `json:"-" db:"uuid"`
	Key         string    `json:"key" db:"org_key"` // Unique, URL-safe identifier
	Name        string    `json:"name" db:"name"`
	Description *string   `json:"description,omitempty" db:"description"`
	URL         *string   `json:"url,omitempty" db:"url"`
	AvatarURL   *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	Guarded     bool      `json:"guarded" db:"guarded"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Equal reports whether o and other denote the same organization. Only the key
// takes part: two snapshots of an organization taken before and after an
// update are still the same organization.
func (o *Organization) Equal(other *Organization) bool {
	if o == nil || other == nil {
		return o == other
	}
	return o.Key == other.Key
}

// CompareNewestFirst orders organizations by creation time, newest first, with
// ties broken by ascending key. It is a total order as long as keys are unique.
func CompareNewestFirst(a, b *Organization) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.Key, b.Key)
}
