// Package models - organization_member.go defines the user-to-organization membership
// relation used by the directory's "member" filter.
package models

import "time"

// OrganizationMember represents a user's membership in an organization
type OrganizationMember struct {
	OrganizationUUID string    `json:"organization_uuid" db:"organization_uuid"`
	UserID           string    `json:"user_id" db:"user_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
