// organization_service.go implements organization administration: creation with
// clock-assigned timestamps, attribute updates, and membership changes.
package services

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/orgdirectory/orgdirectory/internal/db/models"
	"github.com/orgdirectory/orgdirectory/internal/db/repositories"
)

const (
	maxKeyLength       = 255
	maxNameLength      = 255
	maxAttributeLength = 256
)

var organizationKeyPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// OrganizationStore is the storage used for organization administration
type OrganizationStore interface {
	GetByKey(ctx context.Context, key string) (*models.Organization, error)
	Create(ctx context.Context, org *models.Organization) error
	Update(ctx context.Context, org *models.Organization) (bool, error)
	AddMember(ctx context.Context, member *models.OrganizationMember) error
	RemoveMember(ctx context.Context, orgUUID, userID string) error
}

// CreateOrganizationParams holds the attributes of a new organization
type CreateOrganizationParams struct {
	Key         string
	Name        string
	Description *string
	URL         *string
	AvatarURL   *string
	Guarded     bool
}

// UpdateOrganizationParams holds the mutable attributes of an organization
type UpdateOrganizationParams struct {
	Name        string
	Description *string
	URL         *string
	AvatarURL   *string
}

// OrganizationService administers organizations. Time comes from the clock
// given at construction, never from the database.
type OrganizationService struct {
	store OrganizationStore
	now   func() time.Time
}

// NewOrganizationService creates a service; a nil clock means time.Now
func NewOrganizationService(store OrganizationStore, now func() time.Time) *OrganizationService {
	if now == nil {
		now = time.Now
	}
	return &OrganizationService{store: store, now: now}
}

// Create registers a new organization
func (s *OrganizationService) Create(ctx context.Context, params CreateOrganizationParams) (*models.Organization, error) {
	if err := validateKey(params.Key); err != nil {
		return nil, err
	}
	if err := validateAttributes(params.Name, params.Description, params.URL, params.AvatarURL); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	org := &models.Organization{
		UUID:        uuid.NewString(),
		Key:         params.Key,
		Name:        params.Name,
		Description: params.Description,
		URL:         params.URL,
		AvatarURL:   params.AvatarURL,
		Guarded:     params.Guarded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, org); err != nil {
		if errors.Is(err, repositories.ErrDuplicateKey) {
			return nil, errors.Join(ErrConflict, err)
		}
		return nil, storeError(ctx, "create organization", err)
	}
	return org, nil
}

// Update replaces the mutable attributes of the organization with key. The
// creation time is never touched and the update time never goes backwards.
func (s *OrganizationService) Update(ctx context.Context, key string, params UpdateOrganizationParams) (*models.Organization, error) {
	if err := validateAttributes(params.Name, params.Description, params.URL, params.AvatarURL); err != nil {
		return nil, err
	}

	org, err := s.get(ctx, key)
	if err != nil {
		return nil, err
	}

	org.Name = params.Name
	org.Description = params.Description
	org.URL = params.URL
	org.AvatarURL = params.AvatarURL
	if now := s.now().UTC(); now.After(org.UpdatedAt) {
		org.UpdatedAt = now
	}

	found, err := s.store.Update(ctx, org)
	if err != nil {
		return nil, storeError(ctx, "update organization", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return org, nil
}

// AddMember makes userID a member of the organization with key
func (s *OrganizationService) AddMember(ctx context.Context, key, userID string) error {
	if userID == "" {
		return invalidArgument("user id is required")
	}
	org, err := s.get(ctx, key)
	if err != nil {
		return err
	}

	member := &models.OrganizationMember{
		OrganizationUUID: org.UUID,
		UserID:           userID,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.store.AddMember(ctx, member); err != nil {
		return storeError(ctx, "add member", err)
	}
	return nil
}

// RemoveMember removes userID from the organization with key
func (s *OrganizationService) RemoveMember(ctx context.Context, key, userID string) error {
	if userID == "" {
		return invalidArgument("user id is required")
	}
	org, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	if err := s.store.RemoveMember(ctx, org.UUID, userID); err != nil {
		return storeError(ctx, "remove member", err)
	}
	return nil
}

func (s *OrganizationService) get(ctx context.Context, key string) (*models.Organization, error) {
	if key == "" {
		return nil, invalidArgument("organization key is required")
	}
	org, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return nil, storeError(ctx, "get organization", err)
	}
	if org == nil {
		return nil, ErrNotFound
	}
	return org, nil
}

func validateKey(key string) error {
	if len(key) == 0 || len(key) > maxKeyLength {
		return invalidArgument("key must be between 1 and %d characters", maxKeyLength)
	}
	if !organizationKeyPattern.MatchString(key) {
		return invalidArgument("key %q may only contain lowercase letters, digits, '-' and '_'", key)
	}
	return nil
}

func validateAttributes(name string, optional ...*string) error {
	if len(name) == 0 || len(name) > maxNameLength {
		return invalidArgument("name must be between 1 and %d characters", maxNameLength)
	}
	for _, v := range optional {
		if v != nil && len(*v) > maxAttributeLength {
			return invalidArgument("description, url and avatar must be at most %d characters", maxAttributeLength)
		}
	}
	return nil
}
