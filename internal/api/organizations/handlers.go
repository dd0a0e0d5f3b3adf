// Package organizations implements the HTTP boundary of the organization directory:
// the public search endpoint and the administrative create, update and membership
// endpoints. Handlers translate query strings and JSON bodies into service calls and
// map the service error classes onto HTTP status codes.
package organizations

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/orgdirectory/orgdirectory/internal/config"
	"github.com/orgdirectory/orgdirectory/internal/db/models"
	"github.com/orgdirectory/orgdirectory/internal/db/repositories"
	"github.com/orgdirectory/orgdirectory/internal/middleware"
	"github.com/orgdirectory/orgdirectory/internal/services"
	"github.com/orgdirectory/orgdirectory/pkg/paging"
)

// Handlers serves the /api/organizations endpoints
type Handlers struct {
	search          *services.OrganizationSearch
	service         *services.OrganizationService
	defaultPageSize int
}

// NewHandlers creates handlers backed by the organizations tables in db
func NewHandlers(cfg *config.Config, db *sqlx.DB) *Handlers {
	repo := repositories.NewOrganizationRepository(db)
	return newHandlers(cfg, repo, repo, time.Now)
}

func newHandlers(cfg *config.Config, finder services.OrganizationFinder, store services.OrganizationStore, now func() time.Time) *Handlers {
	search := services.NewOrganizationSearch(finder, cfg.Search.MaxPageSize)

	defaultPageSize := cfg.Search.DefaultPageSize
	if defaultPageSize < 1 || defaultPageSize > search.MaxPageSize() {
		defaultPageSize = min(paging.DefaultPageSize, search.MaxPageSize())
	}

	return &Handlers{
		search:          search,
		service:         services.NewOrganizationService(store, now),
		defaultPageSize: defaultPageSize,
	}
}

// organizationSummary is the public view of an organization. Guarded is only
// filled in for administrators.
type organizationSummary struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	URL         *string `json:"url,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
	Guarded     *bool   `json:"guarded,omitempty"`
}

// organizationDetail is returned by the administrative endpoints
type organizationDetail struct {
	organizationSummary
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toSummary(org *models.Organization, showGuarded bool) organizationSummary {
	s := organizationSummary{
		Key:         org.Key,
		Name:        org.Name,
		Description: org.Description,
		URL:         org.URL,
		AvatarURL:   org.AvatarURL,
	}
	if showGuarded {
		guarded := org.Guarded
		s.Guarded = &guarded
	}
	return s
}

func toDetail(org *models.Organization) organizationDetail {
	return organizationDetail{
		organizationSummary: toSummary(org, true),
		CreatedAt:           org.CreatedAt,
		UpdatedAt:           org.UpdatedAt,
	}
}

// errorStatus maps a service error onto an HTTP status and a client-facing message
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrNotAuthorized):
		return http.StatusUnauthorized, "Authentication required"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "Organization not found"
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, "Organization key already exists"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request cancelled"
	default:
		return http.StatusServiceUnavailable, "Directory temporarily unavailable"
	}
}

// writeError writes the error response for err. Storage failures are logged
// with the request id; client errors are not.
func writeError(c *gin.Context, op string, err error) {
	status, msg := errorStatus(err)
	if errors.Is(err, services.ErrStorageUnavailable) {
		slog.Error(op+" failed", "error", err, "request_id", middleware.RequestID(c))
	}
	c.JSON(status, gin.H{"error": msg})
}
