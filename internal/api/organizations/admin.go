// admin.go implements the administrative organization endpoints: create, update
// and membership changes. All of them require the organizations:write scope.
package organizations

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orgdirectory/orgdirectory/internal/services"
)

// CreateOrganizationRequest is the body of POST /api/organizations/create
type CreateOrganizationRequest struct {
	Key         string  `json:"key" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
	URL         *string `json:"url"`
	AvatarURL   *string `json:"avatarUrl"`
	Guarded     bool    `json:"guarded"`
}

// UpdateOrganizationRequest is the body of POST /api/organizations/update
type UpdateOrganizationRequest struct {
	Key         string  `json:"key" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
	URL         *string `json:"url"`
	AvatarURL   *string `json:"avatarUrl"`
}

// MembershipRequest is the body of the add_member and remove_member endpoints
type MembershipRequest struct {
	Organization string `json:"organization" binding:"required"`
	UserID       string `json:"userId" binding:"required"`
}

// @Summary      Create organization
// @Description  Create a new organization. Creation and update timestamps are both set to the current time.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateOrganizationRequest  true  "Organization"
// @Success      201  {object}  map[string]interface{}  "organization"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      409  {object}  map[string]interface{}  "Organization key already exists"
// @Failure      503  {object}  map[string]interface{}  "Storage unavailable"
// @Router       /api/organizations/create [post]
// CreateHandler creates an organization
// POST /api/organizations/create
func (h *Handlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		org, err := h.service.Create(c.Request.Context(), services.CreateOrganizationParams{
			Key:         req.Key,
			Name:        req.Name,
			Description: req.Description,
			URL:         req.URL,
			AvatarURL:   req.AvatarURL,
			Guarded:     req.Guarded,
		})
		if err != nil {
			writeError(c, "create organization", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"organization": toDetail(org)})
	}
}

// @Summary      Update organization
// @Description  Replace the name, description, url and avatar of an organization. The key and creation time never change.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  UpdateOrganizationRequest  true  "Organization"
// @Success      200  {object}  map[string]interface{}  "organization"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      503  {object}  map[string]interface{}  "Storage unavailable"
// @Router       /api/organizations/update [post]
// UpdateHandler updates an organization's mutable attributes
// POST /api/organizations/update
func (h *Handlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateOrganizationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		org, err := h.service.Update(c.Request.Context(), req.Key, services.UpdateOrganizationParams{
			Name:        req.Name,
			Description: req.Description,
			URL:         req.URL,
			AvatarURL:   req.AvatarURL,
		})
		if err != nil {
			writeError(c, "update organization", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"organization": toDetail(org)})
	}
}

// @Summary      Add organization member
// @Description  Add a user to an organization. Adding an existing member succeeds without change.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Param        body  body  MembershipRequest  true  "Membership"
// @Success      204
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      503  {object}  map[string]interface{}  "Storage unavailable"
// @Router       /api/organizations/add_member [post]
// AddMemberHandler adds a user to an organization
// POST /api/organizations/add_member
func (h *Handlers) AddMemberHandler() gin.HandlerFunc {
	return h.membershipHandler("add member", h.service.AddMember)
}

// @Summary      Remove organization member
// @Description  Remove a user from an organization. Removing a non-member succeeds without change.
// @Tags         Organizations
// @Security     Bearer
// @Accept       json
// @Param        body  body  MembershipRequest  true  "Membership"
// @Success      204
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      404  {object}  map[string]interface{}  "Organization not found"
// @Failure      503  {object}  map[string]interface{}  "Storage unavailable"
// @Router       /api/organizations/remove_member [post]
// RemoveMemberHandler removes a user from an organization
// POST /api/organizations/remove_member
func (h *Handlers) RemoveMemberHandler() gin.HandlerFunc {
	return h.membershipHandler("remove member", h.service.RemoveMember)
}

func (h *Handlers) membershipHandler(op string, apply func(ctx context.Context, key, userID string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MembershipRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		if err := apply(c.Request.Context(), req.Organization, req.UserID); err != nil {
			writeError(c, op, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}
