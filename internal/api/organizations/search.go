// search.go implements GET /api/organizations/search.
package organizations

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orgdirectory/orgdirectory/internal/auth"
	"github.com/orgdirectory/orgdirectory/internal/middleware"
	"github.com/orgdirectory/orgdirectory/internal/services"
	"github.com/orgdirectory/orgdirectory/internal/telemetry"
	"github.com/orgdirectory/orgdirectory/pkg/paging"
)

type searchResponse struct {
	Organizations []organizationSummary `json:"organizations"`
	Paging        paging.Paging         `json:"paging"`
}

// @Summary      Search organizations
// @Description  List organizations newest first, optionally restricted to a set of keys and to organizations the caller belongs to.
// @Tags         Organizations
// @Produce      json
// @Param        organizations  query  string  false  "Comma-separated organization keys"
// @Param        member         query  bool    false  "Only organizations the caller is a member of (requires authentication)"
// @Param        p              query  int     false  "1-based page index (default 1)"
// @Param        ps             query  int     false  "Page size, 1 to 500 (default 25)"
// @Success      200  {object}  searchResponse
// @Failure      400  {object}  map[string]interface{}  "Invalid parameters"
// @Failure      401  {object}  map[string]interface{}  "member=true without authentication"
// @Failure      503  {object}  map[string]interface{}  "Storage unavailable"
// @Router       /api/organizations/search [get]
// SearchHandler lists one page of organizations
// GET /api/organizations/search?organizations=a,b&member=true&p=1&ps=25
func (h *Handlers) SearchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := h.parseSearchRequest(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := h.search.Search(c.Request.Context(), req, middleware.CallerID(c))
		if err != nil {
			writeError(c, "organization search", err)
			return
		}

		showGuarded := auth.HasScope(middleware.CallerScopes(c), auth.ScopeAdmin)
		resp := searchResponse{
			Organizations: make([]organizationSummary, 0, len(result.Organizations)),
			Paging:        result.Paging,
		}
		for _, org := range result.Organizations {
			resp.Organizations = append(resp.Organizations, toSummary(org, showGuarded))
		}

		telemetry.OrganizationSearchResults.Observe(float64(len(resp.Organizations)))
		c.JSON(http.StatusOK, resp)
	}
}

// parseSearchRequest reads the query string. Range checks on p and ps are
// left to the search so that both report through the same error class.
func (h *Handlers) parseSearchRequest(c *gin.Context) (services.SearchRequest, error) {
	req := services.SearchRequest{
		PageIndex: paging.DefaultPageIndex,
		PageSize:  h.defaultPageSize,
	}

	keys, err := parseKeyList(c.Query("organizations"))
	if err != nil {
		return req, err
	}
	req.Keys = keys

	if raw, ok := c.GetQuery("member"); ok {
		member, err := parseFlag(raw)
		if err != nil {
			return req, err
		}
		req.OnlyMember = member
	}

	if raw, ok := c.GetQuery("p"); ok {
		p, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return req, errors.New("p must be an integer")
		}
		req.PageIndex = p
	}

	if raw, ok := c.GetQuery("ps"); ok {
		ps, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return req, errors.New("ps must be an integer")
		}
		req.PageSize = ps
	}

	return req, nil
}

// parseKeyList splits a comma-separated key list. An empty string means no
// filter; an empty element is rejected.
func parseKeyList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		key := strings.TrimSpace(part)
		if key == "" {
			return nil, errors.New("organizations must not contain empty keys")
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// parseFlag accepts true/false and yes/no, case-insensitively
func parseFlag(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes":
		return true, nil
	case "false", "no":
		return false, nil
	default:
		return false, errors.New("member must be one of true, false, yes, no")
	}
}
