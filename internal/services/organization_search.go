// organization_search.go implements the directory search: key-set and membership filters,
// a newest-first total order, and 1-based paging with the filtered total.
package services

import (
	"context"
	"slices"

	"github.com/orgdirectory/orgdirectory/internal/db/models"
	"github.com/orgdirectory/orgdirectory/internal/db/repositories"
	"github.com/orgdirectory/orgdirectory/pkg/paging"
)

// OrganizationFinder is the storage the search reads from. Results of
// FindOrganizations may come back in any order.
type OrganizationFinder interface {
	FindOrganizations(ctx context.Context, filter repositories.OrganizationFilter) ([]*models.Organization, error)
}

// OrganizationPageFinder is implemented by stores that can sort and slice
// themselves. The page must follow models.CompareNewestFirst, and the total
// must be counted from the same snapshot the page was read from.
type OrganizationPageFinder interface {
	OrganizationFinder
	SearchOrganizationsPage(ctx context.Context, filter repositories.OrganizationFilter, pageIndex, pageSize int) ([]*models.Organization, int, error)
}

// SearchRequest is a validated-on-use search query
type SearchRequest struct {
	// Keys restricts results to these organization keys; empty means all
	Keys []string
	// OnlyMember restricts results to organizations the caller belongs to
	OnlyMember bool
	// PageIndex is 1-based
	PageIndex int
	PageSize  int
}

// SearchResult is one page of organizations plus paging metadata
type SearchResult struct {
	Organizations []*models.Organization
	Paging        paging.Paging
}

// OrganizationSearch lists organizations. It holds no per-call state and is
// safe for concurrent use.
type OrganizationSearch struct {
	store       OrganizationFinder
	maxPageSize int
}

// NewOrganizationSearch creates a search over store. maxPageSize is clamped to
// [1, paging.MaxPageSize]; zero selects paging.MaxPageSize.
func NewOrganizationSearch(store OrganizationFinder, maxPageSize int) *OrganizationSearch {
	if maxPageSize <= 0 || maxPageSize > paging.MaxPageSize {
		maxPageSize = paging.MaxPageSize
	}
	return &OrganizationSearch{store: store, maxPageSize: maxPageSize}
}

// MaxPageSize returns the largest page size Search accepts
func (s *OrganizationSearch) MaxPageSize() int {
	return s.maxPageSize
}

// Search returns the requested page of organizations matching every filter in
// req, newest first. callerID is the authenticated user, empty when anonymous.
func (s *OrganizationSearch) Search(ctx context.Context, req SearchRequest, callerID string) (*SearchResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	filter, err := buildFilter(req, callerID)
	if err != nil {
		return nil, err
	}

	if pager, ok := s.store.(OrganizationPageFinder); ok {
		return s.searchPushdown(ctx, pager, filter, req)
	}
	return s.searchInMemory(ctx, filter, req)
}

func (s *OrganizationSearch) validate(req SearchRequest) error {
	if req.PageIndex < 1 {
		return invalidArgument("page index must be greater than 0, got %d", req.PageIndex)
	}
	if req.PageSize < 1 || req.PageSize > s.maxPageSize {
		return invalidArgument("page size must be between 1 and %d, got %d", s.maxPageSize, req.PageSize)
	}
	for _, key := range req.Keys {
		if key == "" {
			return invalidArgument("organization keys must not be empty")
		}
	}
	return nil
}

func buildFilter(req SearchRequest, callerID string) (repositories.OrganizationFilter, error) {
	var filter repositories.OrganizationFilter
	if len(req.Keys) > 0 {
		// Argument order must not leak into the query.
		keys := slices.Clone(req.Keys)
		slices.Sort(keys)
		filter.Keys = slices.Compact(keys)
	}
	if req.OnlyMember {
		if callerID == "" {
			return filter, ErrNotAuthorized
		}
		filter.MemberID = callerID
	}
	return filter, nil
}

func (s *OrganizationSearch) searchPushdown(ctx context.Context, store OrganizationPageFinder, filter repositories.OrganizationFilter, req SearchRequest) (*SearchResult, error) {
	orgs, total, err := store.SearchOrganizationsPage(ctx, filter, req.PageIndex, req.PageSize)
	if err != nil {
		return nil, storeError(ctx, "list organizations", err)
	}

	result := newSearchResult(req, total)
	_, limit := result.Paging.Window()
	if len(orgs) > limit {
		orgs = orgs[:limit]
	}
	if len(orgs) > 0 {
		result.Organizations = orgs
	}
	return result, nil
}

func (s *OrganizationSearch) searchInMemory(ctx context.Context, filter repositories.OrganizationFilter, req SearchRequest) (*SearchResult, error) {
	orgs, err := s.store.FindOrganizations(ctx, filter)
	if err != nil {
		return nil, storeError(ctx, "find organizations", err)
	}

	sorted := slices.Clone(orgs)
	slices.SortFunc(sorted, models.CompareNewestFirst)

	result := newSearchResult(req, len(sorted))
	if page := paging.Slice(sorted, req.PageIndex, req.PageSize); len(page) > 0 {
		result.Organizations = page
	}
	return result, nil
}

func newSearchResult(req SearchRequest, total int) *SearchResult {
	return &SearchResult{
		Organizations: []*models.Organization{},
		Paging: paging.Paging{
			PageIndex: req.PageIndex,
			PageSize:  req.PageSize,
			Total:     total,
		},
	}
}
