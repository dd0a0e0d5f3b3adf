package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/orgdirectory/orgdirectory/internal/db/models"
	"github.com/orgdirectory/orgdirectory/internal/db/repositories"
	"github.com/orgdirectory/orgdirectory/pkg/paging"
)

// ---------------------------------------------------------------------------
// In-memory stores
// ---------------------------------------------------------------------------

// memStore is an OrganizationFinder and OrganizationStore over a map. It
// returns organizations in insertion order so the search has to sort.
type memStore struct {
	mu      sync.Mutex
	orgs    []*models.Organization
	members map[string]map[string]bool // org uuid -> user ids
	err     error                      // returned by every call when set
	updates int
}

func newMemStore(orgs ...*models.Organization) *memStore {
	return &memStore{orgs: orgs, members: map[string]map[string]bool{}}
}

func (m *memStore) matches(o *models.Organization, f repositories.OrganizationFilter) bool {
	if len(f.Keys) > 0 && !slices.Contains(f.Keys, o.Key) {
		return false
	}
	if f.MemberID != "" && !m.members[o.UUID][f.MemberID] {
		return false
	}
	return true
}

func (m *memStore) FindOrganizations(_ context.Context, f repositories.OrganizationFilter) ([]*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Organization
	for _, o := range m.orgs {
		if m.matches(o, f) {
			c := *o
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memStore) GetByKey(_ context.Context, key string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, o := range m.orgs {
		if o.Key == key {
			c := *o
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) Create(_ context.Context, org *models.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, o := range m.orgs {
		if o.Key == org.Key {
			return repositories.ErrDuplicateKey
		}
	}
	c := *org
	m.orgs = append(m.orgs, &c)
	return nil
}

func (m *memStore) Update(_ context.Context, org *models.Organization) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	m.updates++
	for i, o := range m.orgs {
		if o.Key == org.Key {
			c := *org
			c.CreatedAt = o.CreatedAt
			m.orgs[i] = &c
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) AddMember(_ context.Context, member *models.OrganizationMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.members[member.OrganizationUUID] == nil {
		m.members[member.OrganizationUUID] = map[string]bool{}
	}
	m.members[member.OrganizationUUID][member.UserID] = true
	return nil
}

func (m *memStore) RemoveMember(_ context.Context, orgUUID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.members[orgUUID], userID)
	return nil
}

// pagerStore adds database-style paging on top of memStore so the search takes
// its pushdown path. It records what it was asked for and how many page reads
// went past the count.
type pagerStore struct {
	*memStore
	pageIndex, pageSize int
	fetches             int
}

func (p *pagerStore) SearchOrganizationsPage(ctx context.Context, f repositories.OrganizationFilter, pageIndex, pageSize int) ([]*models.Organization, int, error) {
	p.pageIndex, p.pageSize = pageIndex, pageSize
	orgs, err := p.FindOrganizations(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	slices.SortFunc(orgs, models.CompareNewestFirst)
	offset, limit := paging.Window(pageIndex, pageSize, len(orgs))
	if limit == 0 {
		return nil, len(orgs), nil
	}
	p.fetches++
	return orgs[offset : offset+limit], len(orgs), nil
}

var errStoreDown = errors.New("connection refused")

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

var someDate = time.Date(2017, time.March, 14, 9, 26, 53, 0, time.UTC)

func fixtureOrg(key string, created time.Time) *models.Organization {
	return &models.Organization{
		UUID:      "uuid-" + key,
		Key:       key,
		Name:      "name of " + key,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

// fiveOrgs returns five organizations inserted in a different order than
// they sort: newest first is key-4, key-5, key-2, key-1, key-3.
func fiveOrgs() []*models.Organization {
	return []*models.Organization{
		fixtureOrg("key-3", someDate),
		fixtureOrg("key-1", someDate.Add(1000*time.Millisecond)),
		fixtureOrg("key-2", someDate.Add(2000*time.Millisecond)),
		fixtureOrg("key-5", someDate.Add(3000*time.Millisecond)),
		fixtureOrg("key-4", someDate.Add(5000*time.Millisecond)),
	}
}

func keysOf(orgs []*models.Organization) []string {
	keys := make([]string, 0, len(orgs))
	for _, o := range orgs {
		keys = append(keys, o.Key)
	}
	return keys
}

func request(keys []string, pageIndex, pageSize int) SearchRequest {
	return SearchRequest{Keys: keys, PageIndex: pageIndex, PageSize: pageSize}
}

func defaultRequest() SearchRequest {
	return request(nil, paging.DefaultPageIndex, paging.DefaultPageSize)
}
