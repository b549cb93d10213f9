package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockRepo struct {
	Repository // unused methods panic

	mu        sync.Mutex
	products  map[string]*Product
	snapshots []MerchantProduct
	history   []PriceHistoryEntry
	getErr    error
	upsertErr error
	panicOn   string
}

func newMockRepo() *mockRepo {
	return &mockRepo{products: make(map[string]*Product)}
}

func (m *mockRepo) GetProduct(_ context.Context, code string) (*Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.products[code]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) UpsertProduct(_ context.Context, p *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOn == p.Code {
		panic("unexpected nil")
	}
	cp := *p
	m.products[p.Code] = &cp
	return nil
}

func (m *mockRepo) UpsertMerchantProduct(_ context.Context, mp *MerchantProduct) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	m.snapshots = append(m.snapshots, *mp)
	return int64(len(m.snapshots)), nil
}

func (m *mockRepo) AppendPriceHistory(_ context.Context, e *PriceHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, *e)
	return nil
}

var observed = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testListing(code string) Listing {
	return Listing{Code: code, Name: "Arroz 1kg", URL: "https://x/arroz/p", Images: []string{"i"}, Price: 10, ListPrice: 12, Available: true}
}

func TestPolicyFor(t *testing.T) {
	repo := newMockRepo()
	assert.Equal(t, RoleMaster, PolicyFor(RoleMaster, repo).Role())
	assert.Equal(t, RoleFollower, PolicyFor(RoleFollower, repo).Role())
	assert.Equal(t, RoleFollower, PolicyFor("", repo).Role())
}

func TestMasterPolicy_Save(t *testing.T) {
	repo := newMockRepo()

	out := NewMasterPolicy(repo).Save(context.Background(), testListing("A"), 7, observed)

	assert.True(t, out.Saved)
	assert.Contains(t, repo.products, "A")
	if assert.Len(t, repo.snapshots, 1) {
		assert.Equal(t, int64(7), repo.snapshots[0].MerchantID)
		assert.Equal(t, observed, *repo.snapshots[0].LastCheckedAt)
	}
	if assert.Len(t, repo.history, 1) {
		assert.Equal(t, int64(1), repo.history[0].MerchantProductID)
		assert.Equal(t, 10.0, repo.history[0].Price)
		assert.Equal(t, observed, repo.history[0].ObservedAt)
	}
}

func TestFollowerPolicy_NotInMaster(t *testing.T) {
	repo := newMockRepo()

	out := NewFollowerPolicy(repo).Save(context.Background(), testListing("A"), 2, observed)

	assert.Equal(t, Outcome{Saved: false, Reason: ReasonNotInMaster}, out)
	assert.Empty(t, repo.products)
	assert.Empty(t, repo.snapshots)
	assert.Empty(t, repo.history)
}

func TestPolicy_ErrorsBecomeOutcomes(t *testing.T) {
	t.Run("lookup error", func(t *testing.T) {
		repo := newMockRepo()
		repo.getErr = errors.New("database is locked")

		out := NewFollowerPolicy(repo).Save(context.Background(), testListing("A"), 2, observed)
		assert.Equal(t, Outcome{Reason: ReasonDBError}, out)
	})

	t.Run("snapshot error", func(t *testing.T) {
		repo := newMockRepo()
		repo.upsertErr = errors.New("constraint failed")

		out := NewMasterPolicy(repo).Save(context.Background(), testListing("A"), 1, observed)
		assert.Equal(t, Outcome{Reason: ReasonDBError}, out)
		assert.Empty(t, repo.history)
	})

	t.Run("panic", func(t *testing.T) {
		repo := newMockRepo()
		repo.panicOn = "A"

		out := NewMasterPolicy(repo).Save(context.Background(), testListing("A"), 1, observed)
		assert.Equal(t, Outcome{Reason: ReasonException}, out)
	})
}

func TestListing_Projections(t *testing.T) {
	l := testListing("A")
	l.Description = "Grano largo"
	l.Categories = []string{"/Almacén/Arroz/"}

	p := l.Product()
	assert.Equal(t, "Grano largo", p.Description)
	assert.Equal(t, "i", p.ImageURL)
	assert.Equal(t, "/Almacén/Arroz/", p.Category)

	s := l.Snapshot(3, observed)
	assert.Equal(t, "A", s.ProductCode)
	assert.Equal(t, int64(3), s.MerchantID)
	assert.True(t, s.IsAvailable)
}

func TestStringList_ValueScan(t *testing.T) {
	v, err := StringList{"a", "b"}.Value()
	assert.NoError(t, err)
	assert.Equal(t, `["a","b"]`, v)

	var s StringList
	assert.NoError(t, s.Scan([]byte(`["x"]`)))
	assert.Equal(t, StringList{"x"}, s)
	assert.NoError(t, s.Scan(nil))
	assert.Nil(t, s)
	assert.Error(t, s.Scan(42))
}
