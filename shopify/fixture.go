package shopify

import (
	"context"
	"sync"
	"time"

	"bitbucket.org/kalbooks/preorder_backend/models"
)

// FixtureSource serves a canned catalog and order book for dry runs and
// tests. It deliberately includes the data-quality shapes the classifier has
// to handle: a malformed "Coming Soon" date, a missing date, and a title past
// its publication date.
type FixtureSource struct {
	mu      sync.Mutex
	titles  []models.CatalogTitle
	orders  []Order
	removed []string
}

func NewFixtureSource() *FixtureSource {
	today := time.Now().UTC()
	future := today.AddDate(0, 1, 0).Format(models.PubDateLayout)
	past := today.AddDate(0, -3, 0).Format(models.PubDateLayout)
	return &FixtureSource{
		titles: []models.CatalogTitle{
			{
				ProductID: "gid://shopify/Product/9001", Isbn: "9780262551311",
				Title: "The Tide Atlas", Vendor: "Kalbooks Press",
				PubDate: past, Inventory: 2,
				PreorderTagged: true, InPreorderCollection: true,
			},
			{
				ProductID: "gid://shopify/Product/9002", Isbn: "9780262551328",
				Title: "Salt and Circuit", Vendor: "Kalbooks Press",
				PubDate: "Coming Soon", Inventory: 0,
				PreorderTagged: true, InPreorderCollection: true,
			},
			{
				ProductID: "gid://shopify/Product/9003", Isbn: "9780262551335",
				Title: "A Field Guide to Nothing", Vendor: "Harbor House",
				PubDate: "", Inventory: 0,
				PreorderTagged: true, InPreorderCollection: true,
			},
			{
				ProductID: "gid://shopify/Product/9004", Isbn: "9780262551342",
				Title: "Winter Arrivals", Vendor: "Harbor House",
				PubDate: future, Inventory: 5,
				PreorderTagged: true, InPreorderCollection: true,
			},
		},
		orders: []Order{
			{
				ID:        "gid://shopify/Order/5001",
				CreatedAt: today.AddDate(0, 0, -2),
				LineItems: []LineItem{
					{Barcode: "9780262551311", Quantity: 3},
					{Barcode: "9781478923882", Quantity: 1},
				},
			},
			{
				ID:        "gid://shopify/Order/5002",
				CreatedAt: today.AddDate(0, 0, -1),
				LineItems: []LineItem{
					{Barcode: "9780262551342", Quantity: 2},
				},
			},
		},
	}
}

func (s *FixtureSource) FetchPreorderTitles(ctx context.Context) ([]models.CatalogTitle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CatalogTitle(nil), s.titles...), nil
}

func (s *FixtureSource) FetchOrders(ctx context.Context, start, end time.Time) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if !o.CreatedAt.Before(start) && o.CreatedAt.Before(end) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *FixtureSource) RemoveFromPreorderCollection(ctx context.Context, isbns []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, isbns...)
	return nil
}

// Removed reports which titles cleanup has detached so far.
func (s *FixtureSource) Removed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.removed...)
}

// SetTitles and SetOrders let tests shape the fixture.
func (s *FixtureSource) SetTitles(titles []models.CatalogTitle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = titles
}

func (s *FixtureSource) SetOrders(orders []Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = orders
}
