package shopify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Order is one sales order inside a reporting window, reduced to the line
// items the merge step needs.
type Order struct {
	ID        string
	CreatedAt time.Time
	LineItems []LineItem
}

type LineItem struct {
	Barcode  string
	Quantity int
}

const ordersQuery = `
query ordersInWindow($query: String!, $cursor: String) {
  orders(first: 100, query: $query, after: $cursor) {
    pageInfo { hasNextPage endCursor }
    edges {
      node {
        id
        createdAt
        lineItems(first: 100) {
          edges {
            node {
              quantity
              variant { barcode }
            }
          }
        }
      }
    }
  }
}`

type ordersPage struct {
	Orders struct {
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Edges []struct {
			Node struct {
				ID        string    `json:"id"`
				CreatedAt time.Time `json:"createdAt"`
				LineItems struct {
					Edges []struct {
						Node struct {
							Quantity int `json:"quantity"`
							Variant  *struct {
								Barcode string `json:"barcode"`
							} `json:"variant"`
						} `json:"node"`
					} `json:"edges"`
				} `json:"lineItems"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"orders"`
}

// FetchOrders returns every order created in [start, end). The window bounds
// go into the search query in RFC3339 so the API does the filtering.
func (s *GraphQLSource) FetchOrders(ctx context.Context, start, end time.Time) ([]Order, error) {
	search := fmt.Sprintf("created_at:>='%s' AND created_at:<'%s'",
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))

	var orders []Order
	var cursor *string
	for {
		vars := map[string]interface{}{"query": search}
		if cursor != nil {
			vars["cursor"] = *cursor
		}
		var page ordersPage
		if err := s.client.runQuery(ctx, ordersQuery, vars, &page); err != nil {
			return nil, fmt.Errorf("fetch orders: %w", err)
		}
		for _, edge := range page.Orders.Edges {
			node := edge.Node
			order := Order{ID: node.ID, CreatedAt: node.CreatedAt}
			for _, li := range node.LineItems.Edges {
				item := LineItem{Quantity: li.Node.Quantity}
				if li.Node.Variant != nil {
					item.Barcode = strings.TrimSpace(li.Node.Variant.Barcode)
				}
				order.LineItems = append(order.LineItems, item)
			}
			orders = append(orders, order)
		}
		if !page.Orders.PageInfo.HasNextPage {
			return orders, nil
		}
		end := page.Orders.PageInfo.EndCursor
		cursor = &end
	}
}
