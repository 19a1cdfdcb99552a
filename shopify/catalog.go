package shopify

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/kalbooks/preorder_backend/config"
	"bitbucket.org/kalbooks/preorder_backend/models"
)

// Source is the commerce-side surface the reconciliation workflow depends on.
// GraphQLSource talks to the live Admin API; FixtureSource serves canned data
// for dry runs and tests.
type Source interface {
	FetchPreorderTitles(ctx context.Context) ([]models.CatalogTitle, error)
	FetchOrders(ctx context.Context, start, end time.Time) ([]Order, error)
	RemoveFromPreorderCollection(ctx context.Context, isbns []string) error
}

type GraphQLSource struct {
	client        *client
	preorderTag   string
	collectionKey string
}

func NewGraphQLSource() (*GraphQLSource, error) {
	c, err := newClient()
	if err != nil {
		return nil, err
	}
	tag := strings.TrimSpace(os.Getenv("PREORDER_TAG"))
	if tag == "" {
		tag = "preorder"
	}
	collection := strings.TrimSpace(os.Getenv("PREORDER_COLLECTION_HANDLE"))
	if collection == "" {
		collection = "preorder"
	}
	return &GraphQLSource{client: c, preorderTag: tag, collectionKey: collection}, nil
}

const preorderTitlesQuery = `
query preorderTitles($query: String!, $collectionId: ID!, $cursor: String) {
  products(first: 100, query: $query, after: $cursor) {
    pageInfo { hasNextPage endCursor }
    edges {
      node {
        id
        title
        vendor
        tags
        totalInventory
        inCollection(id: $collectionId)
        metafield(namespace: "custom", key: "pub_date") { value }
        variants(first: 1) {
          edges { node { barcode } }
        }
      }
    }
  }
}`

type productNode struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Vendor         string   `json:"vendor"`
	Tags           []string `json:"tags"`
	TotalInventory int      `json:"totalInventory"`
	InCollection   bool     `json:"inCollection"`
	Metafield      *struct {
		Value string `json:"value"`
	} `json:"metafield"`
	Variants struct {
		Edges []struct {
			Node struct {
				Barcode string `json:"barcode"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"variants"`
}

type productsPage struct {
	Products struct {
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Edges []struct {
			Node productNode `json:"node"`
		} `json:"edges"`
	} `json:"products"`
}

// FetchPreorderTitles pages through every product carrying the preorder tag
// and maps it into a snapshot row. Missing barcodes come through as empty
// identifiers and are classified downstream, not dropped here.
func (s *GraphQLSource) FetchPreorderTitles(ctx context.Context) ([]models.CatalogTitle, error) {
	collectionID, err := s.collectionID(ctx)
	if err != nil {
		return nil, err
	}

	var titles []models.CatalogTitle
	var cursor *string
	for {
		vars := map[string]interface{}{
			"query":        fmt.Sprintf("tag:%s", s.preorderTag),
			"collectionId": collectionID,
		}
		if cursor != nil {
			vars["cursor"] = *cursor
		}
		var page productsPage
		if err := s.client.runQuery(ctx, preorderTitlesQuery, vars, &page); err != nil {
			return nil, fmt.Errorf("fetch preorder titles: %w", err)
		}
		for _, edge := range page.Products.Edges {
			node := edge.Node
			row := models.CatalogTitle{
				ProductID:            node.ID,
				Title:                node.Title,
				Vendor:               node.Vendor,
				Inventory:            node.TotalInventory,
				PreorderTagged:       hasTag(node.Tags, s.preorderTag),
				InPreorderCollection: node.InCollection,
			}
			if len(node.Variants.Edges) > 0 {
				row.Isbn = strings.TrimSpace(node.Variants.Edges[0].Node.Barcode)
			}
			if node.Metafield != nil {
				row.PubDate = strings.TrimSpace(node.Metafield.Value)
			}
			titles = append(titles, row)
		}
		if !page.Products.PageInfo.HasNextPage {
			return titles, nil
		}
		end := page.Products.PageInfo.EndCursor
		cursor = &end
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(strings.TrimSpace(t), want) {
			return true
		}
	}
	return false
}

const collectionByHandleQuery = `
query collectionByHandle($handle: String!) {
  collectionByHandle(handle: $handle) { id }
}`

const collectionRemoveMutation = `
mutation collectionRemoveProducts($id: ID!, $productIds: [ID!]!) {
  collectionRemoveProducts(id: $id, productIds: $productIds) {
    userErrors { field message }
  }
}`

const productIdByBarcodeQuery = `
query productByBarcode($query: String!) {
  products(first: 1, query: $query) {
    edges { node { id } }
  }
}`

// RemoveFromPreorderCollection detaches released titles from the storefront's
// preorder collection. Product-id lookups are cached in redis so repeated
// cleanup passes do not burn API quota.
func (s *GraphQLSource) RemoveFromPreorderCollection(ctx context.Context, isbns []string) error {
	if len(isbns) == 0 {
		return nil
	}
	collectionID, err := s.collectionID(ctx)
	if err != nil {
		return err
	}

	var productIDs []string
	for _, isbn := range isbns {
		id, err := s.productIDForBarcode(ctx, isbn)
		if err != nil {
			return err
		}
		if id == "" {
			continue
		}
		productIDs = append(productIDs, id)
	}
	if len(productIDs) == 0 {
		return nil
	}

	var result struct {
		CollectionRemoveProducts struct {
			UserErrors []struct {
				Message string `json:"message"`
			} `json:"userErrors"`
		} `json:"collectionRemoveProducts"`
	}
	vars := map[string]interface{}{"id": collectionID, "productIds": productIDs}
	if err := s.client.runQuery(ctx, collectionRemoveMutation, vars, &result); err != nil {
		return fmt.Errorf("remove from preorder collection: %w", err)
	}
	if errs := result.CollectionRemoveProducts.UserErrors; len(errs) > 0 {
		return fmt.Errorf("remove from preorder collection: %s", errs[0].Message)
	}

	cacheKeys := make([]string, 0, len(isbns))
	for _, isbn := range isbns {
		cacheKeys = append(cacheKeys, "shopify:product:"+isbn)
	}
	config.RemoveRedisKey(cacheKeys...)
	return nil
}

func (s *GraphQLSource) collectionID(ctx context.Context) (string, error) {
	cacheKey := "shopify:collection:" + s.collectionKey
	var cached string
	if found, err := config.GetRedisObject(cacheKey, &cached); err == nil && found && cached != "" {
		return cached, nil
	}

	var result struct {
		CollectionByHandle *struct {
			ID string `json:"id"`
		} `json:"collectionByHandle"`
	}
	vars := map[string]interface{}{"handle": s.collectionKey}
	if err := s.client.runQuery(ctx, collectionByHandleQuery, vars, &result); err != nil {
		return "", fmt.Errorf("resolve collection %q: %w", s.collectionKey, err)
	}
	if result.CollectionByHandle == nil {
		return "", fmt.Errorf("collection %q not found", s.collectionKey)
	}
	config.SetRedisObject(cacheKey, result.CollectionByHandle.ID, 24*time.Hour)
	return result.CollectionByHandle.ID, nil
}

func (s *GraphQLSource) productIDForBarcode(ctx context.Context, barcode string) (string, error) {
	cacheKey := "shopify:product:" + barcode
	var cached string
	if found, err := config.GetRedisObject(cacheKey, &cached); err == nil && found && cached != "" {
		return cached, nil
	}

	var page struct {
		Products struct {
			Edges []struct {
				Node struct {
					ID string `json:"id"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	}
	vars := map[string]interface{}{"query": fmt.Sprintf("barcode:%s", barcode)}
	if err := s.client.runQuery(ctx, productIdByBarcodeQuery, vars, &page); err != nil {
		return "", fmt.Errorf("resolve product for %s: %w", barcode, err)
	}
	if len(page.Products.Edges) == 0 {
		return "", nil
	}
	id := page.Products.Edges[0].Node.ID
	config.SetRedisObject(cacheKey, id, 7*24*time.Hour)
	return id, nil
}
