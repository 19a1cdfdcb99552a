package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// client is the commerce Admin GraphQL transport. Queries are fixed strings;
// responses are decoded into per-call shapes by the callers in catalog.go
// and orders.go.
type client struct {
	graphqlURL  string
	accessToken string
	http        *http.Client
	limiter     <-chan time.Time
}

func newClient() (*client, error) {
	shopURL := strings.TrimSpace(os.Getenv("SHOP_URL"))
	if shopURL == "" {
		return nil, errors.New("SHOP_URL is required")
	}
	accessToken := strings.TrimSpace(os.Getenv("SHOPIFY_ACCESS_TOKEN"))
	if accessToken == "" {
		return nil, errors.New("SHOPIFY_ACCESS_TOKEN is required")
	}
	apiVersion := strings.TrimSpace(os.Getenv("SHOPIFY_API_VERSION"))
	if apiVersion == "" {
		apiVersion = "2025-01"
	}

	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("SHOPIFY_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &client{
		graphqlURL:  fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shopURL, apiVersion),
		accessToken: accessToken,
		http:        &http.Client{Timeout: 30 * time.Second},
		limiter:     time.Tick(interval),
	}, nil
}

type graphqlErrors []struct {
	Message string `json:"message"`
}

// runQuery executes one GraphQL call with bounded exponential backoff on
// transport errors, 5xx responses and GraphQL-level errors.
func (c *client) runQuery(ctx context.Context, query string, variables map[string]interface{}, dest interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return err
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			sleep := time.Second * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.limiter:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Shopify-Access-Token", c.accessToken)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("graphql status %d: %s", resp.StatusCode, string(respBody))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return lastErr
			}
			continue
		}

		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors graphqlErrors   `json:"errors"`
		}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			lastErr = err
			continue
		}
		if len(envelope.Errors) > 0 {
			lastErr = fmt.Errorf("graphql errors: %s", envelope.Errors[0].Message)
			continue
		}
		if dest != nil {
			if err := json.Unmarshal(envelope.Data, dest); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("graphql query failed after %d attempts: %w", maxAttempts, lastErr)
}
