package approval

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

	"bitbucket.org/kalbooks/preorder_backend/models"
)

// GithubSurface publishes approval batches as issues in the operations repo
// and reads decisions back from the issue's state, labels and body.
type GithubSurface struct {
	baseURL string
	repo    string // "owner/name"
	token   string
	label   string
	http    *http.Client
}

func NewGithubSurface() (*GithubSurface, error) {
	repo := strings.TrimSpace(os.Getenv("GITHUB_REPO"))
	if repo == "" {
		return nil, errors.New("GITHUB_REPO is required (owner/name)")
	}
	token := strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	if token == "" {
		return nil, errors.New("GITHUB_TOKEN is required")
	}
	baseURL := strings.TrimSpace(os.Getenv("GITHUB_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	label := strings.TrimSpace(os.Getenv("APPROVAL_ISSUE_LABEL"))
	if label == "" {
		label = "preorder-release"
	}
	return &GithubSurface{
		baseURL: strings.TrimRight(baseURL, "/"),
		repo:    repo,
		token:   token,
		label:   label,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type githubIssue struct {
	Number int    `json:"number"`
	State  string `json:"state"`
	Body   string `json:"body"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	ClosedBy *struct {
		Login string `json:"login"`
	} `json:"closed_by"`
}

func (s *GithubSurface) Publish(ctx context.Context, batch *models.ApprovalBatch) (string, error) {
	payload := map[string]interface{}{
		"title":  fmt.Sprintf("Preorder release approval — run %s", batch.RunID),
		"body":   RenderBatchBody(batch),
		"labels": []string{s.label},
	}
	var issue githubIssue
	url := fmt.Sprintf("%s/repos/%s/issues", s.baseURL, s.repo)
	if err := s.do(ctx, http.MethodPost, url, payload, &issue); err != nil {
		return "", fmt.Errorf("publish approval ticket: %w", err)
	}
	return strconv.Itoa(issue.Number), nil
}

func (s *GithubSurface) Fetch(ctx context.Context, ticketRef string) (*TicketState, error) {
	number, err := strconv.Atoi(strings.TrimSpace(ticketRef))
	if err != nil {
		return nil, fmt.Errorf("bad ticket ref %q: %w", ticketRef, err)
	}
	var issue githubIssue
	url := fmt.Sprintf("%s/repos/%s/issues/%d", s.baseURL, s.repo, number)
	if err := s.do(ctx, http.MethodGet, url, nil, &issue); err != nil {
		return nil, fmt.Errorf("fetch approval ticket #%d: %w", number, err)
	}
	state := &TicketState{
		Open: issue.State == "open",
		Body: issue.Body,
	}
	if issue.ClosedBy != nil {
		state.ClosedBy = issue.ClosedBy.Login
	}
	for _, l := range issue.Labels {
		state.Labels = append(state.Labels, l.Name)
	}
	return state, nil
}

// do runs one API call with bounded exponential backoff on transport and
// 5xx errors.
func (s *GithubSurface) do(ctx context.Context, method, url string, payload, dest interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
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

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("Authorization", "Bearer "+s.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.http.Do(req)
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
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("github api %s: status %d: %s", url, resp.StatusCode, string(respBody))
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("github api %s: status %d: %s", url, resp.StatusCode, string(respBody))
		}
		if dest != nil {
			if err := json.Unmarshal(respBody, dest); err != nil {
				return err
			}
		}
		return nil
	}
	return lastErr
}
