package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bitbucket.org/kalbooks/preorder_backend/config"
	"bitbucket.org/kalbooks/preorder_backend/utils"
)

// Sender delivers operational mail through the Mailtrap sending API.
type Sender struct {
	apiURL     string
	token      string
	from       string
	recipients []string
	http       *http.Client
}

func NewSender() (*Sender, error) {
	token := strings.TrimSpace(os.Getenv("MAILTRAP_API_TOKEN"))
	if token == "" {
		return nil, errors.New("MAILTRAP_API_TOKEN is required")
	}
	from := strings.TrimSpace(os.Getenv("EMAIL_SENDER"))
	if from == "" {
		return nil, errors.New("EMAIL_SENDER is required")
	}
	var recipients []string
	for _, r := range strings.Split(os.Getenv("EMAIL_RECIPIENTS"), ";") {
		if r = strings.TrimSpace(r); r != "" {
			if !utils.IsValidEmail(r) {
				return nil, fmt.Errorf("EMAIL_RECIPIENTS: %q is not a valid address", r)
			}
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return nil, errors.New("EMAIL_RECIPIENTS is required (semicolon separated)")
	}
	apiURL := strings.TrimSpace(os.Getenv("MAILTRAP_API_URL"))
	if apiURL == "" {
		apiURL = "https://send.api.mailtrap.io/api/send"
	}
	return &Sender{
		apiURL:     apiURL,
		token:      token,
		from:       from,
		recipients: recipients,
		http:       &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type attachment struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
}

type sendPayload struct {
	From struct {
		Email string `json:"email"`
	} `json:"from"`
	To []struct {
		Email string `json:"email"`
	} `json:"to"`
	Subject     string       `json:"subject"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments,omitempty"`
}

// Send delivers one message with optional file attachments.
func (s *Sender) Send(ctx context.Context, subject, body string, attachmentPaths ...string) error {
	var payload sendPayload
	payload.From.Email = s.from
	for _, r := range s.recipients {
		payload.To = append(payload.To, struct {
			Email string `json:"email"`
		}{Email: r})
	}
	payload.Subject = subject
	payload.Text = body
	for _, path := range attachmentPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read attachment %s: %w", path, err)
		}
		payload.Attachments = append(payload.Attachments, attachment{
			Content:  base64.StdEncoding.EncodeToString(data),
			Filename: filepath.Base(path),
			Type:     "text/csv",
		})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mailtrap send: status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// SendReleaseNotification renders the admin mail for one published release
// event.
func (s *Sender) SendReleaseNotification(ctx context.Context, msg config.ReleaseEventMessage) error {
	subject := fmt.Sprintf("Preorder released: %s (%s)", msg.Title, msg.Isbn)
	body := fmt.Sprintf(
		"Title: %s\nISBN: %s\nRelease date: %s\nApproved by: %s\nPresold units: %d\nInventory at release: %d\n",
		msg.Title, msg.Isbn, msg.ReleaseDate, msg.ApprovedBy, msg.PresaleQty, msg.Inventory)
	return s.Send(ctx, subject, body)
}

// SendWeeklyReport mails the sales feed and its exclusions sidecar.
func (s *Sender) SendWeeklyReport(ctx context.Context, periodEnd string, csvPaths ...string) error {
	subject := "Weekly sales report " + periodEnd
	body := "Attached: the weekly sales feed and the exclusions audit file."
	return s.Send(ctx, subject, body, csvPaths...)
}
