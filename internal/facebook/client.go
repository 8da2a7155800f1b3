// Package facebook wraps the Graph API calls used to find business pages,
// message them, and read page webhooks.
package facebook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/david/govbid-leads/internal/logger"
)

const DefaultBaseURL = "https://graph.facebook.com/v19.0"

// Client calls the Graph API with a page access token. Every call waits on a
// shared limiter.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	token   string
	limiter *rate.Limiter
	log     *logger.Logger
}

func NewClient(baseURL, token string, timeout time.Duration, rps float64, burst int, log *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if rps <= 0 {
		rps, burst = 5, 10
	}
	return &Client{
		HTTP:    &http.Client{Timeout: timeout},
		BaseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log.Component("graph"),
	}
}

// Page is a search hit or a page lookup.
type Page struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Link    string `json:"link,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Website string `json:"website,omitempty"`
}

// APIError is the Graph error envelope.
type APIError struct {
	Status  int
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph API %d: %s (%s, code %d)", e.Status, e.Message, e.Type, e.Code)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("access_token", c.token)

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path+"?"+q.Encode(), rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var envelope struct {
			Error APIError `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &envelope) != nil || envelope.Error.Message == "" {
			envelope.Error.Message = strings.TrimSpace(string(raw))
		}
		envelope.Error.Status = resp.StatusCode
		return &envelope.Error
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// SearchPages returns pages for q in the provider's ranking order.
func (c *Client) SearchPages(ctx context.Context, q string, limit int) ([]Page, error) {
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("fields", "id,name,link")
	params.Set("limit", fmt.Sprint(limit))

	var out struct {
		Data []Page `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/pages/search", params, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// PageInfo fetches the public fields of a page.
func (c *Client) PageInfo(ctx context.Context, pageID string) (*Page, error) {
	params := url.Values{}
	params.Set("fields", "id,name,link,phone,website")
	var p Page
	if err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(pageID), params, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type sendRequest struct {
	Recipient     map[string]string `json:"recipient"`
	Message       map[string]string `json:"message"`
	MessagingType string            `json:"messaging_type"`
}

// SendMessage delivers text to a page-scoped recipient id.
func (c *Client) SendMessage(ctx context.Context, recipientID, text string) error {
	req := sendRequest{
		Recipient:     map[string]string{"id": recipientID},
		Message:       map[string]string{"text": text},
		MessagingType: "UPDATE",
	}
	if err := c.do(ctx, http.MethodPost, "/me/messages", nil, req, nil); err != nil {
		return fmt.Errorf("send message to %s: %w", recipientID, err)
	}
	c.log.Info("Message sent", "recipient_id", recipientID)
	return nil
}

// PrivateReply answers a page comment with a private message.
func (c *Client) PrivateReply(ctx context.Context, commentID, text string) error {
	req := sendRequest{
		Recipient:     map[string]string{"comment_id": commentID},
		Message:       map[string]string{"text": text},
		MessagingType: "RESPONSE",
	}
	if err := c.do(ctx, http.MethodPost, "/me/messages", nil, req, nil); err != nil {
		return fmt.Errorf("private reply to %s: %w", commentID, err)
	}
	c.log.Info("Private reply sent", "comment_id", commentID)
	return nil
}

// UserName resolves a user's display name.
func (c *Client) UserName(ctx context.Context, userID string) (string, error) {
	params := url.Values{}
	params.Set("fields", "name")
	var out struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(userID), params, nil, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}
