// Package sam talks to the SAM.gov opportunities API and turns its postings
// into stored opportunities.
package sam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

const (
	dateParamLayout   = "01/02/2006"
	maxDescriptionLen = 4000
)

// postedDateLayouts are tried in order against the postedDate field.
var postedDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05-07",
	time.RFC3339,
	"01/02/2006",
}

type Client struct {
	HTTP    *http.Client
	BaseURL string
	APIKey  string
	log     *logger.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		HTTP:    &http.Client{Timeout: timeout},
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		log:     log.Component("sam"),
	}
}

// SearchParams filters a search. Zero values are left out of the request.
type SearchParams struct {
	PostedFrom time.Time
	PostedTo   time.Time
	Keyword    string
	NAICS      string
	Limit      int
	Offset     int
}

// Notice is a normalized posting plus the link its full description is
// served from.
type Notice struct {
	models.Opportunity
	DescriptionURL string
}

type searchResponse struct {
	TotalRecords      int         `json:"totalRecords"`
	OpportunitiesData []rawNotice `json:"opportunitiesData"`
}

type rawNotice struct {
	NoticeID           string `json:"noticeId"`
	SolicitationNumber string `json:"solicitationNumber"`
	Title              string `json:"title"`
	FullParentPathName string `json:"fullParentPathName"`
	Department         string `json:"department"`
	PostedDate         string `json:"postedDate"`
	NAICSCode          string `json:"naicsCode"`
	ClassificationCode string `json:"classificationCode"`
	UILink             string `json:"uiLink"`
	Description        string `json:"description"`
}

// Search runs one page of the opportunities search. Postings without an id,
// a title or a readable posted date are skipped.
func (c *Client) Search(ctx context.Context, p SearchParams) ([]Notice, int, error) {
	q := url.Values{}
	q.Set("api_key", c.APIKey)
	if !p.PostedFrom.IsZero() {
		q.Set("postedFrom", p.PostedFrom.Format(dateParamLayout))
	}
	if !p.PostedTo.IsZero() {
		q.Set("postedTo", p.PostedTo.Format(dateParamLayout))
	}
	if p.Keyword != "" {
		q.Set("title", p.Keyword)
	}
	if p.NAICS != "" {
		q.Set("ncode", p.NAICS)
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/opportunities/v2/search?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug("Searching opportunities", "keyword", p.Keyword, "naics", p.NAICS, "limit", p.Limit, "offset", p.Offset)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, 0, fmt.Errorf("API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, fmt.Errorf("decoding response: %w", err)
	}

	notices := make([]Notice, 0, len(out.OpportunitiesData))
	for _, raw := range out.OpportunitiesData {
		n, err := normalize(raw)
		if err != nil {
			c.log.Warn("Skipping posting", "notice_id", raw.NoticeID, "title", raw.Title, "reason", err)
			continue
		}
		notices = append(notices, n)
	}
	c.log.Info("Search finished", "keyword", p.Keyword, "naics", p.NAICS, "returned", len(notices), "total", out.TotalRecords)
	return notices, out.TotalRecords, nil
}

func normalize(raw rawNotice) (Notice, error) {
	id := strings.TrimSpace(raw.NoticeID)
	if id == "" {
		id = strings.TrimSpace(raw.SolicitationNumber)
	}
	title := strings.TrimSpace(raw.Title)
	if id == "" {
		return Notice{}, fmt.Errorf("missing notice id")
	}
	if title == "" {
		return Notice{}, fmt.Errorf("missing title")
	}
	posted, err := parsePostedDate(raw.PostedDate)
	if err != nil {
		return Notice{}, err
	}

	agency := strings.TrimSpace(raw.Department)
	if path := strings.TrimSpace(raw.FullParentPathName); path != "" {
		agency = strings.TrimSpace(strings.SplitN(path, ".", 2)[0])
	}

	link := strings.TrimSpace(raw.UILink)
	if link == "" {
		link = "https://sam.gov/opp/" + id + "/view"
	}

	return Notice{
		Opportunity: models.Opportunity{
			ExternalID: id,
			Title:      title,
			Agency:     agency,
			URL:        link,
			PostedDate: posted,
			NAICSCode:  strings.TrimSpace(raw.NAICSCode),
			PSCCode:    strings.TrimSpace(raw.ClassificationCode),
		},
		DescriptionURL: strings.TrimSpace(raw.Description),
	}, nil
}

func parsePostedDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing posted date")
	}
	for _, layout := range postedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable posted date %q", s)
}

// FindByNAICS returns the most recent posting for an industry code within
// the last 90 days, or nil when there is none.
func (c *Client) FindByNAICS(ctx context.Context, code string) (*models.Opportunity, error) {
	now := time.Now().UTC()
	notices, _, err := c.Search(ctx, SearchParams{
		PostedFrom: now.AddDate(0, 0, -90),
		PostedTo:   now,
		NAICS:      code,
		Limit:      1,
	})
	if err != nil {
		return nil, err
	}
	if len(notices) == 0 {
		return nil, nil
	}
	return &notices[0].Opportunity, nil
}

// FetchDescription downloads a notice description and returns it as plain
// text. The endpoint answers either JSON {"description": html} or raw HTML.
func (c *Client) FetchDescription(ctx context.Context, descriptionURL string) (string, error) {
	u, err := url.Parse(descriptionURL)
	if err != nil {
		return "", fmt.Errorf("invalid description url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("description request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("description returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading description: %w", err)
	}

	html := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var payload struct {
			Description string `json:"description"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", fmt.Errorf("decoding description: %w", err)
		}
		html = payload.Description
	}
	return truncate(HTMLToText(html), maxDescriptionLen), nil
}

var descriptionPolicy = bluemonday.UGCPolicy()

// HTMLToText sanitizes html and flattens it to whitespace-collapsed text.
func HTMLToText(html string) string {
	clean := descriptionPolicy.Sanitize(html)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(clean))
	if err != nil {
		return strings.Join(strings.Fields(clean), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
