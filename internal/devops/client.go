// Package devops mirrors leads as Azure DevOps work items.
package devops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/david/govbid-leads/internal/lead"
	"github.com/david/govbid-leads/internal/logger"
	"github.com/david/govbid-leads/internal/models"
)

const (
	workItemAPIVersion = "7.1-preview.3"
	commentAPIVersion  = "7.0-preview.3"
	initialState       = "To Do"
)

// stateMap maps lead statuses onto board columns. Statuses not listed leave
// the work item state alone.
var stateMap = map[models.LeadStatus]string{
	models.StatusIdentified:         "Identified",
	models.StatusProspected:         "Prospected",
	models.StatusEngaged:            "Engaged",
	models.StatusMessaged:           "Messaged",
	models.StatusAppointmentOffered: "Appointment Offered",
	models.StatusAppointmentSet:     "Appointment Set",
}

// StateFor returns the work item state for status.
func StateFor(status models.LeadStatus) (string, bool) {
	s, ok := stateMap[status]
	return s, ok
}

type Client struct {
	HTTP    *http.Client
	baseURL string
	pat     string
	log     *logger.Logger
}

// NewClient builds a client for {orgURL}/{project}.
func NewClient(orgURL, project, pat string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		HTTP:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(orgURL, "/") + "/" + project,
		pat:     pat,
		log:     log.Component("devops"),
	}
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// CreateWorkItem opens an Issue and returns its id.
func (c *Client) CreateWorkItem(ctx context.Context, title, description string, status models.LeadStatus) (int, error) {
	state, ok := StateFor(status)
	if !ok {
		state = initialState
	}
	body := []patchOp{
		{Op: "add", Path: "/fields/System.Title", Value: title},
		{Op: "add", Path: "/fields/System.Description", Value: description},
		{Op: "add", Path: "/fields/System.State", Value: state},
	}
	var out struct {
		ID int `json:"id"`
	}
	url := fmt.Sprintf("%s/_apis/wit/workitems/$Issue?api-version=%s", c.baseURL, workItemAPIVersion)
	if err := c.do(ctx, http.MethodPost, url, "application/json-patch+json", body, &out); err != nil {
		return 0, fmt.Errorf("create work item: %w", err)
	}
	c.log.Info("Work item created", "work_item_id", out.ID)
	return out.ID, nil
}

// UpdateState moves the work item to the column for status. It reports
// false without calling the API when status has no column.
func (c *Client) UpdateState(ctx context.Context, id int, status models.LeadStatus) (bool, error) {
	state, ok := StateFor(status)
	if !ok {
		return false, nil
	}
	body := []patchOp{{Op: "add", Path: "/fields/System.State", Value: state}}
	url := fmt.Sprintf("%s/_apis/wit/workitems/%d?api-version=%s", c.baseURL, id, workItemAPIVersion)
	if err := c.do(ctx, http.MethodPatch, url, "application/json-patch+json", body, nil); err != nil {
		return false, fmt.Errorf("update work item %d: %w", id, err)
	}
	return true, nil
}

func (c *Client) AddComment(ctx context.Context, id int, text string) error {
	url := fmt.Sprintf("%s/_apis/wit/workItems/%d/comments?api-version=%s", c.baseURL, id, commentAPIVersion)
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, url, "application/json", body, nil); err != nil {
		return fmt.Errorf("comment on work item %d: %w", id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url, contentType string, body, out interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.SetBasicAuth("", c.pat)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SyncHook keeps a lead's work item in step with its status.
type SyncHook struct {
	client *Client
}

func NewSyncHook(c *Client) *SyncHook {
	return &SyncHook{client: c}
}

func (h *SyncHook) LeadChanged(ctx context.Context, c lead.Change) error {
	if c.Lead.WorkItemID == nil {
		return nil
	}
	id := *c.Lead.WorkItemID
	if _, err := h.client.UpdateState(ctx, id, c.To); err != nil {
		return err
	}
	return h.client.AddComment(ctx, id, fmt.Sprintf("Status changed from %s to %s", c.From, c.To))
}

var _ lead.Hook = (*SyncHook)(nil)
var _ lead.TicketClient = (*Client)(nil)
