package kommo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
)

const (
	leadsPath    = "/api/v4/leads"
	salesbotPath = "/api/v2/salesbot/run"

	// entityTypeLead is the salesbot entity type for leads.
	entityTypeLead = 2
)

// Doer sends an authenticated CRM request. *auth.Signer satisfies it.
type Doer interface {
	Do(ctx context.Context, method, url string, build func(*resty.Request)) (*resty.Response, error)
}

// HTTPStatusError captures non-2xx CRM responses.
type HTTPStatusError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("kommo: unexpected status %d from %s %s: %s", e.StatusCode, e.Method, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a thin Kommo API v4 client. Authentication and the single 401
// retry are delegated to the Doer.
type Client struct {
	doer Doer
}

func NewClient(doer Doer) (*Client, error) {
	if doer == nil {
		return nil, errors.New("kommo: doer must not be nil")
	}
	return &Client{doer: doer}, nil
}

// GetLead fetches one lead, optionally embedding its contacts.
func (c *Client) GetLead(ctx context.Context, id int64, withContacts bool) (*Lead, error) {
	if id <= 0 {
		return nil, errors.New("kommo: lead id must be positive")
	}
	var lead Lead
	url := leadsPath + "/" + strconv.FormatInt(id, 10)
	resp, err := c.doer.Do(ctx, http.MethodGet, url, func(r *resty.Request) {
		if withContacts {
			r.SetQueryParam("with", "contacts")
		}
		r.SetResult(&lead)
	})
	if err != nil {
		return nil, fmt.Errorf("kommo: get lead %d: %w", id, err)
	}
	if err := checkStatus(resp, http.MethodGet, url); err != nil {
		return nil, err
	}
	if lead.ID == 0 {
		lead.ID = id
	}
	return &lead, nil
}

// UpdateLeads applies a batch PATCH to /api/v4/leads.
func (c *Client) UpdateLeads(ctx context.Context, updates []LeadUpdate) error {
	if len(updates) == 0 {
		return errors.New("kommo: no lead updates")
	}
	for _, u := range updates {
		if u.ID <= 0 {
			return errors.New("kommo: lead update without id")
		}
	}
	resp, err := c.doer.Do(ctx, http.MethodPatch, leadsPath, func(r *resty.Request) {
		r.SetHeader("Content-Type", "application/json").SetBody(updates)
	})
	if err != nil {
		return fmt.Errorf("kommo: update leads: %w", err)
	}
	return checkStatus(resp, http.MethodPatch, leadsPath)
}

// UpdateLead is UpdateLeads for a single lead.
func (c *Client) UpdateLead(ctx context.Context, update LeadUpdate) error {
	return c.UpdateLeads(ctx, []LeadUpdate{update})
}

// RunSalesbot launches salesbot botID on the given lead.
func (c *Client) RunSalesbot(ctx context.Context, botID, leadID int64) error {
	if botID <= 0 || leadID <= 0 {
		return errors.New("kommo: salesbot and lead ids must be positive")
	}
	body := []salesbotRun{{BotID: botID, EntityType: entityTypeLead, EntityID: leadID}}
	resp, err := c.doer.Do(ctx, http.MethodPost, salesbotPath, func(r *resty.Request) {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	})
	if err != nil {
		return fmt.Errorf("kommo: run salesbot: %w", err)
	}
	return checkStatus(resp, http.MethodPost, salesbotPath)
}

func checkStatus(resp *resty.Response, method, url string) error {
	if resp.IsSuccess() {
		return nil
	}
	body := resp.String()
	if len(body) > 4096 {
		body = body[:4096]
	}
	return &HTTPStatusError{StatusCode: resp.StatusCode(), Method: method, URL: url, Body: body}
}
