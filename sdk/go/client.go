package caselinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Transaction represents the API transaction model.
type Transaction struct {
	ID                       string         `json:"id"`
	TransactionDefinitionKey string         `json:"transaction_definition_key"`
	ProcessInstanceID        string         `json:"process_instance_id,omitempty"`
	Status                   string         `json:"status"`
	CreatedBy                string         `json:"created_by"`
	CreatedAt                string         `json:"created_at"`
	UpdatedAt                string         `json:"updated_at"`
	Version                  int64          `json:"version"`
	Data                     map[string]any `json:"data"`
}

// Record represents the API record model. Data carries only the attributes
// the authenticated caller is allowed to see.
type Record struct {
	ID                  string         `json:"id"`
	RecordDefinitionKey string         `json:"record_definition_key"`
	ExternalID          string         `json:"external_id,omitempty"`
	Status              string         `json:"status"`
	Expires             string         `json:"expires,omitempty"`
	CreatedFrom         string         `json:"created_from"`
	CreatedBy           string         `json:"created_by"`
	CreatedAt           string         `json:"created_at"`
	UpdatedAt           string         `json:"updated_at"`
	Version             int64          `json:"version"`
	Data                map[string]any `json:"data"`
}

// EnumerationOption is one selectable entry of a named enumeration.
type EnumerationOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Rank  *int   `json:"rank,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RecordPage wraps paginated record listings.
type RecordPage struct {
	Items         []Record `json:"items"`
	TotalElements int64    `json:"totalElements"`
	PageNumber    int      `json:"pageNumber"`
	PageSize      int      `json:"pageSize"`
}

// TransactionPage wraps paginated transaction listings.
type TransactionPage struct {
	Items         []Transaction `json:"items"`
	TotalElements int64         `json:"totalElements"`
	PageNumber    int           `json:"pageNumber"`
	PageSize      int           `json:"pageSize"`
}

// CreateTransaction starts a transaction of the given definition.
func (c *Client) CreateTransaction(ctx context.Context, definitionKey string, data map[string]any) (Transaction, error) {
	body := map[string]any{
		"definition_key": definitionKey,
		"data":           data,
	}
	var resp Transaction
	err := c.do(ctx, http.MethodPost, "transactions", body, &resp)
	return resp, err
}

// GetTransaction fetches a transaction by id.
func (c *Client) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	var resp Transaction
	err := c.do(ctx, http.MethodGet, "transactions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateTransaction applies a partial update; nil fields stay untouched.
func (c *Client) UpdateTransaction(ctx context.Context, id string, data map[string]any, status *string) (Transaction, error) {
	body := map[string]any{}
	if data != nil {
		body["data"] = data
	}
	if status != nil {
		body["status"] = *status
	}
	var resp Transaction
	err := c.do(ctx, http.MethodPatch, "transactions/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// CreateRecord creates a record from a transaction.
func (c *Client) CreateRecord(ctx context.Context, definitionKey, transactionID string, data map[string]any) (Record, error) {
	body := map[string]any{
		"definition_key": definitionKey,
		"transaction_id": transactionID,
		"data":           data,
	}
	var resp Record
	err := c.do(ctx, http.MethodPost, "records", body, &resp)
	return resp, err
}

// GetRecord fetches a record by id.
func (c *Client) GetRecord(ctx context.Context, id string) (Record, error) {
	var resp Record
	err := c.do(ctx, http.MethodGet, "records/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateRecord applies a partial update; nil fields stay untouched.
func (c *Client) UpdateRecord(ctx context.Context, id string, data map[string]any, status *string) (Record, error) {
	body := map[string]any{}
	if data != nil {
		body["data"] = data
	}
	if status != nil {
		body["status"] = *status
	}
	var resp Record
	err := c.do(ctx, http.MethodPatch, "records/"+url.PathEscape(id), body, &resp)
	return resp, err
}

// RecordFilters narrow ListRecords. Zero values are no-ops.
type RecordFilters struct {
	Status        string
	DefinitionKey string
	ExternalID    string
	TransactionID string
	PageNumber    int
	PageSize      int
}

// ListRecords returns one page of records.
func (c *Client) ListRecords(ctx context.Context, f RecordFilters) (RecordPage, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.DefinitionKey != "" {
		q.Set("definition_key", f.DefinitionKey)
	}
	if f.ExternalID != "" {
		q.Set("external_id", f.ExternalID)
	}
	if f.TransactionID != "" {
		q.Set("transaction_id", f.TransactionID)
	}
	q.Set("page_number", strconv.Itoa(f.PageNumber))
	if f.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(f.PageSize))
	}
	var resp RecordPage
	err := c.do(ctx, http.MethodGet, "records?"+q.Encode(), nil, &resp)
	return resp, err
}

// TransactionFilters narrow ListTransactions. Zero values are no-ops.
type TransactionFilters struct {
	Status            string
	DefinitionKey     string
	ProcessInstanceID string
	PageNumber        int
	PageSize          int
}

// ListTransactions returns one page of transactions.
func (c *Client) ListTransactions(ctx context.Context, f TransactionFilters) (TransactionPage, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.DefinitionKey != "" {
		q.Set("definition_key", f.DefinitionKey)
	}
	if f.ProcessInstanceID != "" {
		q.Set("process_instance_id", f.ProcessInstanceID)
	}
	q.Set("page_number", strconv.Itoa(f.PageNumber))
	if f.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(f.PageSize))
	}
	var resp TransactionPage
	err := c.do(ctx, http.MethodGet, "transactions?"+q.Encode(), nil, &resp)
	return resp, err
}

// Event is one audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Events returns the most recent audit entries, newest first. Requires
// admin-level record visibility.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Enumeration returns the options of a named enumeration visible to the
// authenticated caller.
func (c *Client) Enumeration(ctx context.Context, name string) ([]EnumerationOption, error) {
	var resp []EnumerationOption
	err := c.do(ctx, http.MethodGet, "enumerations/"+url.PathEscape(name), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
