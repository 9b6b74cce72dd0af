// Package notion is a small client for the parts of the Notion API the
// watcher uses: querying a database and updating page properties.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	werrors "sjsage522/noticewatcher/pkg/errors"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public Notion API endpoint
	DefaultBaseURL = "https://api.notion.com"
	// APIVersion is sent as the Notion-Version header
	APIVersion = "2022-06-28"

	maxPageSize = 100
)

// Config configures a Client
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RequestsPerSecond throttles calls; Notion allows about three
	RequestsPerSecond float64
	// Source names the watched source in returned errors
	Source string
}

// Client talks to the Notion REST API
type Client struct {
	http   *resty.Client
	source string
}

// NewClient creates a Notion client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 3
	}
	if cfg.Source == "" {
		cfg.Source = "notion"
	}

	httpClient := resty.New()
	httpClient.SetTimeout(cfg.Timeout)
	httpClient.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	httpClient.SetAuthToken(cfg.Token)
	httpClient.SetHeader("Notion-Version", APIVersion)
	httpClient.SetHeader("Content-Type", "application/json")

	// burst of 1 keeps calls evenly spaced
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	return &Client{http: httpClient, source: cfg.Source}
}

// RichText is a fragment of formatted text
type RichText struct {
	PlainText string `json:"plain_text"`
}

// DateValue is the value of a date property
type DateValue struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// Property is a page property; only the fields the watcher reads are decoded
type Property struct {
	ID       string     `json:"id,omitempty"`
	Type     string     `json:"type"`
	Title    []RichText `json:"title,omitempty"`
	RichText []RichText `json:"rich_text,omitempty"`
	Date     *DateValue `json:"date,omitempty"`
}

// PlainText joins the text fragments of a title or rich_text property
func (p Property) PlainText() string {
	parts := p.Title
	if p.Type == "rich_text" {
		parts = p.RichText
	}
	var sb strings.Builder
	for _, rt := range parts {
		sb.WriteString(rt.PlainText)
	}
	return sb.String()
}

// Page is a database row
type Page struct {
	ID          string              `json:"id"`
	URL         string              `json:"url"`
	CreatedTime time.Time           `json:"created_time"`
	Archived    bool                `json:"archived"`
	Properties  map[string]Property `json:"properties"`
}

// Title returns the plain text of the named title property, or of the first
// title-typed property when name is empty.
func (p Page) Title(name string) string {
	if name != "" {
		return p.Properties[name].PlainText()
	}
	for _, prop := range p.Properties {
		if prop.Type == "title" {
			return prop.PlainText()
		}
	}
	return ""
}

// Sort orders query results
type Sort struct {
	Property  string `json:"property,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Direction string `json:"direction"`
}

// Query selects pages from a database
type Query struct {
	Sorts []Sort
	// PageSize is the size of each API page, capped at 100
	PageSize int
	// Limit stops after this many pages in total; zero reads everything
	Limit int
}

// NewestFirst sorts by creation time, newest first
var NewestFirst = []Sort{{Timestamp: "created_time", Direction: "descending"}}

type queryRequest struct {
	Sorts       []Sort `json:"sorts,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
	StartCursor string `json:"start_cursor,omitempty"`
}

type queryResponse struct {
	Results    []Page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type apiError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("notion %d %s: %s", e.Status, e.Code, e.Message)
}

// QueryDatabase returns the pages of a database, following cursors
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, q Query) ([]Page, error) {
	pageSize := q.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if q.Limit > 0 && q.Limit < pageSize {
		pageSize = q.Limit
	}

	var pages []Page
	cursor := ""
	for {
		var out queryResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(queryRequest{Sorts: q.Sorts, PageSize: pageSize, StartCursor: cursor}).
			SetResult(&out).
			SetError(&apiError{}).
			Post("/v1/databases/" + databaseID + "/query")
		if err := c.check(resp, err, "query database"); err != nil {
			return nil, err
		}

		pages = append(pages, out.Results...)
		if q.Limit > 0 && len(pages) >= q.Limit {
			return pages[:q.Limit], nil
		}
		if !out.HasMore || out.NextCursor == "" {
			return pages, nil
		}
		cursor = out.NextCursor
	}
}

// UpdatePage patches the given properties of a page
func (c *Client) UpdatePage(ctx context.Context, pageID string, properties map[string]any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"properties": properties}).
		SetError(&apiError{}).
		Patch("/v1/pages/" + pageID)
	return c.check(resp, err, "update page "+pageID)
}

// check maps transport failures and API errors onto the watcher's error types
func (c *Client) check(resp *resty.Response, err error, action string) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return werrors.NewNetwork(c.source, action+" cancelled", err)
		}
		return werrors.NewNetwork(c.source, action, err)
	}
	if !resp.IsError() {
		return nil
	}

	var cause error = fmt.Errorf("notion status %d", resp.StatusCode())
	if apiErr, ok := resp.Error().(*apiError); ok && apiErr.Code != "" {
		cause = apiErr
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return werrors.NewAuth(c.source, action, cause)
	case code == http.StatusNotFound:
		return werrors.NewNotFound(c.source, fmt.Sprintf("%s: %v", action, cause))
	case code == http.StatusTooManyRequests:
		wait, _ := time.ParseDuration(resp.Header().Get("Retry-After") + "s")
		return werrors.NewRateLimit(c.source, wait)
	case code >= 500:
		return werrors.NewNetwork(c.source, action, cause)
	default:
		return werrors.New(werrors.ErrorTypeParsing, c.source, action, cause)
	}
}
