package adapter

import (
	"context"
	"time"

	"sjsage522/noticewatcher/helpers"
	"sjsage522/noticewatcher/internal/notion"
)

const defaultNotionPageSize = 10

// NotionAdapter reports the newest pages of a Notion database
type NotionAdapter struct {
	id     string
	query  NotionQuery
	client *notion.Client
	now    func() time.Time
}

// NewNotionAdapter creates a Notion adapter using client
func NewNotionAdapter(id string, query NotionQuery, client *notion.Client) *NotionAdapter {
	if query.PageSize <= 0 {
		query.PageSize = defaultNotionPageSize
	}
	return &NotionAdapter{id: id, query: query, client: client, now: time.Now}
}

// Name returns the source id
func (a *NotionAdapter) Name() string { return a.id }

// Kind returns KindNotion
func (a *NotionAdapter) Kind() Kind { return KindNotion }

// Fetch returns the most recently created pages, newest first
func (a *NotionAdapter) Fetch(ctx context.Context) ([]ObservedItem, error) {
	pages, err := a.client.QueryDatabase(ctx, a.query.DatabaseID, notion.Query{
		Sorts: notion.NewestFirst,
		Limit: a.query.PageSize,
	})
	if err != nil {
		return nil, err
	}

	observedAt := a.now()
	items := make([]ObservedItem, 0, len(pages))
	for _, page := range pages {
		if page.Archived {
			continue
		}
		items = append(items, ObservedItem{
			Title:      helpers.NormalizeText(page.Title(a.query.TitleProperty)),
			Identity:   page.ID,
			Link:       page.URL,
			ObservedAt: observedAt,
			Extra:      map[string]string{"created_time": page.CreatedTime.Format(time.RFC3339)},
		})
	}
	return items, nil
}
