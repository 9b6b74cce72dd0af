package adapter

import (
	"fmt"
	"time"

	"sjsage522/noticewatcher/internal/notion"
	werrors "sjsage522/noticewatcher/pkg/errors"
	"sjsage522/noticewatcher/services/cache"
)

// Spec is everything an adapter needs to know about one source
type Spec struct {
	ID          string
	Kind        Kind
	URL         string
	Selectors   Selectors
	Identity    IdentityRule
	RequireRows bool
	BlockTime   time.Duration

	Login              *LoginSteps
	PopupCloseSelector string
	RenderTimeout      time.Duration

	Notion *NotionQuery
}

// Env holds the shared services adapters are built on
type Env struct {
	Cache  cache.CacheService
	Chrome *ChromeSession
	// NotionBaseURL overrides the Notion endpoint; empty uses the public API
	NotionBaseURL string
	NotionTimeout time.Duration
}

// New creates the adapter for spec
func New(spec Spec, env Env) (Adapter, error) {
	switch spec.Kind {
	case KindBoard, "":
		return NewBoardAdapter(BoardConfig{
			ID:          spec.ID,
			URL:         spec.URL,
			Selectors:   spec.Selectors,
			Identity:    spec.Identity,
			RequireRows: spec.RequireRows,
			BlockTime:   spec.BlockTime,
		}, env.Cache)

	case KindBrowser:
		if env.Chrome == nil {
			return nil, werrors.NewConfiguration(fmt.Sprintf("%s: browser sources need a chrome session", spec.ID), nil)
		}
		return NewBrowserAdapter(BrowserConfig{
			ID:                 spec.ID,
			URL:                spec.URL,
			Selectors:          spec.Selectors,
			Identity:           spec.Identity,
			RequireRows:        spec.RequireRows,
			Login:              spec.Login,
			PopupCloseSelector: spec.PopupCloseSelector,
			RenderTimeout:      spec.RenderTimeout,
		}, env.Chrome)

	case KindNotion:
		if spec.Notion == nil || spec.Notion.DatabaseID == "" {
			return nil, werrors.NewConfiguration(fmt.Sprintf("%s: notion.database_id is required", spec.ID), nil)
		}
		if spec.Notion.Token == "" {
			return nil, werrors.NewConfiguration(fmt.Sprintf("%s: notion token is not set", spec.ID), nil)
		}
		client := notion.NewClient(notion.Config{
			BaseURL: env.NotionBaseURL,
			Token:   spec.Notion.Token,
			Timeout: env.NotionTimeout,
			Source:  spec.ID,
		})
		return NewNotionAdapter(spec.ID, *spec.Notion, client), nil

	default:
		return nil, werrors.NewConfiguration(fmt.Sprintf("%s: unknown adapter kind %q", spec.ID, spec.Kind), nil)
	}
}
