package adapter

import (
	"context"
	"time"
)

// Kind names an adapter implementation in the sources file.
type Kind string

const (
	// KindBoard is a plain HTTP GET of a server-rendered board.
	KindBoard Kind = "board"
	// KindBrowser drives a headless browser through login and popups.
	KindBrowser Kind = "browser"
	// KindNotion queries a Notion database.
	KindNotion Kind = "notion"
)

// ObservedItem is one candidate row produced by an adapter
type ObservedItem struct {
	Title string `json:"title"`
	// Identity is a stable key such as an article sequence number. Preferred
	// over Title for comparison because titles collide and get edited.
	Identity string `json:"identity,omitempty"`
	Link     string `json:"link,omitempty"`
	// Ordinal is the raw text of the row number cell. Boards print a word
	// such as "공지" instead of a number on pinned rows.
	Ordinal string `json:"ordinal,omitempty"`
	// Pinned is set by adapters that detect pinned rows structurally.
	Pinned     bool              `json:"pinned,omitempty"`
	ObservedAt time.Time         `json:"observed_at"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Adapter interface defines the contract for all source implementations
type Adapter interface {
	// Fetch returns the candidate items of the source in document order.
	// An empty slice means the source currently has nothing to report.
	Fetch(ctx context.Context) ([]ObservedItem, error)

	// Name returns the source id for logging and identification
	Name() string

	// Kind returns the adapter kind
	Kind() Kind
}

// Selectors contains CSS selectors for the rows of a board page
type Selectors struct {
	// Row matches one element per post, in document order
	Row string `yaml:"row"`
	// Title is searched inside the row; its title attribute wins over text
	Title string `yaml:"title"`
	// Link is searched inside the row; defaults to Title
	Link string `yaml:"link"`
	// Ordinal is the row number cell, used to recognise pinned rows
	Ordinal string `yaml:"ordinal"`
	// PinnedClass marks pinned rows by a class on the row element
	PinnedClass string `yaml:"pinned_class"`
	// Extra maps a metadata name to a selector whose text is attached to the item
	Extra map[string]string `yaml:"extra"`
}

// IdentityRule describes how to derive ObservedItem.Identity from a row.
type IdentityRule struct {
	// LinkParam is a query parameter of the resolved link, e.g. "boardSeq"
	LinkParam string `yaml:"link_param"`
	// Pattern is a regular expression applied to the resolved link; the first
	// capture group becomes the identity
	Pattern string `yaml:"pattern"`
	// Attr reads the identity from an attribute of the row element
	Attr string `yaml:"attr"`
}

// LoginSteps drives a login form in the browser adapter.
type LoginSteps struct {
	URL              string `yaml:"url"`
	UsernameSelector string `yaml:"username_selector"`
	PasswordSelector string `yaml:"password_selector"`
	SubmitSelector   string `yaml:"submit_selector"`
	// SuccessSelector, when set, must appear after submitting
	SuccessSelector string `yaml:"success_selector"`
	// FailureSelector, when present after submitting, marks rejected credentials
	FailureSelector string `yaml:"failure_selector"`
	UsernameEnv     string `yaml:"username_env"`
	PasswordEnv     string `yaml:"password_env"`

	Username string `yaml:"-"`
	Password string `yaml:"-"`
}

// NotionQuery configures the Notion adapter.
type NotionQuery struct {
	DatabaseID    string `yaml:"database_id"`
	TokenEnv      string `yaml:"token_env"`
	TitleProperty string `yaml:"title_property"`
	PageSize      int    `yaml:"page_size"`

	Token string `yaml:"-"`
}
