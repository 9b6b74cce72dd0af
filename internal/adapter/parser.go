package adapter

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"sjsage522/noticewatcher/helpers"
	werrors "sjsage522/noticewatcher/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// RowParser turns a board page into ObservedItems using CSS selectors
type RowParser struct {
	SourceID  string
	BaseURL   *url.URL
	Selectors Selectors
	Identity  IdentityRule
	// RequireRows makes a page without any usable row a parsing error, so
	// selector drift after a site redesign is reported instead of looking
	// like an empty board.
	RequireRows bool

	pattern *regexp.Regexp
	now     func() time.Time
}

// NewRowParser validates the selectors and compiles the identity pattern
func NewRowParser(sourceID, pageURL string, sel Selectors, id IdentityRule, requireRows bool) (*RowParser, error) {
	if sel.Row == "" || sel.Title == "" {
		return nil, werrors.NewConfiguration(fmt.Sprintf("%s: selectors.row and selectors.title are required", sourceID), nil)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, werrors.NewConfiguration(fmt.Sprintf("%s: invalid url %q", sourceID, pageURL), err)
	}

	p := &RowParser{
		SourceID:    sourceID,
		BaseURL:     base,
		Selectors:   sel,
		Identity:    id,
		RequireRows: requireRows,
		now:         time.Now,
	}

	if id.Pattern != "" {
		re, err := regexp.Compile(id.Pattern)
		if err != nil {
			return nil, werrors.NewConfiguration(fmt.Sprintf("%s: invalid identity pattern", sourceID), err)
		}
		if re.NumSubexp() < 1 {
			return nil, werrors.NewConfiguration(fmt.Sprintf("%s: identity pattern needs a capture group", sourceID), nil)
		}
		p.pattern = re
	}

	return p, nil
}

// Parse reads an HTML document and returns its rows in document order
func (p *RowParser) Parse(r io.Reader) ([]ObservedItem, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, werrors.NewParsing(p.SourceID, "HTML 파싱 오류", err)
	}
	return p.ParseDocument(doc)
}

// ParseDocument extracts rows from an already parsed document
func (p *RowParser) ParseDocument(doc *goquery.Document) ([]ObservedItem, error) {
	rows := doc.Find(p.Selectors.Row)
	observedAt := p.now()

	items := make([]ObservedItem, 0, rows.Length())
	rows.Each(func(_ int, row *goquery.Selection) {
		if item, ok := p.parseRow(row, observedAt); ok {
			items = append(items, item)
		}
	})

	if len(items) == 0 && p.RequireRows {
		if rows.Length() == 0 {
			return nil, werrors.NewParsing(p.SourceID, fmt.Sprintf("no rows matched %q", p.Selectors.Row), nil)
		}
		return nil, werrors.NewParsing(p.SourceID, fmt.Sprintf("%d rows matched but none had a title at %q", rows.Length(), p.Selectors.Title), nil)
	}

	return items, nil
}

func (p *RowParser) parseRow(row *goquery.Selection, observedAt time.Time) (ObservedItem, bool) {
	title := p.title(row)
	if title == "" {
		return ObservedItem{}, false
	}

	item := ObservedItem{
		Title:      title,
		Link:       p.link(row),
		ObservedAt: observedAt,
	}

	if p.Selectors.Ordinal != "" {
		item.Ordinal = helpers.NormalizeText(row.Find(p.Selectors.Ordinal).First().Text())
	}
	if p.Selectors.PinnedClass != "" && row.HasClass(p.Selectors.PinnedClass) {
		item.Pinned = true
	}
	item.Identity = p.identity(row, item.Link)

	if len(p.Selectors.Extra) > 0 {
		item.Extra = make(map[string]string, len(p.Selectors.Extra))
		for name, sel := range p.Selectors.Extra {
			if text := helpers.NormalizeText(row.Find(sel).First().Text()); text != "" {
				item.Extra[name] = text
			}
		}
	}

	return item, true
}

// title prefers the title attribute, which boards fill with the untruncated subject
func (p *RowParser) title(row *goquery.Selection) string {
	titleSel := row.Find(p.Selectors.Title).First()
	if titleSel.Length() == 0 {
		return ""
	}
	if attr, exists := titleSel.Attr("title"); exists {
		if title := helpers.NormalizeText(attr); title != "" {
			return title
		}
	}
	return helpers.NormalizeText(titleSel.Text())
}

func (p *RowParser) link(row *goquery.Selection) string {
	selector := p.Selectors.Link
	if selector == "" {
		selector = p.Selectors.Title
	}

	href, exists := row.Find(selector).First().Attr("href")
	if !exists {
		// Some boards make the whole row the anchor
		href, exists = row.Attr("href")
	}
	if !exists {
		return ""
	}
	return p.ResolveURL(strings.TrimSpace(href))
}

func (p *RowParser) identity(row *goquery.Selection, link string) string {
	source := link
	if p.Identity.Attr != "" {
		source = ""
		if v, ok := row.Attr(p.Identity.Attr); ok {
			source = v
		} else if v, ok := row.Find(p.Selectors.Title).First().Attr(p.Identity.Attr); ok {
			source = v
		}
	}
	if source == "" {
		return ""
	}

	switch {
	case p.pattern != nil:
		if m := p.pattern.FindStringSubmatch(source); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
		return ""
	case p.Identity.LinkParam != "":
		u, err := url.Parse(source)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(u.Query().Get(p.Identity.LinkParam))
	case p.Identity.Attr != "":
		return strings.TrimSpace(source)
	default:
		return ""
	}
}

// ResolveURL resolves href against the page URL. Script pseudo-links are dropped.
func (p *RowParser) ResolveURL(href string) string {
	if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") || href == "#" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if p.BaseURL == nil {
		return ref.String()
	}
	return p.BaseURL.ResolveReference(ref).String()
}
