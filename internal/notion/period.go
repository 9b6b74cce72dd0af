package notion

import (
	"context"

	"sjsage522/noticewatcher/logger"
)

// PeriodProperties names the date properties used by SyncPeriods
type PeriodProperties struct {
	Start string
	End   string
	Range string
}

// DefaultPeriodProperties are the property names of the schedule database
var DefaultPeriodProperties = PeriodProperties{Start: "시작", End: "종료", Range: "기간"}

// PeriodResult is the outcome for one page
type PeriodResult struct {
	PageID  string
	Start   string
	End     string
	Updated bool
	Err     error
}

// SyncPeriods copies the start and end dates of every page into its range
// property. Pages without an end date are skipped. A failed update is
// recorded and the remaining pages are still processed.
func SyncPeriods(ctx context.Context, c *Client, databaseID string, props PeriodProperties) ([]PeriodResult, error) {
	pages, err := c.QueryDatabase(ctx, databaseID, Query{})
	if err != nil {
		return nil, err
	}

	log := logger.ForAdapter("notion")
	results := make([]PeriodResult, 0, len(pages))

	for _, page := range pages {
		start := dateStart(page, props.Start)
		end := dateStart(page, props.End)
		res := PeriodResult{PageID: page.ID, Start: start, End: end}

		if end == "" {
			log.Info().Str("page", page.ID).Msgf("skipped: '%s' 속성이 비어 있음", props.End)
			results = append(results, res)
			continue
		}
		if start == "" {
			// Notion rejects a range without a start
			start = end
			res.Start = end
		}

		err := c.UpdatePage(ctx, page.ID, map[string]any{
			props.Range: map[string]any{
				"date": DateValue{Start: start, End: end},
			},
		})
		if err != nil {
			res.Err = err
			log.Error().Err(err).Str("page", page.ID).Msg("period update failed")
		} else {
			res.Updated = true
			log.Info().Str("page", page.ID).Msgf("updated: %s ~ %s", start, end)
		}
		results = append(results, res)

		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}

	return results, nil
}

func dateStart(page Page, property string) string {
	prop, ok := page.Properties[property]
	if !ok || prop.Date == nil {
		return ""
	}
	return prop.Date.Start
}
