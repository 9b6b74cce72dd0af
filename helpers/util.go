package helpers

import (
	"strings"
)

// NormalizeText collapses every run of whitespace to a single space and trims
// the ends. Scraped titles carry newlines, tabs and NBSPs from the markup.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
