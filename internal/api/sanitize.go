package api

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// plainText strips every HTML element from free-text input. bluemonday escapes
// the text it keeps, so entities are decoded again before storage.
var plainText = bluemonday.StrictPolicy()

func sanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(plainText.Sanitize(s)))
}

func sanitizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	clean := sanitizeText(*s)
	return &clean
}
