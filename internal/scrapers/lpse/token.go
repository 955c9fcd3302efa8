package lpse

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	tokenMarker = "authenticityToken"
	// the amount of characters of an unexpected body kept for diagnostics
	bodyPrefixLength = 500
)

var tokenRegex = regexp.MustCompile(`authenticityToken = '([a-f0-9]+)'`)

// findTokenScript returns the text of the first <script> that mentions the token.
func findTokenScript(doc *goquery.Document) (string, bool) {
	var text string
	found := false
	doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		source := script.Text()
		if !strings.Contains(source, tokenMarker) {
			return true
		}
		text = source
		found = true
		return false
	})
	return text, found
}

// redactToken masks the token in a listing page before it is dumped to disk.
func redactToken(body string) string {
	return tokenRegex.ReplaceAllString(body, "authenticityToken = 'REDACTED'")
}

// extractToken pulls the anti-forgery token out of the listing page.
func extractToken(body []byte) (string, *FetchError) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", &FetchError{
			Kind:       TokenElementNotFound,
			Step:       "listing",
			BodyPrefix: prefix(string(body), bodyPrefixLength),
			Err:        err,
		}
	}

	script, found := findTokenScript(doc)
	if !found {
		return "", &FetchError{
			Kind:       TokenElementNotFound,
			Step:       "listing",
			BodyPrefix: prefix(string(body), bodyPrefixLength),
		}
	}

	groups := tokenRegex.FindStringSubmatch(script)
	if len(groups) < 2 || groups[1] == "" {
		return "", &FetchError{
			Kind:       TokenPatternMismatch,
			Step:       "listing",
			BodyPrefix: prefix(script, bodyPrefixLength),
		}
	}
	return groups[1], nil
}

// prefix returns at most the first n characters (not bytes) of s.
func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
