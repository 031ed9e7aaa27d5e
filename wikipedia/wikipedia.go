// Package wikipedia holds what the extractors share about Wikimedia: the
// endpoints, the client identity and the naming of articles.
package wikipedia

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	PAGEVIEWS_URL = "https://wikimedia.org/api/rest_v1/metrics/pageviews/per-article"
	// Wikimedia blocks requests without a descriptive agent.
	USER_AGENT = "wikistats/1.0 (https://github.com/wikistats; wikistats@fit.vutbr.cz)"
	// The pageviews API has no data before this day.
	LOWEST_TIMESTAMP = "20150701"
)

// Domain returns the host of a project, en → en.wikipedia.org.
func Domain(project string) string {
	return project + ".wikipedia.org"
}

// ArticleFromURL returns the article key at the end of a page URL. Percent
// escapes are decoded when they are valid.
func ArticleFromURL(link string) string {
	link = strings.TrimSpace(link)
	link = strings.TrimRight(link, "/")
	if i := strings.LastIndexByte(link, '/'); i >= 0 {
		link = link[i+1:]
	}
	if unescaped, err := url.PathUnescape(link); err == nil {
		link = unescaped
	}
	return link
}

// Canonical turns a link target or a page title into an article key the
// way MediaWiki does: underscores for spaces, runs collapsed, the first
// letter upper case.
func Canonical(title string) string {
	title = strings.TrimSpace(title)
	title = strings.Join(strings.FieldsFunc(title, func(r rune) bool {
		return r == ' ' || r == '_'
	}), "_")
	if title == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(r)) + title[size:]
}
