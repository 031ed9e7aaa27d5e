package backlinks

import (
	"regexp"
	"strings"

	"wikistats/wikipedia"
)

var (
	linkPattern = regexp.MustCompile(`\[\[([^\[\]\n]+?)\]\]`)
	// Category:, File:, :Soubor: and interwiki prefixes.
	namespacePattern = regexp.MustCompile(`^:?[\pL\pN_-]+:`)
)

// Links returns the article keys the internal links in text point to, one
// entry per link. Namespaced links, links to a section of the same page and
// links to disambiguation pages are left out.
func Links(text string) []string {
	matches := linkPattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if key := target(m[1]); key != "" {
			out = append(out, key)
		}
	}
	return out
}

func target(inner string) string {
	inner = strings.TrimSpace(inner)
	if inner == "" || inner[0] == '#' {
		return ""
	}
	if namespacePattern.MatchString(inner) {
		return ""
	}
	if i := strings.IndexAny(inner, "|#"); i >= 0 {
		inner = inner[:i]
	}
	if strings.Contains(inner, "(disambiguation)") {
		return ""
	}
	return wikipedia.Canonical(inner)
}
