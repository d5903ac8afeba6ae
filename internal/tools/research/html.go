package research

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// textContent returns the whitespace-normalised text of an HTML fragment.
// Input that fails to parse is returned trimmed.
func textContent(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapseSpace(fragment)
	}
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return collapseSpace(fragment)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return collapseSpace(sb.String())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// hostOf returns the host of a URL without a leading "www.".
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// searchTerms builds a free-text query from the step parameters.
func searchTerms(domain, segment string, keywords []string, suffix string) string {
	parts := make([]string, 0, 3+len(keywords))
	if segment != "" {
		parts = append(parts, segment)
	}
	parts = append(parts, domain)
	parts = append(parts, keywords...)
	if suffix != "" {
		parts = append(parts, suffix)
	}
	return collapseSpace(strings.Join(parts, " "))
}
