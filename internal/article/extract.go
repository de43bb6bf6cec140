package article

import (
	"errors"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nugget/hayden/internal/persistence"
)

// Class names used by the list page markup.
const (
	containerClass   = "kr-shadow-content"
	titleClass       = "article-item-title"
	descriptionClass = "article-item-description"
	timeClass        = "kr-flow-bar-time"
)

// extractFirst parses the list page and returns the first article
// container's fields. It returns nil when no container exists. Fields
// the container lacks are left empty.
func extractFirst(raw string, base *url.URL) (*persistence.Article, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, errors.New("page is not valid HTML")
	}

	container := findFirst(doc, atom.Div, containerClass)
	if container == nil {
		return nil, nil
	}

	var a persistence.Article
	if n := findFirst(container, atom.A, titleClass); n != nil {
		a.Title = cleanWhitespace(textContent(n))
		a.URL = resolve(base, attr(n, "href"))
	}
	if n := findFirst(container, atom.A, descriptionClass); n != nil {
		a.Summary = cleanWhitespace(textContent(n))
	}
	if n := findFirst(container, atom.Span, timeClass); n != nil {
		a.PublishTime = cleanWhitespace(textContent(n))
	}
	return &a, nil
}

// findFirst walks the DOM depth-first for an element of the given type
// carrying class.
func findFirst(n *html.Node, a atom.Atom, class string) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a && hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a, class); found != nil {
			return found
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// textContent returns concatenated text of all children.
func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

// cleanWhitespace collapses runs of whitespace into single spaces.
func cleanWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
