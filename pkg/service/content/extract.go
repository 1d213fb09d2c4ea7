package content

import (
	"bytes"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/m-mizutani/goerr/v2"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
	"svg":      true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"form":     true,
	"button":   true,
}

// extractHTML turns an HTML document into markdown text. The DOM is
// pruned of boilerplate elements, sanitized, then rendered through the
// markdown converter. Falls back to plain text rendering when
// conversion fails.
func extractHTML(body []byte, pageURL string) (*Result, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse HTML", goerr.V("url", pageURL))
	}

	title := findTitle(doc)
	pruneBoilerplate(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to render pruned DOM", goerr.V("url", pageURL))
	}

	sanitized := bluemonday.UGCPolicy().SanitizeBytes(buf.Bytes())

	conv := htmltomarkdown.NewConverter(
		htmltomarkdown.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	markdown, err := conv.ConvertString(string(sanitized), htmltomarkdown.WithDomain(pageURL))
	if err != nil {
		// Markdown conversion is best effort; fall back to raw text
		// from the pruned DOM so the pipeline can still summarize.
		return &Result{
			Title:            title,
			Text:             collectText(doc),
			ExtractionMethod: "html-text",
		}, nil
	}

	return &Result{
		Title:            title,
		Text:             strings.TrimSpace(markdown),
		ExtractionMethod: "html-markdown",
	}, nil
}

func findTitle(doc *html.Node) string {
	var title string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return title
}

// pruneBoilerplate removes non-content subtrees in place.
func pruneBoilerplate(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if shouldSkip(c) {
			n.RemoveChild(c)
			continue
		}
		pruneBoilerplate(c)
	}
}

func shouldSkip(n *html.Node) bool {
	if n.Type == html.CommentNode {
		return true
	}
	if n.Type != html.ElementNode {
		return false
	}
	if skipElements[n.Data] {
		return true
	}
	for _, attr := range n.Attr {
		if attr.Key == "hidden" {
			return true
		}
		if attr.Key == "style" && isHiddenStyle(attr.Val) {
			return true
		}
		if attr.Key == "aria-hidden" && attr.Val == "true" {
			return true
		}
	}
	return false
}

func isHiddenStyle(style string) bool {
	s := strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(s, "display:none") || strings.Contains(s, "visibility:hidden")
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
