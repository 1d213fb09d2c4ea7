package content

import (
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Understanding Raft</title>
  <script>trackPageView();</script>
  <style>body { margin: 0 }</style>
</head>
<body>
  <nav><a href="/home">Home</a> | <a href="/about">About</a></nav>
  <header>Site header banner</header>
  <main>
    <h1>Understanding Raft</h1>
    <p>Raft is a consensus algorithm designed to be understandable.</p>
    <div style="display:none">You should not see this promo.</div>
    <div hidden>Nor this.</div>
    <p>Leaders replicate log entries to followers.</p>
  </main>
  <footer>Copyright 2026</footer>
</body>
</html>`

func TestExtractHTML(t *testing.T) {
	result, err := extractHTML([]byte(samplePage), "https://example.com/raft")
	gt.NoError(t, err).Required()

	gt.Value(t, result.Title).Equal("Understanding Raft")
	gt.Value(t, result.ExtractionMethod).Equal("html-markdown")

	gt.Bool(t, strings.Contains(result.Text, "consensus algorithm")).True()
	gt.Bool(t, strings.Contains(result.Text, "log entries")).True()

	// boilerplate and hidden content must not survive extraction
	for _, gone := range []string{
		"trackPageView",
		"margin: 0",
		"Site header banner",
		"Copyright 2026",
		"promo",
		"Nor this",
	} {
		gt.Bool(t, strings.Contains(result.Text, gone)).False()
	}
}

func TestExtractHTMLFallback(t *testing.T) {
	// html.Parse accepts almost anything, so the markdown path handles
	// fragments too; the fallback only matters for pathological input.
	result, err := extractHTML([]byte("<p>just a fragment</p>"), "https://example.com/")
	gt.NoError(t, err).Required()
	gt.Bool(t, strings.Contains(result.Text, "just a fragment")).True()
}

func TestTruncateUTF8(t *testing.T) {
	t.Run("short string untouched", func(t *testing.T) {
		gt.Value(t, truncateUTF8("hello", 10)).Equal("hello")
	})

	t.Run("cuts at byte limit", func(t *testing.T) {
		gt.Value(t, truncateUTF8("abcdef", 3)).Equal("abc")
	})

	t.Run("never splits a rune", func(t *testing.T) {
		s := "日本語テキスト"
		for limit := 1; limit < len(s); limit++ {
			got := truncateUTF8(s, limit)
			gt.Bool(t, len(got) <= limit).True()
			gt.Bool(t, strings.HasPrefix(s, got)).True()
			gt.Bool(t, strings.ToValidUTF8(got, "") == got).True()
		}
	})
}
