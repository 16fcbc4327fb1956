// Package textutil holds bounded-length text helpers used when article
// bodies are placed into prompts and context blocks.
package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

// PlainText strips markup from scraped article bodies. Input that does not
// look like HTML is returned with whitespace collapsed.
func PlainText(s string) string {
	if !strings.ContainsAny(s, "<>&") {
		return Squash(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return Squash(s)
	}
	doc.Find("script, style, noscript").Remove()
	var parts []string
	doc.Find("p, li, h1, h2, h3, h4, blockquote, td").Each(func(_ int, sel *goquery.Selection) {
		if t := Squash(sel.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return Squash(doc.Text())
	}
	return strings.Join(parts, "\n")
}

// Squash collapses runs of spaces and tabs on each line and drops blank lines.
func Squash(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if f := strings.Fields(l); len(f) > 0 {
			out = append(out, strings.Join(f, " "))
		}
	}
	return strings.Join(out, "\n")
}

// Truncate limits s to max runes, appending Ellipsis when it cuts. The cut
// prefers the last word boundary in the final fifth of the window.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := max - utf8.RuneCountInString(Ellipsis)
	if cut <= 0 {
		return string(runes[:max])
	}
	for i := cut; i > cut*4/5; i-- {
		if runes[i] == ' ' || runes[i] == '\n' {
			cut = i
			break
		}
	}
	return strings.TrimRight(string(runes[:cut]), " \n") + Ellipsis
}

// Segments splits s into consecutive pieces of at most max runes whose
// concatenation is s. A cut prefers the last line break, then the last
// space, in the final fifth of the window.
func Segments(s string, max int) []string {
	if s == "" || max <= 0 {
		return nil
	}
	runes := []rune(s)
	var out []string
	for len(runes) > max {
		cut := max
		if i := lastBreak(runes[:max], '\n', max*4/5); i >= 0 {
			cut = i + 1
		} else if i := lastBreak(runes[:max], ' ', max*4/5); i >= 0 {
			cut = i + 1
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(out, string(runes))
}

func lastBreak(runes []rune, sep rune, floor int) int {
	for i := len(runes) - 1; i > floor; i-- {
		if runes[i] == sep {
			return i
		}
	}
	return -1
}

// StripCodeFence removes a surrounding markdown code fence, as models often
// wrap JSON or plain answers in one.
func StripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		t = ""
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}
