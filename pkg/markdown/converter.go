package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphTags = regexp.MustCompile(`<p>(.*?)</p>`)
	headingTags   = regexp.MustCompile(`<h[1-6]>(.*?)</h[1-6]>`)
	fencedCode    = regexp.MustCompile(`<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	anyTag        = regexp.MustCompile(`</?([a-zA-Z]+)(?:\s[^>]*)?>`)
	tagName       = regexp.MustCompile(`</?([a-zA-Z]+)`)
	extraNewlines = regexp.MustCompile(`\n{3,}`)
)

// Tags Telegram's HTML parse mode accepts.
var supportedTags = map[string]bool{
	"b": true, "i": true, "u": true, "s": true,
	"code": true, "pre": true, "a": true, "br": true,
}

// ToTelegramHTML converts model markdown output to Telegram-compatible HTML.
func ToTelegramHTML(source string) string {
	if source == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(source), blackfriday.WithExtensions(blackfriday.CommonExtensions)))
	return sanitizeForTelegram(html)
}

// sanitizeForTelegram reduces generic HTML to the subset Telegram renders.
func sanitizeForTelegram(html string) string {
	html = paragraphTags.ReplaceAllString(html, "$1\n")
	html = headingTags.ReplaceAllString(html, "<b>$1</b>\n")

	html = strings.ReplaceAll(html, "<strong>", "<b>")
	html = strings.ReplaceAll(html, "</strong>", "</b>")
	html = strings.ReplaceAll(html, "<em>", "<i>")
	html = strings.ReplaceAll(html, "</em>", "</i>")

	html = fencedCode.ReplaceAllString(html, "<pre>$1</pre>")

	// Flatten lists: Telegram has no list tags
	html = strings.ReplaceAll(html, "<ul>", "")
	html = strings.ReplaceAll(html, "</ul>", "")
	html = strings.ReplaceAll(html, "<ol>", "")
	html = strings.ReplaceAll(html, "</ol>", "")
	html = strings.ReplaceAll(html, "<li>", "• ")
	html = strings.ReplaceAll(html, "</li>", "\n")

	// Strip everything else Telegram doesn't support
	html = anyTag.ReplaceAllStringFunc(html, func(match string) string {
		sub := tagName.FindStringSubmatch(match)
		if len(sub) > 1 && supportedTags[sub[1]] {
			return match
		}
		return ""
	})

	html = extraNewlines.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
