package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	tagPattern     = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)(?:\s[^>]*)?/?>`)
	newlinePattern = regexp.MustCompile(`\n{3,}`)
	fencePattern   = regexp.MustCompile("(?s)^\\s*```[a-zA-Z0-9_-]*\\s*\\n?(.*?)\\n?\\s*```\\s*$")
)

// supportedTags is what the chat client renders; everything else is stripped
var supportedTags = map[string]bool{
	"p": true, "br": true, "hr": true, "strong": true, "em": true, "del": true,
	"code": true, "pre": true, "a": true, "blockquote": true,
	"ul": true, "ol": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "thead": true, "tbody": true, "tr": true, "th": true, "td": true,
}

// ToHTML converts assistant markdown to HTML for the chat client.
// Raw HTML in the input is skipped, not passed through.
func ToHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.SkipHTML | blackfriday.SkipImages | blackfriday.Safelink |
			blackfriday.NofollowLinks | blackfriday.NoreferrerLinks | blackfriday.HrefTargetBlank,
	})
	html := string(blackfriday.Run([]byte(markdown),
		blackfriday.WithExtensions(blackfriday.CommonExtensions),
		blackfriday.WithRenderer(renderer),
	))

	return cleanHTML(html)
}

// cleanHTML removes tags outside the supported set and collapses blank runs
func cleanHTML(html string) string {
	html = tagPattern.ReplaceAllStringFunc(html, func(match string) string {
		sub := tagPattern.FindStringSubmatch(match)
		if len(sub) > 1 && supportedTags[strings.ToLower(sub[1])] {
			return match
		}
		return ""
	})

	html = newlinePattern.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}

// StripCodeFence returns the body of text wrapped in a single fenced code block,
// or text unchanged when it is not fenced
func StripCodeFence(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}
