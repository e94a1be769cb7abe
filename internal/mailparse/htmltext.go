package mailparse

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	spaceRe = regexp.MustCompile(`[^\S\n]+`)
	blankRe = regexp.MustCompile(`\n{3,}`)
	// zero-width and other invisible code points that survive doc.Text()
	invisibleRe = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{2060}-\x{2064}]+`)
)

// HTMLToText derives a plain-text body from an HTML-only message so that
// Message.TextBody is always populated when any body exists.
func HTMLToText(html string) (string, error) {
	if html == "" {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, meta, link").Remove()
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := doc.Text()
	text = invisibleRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	text = strings.Join(kept, "\n")
	text = blankRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text), nil
}
