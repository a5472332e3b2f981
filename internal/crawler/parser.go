package crawler

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	// dropped before any text is collected
	noiseSelector = "script, style, noscript, header, footer, nav, template, svg"
	// blocks that carry readable text
	blockSelector = "h1, h2, h3, p, li"
)

var (
	inlineSpace = regexp.MustCompile(`[ \t\r\f\v]{2,}`)
	zeroWidth   = strings.NewReplacer("\u200b", "", "\ufeff", "")
)

func parseHTML(body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrScrapingFailed, err)
	}

	page := &Page{Title: extractTitle(doc), Text: extractText(doc)}
	if page.Text == "" {
		return nil, ErrNoContent
	}
	fillCounts(page)
	return page, nil
}

func plainPage(text string) (*Page, error) {
	text = cleanText(text)
	if text == "" {
		return nil, ErrNoContent
	}
	page := &Page{Text: text}
	fillCounts(page)
	return page, nil
}

func fillCounts(p *Page) {
	p.CharCount = utf8.RuneCountInString(p.Text)
	p.WordCount = len(strings.Fields(p.Text))
}

func extractTitle(doc *goquery.Document) string {
	if t := squash(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := squash(doc.Find("meta[property='og:title']").AttrOr("content", "")); t != "" {
		return t
	}
	return squash(doc.Find("h1").First().Text())
}

// extractText joins the text of heading, paragraph and list blocks with
// blank lines so paragraph chunking can see the boundaries.
func extractText(doc *goquery.Document) string {
	doc.Find(noiseSelector).Remove()

	var blocks []string
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if t := squash(s.Text()); t != "" {
			blocks = append(blocks, t)
		}
	})
	if len(blocks) == 0 {
		// pages built from bare divs still have body text
		if t := squash(doc.Find("body").Text()); t != "" {
			blocks = append(blocks, t)
		}
	}
	return cleanText(strings.Join(blocks, "\n\n"))
}

func squash(s string) string {
	return strings.Join(strings.Fields(zeroWidth.Replace(s)), " ")
}

func cleanText(s string) string {
	s = zeroWidth.Replace(s)
	s = inlineSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
