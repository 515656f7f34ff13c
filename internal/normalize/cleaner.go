package normalize

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultContentSelector matches the main content column of a decision page.
	DefaultContentSelector = "div.col-sm-9"
	boilerplateSelector    = "nav, header, footer, script, style"
)

// Cleaner strips page chrome from stored HTML documents.
type Cleaner struct {
	contentSelector string
}

// NewCleaner returns a Cleaner that keeps the region matched by
// contentSelector when present.
func NewCleaner(contentSelector string) *Cleaner {
	if strings.TrimSpace(contentSelector) == "" {
		contentSelector = DefaultContentSelector
	}
	return &Cleaner{contentSelector: contentSelector}
}

// Clean removes navigation, headers, footers, scripts and styles, then
// returns the main content region, else the body, else the whole document.
func (c *Cleaner) Clean(body []byte) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(boilerplateSelector).Remove()

	if main := doc.Find(c.contentSelector).First(); main.Length() > 0 {
		return render(main)
	}
	if bodySel := doc.Find("body").First(); bodySel.Length() > 0 && bodySel.Contents().Length() > 0 {
		return render(bodySel)
	}
	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	return []byte(out), nil
}

func render(sel *goquery.Selection) ([]byte, error) {
	out, err := goquery.OuterHtml(sel)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return []byte(out), nil
}
