// Package discover extracts attachment links from a case detail page.
package discover

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

// Defaults matching the decision detail pages.
const (
	DefaultContentSelector = "div.col-sm-9"
	DefaultSearchSegment   = "/search"
)

// Discoverer finds links inside the main content region of a page.
type Discoverer struct {
	contentSelector string
	searchSegment   string
}

// New builds a Discoverer. Empty arguments fall back to the defaults.
func New(contentSelector, searchSegment string) *Discoverer {
	if strings.TrimSpace(contentSelector) == "" {
		contentSelector = DefaultContentSelector
	}
	if strings.TrimSpace(searchSegment) == "" {
		searchSegment = DefaultSearchSegment
	}
	return &Discoverer{
		contentSelector: contentSelector,
		searchSegment:   strings.ToLower(searchSegment),
	}
}

// Discover returns the absolute URLs linked from the content region of body,
// resolved against canonicalURL. Navigation back to search, fragment-only
// anchors and self links are left out.
func (d *Discoverer) Discover(body []byte, canonicalURL string) (crawler.StringSet, error) {
	base, err := url.Parse(canonicalURL)
	if err != nil {
		return nil, fmt.Errorf("parse canonical url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}

	canonical := base.String()
	out := crawler.NewStringSet()
	doc.Find(d.contentSelector).Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasSuffix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref).String()
		switch {
		case strings.Contains(strings.ToLower(resolved), d.searchSegment):
		case resolved == canonical:
		default:
			out.Add(resolved)
		}
	})
	return out, nil
}
