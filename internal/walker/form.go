package walker

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

// searchForm is a parsed HTML form ready to be submitted.
type searchForm struct {
	action string
	method string
	values url.Values
}

// parseForm serializes the form with the given id the way a browser would on
// submit, without any click data. Hidden state fields come along unchanged.
func parseForm(doc *goquery.Document, pageURL, formID string) (*searchForm, error) {
	form := doc.Find("form").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.AttrOr("id", "") == formID
	}).First()
	if form.Length() == 0 {
		return nil, crawler.UpstreamFormatf("search form %q not found on %s", formID, pageURL)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, crawler.UpstreamFormatf("search page url %q: %v", pageURL, err)
	}
	action := base.String()
	if raw := strings.TrimSpace(form.AttrOr("action", "")); raw != "" {
		ref, err := url.Parse(raw)
		if err != nil {
			return nil, crawler.UpstreamFormatf("form action %q: %v", raw, err)
		}
		action = base.ResolveReference(ref).String()
	}

	method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", "")))
	if method != http.MethodPost {
		method = http.MethodGet
	}

	values := url.Values{}
	form.Find("input, select, textarea").Each(func(_ int, field *goquery.Selection) {
		name, ok := field.Attr("name")
		if !ok || name == "" {
			return
		}
		if _, disabled := field.Attr("disabled"); disabled {
			return
		}
		switch goquery.NodeName(field) {
		case "select":
			addSelect(values, name, field)
		case "textarea":
			values.Add(name, field.Text())
		default:
			addInput(values, name, field)
		}
	})

	return &searchForm{action: action, method: method, values: values}, nil
}

func addInput(values url.Values, name string, field *goquery.Selection) {
	switch strings.ToLower(field.AttrOr("type", "text")) {
	case "submit", "image", "button", "reset", "file":
	case "checkbox", "radio":
		if _, checked := field.Attr("checked"); checked {
			values.Add(name, field.AttrOr("value", "on"))
		}
	default:
		values.Add(name, field.AttrOr("value", ""))
	}
}

func addSelect(values url.Values, name string, field *goquery.Selection) {
	options := field.Find("option")
	selected := options.FilterFunction(func(_ int, o *goquery.Selection) bool {
		_, ok := o.Attr("selected")
		return ok
	})
	if _, multiple := field.Attr("multiple"); multiple {
		selected.Each(func(_ int, o *goquery.Selection) {
			values.Add(name, optionValue(o))
		})
		return
	}
	if selected.Length() == 0 {
		selected = options
	}
	if selected.Length() > 0 {
		values.Add(name, optionValue(selected.First()))
	}
}

func optionValue(o *goquery.Selection) string {
	if v, ok := o.Attr("value"); ok {
		return v
	}
	return strings.TrimSpace(o.Text())
}

// hasSubmit reports whether the form offers a clickable control named name,
// returning the value it submits.
func hasSubmit(doc *goquery.Document, formID, name string) (string, bool) {
	button := doc.Find("form").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.AttrOr("id", "") == formID
	}).Find("input, button").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if s.AttrOr("name", "") != name {
			return false
		}
		if goquery.NodeName(s) == "button" {
			return true
		}
		kind := strings.ToLower(s.AttrOr("type", ""))
		return kind == "submit" || kind == "image" || kind == "button"
	}).First()
	if button.Length() == 0 {
		return "", false
	}
	return button.AttrOr("value", ""), true
}

// request turns the form into a fetch request.
func (f *searchForm) request() crawler.FetchRequest {
	if f.method == http.MethodPost {
		return crawler.FetchRequest{URL: f.action, Method: http.MethodPost, Form: f.values}
	}
	u, err := url.Parse(f.action)
	if err != nil {
		return crawler.FetchRequest{URL: f.action, Method: http.MethodGet}
	}
	u.RawQuery = f.values.Encode()
	return crawler.FetchRequest{URL: u.String(), Method: http.MethodGet}
}
