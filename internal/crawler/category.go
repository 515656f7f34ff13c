package crawler

import (
	"fmt"
	"strings"
)

// Category names an adjudicating body whose decisions can be filtered on.
type Category string

// Known categories. CategoryAll submits no selector and returns every body.
const (
	CategoryAll      Category = ""
	CategoryEAT      Category = "Employment Appeals Tribunal"
	CategoryEquality Category = "Equality Tribunal"
	CategoryLabour   Category = "Labour Court"
	CategoryWRC      Category = "Workplace Relations Commission"
)

// AllCategories lists the concrete categories in site order.
var AllCategories = []Category{CategoryEAT, CategoryEquality, CategoryLabour, CategoryWRC}

func (c Category) String() string {
	if c == CategoryAll {
		return "all"
	}
	return string(c)
}

// ParseCategory matches a display name case-insensitively. "all" and the
// empty string map to CategoryAll.
func ParseCategory(raw string) (Category, error) {
	name := strings.TrimSpace(raw)
	if name == "" || strings.EqualFold(name, "all") {
		return CategoryAll, nil
	}
	for _, c := range AllCategories {
		if strings.EqualFold(name, string(c)) {
			return c, nil
		}
	}
	return CategoryAll, fmt.Errorf("unknown category %q", raw)
}

// FormField is one name/value pair submitted with the search form.
type FormField struct {
	Name  string `mapstructure:"field"`
	Value string `mapstructure:"value"`
}

// CategorySelectors maps a category to the form field that selects it.
type CategorySelectors map[Category]FormField

// DefaultCategorySelectors returns the checkbox fields the search page uses.
func DefaultCategorySelectors() CategorySelectors {
	const prefix = "ctl00$ContentPlaceHolder_Main$CB2$CB2_"
	return CategorySelectors{
		CategoryEAT:      {Name: prefix + "0", Value: "2"},
		CategoryEquality: {Name: prefix + "1", Value: "1"},
		CategoryLabour:   {Name: prefix + "2", Value: "3"},
		CategoryWRC:      {Name: prefix + "3", Value: "4"},
	}
}

// Categories returns the configured categories in site order, followed by any
// extra ones in lexical order.
func (s CategorySelectors) Categories() []Category {
	out := make([]Category, 0, len(s))
	seen := make(map[Category]bool, len(s))
	for _, c := range AllCategories {
		if _, ok := s[c]; ok {
			out = append(out, c)
			seen[c] = true
		}
	}
	extra := NewStringSet()
	for c := range s {
		if !seen[c] && c != CategoryAll {
			extra.Add(string(c))
		}
	}
	for _, name := range extra.Sorted() {
		out = append(out, Category(name))
	}
	return out
}
