// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Date layouts used by the source site and the object layout.
const (
	// FormDateLayout is the day/month/year form the site renders and accepts.
	FormDateLayout = "02/01/2006"
	// PartitionLayout labels a partition by month/year.
	PartitionLayout = "01/2006"
	// publishedLayout parses published dates leniently (no zero padding required).
	publishedLayout = "2/1/2006"
)

// DateRange is an inclusive calendar-day window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange truncates both bounds to UTC midnight.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: Day(start), End: Day(end)}
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// PartitionLabel returns the month/year label of the range start.
func (r DateRange) PartitionLabel() string {
	return r.Start.Format(PartitionLayout)
}

// FormStart renders the start day in the site's form layout.
func (r DateRange) FormStart() string {
	return r.Start.Format(FormDateLayout)
}

// FormEnd renders the end day in the site's form layout.
func (r DateRange) FormEnd() string {
	return r.End.Format(FormDateLayout)
}

func (r DateRange) String() string {
	return r.FormStart() + "-" + r.FormEnd()
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseFormDate parses a DD/MM/YYYY string into a UTC day.
func ParseFormDate(raw string) (time.Time, error) {
	t, err := time.Parse(publishedLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// ParsePublishedDate parses a stored published date, reporting false when it
// does not follow the day/month/year layout.
func ParsePublishedDate(raw string) (time.Time, bool) {
	t, err := ParseFormDate(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CaseRecord is one decision discovered on the search site.
type CaseRecord struct {
	RefNumber       string    `json:"ref_number,omitempty"`
	URL             string    `json:"url"`
	PublishedDate   string    `json:"published_date"`
	PartitionDate   string    `json:"partition_date"`
	Description     string    `json:"description,omitempty"`
	StorageLocation string    `json:"storage_location,omitempty"`
	ContentHash     string    `json:"content_hash,omitempty"`
	AttachmentURLs  StringSet `json:"attachment_urls"`
	CategoryFilters StringSet `json:"category_filters"`
	HarvestedAt     time.Time `json:"harvested_at"`
}

// Natural key field names shared by every metadata backend.
const (
	KeyRefNumber = "ref_number"
	KeyURL       = "url"
)

// NaturalKey returns the field and value identifying the record: the trimmed
// ref number when present, the URL otherwise.
func (r CaseRecord) NaturalKey() (string, string) {
	if ref := strings.TrimSpace(r.RefNumber); ref != "" {
		return KeyRefNumber, ref
	}
	return KeyURL, r.URL
}

// NormalizedRecord is the cleaned copy of a CaseRecord in the processed area.
type NormalizedRecord struct {
	RefNumber       string    `json:"ref_number"`
	URL             string    `json:"url"`
	PublishedDate   string    `json:"published_date"`
	PartitionDate   string    `json:"partition_date"`
	Description     string    `json:"description,omitempty"`
	CategoryFilters []string  `json:"category_filters"`
	StorageLocation string    `json:"storage_location"`
	ContentHash     string    `json:"content_hash,omitempty"`
	Attachments     []string  `json:"attachments"`
	HarvestedAt     time.Time `json:"harvested_at"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Method  string
	Form    url.Values
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	ContentType string
	Body        []byte
	Duration    time.Duration
}
