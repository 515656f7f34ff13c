package mongo

import (
	"time"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

type caseDocument struct {
	RefNumber       string    `bson:"ref_number,omitempty"`
	URL             string    `bson:"url"`
	PublishedDate   string    `bson:"published_date"`
	PartitionDate   string    `bson:"partition_date"`
	Description     string    `bson:"description"`
	StorageLocation string    `bson:"storage_location,omitempty"`
	ContentHash     string    `bson:"content_hash,omitempty"`
	AttachmentURLs  []string  `bson:"attachment_urls"`
	CategoryFilters []string  `bson:"category_filters"`
	HarvestedAt     time.Time `bson:"harvested_at"`
}

func (d caseDocument) record() crawler.CaseRecord {
	return crawler.CaseRecord{
		RefNumber:       d.RefNumber,
		URL:             d.URL,
		PublishedDate:   d.PublishedDate,
		PartitionDate:   d.PartitionDate,
		Description:     d.Description,
		StorageLocation: d.StorageLocation,
		ContentHash:     d.ContentHash,
		AttachmentURLs:  crawler.NewStringSet(d.AttachmentURLs...),
		CategoryFilters: crawler.NewStringSet(d.CategoryFilters...),
		HarvestedAt:     d.HarvestedAt,
	}
}

type normalizedDocument struct {
	RefNumber       string    `bson:"ref_number"`
	URL             string    `bson:"url"`
	PublishedDate   string    `bson:"published_date"`
	PartitionDate   string    `bson:"partition_date"`
	Description     string    `bson:"description"`
	CategoryFilters []string  `bson:"category_filters"`
	StorageLocation string    `bson:"storage_location"`
	ContentHash     string    `bson:"content_hash"`
	Attachments     []string  `bson:"attachments"`
	HarvestedAt     time.Time `bson:"harvested_at"`
	ProcessedAt     time.Time `bson:"processed_at"`
}

func newNormalizedDocument(rec crawler.NormalizedRecord) normalizedDocument {
	doc := normalizedDocument{
		RefNumber:       rec.RefNumber,
		URL:             rec.URL,
		PublishedDate:   rec.PublishedDate,
		PartitionDate:   rec.PartitionDate,
		Description:     rec.Description,
		CategoryFilters: rec.CategoryFilters,
		StorageLocation: rec.StorageLocation,
		ContentHash:     rec.ContentHash,
		Attachments:     rec.Attachments,
		HarvestedAt:     rec.HarvestedAt,
		ProcessedAt:     rec.ProcessedAt,
	}
	if doc.CategoryFilters == nil {
		doc.CategoryFilters = []string{}
	}
	if doc.Attachments == nil {
		doc.Attachments = []string{}
	}
	return doc
}
