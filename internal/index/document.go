// Package index holds the document shape shared by the index store backends.
package index

import (
	"time"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

// Document is the flattened form of an enriched record as stored by the
// Elasticsearch and Postgres backends.
type Document struct {
	Reference   string     `json:"reference"`
	CatalogKey  string     `json:"catalog_key"`
	Title       string     `json:"title"`
	Company     string     `json:"company,omitempty"`
	Location    string     `json:"location,omitempty"`
	Snippet     string     `json:"snippet,omitempty"`
	URL         string     `json:"url,omitempty"`
	Description string     `json:"description,omitempty"`
	Salary      string     `json:"salary,omitempty"`
	JobTypes    []string   `json:"job_types,omitempty"`
	Benefits    []string   `json:"benefits,omitempty"`
	Posted      string     `json:"posted,omitempty"`
	ContentHash string     `json:"content_hash,omitempty"`
	FetchedAt   *time.Time `json:"fetched_at,omitempty"`
	IndexedAt   time.Time  `json:"indexed_at"`
}

// NewDocument flattens record for catalogKey.
func NewDocument(catalogKey string, record crawler.JobRecord, indexedAt time.Time) Document {
	doc := Document{
		Reference:  record.Reference,
		CatalogKey: catalogKey,
		Title:      record.Summary.Title,
		Company:    record.Summary.Company,
		Location:   record.Summary.Location,
		Snippet:    record.Summary.Snippet,
		URL:        record.Summary.DetailURL,
		IndexedAt:  indexedAt.UTC(),
	}
	if d := record.Details; d != nil {
		doc.Description = d.Description
		doc.Salary = d.Metadata.Salary
		doc.JobTypes = append([]string(nil), d.Metadata.JobTypes...)
		doc.Benefits = append([]string(nil), d.Metadata.Benefits...)
		doc.Posted = d.Metadata.Posted
		doc.ContentHash = d.ContentHash
		if !d.FetchedAt.IsZero() {
			fetched := d.FetchedAt.UTC()
			doc.FetchedAt = &fetched
		}
	}
	return doc
}

// Indexed converts a stored document back into the lookup result.
func (d Document) Indexed(raw map[string]any) crawler.IndexedJob {
	indexedAt := d.IndexedAt
	return crawler.IndexedJob{
		Reference:  d.Reference,
		CatalogKey: d.CatalogKey,
		Title:      d.Title,
		Raw:        raw,
		IndexedAt:  &indexedAt,
	}
}
