// Package crawler defines the job record and the collaborator contracts shared across subsystems.
package crawler

import (
	"fmt"
	"time"
)

// RecordState is the lifecycle position of a JobRecord inside a run.
type RecordState string

// Record states in the order a record can reach them.
const (
	StateSummarized RecordState = "summarized"
	StateEnriched   RecordState = "enriched"
	StateSubmitted  RecordState = "submitted"
	StateDropped    RecordState = "dropped"
	StateDuplicate  RecordState = "duplicate"
)

// Purpose fixes what a worker is used for at creation time.
type Purpose string

// Worker purposes.
const (
	PurposeFeedScan    Purpose = "feed-scan"
	PurposeDetailFetch Purpose = "detail-fetch"
)

// Summary holds the fields populated by the feed scan.
type Summary struct {
	Title     string `json:"title"`
	Company   string `json:"company"`
	Location  string `json:"location"`
	Snippet   string `json:"snippet"`
	DetailURL string `json:"detail_url"`
}

// Metadata is the structured part of a detail page.
type Metadata struct {
	Salary   string   `json:"salary,omitempty"`
	JobTypes []string `json:"job_types,omitempty"`
	Benefits []string `json:"benefits,omitempty"`
	Posted   string   `json:"posted,omitempty"`
}

// Details holds the enrichment fetched from the detail page.
type Details struct {
	Description string    `json:"description"`
	Metadata    Metadata  `json:"metadata"`
	ContentHash string    `json:"content_hash,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// JobRecord flows from the producer through the queue to the consumers.
// Details stays nil until the record is enriched.
type JobRecord struct {
	Reference string      `json:"reference"`
	Summary   Summary     `json:"summary"`
	Details   *Details    `json:"details,omitempty"`
	State     RecordState `json:"state"`
}

// NewJobRecord creates a summarized record.
func NewJobRecord(reference string, summary Summary) JobRecord {
	return JobRecord{
		Reference: reference,
		Summary:   summary,
		State:     StateSummarized,
	}
}

// Enriched reports whether details have been attached.
func (r JobRecord) Enriched() bool {
	return r.Details != nil
}

// Enrich returns a copy of the record carrying details. Summary fields and the
// reference are left untouched and a record can only be enriched once.
func (r JobRecord) Enrich(details Details) (JobRecord, error) {
	if r.Details != nil {
		return r, fmt.Errorf("record %s: %w", r.Reference, ErrAlreadyEnriched)
	}
	d := details
	d.Metadata.JobTypes = append([]string(nil), details.Metadata.JobTypes...)
	d.Metadata.Benefits = append([]string(nil), details.Metadata.Benefits...)
	r.Details = &d
	r.State = StateEnriched
	return r, nil
}

// WithState returns a copy of the record in the given state.
func (r JobRecord) WithState(state RecordState) JobRecord {
	r.State = state
	return r
}

// SearchQuery describes what the feed scan looks for. Both fields are opaque to the pipeline.
type SearchQuery struct {
	What  string `json:"what"`
	Where string `json:"where"`
}

// Viewport is the browser window size applied to a context.
type Viewport struct {
	Width  int
	Height int
}

// LaunchOptions configures a browser engine launch.
type LaunchOptions struct {
	Headless  bool
	UserAgent string
}

// ContextOptions configures one isolated browsing context. Identity labels the
// context in engine logs and is the owning worker's identity.
type ContextOptions struct {
	Viewport  Viewport
	UserAgent string
	Identity  string
}

// IndexedJob is what the index store returns for an existing reference.
type IndexedJob struct {
	Reference  string         `json:"reference"`
	CatalogKey string         `json:"catalog_key"`
	Title      string         `json:"title,omitempty"`
	Raw        map[string]any `json:"raw,omitempty"`
	IndexedAt  *time.Time     `json:"indexed_at,omitempty"`
}
