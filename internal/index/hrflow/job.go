package hrflow

import (
	"strings"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

// Job is the indexing payload.
type Job struct {
	BoardKey  string    `json:"board_key"`
	Reference string    `json:"reference"`
	Name      string    `json:"name"`
	URL       string    `json:"url,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Location  Location  `json:"location"`
	Sections  []Section `json:"sections"`
	Tags      []Tag     `json:"tags"`
}

// Location is free-text; geocoding is left to the API.
type Location struct {
	Text string   `json:"text"`
	Lat  *float64 `json:"lat"`
	Lng  *float64 `json:"lng"`
}

// Section is a titled block of the job description.
type Section struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Tag is a name/value pair attached to the job.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewJob maps an enriched record to the indexing payload.
func NewJob(boardKey string, record crawler.JobRecord) Job {
	job := Job{
		BoardKey:  boardKey,
		Reference: record.Reference,
		Name:      record.Summary.Title,
		URL:       record.Summary.DetailURL,
		Summary:   record.Summary.Snippet,
		Location:  Location{Text: record.Summary.Location},
		Sections:  []Section{},
		Tags:      []Tag{},
	}
	job.Tags = appendTag(job.Tags, "company", record.Summary.Company)

	if d := record.Details; d != nil {
		if d.Description != "" {
			job.Sections = append(job.Sections, Section{
				Name:        "description",
				Title:       "Description",
				Description: d.Description,
			})
		}
		job.Tags = appendTag(job.Tags, "salary", d.Metadata.Salary)
		for _, jt := range d.Metadata.JobTypes {
			job.Tags = appendTag(job.Tags, "job_type", strings.TrimLeft(jt, "- "))
		}
		for _, b := range d.Metadata.Benefits {
			job.Tags = appendTag(job.Tags, "benefit", b)
		}
		job.Tags = appendTag(job.Tags, "posted", d.Metadata.Posted)
		job.Tags = appendTag(job.Tags, "content_hash", d.ContentHash)
	}
	return job
}

func appendTag(tags []Tag, name, value string) []Tag {
	if value = strings.TrimSpace(value); value == "" {
		return tags
	}
	return append(tags, Tag{Name: name, Value: value})
}
