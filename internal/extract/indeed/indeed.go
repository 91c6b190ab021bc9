// Package indeed parses Indeed search result pages and job detail pages.
package indeed

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

// DefaultBaseURL is the board the extractor targets when none is configured.
const DefaultBaseURL = "https://uk.indeed.com"

// Selectors used against the board markup. Each lists fallbacks, tried in order.
const (
	cardSelector     = "div.job_seen_beacon, td.resultContent"
	titleSelector    = "h2.jobTitle span[title], h2.jobTitle span"
	keySelector      = "a[data-jk], h2.jobTitle a"
	companySelector  = "[data-testid='company-name'], span.companyName"
	locationSelector = "[data-testid='text-location'], div.companyLocation"
	snippetSelector  = "div.job-snippet, [data-testid='jobsnippet_footer']"
	nextSelector     = "a[data-testid='pagination-page-next'], a[aria-label='Next Page']"

	descriptionSelector = "#jobDescriptionText"
	salarySelector      = "#salaryInfoAndJobType span.css-2iqe2o, #salaryInfoAndJobType span:first-child"
	jobTypeSelector     = "#salaryInfoAndJobType span.css-k5flys, [data-testid='job-type'] li"
	benefitsSelector    = "#benefits li, [data-testid='benefits-test'] li"
	postedSelector      = "[data-testid='myJobsStateDate'], span.date"
)

// Extractor implements crawler.Extractor for Indeed.
type Extractor struct {
	base *url.URL
}

// New returns an Extractor for the board at baseURL (DefaultBaseURL when empty).
func New(baseURL string) (*Extractor, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	return &Extractor{base: base}, nil
}

// FeedURL builds the first search results page for query.
func (e *Extractor) FeedURL(query crawler.SearchQuery) string {
	u := e.base.JoinPath("/jobs")
	q := url.Values{}
	q.Set("q", query.What)
	if query.Where != "" {
		q.Set("l", query.Where)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// DetailURL is the canonical detail page of a job key.
func (e *Extractor) DetailURL(jobKey string) string {
	u := e.base.JoinPath("/viewjob")
	u.RawQuery = url.Values{"jk": {jobKey}}.Encode()
	return u.String()
}

// ScanFeedPage returns one summarized record per job card. Cards without a job
// key are skipped; a page with no parsable markup at all is an error.
func (e *Extractor) ScanFeedPage(content string) ([]crawler.JobRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed page: %v", crawler.ErrExtraction, err)
	}

	var records []crawler.JobRecord
	seen := make(map[string]struct{})
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		key := jobKey(card)
		if key == "" {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		records = append(records, crawler.NewJobRecord(key, crawler.Summary{
			Title:     firstText(card, titleSelector),
			Company:   firstText(card, companySelector),
			Location:  firstText(card, locationSelector),
			Snippet:   firstText(card, snippetSelector),
			DetailURL: e.DetailURL(key),
		}))
	})
	return records, nil
}

// NextPage returns the absolute URL of the next results page, if any.
func (e *Extractor) NextPage(content string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", false
	}
	href, ok := doc.Find(nextSelector).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	return e.base.ResolveReference(ref).String(), true
}

// ExtractDetails parses a job detail page. A page without a description is a soft failure.
func (e *Extractor) ExtractDetails(content string) (crawler.Details, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return crawler.Details{}, fmt.Errorf("%w: parse detail page: %v", crawler.ErrExtraction, err)
	}
	description := normalize(doc.Find(descriptionSelector).First().Text())
	if description == "" {
		return crawler.Details{}, fmt.Errorf("%w: no job description", crawler.ErrExtraction)
	}
	return crawler.Details{
		Description: description,
		Metadata: crawler.Metadata{
			Salary:   firstText(doc.Selection, salarySelector),
			JobTypes: allText(doc.Selection, jobTypeSelector),
			Benefits: allText(doc.Selection, benefitsSelector),
			Posted:   firstText(doc.Selection, postedSelector),
		},
	}, nil
}

func jobKey(card *goquery.Selection) string {
	link := card.Find(keySelector).First()
	if jk, ok := link.Attr("data-jk"); ok && jk != "" {
		return jk
	}
	if jk, ok := card.Attr("data-jk"); ok && jk != "" {
		return jk
	}
	href, ok := link.Attr("href")
	if !ok {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("jk")
}

func firstText(sel *goquery.Selection, selector string) string {
	var out string
	sel.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		out = normalize(s.Text())
		return out == ""
	})
	return out
}

func allText(sel *goquery.Selection, selector string) []string {
	var out []string
	sel.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if text := normalize(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
