package indeed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

const feedPage = `<html><body>
<div id="mosaic-jobResults"><ul>
  <li><div class="job_seen_beacon"><table><tr><td class="resultContent">
    <h2 class="jobTitle"><a data-jk="a1b2c3" href="/rc/clk?jk=a1b2c3"><span title="Go Engineer">Go Engineer</span></a></h2>
    <span data-testid="company-name">Acme Ltd</span>
    <div data-testid="text-location">Davidstow,   Cornwall</div>
  </td></tr></table>
  <div class="job-snippet"><ul><li>Build   crawlers.</li></ul></div></div></li>
  <li><div class="job_seen_beacon"><table><tr><td class="resultContent">
    <h2 class="jobTitle"><a href="/rc/clk?jk=d4e5f6&amp;from=serp"><span>Site Reliability Engineer</span></a></h2>
    <span class="companyName">Beta plc</span>
    <div class="companyLocation">Remote</div>
  </td></tr></table></div></li>
  <li><div class="job_seen_beacon"><h2 class="jobTitle"><span>Sponsored, no key</span></h2></div></li>
</ul></div>
<nav><a data-testid="pagination-page-next" href="/jobs?q=go&amp;l=Cornwall&amp;start=10">Next</a></nav>
</body></html>`

const lastPage = `<html><body><div class="job_seen_beacon">
<h2 class="jobTitle"><a data-jk="zz9"><span title="Last">Last</span></a></h2></div></body></html>`

const detailPage = `<html><body>
<div id="salaryInfoAndJobType"><span class="css-2iqe2o">£50,000 - £60,000 a year</span><span class="css-k5flys"> - Full-time</span></div>
<div id="benefits"><ul><li>Pension</li><li>Remote working</li><li>  </li></ul></div>
<div id="jobDescriptionText"><p>We are hiring.</p>
<p>Write   Go.</p></div>
<span class="date">Posted 3 days ago</span>
</body></html>`

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := New("")
	require.NoError(t, err)
	return e
}

func TestNewRejectsRelativeBase(t *testing.T) {
	t.Parallel()

	_, err := New("/jobs")
	require.Error(t, err)
}

func TestFeedURL(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	require.Equal(t, "https://uk.indeed.com/jobs?l=Davidstow%2C+Cornwall&q=golang",
		e.FeedURL(crawler.SearchQuery{What: "golang", Where: "Davidstow, Cornwall"}))
	require.Equal(t, "https://uk.indeed.com/jobs?q=", e.FeedURL(crawler.SearchQuery{}))
}

func TestScanFeedPage(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	records, err := e.ScanFeedPage(feedPage)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	require.Equal(t, "a1b2c3", first.Reference)
	require.Equal(t, crawler.StateSummarized, first.State)
	require.Equal(t, crawler.Summary{
		Title:     "Go Engineer",
		Company:   "Acme Ltd",
		Location:  "Davidstow, Cornwall",
		Snippet:   "Build crawlers.",
		DetailURL: "https://uk.indeed.com/viewjob?jk=a1b2c3",
	}, first.Summary)

	second := records[1]
	require.Equal(t, "d4e5f6", second.Reference)
	require.Equal(t, "Site Reliability Engineer", second.Summary.Title)
	require.Equal(t, "Beta plc", second.Summary.Company)
	require.Equal(t, "Remote", second.Summary.Location)
}

func TestScanFeedPageWithoutCards(t *testing.T) {
	t.Parallel()

	records, err := newExtractor(t).ScanFeedPage("<html><body>captcha</body></html>")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestNextPage(t *testing.T) {
	t.Parallel()

	e := newExtractor(t)
	next, ok := e.NextPage(feedPage)
	require.True(t, ok)
	require.Equal(t, "https://uk.indeed.com/jobs?q=go&l=Cornwall&start=10", next)

	_, ok = e.NextPage(lastPage)
	require.False(t, ok)
}

func TestExtractDetails(t *testing.T) {
	t.Parallel()

	details, err := newExtractor(t).ExtractDetails(detailPage)
	require.NoError(t, err)
	require.Equal(t, "We are hiring. Write Go.", details.Description)
	require.Equal(t, "£50,000 - £60,000 a year", details.Metadata.Salary)
	require.Equal(t, []string{"- Full-time"}, details.Metadata.JobTypes)
	require.Equal(t, []string{"Pension", "Remote working"}, details.Metadata.Benefits)
	require.Equal(t, "Posted 3 days ago", details.Metadata.Posted)
}

func TestExtractDetailsWithoutDescriptionIsSoftFailure(t *testing.T) {
	t.Parallel()

	_, err := newExtractor(t).ExtractDetails("<html><body><h1>Job expired</h1></body></html>")
	require.True(t, errors.Is(err, crawler.ErrExtraction))
}
