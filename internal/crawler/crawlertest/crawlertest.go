// Package crawlertest provides in-memory fakes of the browser engine, extractor
// and index store for exercising the pipeline without a browser or network.
package crawlertest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

const (
	feedScheme    = "feed://"
	contentPrefix = "page:"
)

// ErrNavigation is returned by the fake page for URLs marked as failing.
var ErrNavigation = errors.New("navigation failed")

// Board is a fake job board: an ordered list of feed pages plus detail pages keyed by URL.
type Board struct {
	mu          sync.Mutex
	feed        [][]crawler.JobRecord
	details     map[string]crawler.Details
	failing     map[string]bool
	latency     time.Duration
	navigations []string
}

// NewBoard builds a board from feed pages. Every record gets a detail page unless removed.
func NewBoard(pages ...[]crawler.JobRecord) *Board {
	b := &Board{
		details: make(map[string]crawler.Details),
		failing: make(map[string]bool),
	}
	for _, page := range pages {
		records := make([]crawler.JobRecord, 0, len(page))
		for _, rec := range page {
			if rec.Summary.DetailURL == "" {
				rec.Summary.DetailURL = DetailURL(rec.Reference)
			}
			b.details[rec.Summary.DetailURL] = crawler.Details{
				Description: "description of " + rec.Reference,
			}
			records = append(records, rec)
		}
		b.feed = append(b.feed, records)
	}
	return b
}

// Records builds n summarized records with references prefix-0 .. prefix-(n-1).
func Records(prefix string, n int) []crawler.JobRecord {
	out := make([]crawler.JobRecord, 0, n)
	for i := range n {
		ref := fmt.Sprintf("%s-%d", prefix, i)
		out = append(out, crawler.NewJobRecord(ref, crawler.Summary{
			Title:     "Engineer " + ref,
			Company:   "Acme",
			Location:  "Davidstow, Cornwall",
			DetailURL: DetailURL(ref),
		}))
	}
	return out
}

// DetailURL is the fake detail locator for a reference.
func DetailURL(reference string) string {
	return "detail://" + reference
}

// FeedPageURL is the fake locator of the n-th (1-based) feed page.
func FeedPageURL(n int) string {
	return feedScheme + strconv.Itoa(n)
}

// FailNavigation makes navigation to url fail.
func (b *Board) FailNavigation(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing[url] = true
}

// RemoveDetails drops the detail page so extraction fails for it.
func (b *Board) RemoveDetails(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.details, url)
}

// SetLatency adds an artificial delay to every navigation.
func (b *Board) SetLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = d
}

// Navigations returns every URL navigated to so far.
func (b *Board) Navigations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.navigations...)
}

func (b *Board) navigate(ctx context.Context, url string) error {
	b.mu.Lock()
	b.navigations = append(b.navigations, url)
	latency := b.latency
	failing := b.failing[url]
	b.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if failing {
		return fmt.Errorf("%w: %s", ErrNavigation, url)
	}
	return nil
}

// Extractor is the fake extractor paired with a Board.
type Extractor struct {
	Board *Board
}

// FeedURL returns the first feed page, or "" when the board has no pages.
func (e Extractor) FeedURL(crawler.SearchQuery) string {
	e.Board.mu.Lock()
	defer e.Board.mu.Unlock()
	if len(e.Board.feed) == 0 {
		return ""
	}
	return FeedPageURL(1)
}

// ScanFeedPage returns the records of the feed page rendered in content.
func (e Extractor) ScanFeedPage(content string) ([]crawler.JobRecord, error) {
	n, err := feedIndex(content)
	if err != nil {
		return nil, err
	}
	e.Board.mu.Lock()
	defer e.Board.mu.Unlock()
	if n < 1 || n > len(e.Board.feed) {
		return nil, fmt.Errorf("%w: no feed page %d", crawler.ErrExtraction, n)
	}
	return append([]crawler.JobRecord(nil), e.Board.feed[n-1]...), nil
}

// NextPage returns the following feed page if there is one.
func (e Extractor) NextPage(content string) (string, bool) {
	n, err := feedIndex(content)
	if err != nil {
		return "", false
	}
	e.Board.mu.Lock()
	defer e.Board.mu.Unlock()
	if n >= len(e.Board.feed) {
		return "", false
	}
	return FeedPageURL(n + 1), true
}

// ExtractDetails returns the details registered for the rendered detail URL.
func (e Extractor) ExtractDetails(content string) (crawler.Details, error) {
	url := strings.TrimPrefix(content, contentPrefix)
	e.Board.mu.Lock()
	defer e.Board.mu.Unlock()
	details, ok := e.Board.details[url]
	if !ok {
		return crawler.Details{}, fmt.Errorf("%w: no details at %s", crawler.ErrExtraction, url)
	}
	return details, nil
}

func feedIndex(content string) (int, error) {
	url := strings.TrimPrefix(content, contentPrefix)
	if !strings.HasPrefix(url, feedScheme) {
		return 0, fmt.Errorf("%w: not a feed page %q", crawler.ErrExtraction, url)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(url, feedScheme))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", crawler.ErrExtraction, err)
	}
	return n, nil
}

// Events is a shared, ordered log of lifecycle calls made against the fakes.
type Events struct {
	mu     sync.Mutex
	events []string
}

// Add appends an event.
func (e *Events) Add(event string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

// List returns a copy of the events.
func (e *Events) List() []string {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

// Driver starts a fake Runtime bound to a Board.
type Driver struct {
	Board     *Board
	Events    *Events
	StartErr  error
	LaunchErr error
	StopErr   error
	CloseErr  error

	mu      sync.Mutex
	engines []*Engine
}

// Start implements crawler.Driver.
func (d *Driver) Start(context.Context) (crawler.Runtime, error) {
	if d.StartErr != nil {
		return nil, d.StartErr
	}
	d.Events.Add("runtime.start")
	return &runtime{driver: d}, nil
}

// Engines returns every engine launched through this driver.
func (d *Driver) Engines() []*Engine {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Engine(nil), d.engines...)
}

type runtime struct {
	driver *Driver
}

func (r *runtime) Launch(_ context.Context, opts crawler.LaunchOptions) (crawler.BrowserEngine, error) {
	if r.driver.LaunchErr != nil {
		return nil, r.driver.LaunchErr
	}
	r.driver.Events.Add("engine.launch")
	e := NewEngine(r.driver.Board)
	e.Events = r.driver.Events
	e.CloseErr = r.driver.CloseErr
	e.Headless = opts.Headless
	r.driver.mu.Lock()
	r.driver.engines = append(r.driver.engines, e)
	r.driver.mu.Unlock()
	return e, nil
}

func (r *runtime) Stop(context.Context) error {
	r.driver.Events.Add("runtime.stop")
	return r.driver.StopErr
}

// Engine is a fake browser engine handing out isolated contexts over a Board.
type Engine struct {
	Board    *Board
	Events   *Events
	CloseErr error
	Headless bool
	// ContextErr, when set, fails every NewContext call.
	ContextErr error

	closed   atomic.Bool
	opened   atomic.Int64
	released atomic.Int64
	mu       sync.Mutex
	idents   []string
}

// NewEngine returns an engine over board.
func NewEngine(board *Board) *Engine {
	return &Engine{Board: board}
}

// NewContext implements crawler.BrowserEngine.
func (e *Engine) NewContext(_ context.Context, opts crawler.ContextOptions) (crawler.BrowserContext, error) {
	if e.closed.Load() {
		return nil, crawler.ErrEngineClosed
	}
	if e.ContextErr != nil {
		return nil, e.ContextErr
	}
	e.opened.Add(1)
	e.mu.Lock()
	e.idents = append(e.idents, opts.Identity)
	e.mu.Unlock()
	return &browserContext{engine: e, identity: opts.Identity}, nil
}

// Close implements crawler.BrowserEngine.
func (e *Engine) Close(context.Context) error {
	e.closed.Store(true)
	e.Events.Add("engine.close")
	return e.CloseErr
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool { return e.closed.Load() }

// OpenContexts returns contexts opened and not yet closed.
func (e *Engine) OpenContexts() int64 { return e.opened.Load() - e.released.Load() }

// Identities returns the identity of every context opened, in order.
func (e *Engine) Identities() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.idents...)
}

type browserContext struct {
	engine   *Engine
	identity string
	closed   atomic.Bool
}

func (c *browserContext) NewPage(context.Context) (crawler.Page, error) {
	if c.closed.Load() {
		return nil, errors.New("context closed")
	}
	return &page{ctx: c}, nil
}

func (c *browserContext) Close(context.Context) error {
	if c.closed.CompareAndSwap(false, true) {
		c.engine.released.Add(1)
		c.engine.Events.Add("context.close:" + c.identity)
	}
	return nil
}

type page struct {
	ctx *browserContext
	url string
}

func (p *page) Navigate(ctx context.Context, url string) error {
	if p.ctx.closed.Load() {
		return errors.New("target closed")
	}
	if err := p.ctx.engine.Board.navigate(ctx, url); err != nil {
		return err
	}
	if p.ctx.closed.Load() {
		return errors.New("target closed")
	}
	p.url = url
	return nil
}

func (p *page) Content(context.Context) (string, error) {
	if p.ctx.closed.Load() {
		return "", errors.New("target closed")
	}
	return contentPrefix + p.url, nil
}

func (p *page) Screenshot(context.Context) ([]byte, error) {
	return []byte("png:" + p.url), nil
}

// IndexStore is a fake index that counts calls.
type IndexStore struct {
	mu       sync.Mutex
	records  map[string]crawler.JobRecord
	gets     int
	adds     map[string]int
	failures map[string]error
	latency  time.Duration
	GetErr   error
	AddErr   error
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

// NewIndexStore returns an empty fake index with the given references already present.
func NewIndexStore(existing ...string) *IndexStore {
	s := &IndexStore{
		records:  make(map[string]crawler.JobRecord),
		adds:     make(map[string]int),
		failures: make(map[string]error),
	}
	for _, ref := range existing {
		s.records[ref] = crawler.NewJobRecord(ref, crawler.Summary{})
	}
	return s
}

// SetLatency delays every call.
func (s *IndexStore) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// FailNextAdd makes the next Add of reference return err.
func (s *IndexStore) FailNextAdd(reference string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[reference] = err
}

// Get implements crawler.IndexStore.
func (s *IndexStore) Get(ctx context.Context, catalogKey, reference string) (crawler.IndexedJob, bool, error) {
	s.enter(ctx)
	defer s.inFlight.Add(-1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.GetErr != nil {
		return crawler.IndexedJob{}, false, s.GetErr
	}
	rec, ok := s.records[reference]
	if !ok {
		return crawler.IndexedJob{}, false, nil
	}
	return crawler.IndexedJob{Reference: rec.Reference, CatalogKey: catalogKey, Title: rec.Summary.Title}, true, nil
}

// Add implements crawler.IndexStore.
func (s *IndexStore) Add(ctx context.Context, _ string, record crawler.JobRecord) error {
	s.enter(ctx)
	defer s.inFlight.Add(-1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddErr != nil {
		return s.AddErr
	}
	if err, ok := s.failures[record.Reference]; ok {
		delete(s.failures, record.Reference)
		return err
	}
	s.adds[record.Reference]++
	s.records[record.Reference] = record
	return nil
}

// AddCalls returns the total number of successful Add calls.
func (s *IndexStore) AddCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.adds {
		total += n
	}
	return total
}

// AddsFor returns how many times reference was added.
func (s *IndexStore) AddsFor(reference string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adds[reference]
}

// GetCalls returns the number of Get calls.
func (s *IndexStore) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// Stored returns the record stored for reference.
func (s *IndexStore) Stored(reference string) (crawler.JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[reference]
	return rec, ok
}

// MaxConcurrent returns the highest number of simultaneous calls observed.
func (s *IndexStore) MaxConcurrent() int64 {
	return s.maxSeen.Load()
}

func (s *IndexStore) enter(ctx context.Context) {
	n := s.inFlight.Add(1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	s.mu.Lock()
	latency := s.latency
	s.mu.Unlock()
	if latency > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(latency):
		}
	}
}
