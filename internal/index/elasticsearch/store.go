// Package elasticsearch implements the index store on Elasticsearch. Each
// catalog key maps to one index; the job reference is the document ID.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
	"github.com/JakeFAU/realtime-job-indexer/internal/index"
)

// Config controls the client and index naming.
type Config struct {
	Addresses   []string
	Username    string
	Password    string
	APIKey      string
	IndexPrefix string

	// Refresh is passed through on writes ("", "true", "false" or "wait_for").
	Refresh string

	// Transport overrides the HTTP transport; tests point it at httptest servers.
	Transport http.RoundTripper
}

// Store reads and writes job documents.
type Store struct {
	client  *es.Client
	prefix  string
	refresh string
	now     func() time.Time
}

// New builds a client from cfg and checks the cluster answers.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("index.elasticsearch.addresses is required")
	}
	client, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	res, err := client.Ping(client.Ping.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("ping elasticsearch: %s", res.Status())
	}
	return NewWithClient(client, cfg.IndexPrefix, cfg.Refresh), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *es.Client, prefix, refresh string) *Store {
	return &Store{
		client:  client,
		prefix:  prefix,
		refresh: refresh,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IndexName maps a catalog key to its index.
func (s *Store) IndexName(catalogKey string) string {
	return strings.ToLower(s.prefix + catalogKey)
}

// Get implements crawler.IndexStore.
func (s *Store) Get(ctx context.Context, catalogKey, reference string) (crawler.IndexedJob, bool, error) {
	res, err := s.client.Get(
		s.IndexName(catalogKey),
		reference,
		s.client.Get.WithContext(ctx),
	)
	if err != nil {
		return crawler.IndexedJob{}, false, fmt.Errorf("get document: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		// Covers both a missing document and a missing index.
		return crawler.IndexedJob{}, false, nil
	}
	if res.IsError() {
		return crawler.IndexedJob{}, false, fmt.Errorf("get document: %s", res.String())
	}

	var body struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return crawler.IndexedJob{}, false, fmt.Errorf("decode document: %w", err)
	}
	if !body.Found {
		return crawler.IndexedJob{}, false, nil
	}
	var doc index.Document
	if err := json.Unmarshal(body.Source, &doc); err != nil {
		return crawler.IndexedJob{}, false, fmt.Errorf("decode document source: %w", err)
	}
	var raw map[string]any
	_ = json.Unmarshal(body.Source, &raw)
	return doc.Indexed(raw), true, nil
}

// Add implements crawler.IndexStore. It overwrites any existing document.
func (s *Store) Add(ctx context.Context, catalogKey string, record crawler.JobRecord) error {
	body, err := s.encode(catalogKey, record)
	if err != nil {
		return err
	}
	opts := []func(*esapi.IndexRequest){
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(record.Reference),
	}
	if s.refresh != "" {
		opts = append(opts, s.client.Index.WithRefresh(s.refresh))
	}
	res, err := s.client.Index(s.IndexName(catalogKey), bytes.NewReader(body), opts...)
	if err != nil {
		return fmt.Errorf("index document: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index document: %s", res.String())
	}
	return nil
}

// AddIfAbsent implements crawler.AtomicAdder with the _create endpoint, which
// rejects an existing ID with 409.
func (s *Store) AddIfAbsent(ctx context.Context, catalogKey string, record crawler.JobRecord) (bool, error) {
	body, err := s.encode(catalogKey, record)
	if err != nil {
		return false, err
	}
	opts := []func(*esapi.CreateRequest){s.client.Create.WithContext(ctx)}
	if s.refresh != "" {
		opts = append(opts, s.client.Create.WithRefresh(s.refresh))
	}
	res, err := s.client.Create(s.IndexName(catalogKey), record.Reference, bytes.NewReader(body), opts...)
	if err != nil {
		return false, fmt.Errorf("create document: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusConflict {
		_, _ = io.Copy(io.Discard, res.Body)
		return false, nil
	}
	if res.IsError() {
		return false, fmt.Errorf("create document: %s", res.String())
	}
	return true, nil
}

func (s *Store) encode(catalogKey string, record crawler.JobRecord) ([]byte, error) {
	if record.Reference == "" {
		return nil, errors.New("reference is required")
	}
	body, err := json.Marshal(index.NewDocument(catalogKey, record, s.now()))
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return body, nil
}
