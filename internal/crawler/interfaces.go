package crawler

import (
	"context"
	"io"
	"time"
)

// Driver starts the browser engine subsystem.
type Driver interface {
	Start(ctx context.Context) (Runtime, error)
}

// Runtime is a started engine subsystem able to launch browsers.
type Runtime interface {
	Launch(ctx context.Context, opts LaunchOptions) (BrowserEngine, error)
	Stop(ctx context.Context) error
}

// BrowserEngine is a launched browser. It is shared by all workers, which only use it
// to create their own contexts.
type BrowserEngine interface {
	NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error)
	Close(ctx context.Context) error
}

// BrowserContext is an isolated session (cookies, storage) owned by exactly one worker.
type BrowserContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
}

// Page navigates and exposes the rendered document.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Extractor turns rendered feed and detail pages into records.
type Extractor interface {
	FeedURL(query SearchQuery) string
	ScanFeedPage(content string) ([]JobRecord, error)
	NextPage(content string) (string, bool)
	ExtractDetails(content string) (Details, error)
}

// IndexStore is the external service holding canonical job records.
// Get reports a missing reference as (IndexedJob{}, false, nil).
type IndexStore interface {
	Get(ctx context.Context, catalogKey, reference string) (IndexedJob, bool, error)
	Add(ctx context.Context, catalogKey string, record JobRecord) error
}

// AtomicAdder is implemented by stores that can insert-if-absent in one call.
type AtomicAdder interface {
	AddIfAbsent(ctx context.Context, catalogKey string, record JobRecord) (bool, error)
}

// BlobStore writes debug artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes indexing notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Limiter paces navigation against the board.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for artifact naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
