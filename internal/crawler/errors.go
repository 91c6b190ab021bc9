package crawler

import "errors"

var (
	// ErrAlreadyEnriched is returned when details are attached to a record twice.
	ErrAlreadyEnriched = errors.New("record already enriched")
	// ErrWorkerStopped is returned when a capability is used after Stop.
	ErrWorkerStopped = errors.New("worker stopped")
	// ErrFeedConsumed is returned when a feed scan is requested twice from one worker.
	ErrFeedConsumed = errors.New("feed scan already consumed by this worker")
	// ErrExtraction marks a page whose content could not be parsed into a record.
	ErrExtraction = errors.New("extraction failed")
	// ErrScreenshotUnsupported is returned by engines that cannot render images.
	ErrScreenshotUnsupported = errors.New("screenshot not supported by engine")
	// ErrEngineClosed is returned when a closed engine is asked for a new context.
	ErrEngineClosed = errors.New("browser engine closed")
)
