package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
	"github.com/JakeFAU/realtime-job-indexer/internal/worker"
)

// artifacts writes debug captures and the run report under <runID>/ in the blob store.
// A nil store disables every write.
type artifacts struct {
	store  crawler.BlobStore
	runID  string
	logger *zap.Logger
}

func (a artifacts) enabled() bool { return a.store != nil }

// capture snapshots w's page and stores it as <runID>/<kind>/<name>.{html,png}.
func (a artifacts) capture(ctx context.Context, w *worker.Worker, kind, name string) {
	if !a.enabled() {
		return
	}
	// The run may already be canceled; the capture is still worth keeping.
	ctx = context.WithoutCancel(ctx)
	snap, err := w.Capture(ctx)
	if err != nil {
		a.logger.Warn("page capture failed", zap.String("kind", kind), zap.Error(err))
		if snap.HTML == "" {
			return
		}
	}
	base := path.Join(a.runID, kind, safeName(name))
	a.put(ctx, base+".html", "text/html; charset=utf-8", []byte(snap.HTML))
	if len(snap.Screenshot) > 0 {
		a.put(ctx, base+".png", "image/png", snap.Screenshot)
	}
}

func (a artifacts) report(ctx context.Context, report Report) {
	if !a.enabled() {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		a.logger.Warn("encode run report", zap.Error(err))
		return
	}
	a.put(context.WithoutCancel(ctx), path.Join(a.runID, "report.json"), "application/json", data)
}

func (a artifacts) put(ctx context.Context, name, contentType string, data []byte) {
	uri, err := a.store.PutObject(ctx, name, contentType, bytes.NewReader(data))
	if err != nil {
		a.logger.Warn("artifact upload failed", zap.String("path", name), zap.Error(err))
		return
	}
	a.logger.Debug("artifact stored", zap.String("uri", uri))
}

func safeName(name string) string {
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
