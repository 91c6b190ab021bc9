package static

import (
	"bytes"
	"errors"
)

// ErrScriptShell is returned by Navigate when RejectScriptShells is set and the
// response looks like a page that only renders in a JavaScript engine.
var ErrScriptShell = errors.New("response is a script shell; use the chrome engine")

const shellBodyThreshold = 2048

var shellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("data-reactroot"),
	[]byte("<noscript>You need to enable JavaScript"),
}

// scriptShell reports whether body is empty, carries a client-rendering mount
// point with nothing in it, or is a short document made mostly of scripts.
func scriptShell(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return len(body) < shellBodyThreshold && scriptCoverage(bytes.ToLower(body)) >= 25
}

// scriptCoverage is the percentage of lower that sits inside <script> elements.
// An unterminated tag covers the rest of the document.
func scriptCoverage(lower []byte) int {
	total := len(lower)
	if total == 0 {
		return 0
	}
	open, closing := []byte("<script"), []byte("</script>")
	covered, pos := 0, 0
	for {
		rel := bytes.Index(lower[pos:], open)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := total
		if gt := bytes.IndexByte(lower[start:], '>'); gt != -1 {
			contentStart := start + gt + 1
			if rc := bytes.Index(lower[contentStart:], closing); rc != -1 {
				end = contentStart + rc + len(closing)
			}
		}
		covered += end - start
		pos = end
		if pos >= total {
			break
		}
	}
	return covered * 100 / total
}
