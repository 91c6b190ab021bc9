package static

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScriptShell(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want bool
	}{
		{"empty", "  \n", true},
		{"next mount", `<html><body><div id="__next"></div></body></html>`, true},
		{"empty react root", `<body><div id="root"></div><script src="/app.js"></script></body>`, true},
		{"script heavy", `<html><script>var a=1;var b=2;</script><p>t</p></html>`, true},
		{"unterminated script", `<p>hello</p><script>var a=`, true},
		{"listing", `<html><body><div id="jobDescriptionText"><p>Write Go services for a living.</p></div></body></html>`, false},
		{"long page with scripts", "<html><body>" + strings.Repeat("<p>text</p>", 400) + "<script>x()</script></body></html>", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, scriptShell([]byte(tt.body)))
		})
	}
}
