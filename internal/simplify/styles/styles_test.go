package styles

import (
	"strings"
	"testing"
)

func TestBadge(t *testing.T) {
	for _, r := range []string{"analyzed", "emulated", "reflected", "unresolved", "other"} {
		if got := Badge(r); !strings.Contains(got, r) {
			t.Errorf("Badge(%q) = %q, label missing", r, got)
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	out := RenderMarkdown("# Simplify\n\nreturns `\"secret\"`\n", 40)
	for _, want := range []string{"Simplify", "secret"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered markdown missing %q:\n%s", want, out)
		}
	}
	if GetMarkdownRenderer(0) == nil {
		t.Errorf("no renderer for zero width")
	}
}

func TestMenuBar(t *testing.T) {
	if got := MenuBar(" Q: quit ", 30); !strings.Contains(got, "Q: quit") {
		t.Errorf("MenuBar lost its text: %q", got)
	}
}
