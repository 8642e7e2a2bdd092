package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"simplify/internal/analysis"
)

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "game.smali"), []byte(gameSource), 0o644); err != nil {
		t.Fatal(err)
	}
	execute := func(t *testing.T, args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(args)
		defer rootCmd.SetOut(nil)
		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	t.Run("run", func(t *testing.T) {
		out := execute(t, "run", "-q", "--format", "json", dir)
		var r analysis.Report
		if err := json.Unmarshal([]byte(out), &r); err != nil {
			t.Fatalf("report is not JSON: %v\n%s", err, out)
		}
		if len(r.Methods) != 2 {
			t.Errorf("methods = %d, want 2", len(r.Methods))
		}
		if diff := cmp.Diff(wantComments, comments(r.Findings)); diff != "" {
			t.Errorf("comments mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("graph", func(t *testing.T) {
		out := execute(t, "graph", "-m", "LGame;", dir)
		if !strings.HasPrefix(strings.TrimSpace(out), "digraph") || !strings.Contains(out, "LGame;->onCreate()V") {
			t.Errorf("unexpected DOT output:\n%s", out)
		}
	})

	t.Run("schema", func(t *testing.T) {
		out := execute(t, "schema")
		for _, want := range []string{"maxCallDepth", "disableEmulation", "immutableClasses"} {
			if !strings.Contains(out, want) {
				t.Errorf("schema missing %q", want)
			}
		}
	})
}

func TestBrowser(t *testing.T) {
	s := newTestSession(t)
	m := newBrowser(context.Background(), s)
	if !m.loading || !strings.Contains(m.View(), "Q: quit") {
		t.Fatalf("browser did not start loading:\n%s", m.View())
	}

	r, err := s.analyze(context.Background())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	next, _ := m.Update(reportMsg{report: r})
	m = next.(model)
	if m.loading {
		t.Errorf("still loading after the report arrived")
	}
	if got := len(m.methodsList.Items()); got != len(r.Methods) {
		t.Errorf("list has %d items, want %d", got, len(r.Methods))
	}
	if !strings.Contains(m.View(), "M: methods") {
		t.Errorf("menu does not offer methods:\n%s", m.View())
	}

	m.cycle(1)
	if m.mode != viewMethods {
		t.Errorf("cycle from report = %v, want methods", m.mode)
	}
	m.showTrace(r.Methods[0])
	if m.mode != viewTrace || m.traceView.TotalLineCount() == 0 {
		t.Errorf("trace view not shown")
	}
	m.cycle(1)
	if m.mode != viewReport {
		t.Errorf("cycle from trace = %v, want report", m.mode)
	}
}
