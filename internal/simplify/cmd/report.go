package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"

	"simplify/internal/analysis"
	"simplify/internal/simplify/styles"
)

// Report formats accepted by --format.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatCBOR     = "cbor"
)

// reportOptions controls how a report is written.
type reportOptions struct {
	Format string
	Color  bool // badges and glamour rendering
	Width  int
}

// writeReport writes r to w in the requested format.
func writeReport(w io.Writer, r analysis.Report, opts reportOptions) error {
	switch opts.Format {
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return enc.Close()
	case FormatCBOR:
		data, err := cbor.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal CBOR: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatMarkdown:
		md := markdownReport(r)
		if opts.Color {
			md = styles.RenderMarkdown(md, opts.Width)
		}
		_, err := io.WriteString(w, md)
		return err
	case FormatText, "":
		_, err := io.WriteString(w, textReport(r, opts.Color))
		return err
	default:
		return fmt.Errorf("unknown format %q", opts.Format)
	}
}

// textReport is the plain summary printed when no TUI runs.
func textReport(r analysis.Report, color bool) string {
	var b strings.Builder
	b.WriteString("# Simplify\n\n")
	for _, f := range r.Files {
		fmt.Fprintf(&b, "; %s\n", f)
	}
	fmt.Fprintf(&b, "; %d methods, %d entry points, %d setters\n\n", len(r.Methods), len(r.EntryPoints), len(r.Setters))

	for _, m := range r.Methods {
		fmt.Fprintf(&b, "%s\n", m.Method)
		fmt.Fprintf(&b, "  nodes=%d degraded=%d", m.Nodes, m.Degraded)
		if m.Error != "" {
			fmt.Fprintf(&b, " error=%q", m.Error)
		}
		b.WriteString("\n")
		if m.Return != nil {
			fmt.Fprintf(&b, "  return %s\n", m.Return.Text)
		}
		for _, f := range m.Findings {
			b.WriteString(findingLine(f, color))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	var annotated []analysis.CallFinding
	for _, f := range r.Findings {
		if f.Comment != "" {
			annotated = append(annotated, f)
		}
	}
	if len(annotated) > 0 {
		b.WriteString("## Detections\n\n")
		for _, f := range annotated {
			fmt.Fprintf(&b, "%s @%04x  %s\n  ; %s\n", f.Method, f.Address, f.Symbol, f.Comment)
		}
	}
	return b.String()
}

func findingLine(f analysis.CallFinding, color bool) string {
	badge := "[" + string(f.Resolution) + "]"
	if color {
		badge = styles.Badge(string(f.Resolution))
	}
	line := fmt.Sprintf("  %04x  %s(%s) %s", f.Address, f.Symbol, argList(f.Args), badge)
	if f.Result != nil {
		line += " -> " + f.Result.Text
	}
	return line
}

func argList(args []analysis.ParamValue) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Text
	}
	return strings.Join(parts, ", ")
}

// markdownReport renders r as markdown for glamour and the browser.
func markdownReport(r analysis.Report) string {
	var b strings.Builder
	b.WriteString("# Simplify\n\n```\n")
	for _, f := range r.Files {
		fmt.Fprintf(&b, "; %s\n", f)
	}
	fmt.Fprintf(&b, "; %d methods\n```\n\n", len(r.Methods))

	if len(r.EntryPoints) > 0 {
		b.WriteString("## Entry points\n\n")
		for _, e := range r.EntryPoints {
			fmt.Fprintf(&b, "- `%s`\n", e)
		}
		b.WriteString("\n")
	}

	var annotated []analysis.CallFinding
	for _, f := range r.Findings {
		if f.Comment != "" {
			annotated = append(annotated, f)
		}
	}
	if len(annotated) > 0 {
		b.WriteString("## Detections\n\n")
		for _, f := range annotated {
			fmt.Fprintf(&b, "- `%s` calls `%s`: %s\n", f.Method, f.Symbol, escapeBackticks(f.Comment))
		}
		b.WriteString("\n")
	}

	for _, m := range r.Methods {
		b.WriteString(methodMarkdown(m))
	}
	return b.String()
}

// methodMarkdown is the section for one method, also shown on its own by the
// browser.
func methodMarkdown(m analysis.MethodResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", m.Method)
	fmt.Fprintf(&b, "nodes: %d, degraded: %d", m.Nodes, m.Degraded)
	if m.Exhausted {
		b.WriteString(", **exhausted**")
	}
	b.WriteString("\n\n")
	if m.Error != "" {
		fmt.Fprintf(&b, "> %s\n\n", m.Error)
	}
	if m.Return != nil {
		fmt.Fprintf(&b, "returns `%s`\n\n", escapeBackticks(m.Return.Text))
	}
	if len(m.Findings) > 0 {
		b.WriteString("| addr | call | args | result | resolution |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, f := range m.Findings {
			result := ""
			if f.Result != nil {
				result = "`" + escapeBackticks(f.Result.Text) + "`"
			}
			fmt.Fprintf(&b, "| %04x | `%s` | %s | %s | %s |\n",
				f.Address, f.Symbol, escapeCell(argList(f.Args)), escapeCell(result), f.Resolution)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func escapeBackticks(s string) string {
	return strings.ReplaceAll(s, "`", "'")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
