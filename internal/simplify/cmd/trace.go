package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"simplify/internal/analysis"
	"simplify/internal/disasm"
	"simplify/internal/ui/colorize"
)

var traceCmd = &cobra.Command{
	Use:   "trace [files...]",
	Short: "Print an annotated listing of every analyzed method",
	Long: `Trace prints each method's instructions with the number of contexts the
execution recorded, unreached instructions marked dead, and the resolved value
of every call site.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, args)
		if err != nil {
			return err
		}
		defer s.Close()

		r, err := s.analyze(cmd.Context())
		if err != nil {
			return err
		}
		return writeTrace(cmd.OutOrStdout(), s.analyzer, r)
	},
}

func writeTrace(w io.Writer, a *analysis.Analyzer, r analysis.Report) error {
	for _, res := range r.Methods {
		lines, err := traceLines(a, res)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "; %s\n", res.Method)
		for _, line := range lines {
			fmt.Fprintln(w, colorize.InstructionLine(line))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// traceLines lists res.Method annotated with its execution graph and findings.
func traceLines(a *analysis.Analyzer, res analysis.MethodResult) ([]string, error) {
	ig, err := a.Machine().InstructionGraph(res.Method)
	if err != nil {
		return nil, err
	}
	stream := disasm.Listing(ig)
	if res.Graph != nil {
		stream = stream.Annotate(res.Graph)
	}
	for _, f := range res.Findings {
		text := string(f.Resolution)
		if f.Result != nil {
			text += " -> " + f.Result.Text
		}
		stream.Comment(f.Address, text)
	}
	return stream.Lines(), nil
}

func init() {
	rootCmd.AddCommand(traceCmd)
}
