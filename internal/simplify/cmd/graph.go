package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph [files...] --method desc",
	Short: "Print a method's execution graph in Graphviz format",
	Example: `
simplify graph app/smali -m 'LGame;->onCreate(Landroid/os/Bundle;)V' | dot -Tsvg > game.svg
  `,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, args)
		if err != nil {
			return err
		}
		defer s.Close()

		desc, err := s.singleMethod()
		if err != nil {
			return err
		}
		res, err := s.analyzer.Analyze(cmd.Context(), desc)
		if err != nil {
			return err
		}
		if res.Graph == nil {
			return fmt.Errorf("%s: no graph: %s", desc, res.Error)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Graph.DOT())
		return nil
	},
}

// singleMethod returns the loaded method the method filter selects. An exact
// descriptor wins over substring matches.
func (s *session) singleMethod() (string, error) {
	if len(s.cfg.Method) == 0 {
		return "", fmt.Errorf("--method is required")
	}
	var matched []string
	for _, desc := range s.analyzer.Machine().Methods() {
		for _, want := range s.cfg.Method {
			if desc == want {
				return desc, nil
			}
		}
		if s.cfg.MatchMethod(desc) {
			matched = append(matched, desc)
		}
	}
	switch len(matched) {
	case 0:
		return "", fmt.Errorf("no method matches %v", s.cfg.Method)
	case 1:
		return matched[0], nil
	default:
		return "", fmt.Errorf("%d methods match %v, first %s", len(matched), s.cfg.Method, matched[0])
	}
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
