package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Run a single non-interactive analysis",
	Long: `Run the analysis in non-interactive mode, print the report and exit.
Directories are searched for .smali files.`,
	Example: `
# Report on a decompiled app
simplify run app/smali

# Quiet mode with a YAML report
simplify run -q --format yaml app/smali
  `,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		quiet, _ := cmd.Flags().GetBool("quiet")

		s, err := openSession(cmd, args)
		if err != nil {
			return err
		}
		defer s.Close()

		if !quiet {
			slog.Info("Running analysis", "files", len(s.files), "methods", len(s.analyzer.Machine().Methods()))
		}
		return s.report(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	runCmd.Flags().BoolP("quiet", "q", false, "Do not log progress")
}
