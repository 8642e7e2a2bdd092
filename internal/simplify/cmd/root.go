package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"simplify/internal/analysis"
	"simplify/internal/detectors"
	"simplify/internal/logging"
	"simplify/internal/simplify/config"
	"simplify/internal/simplify/log"
	"simplify/internal/smali"
	"simplify/internal/ui/colorize"
)

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().StringP("config", "C", "", "Config file (.yaml or .toml)")
	rootCmd.PersistentFlags().StringSliceP("method", "m", nil, "Only analyze methods whose descriptor contains this")
	rootCmd.PersistentFlags().Int("max-call-depth", 0, "Maximum nested call depth")
	rootCmd.PersistentFlags().Int("max-node-visits", 0, "Maximum graph nodes per method")
	rootCmd.PersistentFlags().Int("max-address-visits", 0, "Maximum visits of one address")
	rootCmd.PersistentFlags().Bool("no-emulation", false, "Never emulate calls")
	rootCmd.PersistentFlags().Bool("no-reflection", false, "Never reflect calls")
	rootCmd.PersistentFlags().Bool("no-propagation", false, "Do not propagate callee argument mutations")
	rootCmd.PersistentFlags().String("format", "", "Report format: text, markdown, json, yaml or cbor")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output the report as JSON")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().BoolP("no-tui", "n", false, "Print the report without the TUI")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.Flags().String("memprofile", "", "Write memory profile to file")

	rootCmd.AddCommand(runCmd)
}

var rootCmd = &cobra.Command{
	Use:   "simplify [files...]",
	Short: "Dalvik bytecode simplifier",
	Long: `Simplify executes smali methods symbolically and reports what it could
establish: return values, register states and the resolved value of every call
site. It recovers constants hidden behind string decryptors and XXTEA key setters.`,
	Example: `
# Browse the analysis interactively
simplify app/smali

# Print a report for one class
simplify -n -m LGame\; app/smali

# Export findings as YAML
simplify --format yaml app/smali > report.yaml
  `,
	Args: cobra.MinimumNArgs(1),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.Setup("", debug || logging.IsDebug())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %v", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %v", err)
			}
			defer pprof.StopCPUProfile()
		}

		memprofile, _ := cmd.Flags().GetString("memprofile")
		if memprofile != "" {
			defer func() {
				f, err := os.Create(memprofile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
					return
				}
				defer f.Close()
				if err := pprof.WriteHeapProfile(f); err != nil {
					fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
				}
			}()
		}

		s, err := openSession(cmd, args)
		if err != nil {
			return err
		}
		defer s.Close()

		noTUI, _ := cmd.Flags().GetBool("no-tui")
		if !term.IsTerminal(os.Stdout.Fd()) || cmd.Flags().Changed("format") || cmd.Flags().Changed("json") {
			noTUI = true
		}
		if noTUI {
			return s.report(cmd.Context(), cmd.OutOrStdout())
		}

		// Log lines on stderr would tear the alternate screen.
		if os.Getenv("SIMPLIFY_LOG_TO_FILE") != "1" {
			s.logger.SetLevel(logging.ParseLevel("error"))
		}
		program := tea.NewProgram(
			newBrowser(cmd.Context(), s),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

// session is one loaded set of smali files ready for analysis.
type session struct {
	cfg      config.Config
	files    []string
	analyzer *analysis.Analyzer
	logger   *logging.LoggerCloser
}

// openSession resolves the configuration, parses the inputs and builds the
// analyzer.
func openSession(cmd *cobra.Command, args []string) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if !cmd.Flags().Changed("cwd") && cfg.Cwd != "" {
		if err := os.Chdir(cfg.Cwd); err != nil {
			return nil, fmt.Errorf("failed to change directory: %v", err)
		}
	} else if _, err := ResolveCwd(cmd); err != nil {
		return nil, err
	}

	files, err := expandInputs(args)
	if err != nil {
		return nil, err
	}
	methods, err := smali.ParseFiles(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}
	slog.Debug("Parsed inputs", "files", len(files), "methods", len(methods))

	lg := logging.NewLogger()
	if cfg.Debug {
		lg.SetLevel(logging.ParseLevel("debug"))
	}
	a, err := analysis.New(methods, cfg.VMOptions(), logging.NewEventSink(lg.Logger, lg.Events),
		detectors.NewXXTEADetector(),
		detectors.NewStringDecryptorDetector(),
	)
	if err != nil {
		lg.Close()
		return nil, err
	}
	return &session{cfg: cfg, files: files, analyzer: a, logger: lg}, nil
}

func (s *session) Close() {
	if s.logger != nil {
		s.logger.Close()
	}
}

// analyze runs every method that passes the method filter.
func (s *session) analyze(ctx context.Context) (analysis.Report, error) {
	r, err := s.analyzer.AnalyzeAll(ctx, s.cfg.MatchMethod)
	r.Files = s.files
	return r, err
}

// report analyzes and writes the report to w. Color and width follow w when
// it is a terminal.
func (s *session) report(ctx context.Context, w io.Writer) error {
	r, err := s.analyze(ctx)
	if err != nil {
		return err
	}
	tty, width := false, 80
	if f, ok := w.(*os.File); ok && term.IsTerminal(f.Fd()) {
		tty = true
		if cols, _, err := term.GetSize(f.Fd()); err == nil && cols > 0 {
			width = cols
		}
	}
	return writeReport(w, r, reportOptions{
		Format: s.cfg.Format,
		Color:  tty && !colorize.Disabled(),
		Width:  width,
	})
}

// loadConfig reads --config over the defaults and applies the flags that were
// set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("cwd") {
		cfg.Cwd, _ = flags.GetString("cwd")
	}
	if flags.Changed("method") {
		cfg.Method, _ = flags.GetStringSlice("method")
	}
	if flags.Changed("max-call-depth") {
		cfg.Limits.MaxCallDepth, _ = flags.GetInt("max-call-depth")
	}
	if flags.Changed("max-node-visits") {
		cfg.Limits.MaxNodeVisits, _ = flags.GetInt("max-node-visits")
	}
	if flags.Changed("max-address-visits") {
		cfg.Limits.MaxAddressVisits, _ = flags.GetInt("max-address-visits")
	}
	if flags.Changed("no-emulation") {
		cfg.DisableEmulation, _ = flags.GetBool("no-emulation")
	}
	if flags.Changed("no-reflection") {
		cfg.DisableReflection, _ = flags.GetBool("no-reflection")
	}
	if flags.Changed("no-propagation") {
		cfg.DisableArgumentPropagation, _ = flags.GetBool("no-propagation")
	}
	if flags.Changed("format") {
		cfg.Format, _ = flags.GetString("format")
	}
	if asJSON, _ := flags.GetBool("json"); asJSON {
		cfg.Format = FormatJSON
	}
	return cfg, cfg.Validate()
}

// expandInputs replaces directories with the .smali files below them. The
// result is sorted within each directory and keeps the argument order.
func expandInputs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		abs, err := pathpkg.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path: %v", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("file not found: %s", arg)
			}
			return nil, fmt.Errorf("cannot access file: %v", err)
		}
		if !info.IsDir() {
			files = append(files, abs)
			continue
		}

		var found []string
		err = pathpkg.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(pathpkg.Ext(path), ".smali") {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", arg, err)
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no .smali files in %s", arg)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// Execute runs the root command. Fang is bypassed for plain output so reports
// stay unstyled when piped.
func Execute() {
	plain := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "--json" || arg == "-j" || strings.HasPrefix(arg, "--format") {
			plain = true
			break
		}
	}
	if !plain && !term.IsTerminal(os.Stdout.Fd()) {
		plain = true
	}

	if plain {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		err := os.Chdir(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to change directory: %v", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %v", err)
	}
	return cwd, nil
}
