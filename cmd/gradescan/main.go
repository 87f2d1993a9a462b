// Package main provides the CLI entrypoint for gradescan.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gradescan/internal/api"
	"gradescan/internal/capture"
	"gradescan/internal/config"
	"gradescan/internal/exam"
	"gradescan/internal/history"
	"gradescan/internal/logger"
	"gradescan/internal/reference"
	"gradescan/internal/session"
	"gradescan/internal/tui"
)

const (
	defaultBaseURL   = "http://localhost:8000"
	defaultTimeoutMS = 15000
	defaultLogLevel  = "info"
	defaultHistoryN  = 20
)

var (
	serverBaseURL   string
	serverTimeoutMS int
	captureDirFlag  string
	captureCmdFlag  string
	captureKeep     bool
	logPathFlag     string
	logLevelFlag    string

	answersExamCode string
	answersPart1    string
	answersPart2    string
	answersPart3    string

	historyExamCode string
	historyLast     int
	historySince    string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gradescan",
		Short:         "TUI exam sheet grading client",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runGradeCmd,
	}
	addServerFlags(rootCmd)
	addCaptureFlags(rootCmd)

	rootCmd.AddCommand(newAnswersCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newCheckCmd())

	return rootCmd
}

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serverBaseURL, "server", defaultBaseURL, "grading service base URL")
	cmd.Flags().IntVar(&serverTimeoutMS, "timeout-ms", defaultTimeoutMS, "per-request timeout in milliseconds")
	cmd.Flags().StringVar(&logPathFlag, "log-path", config.DefaultLogPath(), "log file path")
	cmd.Flags().StringVar(&logLevelFlag, "log-level", defaultLogLevel, "log level (trace..error)")
}

func addCaptureFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&captureDirFlag, "capture-dir", config.DefaultCaptureDir(), "directory for staged captures")
	cmd.Flags().StringVar(&captureCmdFlag, "capture-cmd", "", "camera command template, {output} receives the destination path")
	cmd.Flags().BoolVar(&captureKeep, "keep-captures", false, "keep staged captures after the run")
}

type settings struct {
	baseURL    string
	timeout    time.Duration
	captureDir string
	captureCmd []string
	keep       bool
	logPath    string
	logLevel   string
}

// resolveSettings merges defaults, the TOML file, GRADESCAN_* environment
// variables, and explicitly set flags, in ascending precedence.
func resolveSettings(cmd *cobra.Command) (settings, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return settings{}, fmt.Errorf("failed to load config: %w", err)
	}
	config.ApplyEnv(&fileCfg)

	applyStringConfig(cmd, "server", &serverBaseURL, fileCfg.Server.BaseURL)
	applyIntConfig(cmd, "timeout-ms", &serverTimeoutMS, fileCfg.Server.TimeoutMS)
	applyStringConfig(cmd, "capture-dir", &captureDirFlag, fileCfg.Capture.Dir)
	applyBoolConfig(cmd, "keep-captures", &captureKeep, fileCfg.Capture.Keep)
	applyStringConfig(cmd, "log-path", &logPathFlag, fileCfg.Log.Path)
	applyStringConfig(cmd, "log-level", &logLevelFlag, fileCfg.Log.Level)

	s := settings{
		baseURL:    serverBaseURL,
		timeout:    time.Duration(serverTimeoutMS) * time.Millisecond,
		captureDir: captureDirFlag,
		captureCmd: strings.Fields(captureCmdFlag),
		keep:       captureKeep,
		logPath:    logPathFlag,
		logLevel:   logLevelFlag,
	}
	if len(s.captureCmd) == 0 && fileCfg.Capture.Command != nil {
		s.captureCmd = *fileCfg.Capture.Command
	}
	if s.baseURL == "" {
		return settings{}, fmt.Errorf("--server must not be empty")
	}
	if s.timeout <= 0 {
		return settings{}, fmt.Errorf("--timeout-ms must be > 0")
	}
	return s, nil
}

func runGradeCmd(cmd *cobra.Command, _ []string) error {
	s, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	log, closeLog, err := logger.Setup(s.logPath, s.logLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	if len(s.captureCmd) == 0 {
		return fmt.Errorf("no capture command configured; set --capture-cmd, capture.command in %s, or GRADESCAN_CAPTURE_COMMAND", config.DefaultConfigPath())
	}
	provider, err := capture.NewCommandProvider(s.captureCmd, filepath.Join(s.captureDir, "raw"))
	if err != nil {
		return err
	}
	run, err := capture.NewRun(s.captureDir, provider, s.keep)
	if err != nil {
		return err
	}
	defer run.Cleanup()

	st, err := history.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close db")
		}
	}()

	client := api.New(s.baseURL, s.timeout, log)
	var seq *session.Sequencer
	seq = session.New(client, log, func(result exam.Result) {
		snap := seq.Snapshot()
		rec := history.RecordFromResult(snap.SessionID, result, time.Now())
		if _, err := st.Insert(context.Background(), rec); err != nil {
			log.Warn().Err(err).Msg("failed to record graded exam")
		}
	})

	model := tui.NewModel(seq, run, log)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func newAnswersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "answers",
		Short: "Register reference answer sheets for an exam code",
		Args:  cobra.NoArgs,
		RunE:  runAnswersCmd,
	}
	addServerFlags(cmd)
	addCaptureFlags(cmd)
	cmd.Flags().StringVar(&answersExamCode, "exam-code", "", "exam code (skips the prompt)")
	cmd.Flags().StringVar(&answersPart1, "p1", "", "part 1 image file (skips capture)")
	cmd.Flags().StringVar(&answersPart2, "p2", "", "part 2 image file (skips capture)")
	cmd.Flags().StringVar(&answersPart3, "p3", "", "part 3 image file (skips capture)")
	return cmd
}

func runAnswersCmd(cmd *cobra.Command, _ []string) error {
	s, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	log, closeLog, err := logger.Setup(s.logPath, s.logLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	client := api.New(s.baseURL, s.timeout, log)
	reg := reference.New(client, log)

	partFiles := map[exam.Stage]string{
		exam.StagePart1: answersPart1,
		exam.StagePart2: answersPart2,
		exam.StagePart3: answersPart3,
	}
	allFiles := answersPart1 != "" && answersPart2 != "" && answersPart3 != ""
	if allFiles && answersExamCode != "" {
		return registerFromFiles(cmd, s, reg, partFiles)
	}

	var provider capture.Provider
	if allFiles {
		provider = capture.NewFileProvider(partFiles)
	} else {
		if len(s.captureCmd) == 0 {
			return fmt.Errorf("no capture command configured and no --p1/--p2/--p3 files given")
		}
		provider, err = capture.NewCommandProvider(s.captureCmd, filepath.Join(s.captureDir, "raw"))
		if err != nil {
			return err
		}
	}
	run, err := capture.NewRun(s.captureDir, provider, s.keep)
	if err != nil {
		return err
	}
	defer run.Cleanup()

	model := tui.NewAnswersModel(reg, run, log)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

// registerFromFiles registers a reference set without the TUI when both the
// exam code and all three part images are supplied as flags.
func registerFromFiles(cmd *cobra.Command, s settings, reg *reference.Registrar, partFiles map[exam.Stage]string) error {
	provider := capture.NewFileProvider(partFiles)
	run, err := capture.NewRun(s.captureDir, provider, s.keep)
	if err != nil {
		return err
	}
	defer run.Cleanup()

	if err := reg.SetExamCode(answersExamCode); err != nil {
		return err
	}
	ctx := context.Background()
	for _, stage := range reference.PartStages {
		path, err := run.Capture(ctx, stage)
		if err != nil {
			return err
		}
		if err := reg.AddCapture(stage, path); err != nil {
			return err
		}
	}
	if err := reg.Submit(ctx); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "registered reference answers for %s\n", answersExamCode); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show graded exams",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	cmd.Flags().StringVar(&historyExamCode, "exam", "", "exam code filter")
	cmd.Flags().IntVar(&historyLast, "last", defaultHistoryN, "limit to last N graded exams")
	cmd.Flags().StringVar(&historySince, "since", "", "start date (YYYY-MM-DD)")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	var sinceTime *time.Time
	if historySince != "" {
		parsed, err := time.ParseInLocation("2006-01-02", historySince, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		sinceTime = &parsed
	}

	st, err := history.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	records, err := st.List(context.Background(), history.Filter{
		ExamCode: historyExamCode,
		Since:    sinceTime,
		Limit:    historyLast,
	})
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if len(records) == 0 {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), "no graded exams yet"); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}

	if _, err := fmt.Fprintln(cmd.OutOrStdout(), renderHistoryTable(records)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func renderHistoryTable(records []history.Record) string {
	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	examWidth := 10
	studentWidth := width - 19 - examWidth - 4*7 - 12
	if studentWidth < 10 {
		studentWidth = 10
	}
	columns := []table.Column{
		{Title: "Graded at", Width: 19},
		{Title: "Exam", Width: examWidth},
		{Title: "Student", Width: studentWidth},
		{Title: "P1", Width: 7},
		{Title: "P2", Width: 7},
		{Title: "P3", Width: 7},
		{Title: "Total", Width: 7},
	}
	rows := make([]table.Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, table.Row{
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			rec.ExamCode,
			rec.StudentID,
			fmt.Sprintf("%.2f", rec.ScoreP1),
			fmt.Sprintf("%.2f", rec.ScoreP2),
			fmt.Sprintf("%.2f", rec.ScoreP3),
			fmt.Sprintf("%.2f", rec.TotalScore),
		})
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(len(rows)),
	)
	return tbl.View()
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the grading service and its recognition backend",
		Args:  cobra.NoArgs,
		RunE:  runCheckCmd,
	}
	addServerFlags(cmd)
	return cmd
}

func runCheckCmd(cmd *cobra.Command, _ []string) error {
	s, err := resolveSettings(cmd)
	if err != nil {
		return err
	}
	log, closeLog, err := logger.Setup(s.logPath, s.logLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	client := api.New(s.baseURL, s.timeout, log)
	msg, err := client.CheckConnection(context.Background())
	if err != nil {
		return fmt.Errorf("connection check failed: %w", err)
	}
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", s.baseURL, msg); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# gradescan configuration
# Uncomment a value to enable it. CLI flags override config values.

[server]
# base-url = %q     # Grading service base URL
# timeout-ms = %d                   # Per-request timeout in milliseconds

[capture]
# dir = ""                             # Directory for staged captures
# command = ["camera-cli", "--out", "{output}"]  # Camera command, {output} receives the destination path
# keep = false                         # Keep staged captures after the run

[log]
# path = ""                            # Log file path
# level = %q                       # Log level (trace..error)
`,
		defaultBaseURL,
		defaultTimeoutMS,
		defaultLogLevel,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
