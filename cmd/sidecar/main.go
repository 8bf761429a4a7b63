package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kokistudios/sidecar/internal/debug"
	"github.com/kokistudios/sidecar/internal/learning"
	sidecarmcp "github.com/kokistudios/sidecar/internal/mcp"
	"github.com/kokistudios/sidecar/internal/record"
	"github.com/kokistudios/sidecar/internal/retrieval"
	"github.com/kokistudios/sidecar/internal/store"
	"github.com/kokistudios/sidecar/internal/ui"
	"github.com/kokistudios/sidecar/internal/web"
)

// Set via ldflags at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func buildVersion() string {
	if commit == "none" {
		return version
	}
	return fmt.Sprintf("%s (%s, %s)", version, commit, date)
}

var useGlobal bool

func main() {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "sidecar",
		Short: "sidecar — local knowledge sidecar for coding agents",
		Long:  "A local knowledge store that captures debugging experiences for keyword recall and runs interactive learning sessions between an AI agent and its human.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ui.Init(noColor)
		},
	}

	rootCmd.Version = buildVersion()
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&useGlobal, "global", false, "Operate on the global scope instead of the project-local .sidecar directory")

	// Command groups
	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "debug", Title: "Debug Memory:"},
		&cobra.Group{ID: "learning", Title: "Learning Sessions:"},
		&cobra.Group{ID: "config", Title: "Configuration:"},
	)

	initC := initCmd()
	initC.GroupID = "core"
	serveC := serveCmd()
	serveC.GroupID = "core"
	doctorC := doctorCmd()
	doctorC.GroupID = "core"

	recordC := recordCmd()
	recordC.GroupID = "debug"
	searchC := searchCmd()
	searchC.GroupID = "debug"
	getC := getCmd()
	getC.GroupID = "debug"
	indexC := indexCmd()
	indexC.GroupID = "debug"

	sessionsC := sessionsCmd()
	sessionsC.GroupID = "learning"

	configC := configCmd()
	configC.GroupID = "config"

	rootCmd.AddCommand(initC)
	rootCmd.AddCommand(serveC)
	rootCmd.AddCommand(doctorC)
	rootCmd.AddCommand(recordC)
	rootCmd.AddCommand(searchC)
	rootCmd.AddCommand(getC)
	rootCmd.AddCommand(indexC)
	rootCmd.AddCommand(sessionsC)
	rootCmd.AddCommand(configC)
	rootCmd.AddCommand(completionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// scopeRoot resolves the storage root for the current invocation.
func scopeRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return store.Resolve(cwd, useGlobal)
}

func openScope() (*store.Store, error) {
	return store.Open(scopeRoot())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "init",
		Short:   "Initialize the sidecar storage scope",
		Long:    "Create the storage scope (./.sidecar, or the global scope with --global) with debug/, sessions/, and config.yaml.",
		Example: "  sidecar init\n  sidecar init --global\n  sidecar init --force",
		RunE: func(cmd *cobra.Command, args []string) error {
			root := scopeRoot()
			if err := store.Init(root, force); err != nil {
				return err
			}
			ui.Success("sidecar initialized")
			ui.Detail("Scope:", root)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Reinitialize even if the scope already exists")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server and the learning session UI",
		Long: `Start sidecar as a Model Context Protocol (MCP) server over stdio while
serving the learning session web API for browsers. Both surfaces share one
session coordinator per scope, so answers submitted in the browser wake the
agent's blocked learning_session call immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := openScope()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = scope.Config.Web.Addr
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			registry := learning.NewRegistry()
			registry.For(scope)

			webSrv := web.NewServer(addr, registry)
			go func() {
				if err := webSrv.Start(ctx); err != nil {
					ui.Logger.Error("web server stopped", "err", err)
				}
			}()

			// Nudge the human when the agent is blocked on them, whichever
			// scope the session was created under
			events, unsubscribe := registry.Subscribe()
			defer unsubscribe()
			go func() {
				for ev := range events {
					if ev.Status == record.StatusWaiting {
						ui.Notify("sidecar learning session",
							fmt.Sprintf("A quiz is waiting for you at http://%s", addr))
					}
				}
			}()

			server := sidecarmcp.NewServer(version, registry, addr)
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Web UI listen address (defaults to web.addr from config)")
	return cmd
}

func doctorCmd() *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check health of the sidecar scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			root := scopeRoot()
			scope, err := store.Open(root)
			if err != nil {
				return err
			}

			if fix {
				ui.CommandBanner("DOCTOR", "repair mode")
				fixed := store.FixIssues(root)
				for _, f := range fixed {
					ui.Success(fmt.Sprintf("[FIXED] %s", f))
				}

				// A corrupt index is repaired by rebuilding from record files
				ds := debug.NewStore(scope)
				for _, issue := range store.CheckHealth(root) {
					if strings.Contains(issue.Message, "debug index") {
						stats, err := ds.RebuildIndex()
						if err != nil {
							ui.Error(fmt.Sprintf("index rebuild failed: %v", err))
							break
						}
						msg := fmt.Sprintf("rebuilt debug index from %d record files", stats.Records)
						ui.Success(fmt.Sprintf("[FIXED] %s", msg))
						fixed = append(fixed, msg)
						break
					}
				}

				if len(fixed) == 0 {
					ui.EmptyState("Nothing to fix.")
				}
			} else {
				ui.CommandBanner("DOCTOR", "health check")
			}

			issues := store.CheckHealth(root)
			if len(issues) == 0 {
				ui.Success("Everything looks good")
				return nil
			}

			hasError := false
			for _, issue := range issues {
				if issue.Severity == "error" {
					ui.Error(fmt.Sprintf("[ERR]  %s", issue.Message))
					hasError = true
				} else {
					ui.Warning(fmt.Sprintf("[WARN] %s", issue.Message))
				}
			}

			if hasError {
				os.Exit(2)
			}
			os.Exit(1)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "Repair missing directories and rebuild a corrupt debug index")
	return cmd
}

func recordCmd() *cobra.Command {
	var (
		errType  string
		message  string
		file     string
		line     int
		cause    string
		solution string
		tags     []string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a debugging experience",
		Long:  "Store a resolved debugging experience so future sessions can find it with 'sidecar search'.",
		Example: `  sidecar record --type ImportError --message "No module named requests" \
    --cause "venv not activated" --solution "source .venv/bin/activate" --tag python --tag deps`,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := openScope()
			if err != nil {
				return err
			}
			id, err := debug.NewStore(scope).Put(&record.DebugRecord{
				ErrorType:    errType,
				ErrorMessage: message,
				File:         file,
				Line:         line,
				Cause:        cause,
				Solution:     solution,
				Tags:         tags,
			})
			if err != nil {
				return err
			}
			ui.Success("Debug experience recorded")
			ui.KeyValue("ID:  ", id)
			ui.KeyValue("Type:", errType)
			return nil
		},
	}
	cmd.Flags().StringVar(&errType, "type", "", "Error class or category (required)")
	cmd.Flags().StringVar(&message, "message", "", "The error message observed (required)")
	cmd.Flags().StringVar(&file, "file", "", "File where the error occurred")
	cmd.Flags().IntVar(&line, "line", 0, "Line number where the error occurred")
	cmd.Flags().StringVar(&cause, "cause", "", "Root cause analysis")
	cmd.Flags().StringVar(&solution, "solution", "", "The fix that worked")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Categorization tag (repeatable)")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("message")
	return cmd
}

func searchCmd() *cobra.Command {
	var (
		errType string
		tags    []string
		limit   int
	)
	cmd := &cobra.Command{
		Use:     "search [query]",
		Short:   "Search recorded debugging experiences",
		Long:    "Keyword search over recorded debugging experiences. Words are OR-combined with synonym expansion; an empty query lists the most recent records.",
		Example: "  sidecar search \"module not found\"\n  sidecar search --type ImportError --tag python\n  sidecar search timeout --limit 10",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := openScope()
			if err != nil {
				return err
			}
			var query string
			if len(args) > 0 {
				query = args[0]
			}
			results := retrieval.Search(debug.NewStore(scope), retrieval.Query{
				Text:      query,
				ErrorType: errType,
				Tags:      tags,
				Limit:     limit,
			}, scope.Config.Search.MinTokenLen)

			if len(results) == 0 {
				ui.EmptyState("No matching debug records.")
				return nil
			}
			var rows [][]string
			for _, r := range results {
				rows = append(rows, []string{
					r.ID,
					r.ErrorType,
					strings.Join(r.Tags, ","),
					time.Unix(r.UpdatedAt, 0).Format("2006-01-02 15:04"),
				})
			}
			ui.Table([]string{"ID", "TYPE", "TAGS", "UPDATED"}, rows)
			ui.Info(fmt.Sprintf("%d result(s). Use 'sidecar get <id>' for the cause and solution.", len(results)))
			return nil
		},
	}
	cmd.Flags().StringVar(&errType, "type", "", "Exact error type filter")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Tag filter, matches any (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (1-20, default 5)")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <record-id>",
		Short: "Show the full debug record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := openScope()
			if err != nil {
				return err
			}
			rec, err := debug.NewStore(scope).Get(args[0])
			if err != nil {
				return err
			}

			ui.SectionHeader(rec.ErrorType)
			ui.KeyValue("ID:      ", rec.ID)
			ui.KeyValue("Message: ", rec.ErrorMessage)
			if rec.File != "" {
				loc := rec.File
				if rec.Line > 0 {
					loc = fmt.Sprintf("%s:%d", rec.File, rec.Line)
				}
				ui.KeyValue("Location:", loc)
			}
			if rec.Cause != "" {
				ui.KeyValue("Cause:   ", rec.Cause)
			}
			if rec.Solution != "" {
				ui.KeyValue("Solution:", ui.Green(rec.Solution))
			}
			if len(rec.Tags) > 0 {
				ui.KeyValue("Tags:    ", strings.Join(rec.Tags, ", "))
			}
			ui.KeyValue("Updated: ", time.Unix(rec.UpdatedAt, 0).Format(time.RFC3339))
			return nil
		},
	}
}

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Maintain the debug search index",
	}
	cmd.AddCommand(indexRebuildCmd())
	cmd.AddCommand(indexKeywordsCmd())
	cmd.AddCommand(indexCompactCmd())
	return cmd
}

func indexRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index from record files",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := openScope()
			if err != nil {
				return err
			}
			stats, err := debug.NewStore(scope).RebuildIndex()
			if err != nil {
				return err
			}
			ui.Success("Index rebuilt")
			ui.KeyValue("Records: ", strconv.Itoa(stats.Records))
			ui.KeyValue("Keywords:", strconv.Itoa(stats.Keywords))
			ui.KeyValue("Tags:    ", strconv.Itoa(stats.Tags))
			if stats.Errors > 0 {
				ui.Warning(fmt.Sprintf("%d record file(s) could not be read", stats.Errors))
			}
			return nil
		},
	}
}

func indexKeywordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keywords",
		Short: "Rebuild keyword postings from indexed rows",
		Long:  "Repopulate keyword postings without reading record files. Cheaper than a full rebuild after a compact; run 'index rebuild' for full keyword coverage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := openScope()
			if err != nil {
				return err
			}
			n, err := debug.NewStore(scope).RebuildKeywords()
			if err != nil {
				return err
			}
			ui.Success(fmt.Sprintf("Keyword postings rebuilt: %d keyword(s)", n))
			return nil
		},
	}
}

func indexCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Drop keyword postings to shrink the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := openScope()
			if err != nil {
				return err
			}
			stats, err := debug.NewStore(scope).CompactIndex()
			if err != nil {
				return err
			}
			ui.Success("Index compacted")
			ui.KeyValue("Keywords removed:", strconv.Itoa(stats.KeywordsRemoved))
			ui.KeyValue("Records kept:    ", strconv.Itoa(stats.RecordsKept))
			return nil
		},
	}
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect learning sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsExportCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List completed learning sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := openScope()
			if err != nil {
				return err
			}
			st := learning.NewStorage(scope)

			entries := st.ListCompleted(limit)
			if len(entries) == 0 {
				ui.EmptyState("No completed learning sessions.")
				return nil
			}
			var rows [][]string
			for _, e := range entries {
				rows = append(rows, []string{
					e.SessionID,
					strconv.Itoa(e.QuizScore),
					(time.Duration(e.TimeSpent) * time.Second).String(),
					time.Unix(e.SavedAt, 0).Format("2006-01-02 15:04"),
					e.SummaryPreview,
				})
			}
			ui.Table([]string{"ID", "SCORE", "TIME", "SAVED", "SUMMARY"}, rows)

			stats := st.GetStatistics()
			ui.Info(fmt.Sprintf("%d session(s) total, average score %.1f", stats.TotalSessions, stats.AverageScore()))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum sessions to list")
	return cmd
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a learning session in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := openScope()
			if err != nil {
				return err
			}
			sess, err := learning.NewStorage(scope).Load(args[0])
			if err != nil {
				return err
			}

			ui.SectionHeader("Session " + sess.ID)
			ui.KeyValue("Status: ", string(sess.Status))
			ui.KeyValue("Summary:", sess.Summary)
			if sess.Score != nil {
				ui.KeyValue("Score:  ", fmt.Sprintf("%d/%d", *sess.Score, len(sess.Quizzes)))
			}
			if sess.Reasoning != nil {
				ui.SectionHeader("Reasoning")
				ui.Detail("Goal:     ", sess.Reasoning.Goal)
				ui.Detail("Trigger:  ", sess.Reasoning.Trigger)
				ui.Detail("Mechanism:", sess.Reasoning.Mechanism)
			}
			for i, q := range sess.Quizzes {
				ui.SectionHeader(fmt.Sprintf("Quiz %d", i+1))
				ui.Detail("Q:", q.Question)
				for j, opt := range q.Options {
					label := string(rune('A' + j))
					if label == q.Answer {
						ui.Detail("  "+label+")", ui.Green(opt))
					} else {
						ui.Detail("  "+label+")", opt)
					}
				}
				if i < len(sess.Answers) {
					ui.Detail("Answered:", sess.Answers[i])
				}
			}
			return nil
		},
	}
}

func sessionsExportCmd() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all learning sessions to a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := openScope()
			if err != nil {
				return err
			}
			if outputPath == "" {
				outputPath = fmt.Sprintf("sidecar-sessions-%s.json", time.Now().Format("20060102"))
			}
			n, err := learning.NewStorage(scope).Export(outputPath)
			if err != nil {
				return err
			}
			ui.Success(fmt.Sprintf("Exported %d session(s)", n))
			ui.Detail("Output:", outputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and edit sidecar configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configSetCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := openScope()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(scope.Config)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a sidecar configuration value. Valid keys: search.max_results, search.min_token_len, session.default_timeout_seconds, session.max_sessions_kept, web.addr.",
		Example: `  sidecar config set search.max_results 10
  sidecar config set session.default_timeout_seconds 900
  sidecar config set web.addr 127.0.0.1:9000`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := openScope()
			if err != nil {
				return err
			}
			if err := scope.SetConfigValue(args[0], args[1]); err != nil {
				return err
			}
			ui.Success(fmt.Sprintf("Set %s = %s", args[0], args[1]))
			return nil
		},
	}
}

func completionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish]",
		Short:     "Generate shell completion scripts",
		Long:      "Generate shell completion scripts for bash, zsh, or fish. Output the script to stdout for sourcing in your shell profile.",
		Example:   "  sidecar completion bash > ~/.bashrc.d/sidecar\n  sidecar completion zsh > ~/.zfunc/_sidecar\n  sidecar completion fish > ~/.config/fish/completions/sidecar.fish",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			default:
				return fmt.Errorf("unsupported shell: %s (use bash, zsh, or fish)", args[0])
			}
		},
	}
}
