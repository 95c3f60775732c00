package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/kataras/golog"

	"github.com/psworks/scriptflow/log"
	"github.com/psworks/scriptflow/reasoning"
	"github.com/psworks/scriptflow/report"
	"github.com/psworks/scriptflow/store"
	"github.com/psworks/scriptflow/store/memory"
	"github.com/psworks/scriptflow/store/postgres"
	"github.com/psworks/scriptflow/store/redis"
	"github.com/psworks/scriptflow/store/sqlite"
	"github.com/psworks/scriptflow/tool"
	"github.com/psworks/scriptflow/workflow"
)

var (
	storeBackend = flag.String("store", "memory", "checkpoint store: memory, sqlite, redis or postgres")
	sqlitePath   = flag.String("sqlite-path", "scriptflow.db", "database path for -store sqlite")
	redisAddr    = flag.String("redis-addr", "127.0.0.1:6379", "address for -store redis")
	postgresDSN  = flag.String("postgres-dsn", "", "connection string for -store postgres")
	threadID     = flag.String("thread", "", "resume an existing thread (single script only)")
	model        = flag.String("model", "", "override the reasoning model")
	review       = flag.Bool("review", false, "pause for human review before running tools")
	workers      = flag.Int("workers", 4, "concurrent analyses in batch mode")
	htmlOut      = flag.String("html", "", "write an HTML report to this path")
	verbose      = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] script.ps1 [script2.ps1 ...]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	gl := golog.New()
	logger := log.NewGologLogger(gl)
	if *verbose {
		logger.SetLevel(log.LogLevelDebug)
	} else {
		logger.SetLevel(log.LogLevelInfo)
	}
	log.SetDefaultLogger(logger)

	if err := run(logger); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(logger log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set")
	}

	cs, cleanup, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	registry := tool.DefaultRegistry()
	registry.Register(tool.NewCmdletDocs())

	client := reasoning.NewOpenAIClient(apiKey, registry.Descriptors())
	controller := workflow.NewController(cs, client, registry, workflow.Config{Logger: logger})

	var params map[string]any
	if *model != "" {
		params = map[string]any{"model": *model}
	}

	files := flag.Args()
	if len(files) > 1 {
		return runBatch(ctx, controller, files, params)
	}
	return runSingle(ctx, controller, files[0], params)
}

func runSingle(ctx context.Context, controller *workflow.Controller, path string, params map[string]any) error {
	script, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	res, err := controller.Analyze(ctx, workflow.AnalyzeRequest{
		ScriptContent:      string(script),
		ThreadID:           *threadID,
		RequireHumanReview: *review,
		Params:             params,
	})
	if err != nil {
		return err
	}

	for res.Status == workflow.StatusPaused {
		printSummary(path, res)
		feedback, err := promptFeedback()
		if err != nil {
			return err
		}
		res, err = controller.Feedback(ctx, res.ThreadID, feedback)
		if err != nil {
			return err
		}
	}

	printSummary(path, res)

	if *htmlOut != "" {
		if err := os.WriteFile(*htmlOut, report.HTML(res), 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("\nHTML report written to %s\n", *htmlOut)
	}
	return nil
}

func runBatch(ctx context.Context, controller *workflow.Controller, files []string, params map[string]any) error {
	requests := make([]workflow.AnalyzeRequest, 0, len(files))
	for _, path := range files {
		script, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		requests = append(requests, workflow.AnalyzeRequest{
			ScriptContent:      string(script),
			RequireHumanReview: *review,
			Params:             params,
		})
	}

	batch := controller.AnalyzeBatch(ctx, requests, *workers)

	for _, item := range batch.Items {
		path := files[item.Index]
		if item.Err != nil {
			fmt.Printf("%s %s: %v\n", failStyle.Render("✗"), path, item.Err)
			continue
		}
		printSummary(path, item.Result)
		fmt.Println()
	}

	fmt.Printf("%d analyzed, %d succeeded, %d failed\n", batch.Total, batch.Successful, batch.Failed)
	if batch.Failed > 0 {
		return fmt.Errorf("%d of %d analyses failed", batch.Failed, batch.Total)
	}
	return nil
}

func promptFeedback() (string, error) {
	fmt.Print("\nReviewer feedback (empty line aborts): ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("review abandoned")
	}
	return line, nil
}

func openStore(ctx context.Context) (store.CheckpointStore, func(), error) {
	noop := func() {}

	switch *storeBackend {
	case "memory":
		return memory.NewMemoryCheckpointStore(), noop, nil
	case "sqlite":
		s, err := sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{Path: *sqlitePath})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "redis":
		s := redis.NewRedisCheckpointStore(redis.RedisOptions{Addr: *redisAddr})
		return s, func() { s.Close() }, nil
	case "postgres":
		if *postgresDSN == "" {
			return nil, nil, fmt.Errorf("-postgres-dsn is required with -store postgres")
		}
		s, err := postgres.NewPostgresCheckpointStore(ctx, postgres.PostgresOptions{ConnString: *postgresDSN})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", *storeBackend)
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Faint(true).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

func statusStyle(s workflow.Status) lipgloss.Style {
	switch s {
	case workflow.StatusCompleted:
		return okStyle
	case workflow.StatusPaused:
		return warnStyle
	default:
		return failStyle
	}
}

func riskStyle(level string) lipgloss.Style {
	switch level {
	case tool.RiskCritical, tool.RiskHigh:
		return failStyle
	case tool.RiskMedium:
		return warnStyle
	default:
		return okStyle
	}
}

func printSummary(path string, res *workflow.Result) {
	fmt.Println(titleStyle.Render(path))
	fmt.Printf("%s %s\n", labelStyle.Render("Status"), statusStyle(res.Status).Render(string(res.Status)))
	fmt.Printf("%s %s\n", labelStyle.Render("Thread"), res.ThreadID)

	if sec, ok := res.AnalysisResults[tool.SecurityScanName]; ok && sec.Error == "" {
		if level, _ := sec.Output["risk_level"].(string); level != "" {
			fmt.Printf("%s %s\n", labelStyle.Render("Risk"), riskStyle(level).Render(level))
		}
	}
	if len(res.AnalysisResults) > 0 {
		names := make([]string, 0, len(res.AnalysisResults))
		for name, tr := range res.AnalysisResults {
			if tr.Error != "" {
				name += failStyle.Render(" (failed)")
			}
			names = append(names, name)
		}
		fmt.Printf("%s %s\n", labelStyle.Render("Tools"), strings.Join(names, ", "))
	}
	for _, e := range res.Errors {
		fmt.Printf("%s %s: %s\n", labelStyle.Render("Warning"), e.Kind, e.Detail)
	}

	if res.Status == workflow.StatusPaused {
		fmt.Printf("%s %s\n", labelStyle.Render("Review"), warnStyle.Render("workflow paused for human review"))
	}
	if res.FinalResponse != "" {
		fmt.Printf("\n%s\n", res.FinalResponse)
	}
}
