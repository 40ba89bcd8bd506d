package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/nick353/Automate-sub000/internal/actions"
	"github.com/nick353/Automate-sub000/internal/apiclient"
	"github.com/nick353/Automate-sub000/internal/config"
	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/nick353/Automate-sub000/internal/notify"
	"github.com/nick353/Automate-sub000/internal/recovery"
	"github.com/nick353/Automate-sub000/internal/runstore"
	"github.com/nick353/Automate-sub000/internal/schedule"
	"github.com/nick353/Automate-sub000/internal/session"
	"github.com/nick353/Automate-sub000/tui"
	"github.com/nick353/Automate-sub000/web/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	watchTask  string
	watchLabel string

	runLabel   string
	runAutoFix bool

	extractValidate bool

	applyCreateAndTest bool

	historyTask   string
	historyStatus string
	historyLimit  int

	tuiRunTask string

	servePort int
)

func init() {
	watchCmd := &cobra.Command{
		Use:   "watch EXECUTION",
		Short: "Watch a run that was started elsewhere",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
	watchCmd.Flags().StringVar(&watchTask, "task", "", "task owning the run (enables failure analysis)")
	watchCmd.Flags().StringVar(&watchLabel, "label", "run", "label shown for the run")
	rootCmd.AddCommand(watchCmd)

	runCmd := &cobra.Command{
		Use:   "run TASK",
		Short: "Start a task and watch the run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runLabel, "label", "run", "label shown for the run")
	runCmd.Flags().BoolVar(&runAutoFix, "auto-fix", false, "confirm one recommended fix and retry if the run fails")
	rootCmd.AddCommand(runCmd)

	extractCmd := &cobra.Command{
		Use:   "extract [FILE]",
		Short: "Extract the action payload from an assistant reply",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExtract,
	}
	extractCmd.Flags().BoolVar(&extractValidate, "validate", false, "validate the extracted batch")
	rootCmd.AddCommand(extractCmd)

	applyCmd := &cobra.Command{
		Use:   "apply [FILE]",
		Short: "Execute the actions proposed in an assistant reply",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runApply,
	}
	applyCmd.Flags().BoolVar(&applyCreateAndTest, "create-and-test", false, "run the first created task as a test")
	rootCmd.AddCommand(applyCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyTask, "task", "", "filter by task")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to list")
	rootCmd.AddCommand(historyCmd)

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the session dashboard",
		RunE:  runTUI,
	}
	tuiCmd.Flags().StringVar(&tuiRunTask, "run", "", "start this task when the dashboard opens")
	rootCmd.AddCommand(tuiCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// buildNotifier combines the notifiers enabled in cfg
func buildNotifier(cfg *config.Config) *notify.MultiNotifier {
	multi := notify.NewMultiNotifier()
	if cfg.Notifications.Desktop {
		multi.Add(notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		multi.Add(notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}
	return multi
}

// env is what a command needs to drive a session
type env struct {
	cfg      *config.Config
	store    *runstore.Store
	notifier *notify.MultiNotifier
	session  *session.Session
}

func (e *env) Close() {
	e.session.Close()
	if e.store != nil {
		e.store.Close()
	}
}

func newEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	client, err := apiclient.New(apiclient.Config{
		BaseURL:   cfg.API.BaseURL,
		ProjectID: cfg.API.ProjectID,
		Token:     cfg.API.Token,
		Timeout:   cfg.API.Timeout.Duration,
	})
	if err != nil {
		return nil, err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}

	notifier := buildNotifier(cfg)
	sess, err := session.New(session.Config{
		API:           client,
		Ledger:        store,
		Notifier:      notifier,
		PollInterval:  cfg.Monitor.PollInterval.Duration,
		LogRetryDelay: cfg.Monitor.LogRetryDelay.Duration,
		ExcerptLimit:  cfg.Monitor.ExcerptLimit,
		Keywords:      cfg.Monitor.FailureKeywords,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return &env{cfg: cfg, store: store, notifier: notifier, session: sess}, nil
}

// waitOrInterrupt waits for every watched run, or returns early on ctx
func waitOrInterrupt(ctx context.Context, s *session.Session) error {
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	events, _ := e.session.Transcript().Subscribe()
	p := follow(os.Stdout, defaultTheme(), events)

	h := domain.RunHandle{ExecutionID: args[0], Label: watchLabel, TaskID: watchTask}
	snaps := e.session.WatchExecution(h)

	var final domain.ExecutionSnapshot
loop:
	for {
		select {
		case snap, ok := <-snaps:
			if !ok {
				break loop
			}
			final = snap
		case <-ctx.Done():
			break loop
		}
	}
	// Failure analysis runs after the terminal snapshot
	interrupted := waitOrInterrupt(ctx, e.session)
	e.Close()
	p.Wait()

	if interrupted != nil {
		return interrupted
	}
	return exitStatus(final)
}

func runRun(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	events, _ := e.session.Transcript().Subscribe()
	p := follow(os.Stdout, defaultTheme(), events)
	defer p.Wait()
	defer e.Close()

	if _, err := e.session.RunTask(ctx, args[0], runLabel); err != nil {
		return err
	}

	if err := waitOrInterrupt(ctx, e.session); err != nil {
		return err
	}
	if runAutoFix {
		wait := func(ctx context.Context) error { return waitOrInterrupt(ctx, e.session) }
		if err := applyOneFix(ctx, e.session, wait); err != nil {
			return err
		}
	}

	if active, ok := e.session.ActiveAnalysis(); ok {
		th := defaultTheme()
		fmt.Println()
		fmt.Println(th.Warning(symbolWarning + " Recovery available for task " + active.TaskID + ":"))
		for _, o := range active.Offers {
			fmt.Printf("  %s %s\n", symbolInfo, o.Label)
		}
	}
	return nil
}

type autoFixer interface {
	ApplyAutoFix(ctx context.Context) (domain.RunHandle, error)
}

// applyOneFix applies the recommended fix once and waits for the retry.
// --auto-fix stands for a single confirmation, so a failing retry is left
// to the user.
func applyOneFix(ctx context.Context, f autoFixer, wait func(context.Context) error) error {
	if _, err := f.ApplyAutoFix(ctx); err != nil {
		if !errors.Is(err, recovery.ErrNoActiveAnalysis) && !errors.Is(err, recovery.ErrNotAutoFixable) {
			log.Printf("[taskpilot] auto-fix: %v", err)
		}
		return nil
	}
	return wait(ctx)
}

func readInput(args []string) (string, error) {
	var r io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	text, err := readInput(args)
	if err != nil {
		return err
	}

	th := defaultTheme()
	res := actions.Extract(text)
	fmt.Println(th.Bold("Message:"))
	fmt.Println(res.Cleaned)

	if res.Batch == nil {
		fmt.Println(th.Dim("\nNo action payload found."))
		return nil
	}

	fmt.Println(th.Bold("\nActions:"))
	out, err := json.MarshalIndent(res.Batch, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if previews := schedule.ForBatch(res.Batch, time.Now()); len(previews) > 0 {
		fmt.Println(th.Bold("\nSchedules:"))
		for i := range res.Batch.Actions {
			for _, p := range previews[i] {
				fmt.Printf("  #%d %s\n", i+1, p.Summary())
			}
		}
	}

	if extractValidate {
		if err := actions.Validate(res.Batch); err != nil {
			fmt.Println(th.Error(symbolError + " " + err.Error()))
			return fmt.Errorf("invalid action payload")
		}
		fmt.Println(th.Success(symbolSuccess + " payload is valid"))
	}
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	text, err := readInput(args)
	if err != nil {
		return err
	}

	e, err := newEnv()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	events, _ := e.session.Transcript().Subscribe()
	p := follow(os.Stdout, defaultTheme(), events)
	defer p.Wait()
	defer e.Close()

	if _, batch := e.session.HandleAssistantMessage(text); batch == nil {
		return fmt.Errorf("no action payload found")
	}

	report, err := e.session.ConfirmActions(ctx, applyCreateAndTest)
	if err != nil {
		return err
	}
	if err := waitOrInterrupt(ctx, e.session); err != nil {
		return err
	}
	if report.Outcome() != actions.OutcomeSuccess {
		return fmt.Errorf("%d of %d actions failed", len(report.Failures()), len(report.Actions))
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), runstore.ListOptions{
		TaskID: historyTask,
		Status: domain.ExecutionStatus(historyStatus),
		Limit:  historyLimit,
	})
	if err != nil {
		return err
	}

	th := defaultTheme()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EXECUTION\tTASK\tLABEL\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		status := string(r.Status)
		switch r.Status {
		case domain.ExecCompleted:
			status = th.Success(status)
		case domain.ExecFailed:
			status = th.Error(status)
		case domain.ExecStopped:
			status = th.Warning(status)
		}
		duration := "-"
		if r.FinishedAt != nil {
			duration = strings.TrimSpace(humanize.RelTime(r.StartedAt, *r.FinishedAt, "", ""))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ExecutionID, r.TaskID, r.Label, status, humanize.Time(r.StartedAt), duration)
	}
	w.Flush()

	if len(runs) == 0 {
		fmt.Println(th.Dim("No runs recorded."))
	}
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	// Log lines would corrupt the alternate screen
	log.SetOutput(io.Discard)

	model := tui.NewModel(tui.ModelConfig{Session: e.session, History: e.store})
	defer model.Close()

	if tuiRunTask != "" {
		if _, err := e.session.RunTask(context.Background(), tuiRunTask, "run"); err != nil {
			return err
		}
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	port := servePort
	if port == 0 {
		port = e.cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", e.cfg.Web.Host, port)
	server := api.NewServer(e.session, e.store, addr)
	e.notifier.Add(server)

	ctx, cancel := signalContext()
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx)
	})

	path := config.ResolvePath(configPath)
	if _, statErr := os.Stat(path); statErr == nil {
		watcher, err := config.NewWatcher(path, func(cfg *config.Config) {
			e.session.SetKeywords(cfg.Monitor.FailureKeywords)
			log.Printf("[taskpilot] reloaded failure keywords from %s", path)
		})
		if err != nil {
			log.Printf("[taskpilot] config watch disabled: %v", err)
		} else {
			g.Go(func() error {
				return watcher.Run(ctx)
			})
		}
	}

	fmt.Printf("Serving session %s at http://%s\n", e.session.ID(), addr)
	return g.Wait()
}

// exitStatus turns the final snapshot of a watched run into the command result
func exitStatus(snap domain.ExecutionSnapshot) error {
	switch {
	case snap.Status == "":
		return fmt.Errorf("watch ended before the run finished")
	case snap.Status == domain.ExecFailed:
		return fmt.Errorf("execution %s failed", snap.ExecutionID)
	}
	return nil
}
