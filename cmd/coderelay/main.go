// Command coderelay runs the agent loop over stdio: JSON-line submissions on
// stdin, JSON-line events on stdout, logs on stderr.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coderelay/coderelay/agentloop"
	"github.com/coderelay/coderelay/protocol"
	"github.com/coderelay/coderelay/responses"
)

// maxSubmissionLineBytes bounds a single stdin submission line.
const maxSubmissionLineBytes = 10 * 1024 * 1024

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type cliOptions struct {
	providerName string
	baseURL      string
	rolloutPath  string
	historyPath  string
	promptsDir   string
	skillsDir    string
	watchPaths   []string
	logLevel     string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	cmd := &cobra.Command{
		Use:   "coderelay",
		Short: "Interactive coding-agent runtime speaking JSON lines over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&opts.providerName, "provider", "openai", "built-in provider name")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "override the provider base URL")
	cmd.Flags().StringVar(&opts.rolloutPath, "rollout", "", "rollout transcript file (JSON lines)")
	cmd.Flags().StringVar(&opts.historyPath, "history", "", "cross-session message history file")
	cmd.Flags().StringVar(&opts.promptsDir, "prompts-dir", "", "directory scanned for custom prompts")
	cmd.Flags().StringVar(&opts.skillsDir, "skills-dir", "", "directory scanned for skills")
	cmd.Flags().StringSliceVar(&opts.watchPaths, "watch", nil, "paths to watch for file changes")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	return cmd
}

func run(ctx context.Context, opts *cliOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(opts.logLevel)

	provider, ok := responses.BuiltinProvider(opts.providerName)
	if !ok {
		return fmt.Errorf("unknown provider %q", opts.providerName)
	}
	if opts.baseURL != "" {
		provider.BaseURL = opts.baseURL
	}
	provider.APIKey = os.Getenv("CODERELAY_API_KEY")

	loopOpts := agentloop.Options{
		Provider:   provider,
		PromptsDir: opts.promptsDir,
		SkillsDir:  opts.skillsDir,
		Logger:     logger,
	}

	if opts.rolloutPath != "" {
		rollout, err := agentloop.NewFileRolloutRecorder(opts.rolloutPath, logger)
		if err != nil {
			return err
		}
		loopOpts.Rollout = rollout
	}
	if opts.historyPath != "" {
		history, err := agentloop.NewFileHistoryStore(opts.historyPath)
		if err != nil {
			return err
		}
		loopOpts.History = history
	}
	if len(opts.watchPaths) > 0 {
		watcher, err := agentloop.NewFileWatcher(logger, opts.watchPaths...)
		if err != nil {
			return err
		}
		defer watcher.Close()
		loopOpts.Watcher = watcher
	}

	subs := make(chan protocol.Submission)
	events := make(chan protocol.Event, 64)
	loop := agentloop.NewSubmissionLoop(subs, events, agentloop.NewAgentManager(), loopOpts)

	// runCtx is cancelled once the loop exits so detached task teardowns
	// stop sending instead of blocking on a writer that is going away.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	go readSubmissions(runCtx, os.Stdin, subs, logger)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writeEvents(runCtx, os.Stdout, events, logger)
	}()

	err := loop.Run(runCtx)
	cancelRun()
	<-writerDone
	if err == context.Canceled {
		return nil
	}
	return err
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// readSubmissions decodes JSON-line submissions and feeds the loop. A
// malformed line is logged and skipped. EOF closes the channel, which the
// loop treats as shutdown.
func readSubmissions(ctx context.Context, r *os.File, subs chan<- protocol.Submission, logger *slog.Logger) {
	defer close(subs)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSubmissionLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var sub protocol.Submission
		if err := json.Unmarshal(line, &sub); err != nil {
			logger.Warn("skipping malformed submission", "error", err)
			continue
		}
		select {
		case subs <- sub:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		logger.Error("stdin read failed", "error", err)
	}
}

// writeEvents streams events to stdout, flushing per line. After ctx is
// cancelled it drains whatever was already queued, then returns.
func writeEvents(ctx context.Context, w *os.File, events <-chan protocol.Event, logger *slog.Logger) {
	out := bufio.NewWriter(w)
	defer out.Flush()
	enc := json.NewEncoder(out)

	write := func(ev protocol.Event) {
		if err := enc.Encode(ev); err != nil {
			logger.Error("event encode failed", "error", err)
			return
		}
		out.Flush()
	}

	for {
		select {
		case ev := <-events:
			write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-events:
					write(ev)
				default:
					return
				}
			}
		}
	}
}
