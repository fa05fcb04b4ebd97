package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pepperpark/autofiler/internal/autofiler"
	"github.com/pepperpark/autofiler/internal/client"
	"github.com/pepperpark/autofiler/internal/config"
	"github.com/pepperpark/autofiler/internal/logging"
	"github.com/pepperpark/autofiler/internal/secrets"
	"github.com/pepperpark/autofiler/internal/stats"
)

var (
	// Set via -ldflags at build time.
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configFile    string
	verbose       bool
	debug         bool
	dryRun        bool
	listMailboxes bool
	interactive   bool
	noInteractive bool
	statsFile     string
	metricsFile   string
	logFormat     string
	logLevel      string
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:          "autofiler",
		Short:        "Sort mail into mailboxes with rules",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		Version:      versionString(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, o)
		},
	}
	f := root.Flags()
	f.StringVarP(&o.configFile, "config-file", "c", config.DefaultPath, "Path to the configuration file")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Report more details about what is happening")
	f.BoolVar(&o.debug, "debug", false, "Trace the IMAP session and stop on the first action error")
	f.BoolVar(&o.dryRun, "dry-run", false, "Report the actions without running them")
	f.BoolVar(&o.listMailboxes, "list-mailboxes", false, "Print the mailboxes instead of processing rules")
	f.BoolVar(&o.interactive, "interactive", false, "Show the progress UI even when not on a terminal")
	f.BoolVar(&o.noInteractive, "no-interactive", false, "Never show the progress UI")
	f.StringVar(&o.statsFile, "stats-file", "", "Write run statistics as JSON to this file")
	f.StringVar(&o.metricsFile, "metrics-file", "", "Write run statistics as a Prometheus textfile to this file")
	f.StringVar(&o.logFormat, "log-format", logging.FormatText, "Log format: text or json")
	f.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides -v)")
	root.MarkFlagsMutuallyExclusive("interactive", "no-interactive")

	root.AddCommand(newSeedCmd(), newVersionCmd())
	return root
}

func versionString() string {
	s := version
	if commit != "" {
		s += fmt.Sprintf(" (%s)", commit)
	}
	if date != "" {
		s += " built " + date
	}
	return s
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "autofiler", versionString())
		},
	}
}

func (o *options) level() slog.Level {
	switch {
	case o.logLevel != "":
		return logging.ParseLevel(o.logLevel)
	case o.verbose || o.debug:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// uiLevel is the level of the logger printing above the progress UI. Only
// warnings are shown unless more was asked for.
func (o *options) uiLevel() slog.Level {
	if o.logLevel != "" || o.verbose {
		return o.level()
	}
	return slog.LevelWarn
}

func run(cmd *cobra.Command, o *options) error {
	ctx := logging.WithContext(cmd.Context(), logging.New(cmd.ErrOrStderr(), o.level(), o.logFormat))
	log := logging.FromContext(ctx)
	log.Debug("starting", "version", version)

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return err
	}
	var password string
	if cfg.Server != nil {
		if password, err = secrets.Password(ctx, cfg.Server, secrets.TerminalPrompt); err != nil {
			return err
		}
	}
	var copts client.Options
	if o.debug {
		copts.Debug = cmd.ErrOrStderr()
	}
	c, err := client.Open(ctx, cfg, password, copts)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn("close", "err", err)
		}
	}()

	if o.listMailboxes {
		return listMailboxes(ctx, c, cmd.OutOrStdout())
	}

	flag := &autofiler.Flag{}
	stop := notifyInterrupt(ctx, flag)
	defer stop()

	prev, err := stats.Load(o.statsFile)
	if err != nil {
		log.Warn("read previous stats", "err", err)
	}

	popts := autofiler.Options{DryRun: o.dryRun, Debug: o.debug}
	var totals *stats.Totals
	if isInteractive(o, os.Stdout, os.Getenv) {
		totals, err = runTUI(ctx, c, cfg, flag, popts, o, cmd.OutOrStdout())
	} else {
		progress := autofiler.TextProgress{Flag: flag, W: cmd.OutOrStdout()}
		totals, err = autofiler.NewProcessor(c, cfg, progress, popts).Run(ctx)
	}
	writeReport(cmd.OutOrStdout(), totals, prev)
	if serr := totals.Save(o.statsFile); serr != nil {
		log.Error("save stats", "err", serr)
	}
	if merr := totals.WriteMetrics(o.metricsFile); merr != nil {
		log.Error("write metrics", "err", merr)
	}
	return err
}

func listMailboxes(ctx context.Context, c client.Client, w io.Writer) error {
	names, err := c.ListMailboxes(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
	return nil
}

// notifyInterrupt raises flag on SIGINT until stop is called.
func notifyInterrupt(ctx context.Context, flag *autofiler.Flag) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				flag.Set()
				logging.FromContext(ctx).Warn("interrupt received, stopping after the current message")
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

var ciVariables = []string{"CI", "CONTINUOUS_INTEGRATION", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"}

// isInteractive decides whether the progress UI is shown.
func isInteractive(o *options, stdout *os.File, getenv func(string) string) bool {
	switch {
	case o.noInteractive:
		return false
	case o.interactive:
		return true
	case o.debug:
		return false
	}
	if stdout == nil || !isatty.IsTerminal(stdout.Fd()) {
		return false
	}
	for _, v := range ciVariables {
		if getenv(v) != "" {
			return false
		}
	}
	term := strings.ToLower(getenv("TERM"))
	return term != "" && term != "dumb"
}
