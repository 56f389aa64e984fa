package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/viniciushammett/go-build-inspector/internal/api"
	"github.com/viniciushammett/go-build-inspector/internal/baseline"
	"github.com/viniciushammett/go-build-inspector/internal/config"
	"github.com/viniciushammett/go-build-inspector/internal/export"
	"github.com/viniciushammett/go-build-inspector/internal/logger"
	"github.com/viniciushammett/go-build-inspector/internal/metrics"
	"github.com/viniciushammett/go-build-inspector/internal/notify"
	"github.com/viniciushammett/go-build-inspector/internal/pipeline"
	"github.com/viniciushammett/go-build-inspector/internal/processor"
	"github.com/viniciushammett/go-build-inspector/internal/report"
	"github.com/viniciushammett/go-build-inspector/internal/resolver"
	"github.com/viniciushammett/go-build-inspector/internal/scheduler"
	"github.com/viniciushammett/go-build-inspector/internal/store"
	"github.com/viniciushammett/go-build-inspector/internal/tracing"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	log := logger.New(os.Getenv("LOG_LEVEL"))

	root := &cobra.Command{
		Use:           "build-inspector",
		Short:         "Filter build evidence down to what a VM build did that it should not have",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/inspector.yaml"
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "YAML config path")

	// --- process ---
	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Process one evidence directory and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("evidence") {
				conf.Evidence.Dir, _ = flags.GetString("evidence")
			}
			if flags.Changed("vm-ip") {
				conf.VMAddress, _ = flags.GetString("vm-ip")
			}
			if flags.Changed("whitelist") {
				conf.Whitelist, _ = flags.GetStringSlice("whitelist")
			}
			if flags.Changed("rules") {
				conf.RulesFile, _ = flags.GetString("rules")
			}
			if flags.Changed("parallel") {
				conf.Parallel, _ = flags.GetBool("parallel")
			}
			if noColor, _ := flags.GetBool("no-color"); noColor {
				off := false
				conf.Color = &off
			}

			proc, err := newProcessor(log, conf)
			if err != nil {
				return err
			}
			p := &pipeline.Pipeline{
				Log:      log,
				Proc:     proc,
				Notifier: notify.NewSlack(conf.Slack.Enabled, conf.Slack.Webhook),
			}
			if conf.Storage.Path != "" {
				st, err := store.Open(conf.Storage.Path)
				if err != nil {
					return err
				}
				defer st.Close()
				p.Store = st
			}
			ctx := withSignals()
			closer, err := tracing.Init(ctx, conf.Tracing)
			if err != nil {
				return err
			}
			defer func() { _ = closer(context.Background()) }()
			rep, err := p.Run(ctx, options(conf))
			if err != nil {
				return err
			}
			return report.NewPrinter(os.Stdout, *conf.Color).Print(rep)
		},
	}
	processCmd.Flags().String("evidence", "", "evidence directory (overrides config)")
	processCmd.Flags().String("vm-ip", "", "address of the build VM inside the capture")
	processCmd.Flags().StringSlice("whitelist", nil, "allowed host names or addresses (comma separated)")
	processCmd.Flags().String("rules", "", "baseline rules YAML (empty = built-in)")
	processCmd.Flags().Bool("parallel", false, "run the four reporters concurrently")
	processCmd.Flags().Bool("no-color", false, "disable coloured section titles")
	root.AddCommand(processCmd)

	// --- serve ---
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and any scheduled inspections from config",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			proc, err := newProcessor(log, conf)
			if err != nil {
				return err
			}
			metrics.MustRegister()

			var st *store.Store
			if conf.Storage.Path != "" {
				if st, err = store.Open(conf.Storage.Path); err != nil {
					return err
				}
				defer st.Close()
			}
			p := &pipeline.Pipeline{
				Log:      log,
				Proc:     proc,
				Store:    st,
				Notifier: notify.NewSlack(conf.Slack.Enabled, conf.Slack.Webhook),
			}
			ctx := withSignals()
			closer, err := tracing.Init(ctx, conf.Tracing)
			if err != nil {
				return err
			}
			defer func() { _ = closer(context.Background()) }()
			cr := scheduler.New()
			if err := scheduler.Add(ctx, cr, log, conf.Jobs, options(conf), p); err != nil {
				return err
			}
			cr.Start()
			defer cr.Stop()
			root := conf.Evidence.Root
			if root == "" {
				root = conf.Evidence.Dir
			}
			if conf.AuthToken == "" {
				log.Warn().Msg("authToken not set: API is open and requests cannot choose an evidence dir")
			}
			s := api.NewServer(api.Deps{
				Log:          log,
				Store:        st,
				Pipeline:     p,
				Defaults:     options(conf),
				EvidenceRoot: root,
				AuthToken:    conf.AuthToken,
			}, api.Config{Addr: conf.Server.Addr, CORSOrigins: conf.Server.CORSOrigins})
			return s.Run(ctx)
		},
	}
	root.AddCommand(serveCmd)

	// --- history ---
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List archived reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openArchive(cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			limit, _ := cmd.Flags().GetInt("limit")
			reps, err := st.List(limit)
			if errors.Is(err, store.ErrCorrupt) {
				log.Warn().Err(err).Msg("skipped archive records")
			} else if err != nil {
				return err
			}
			for _, r := range reps {
				fmt.Printf("%s  %s  %-15s %4d  %s\n", r.ID, r.When.Format("2006-01-02 15:04:05"), r.VMAddress, r.Anomalies(), r.Dir)
			}
			return nil
		},
	}
	historyCmd.Flags().Int("limit", 20, "max reports to show (0 = all)")
	root.AddCommand(historyCmd)

	// --- export ---
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write archived reports as CSV to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openArchive(cfgPath)
			if err != nil {
				return err
			}
			defer st.Close()
			limit, _ := cmd.Flags().GetInt("limit")
			reps, err := st.List(limit)
			if errors.Is(err, store.ErrCorrupt) {
				log.Warn().Err(err).Msg("skipped archive records")
			} else if err != nil {
				return err
			}
			return export.WriteCSV(os.Stdout, reps)
		},
	}
	exportCmd.Flags().Int("limit", 0, "max reports to export (0 = all)")
	root.AddCommand(exportCmd)

	// --- version ---
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("build-inspector %s (%s) %s\n", version, commit, date)
		},
	})

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newProcessor(log *logger.Logger, conf *config.Config) (*processor.Processor, error) {
	bs, err := baseline.Load(conf.RulesFile, conf.RuleVars)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("rules", bs.Len()).Msg("baseline loaded")
	return processor.New(log, processor.Deps{
		Baseline: bs,
		Files:    conf.Evidence.Files,
		Resolver: resolver.File{Path: conf.ResolvConf},
		FSIgnore: conf.Filesystem.Ignore,
	}), nil
}

func options(conf *config.Config) processor.Options {
	return processor.Options{
		Dir:       conf.Evidence.Dir,
		VMAddress: conf.VMAddress,
		Whitelist: conf.Whitelist,
		Parallel:  conf.Parallel,
	}
}

func openArchive(cfgPath string) (*store.Store, error) {
	conf, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if conf.Storage.Path == "" {
		return nil, fmt.Errorf("storage.path not set in %s", cfgPath)
	}
	return store.Open(conf.Storage.Path)
}

func withSignals() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-c; cancel() }()
	return ctx
}
