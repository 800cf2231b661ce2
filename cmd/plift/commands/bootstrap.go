package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/packlift/packlift/pkg/config"
	"github.com/packlift/packlift/pkg/engine"
	"github.com/packlift/packlift/pkg/journal"
	"github.com/packlift/packlift/pkg/telemetry"
)

// bootstrapOptions are the flags shared by install and upgrade.
type bootstrapOptions struct {
	source          string
	mode            string
	answersPath     string
	allowNetwork    bool
	offlineOnly     bool
	netAllowlist    string
	allowListeners  bool
	dataDir         string
	cacheRoot       string
	secretsBackend  string
	stateBackend    string
	configPatchPath string
	environment     string
	skipVerify      bool
	strictVerify    bool
	httpListen      string
	httpTimeout     int
	pubsubTimeout   int
	brokerURL       string
	topicPrefix     string
	deviceID        string
	journalPath     string
	noJournal       bool
}

func bindBootstrapFlags(cmd *cobra.Command, opts *bootstrapOptions) {
	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "pack source: local path or oci://host/repo[:tag]")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "answer transport (auto, terminal, json, http, pubsub)")
	cmd.Flags().StringVar(&opts.answersPath, "answers", "", "pre-supplied answers JSON file")
	cmd.Flags().BoolVar(&opts.allowNetwork, "allow-network", false, "permit outbound network access")
	cmd.Flags().BoolVar(&opts.offlineOnly, "offline", false, "forbid all network access")
	cmd.Flags().StringVar(&opts.netAllowlist, "net-allowlist", "", "comma-separated allowed hosts and CIDRs")
	cmd.Flags().BoolVar(&opts.allowListeners, "allow-listeners", true, "permit binding local listeners")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "root directory for plift-managed files")
	cmd.Flags().StringVar(&opts.cacheRoot, "cache-root", "", "pack cache root directory")
	cmd.Flags().StringVar(&opts.secretsBackend, "secrets-backend", "", "secrets backend URI (file:<path> or k8s:<ns>/<name>)")
	cmd.Flags().StringVar(&opts.stateBackend, "state-backend", "", "bootstrap state backend URI (file:<path>)")
	cmd.Flags().StringVar(&opts.configPatchPath, "config-patch", "", "config patch file path")
	cmd.Flags().StringVar(&opts.environment, "environment", "", "environment kind (local, docker, kubernetes)")
	cmd.Flags().BoolVar(&opts.skipVerify, "skip-verify", false, "skip pack signature verification")
	cmd.Flags().BoolVar(&opts.strictVerify, "strict-verify", false, "fail on missing pack signatures")
	cmd.Flags().StringVar(&opts.httpListen, "http-listen", "", "bind address for the HTTP answer transport")
	cmd.Flags().IntVar(&opts.httpTimeout, "http-timeout", 0, "HTTP answer timeout in seconds")
	cmd.Flags().IntVar(&opts.pubsubTimeout, "pubsub-timeout", 0, "pub/sub answer timeout in seconds")
	cmd.Flags().StringVar(&opts.brokerURL, "broker-url", "", "NATS broker URL for the pub/sub transport")
	cmd.Flags().StringVar(&opts.topicPrefix, "topic-prefix", "", "pub/sub topic prefix")
	cmd.Flags().StringVar(&opts.deviceID, "device-id", "", "pub/sub device identifier")
	cmd.Flags().StringVar(&opts.journalPath, "journal", "", "run journal database path")
	cmd.Flags().BoolVar(&opts.noJournal, "no-journal", false, "disable the run journal")
	cmd.MarkFlagRequired("source")
}

// loadSettings layers defaults, the optional settings file, and the
// command-line overrides, then validates the result.
func loadSettings(cmd *cobra.Command, opts *bootstrapOptions) (*config.Settings, error) {
	loader := config.NewLoader()
	settings, err := loader.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("mode") {
		settings.Mode = opts.mode
	}
	if flags.Changed("answers") {
		settings.AnswersPath = opts.answersPath
	}
	if flags.Changed("allow-network") {
		settings.AllowNetwork = opts.allowNetwork
	}
	if flags.Changed("offline") {
		settings.OfflineOnly = opts.offlineOnly
	}
	if flags.Changed("net-allowlist") {
		settings.NetAllowlist = opts.netAllowlist
	}
	if flags.Changed("allow-listeners") {
		settings.AllowListeners = opts.allowListeners
	}
	if flags.Changed("data-dir") {
		settings.DataDir = opts.dataDir
		settings.CacheRoot = ""
		settings.SecretsBackend = ""
		settings.StateBackend = ""
		settings.JournalPath = ""
	}
	if flags.Changed("cache-root") {
		settings.CacheRoot = opts.cacheRoot
	}
	if flags.Changed("secrets-backend") {
		settings.SecretsBackend = opts.secretsBackend
	}
	if flags.Changed("state-backend") {
		settings.StateBackend = opts.stateBackend
	}
	if flags.Changed("config-patch") {
		settings.ConfigPatchPath = opts.configPatchPath
	}
	if flags.Changed("environment") {
		settings.EnvironmentKind = opts.environment
	}
	if flags.Changed("skip-verify") {
		settings.SkipVerify = opts.skipVerify
	}
	if flags.Changed("strict-verify") {
		settings.StrictVerify = opts.strictVerify
	}
	if flags.Changed("http-listen") {
		settings.HTTPListen = opts.httpListen
	}
	if flags.Changed("http-timeout") {
		settings.HTTPTimeoutSeconds = opts.httpTimeout
	}
	if flags.Changed("pubsub-timeout") {
		settings.PubSubTimeoutSeconds = opts.pubsubTimeout
	}
	if flags.Changed("broker-url") {
		settings.BrokerURL = opts.brokerURL
	}
	if flags.Changed("topic-prefix") {
		settings.TopicPrefix = opts.topicPrefix
	}
	if flags.Changed("device-id") {
		settings.DeviceID = opts.deviceID
	}
	if flags.Changed("journal") {
		settings.JournalPath = opts.journalPath
	}
	if opts.noJournal {
		settings.JournalPath = ""
	}
	if verbose {
		settings.LogLevel = "debug"
	}

	settings.Normalize()
	if err := config.NewLoader().Validate(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// newTelemetry maps settings onto the telemetry stack.
func newTelemetry(settings *config.Settings, version string) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = settings.LogLevel
	cfg.Logging.Format = settings.LogFormat
	if settings.MetricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = settings.MetricsListen
	}
	if settings.TraceExporter != "" && settings.TraceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = settings.TraceExporter
		cfg.Tracing.Endpoint = settings.TraceEndpoint
	}
	return telemetry.NewTelemetry(cfg)
}

// runBootstrap wires the engine and executes one install or upgrade.
func runBootstrap(ctx context.Context, cmd *cobra.Command, opts *bootstrapOptions, operation, version string) error {
	settings, err := loadSettings(cmd, opts)
	if err != nil {
		return err
	}

	tel, err := newTelemetry(settings, version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	if settings.MetricsListen != "" {
		if err := tel.StartMetricsServer(); err != nil {
			tel.Logger.WithError(err).Warn("Metrics server failed to start")
		}
	}

	var j *journal.Journal
	if settings.JournalPath != "" {
		j, err = journal.New(journal.Config{Path: settings.JournalPath})
		if err == nil {
			if err := j.Init(ctx); err == nil {
				if err := j.Migrate(ctx); err != nil {
					tel.Logger.WithError(err).Warn("Run journal unavailable")
					_ = j.Close()
					j = nil
				}
			} else {
				tel.Logger.WithError(err).Warn("Run journal unavailable")
				j = nil
			}
		} else {
			tel.Logger.WithError(err).Warn("Run journal unavailable")
		}
		if j != nil {
			defer j.Close()
		}
	}

	eng, err := engine.New(engine.Config{
		Settings:  settings,
		Telemetry: tel,
		Journal:   j,
		Stdin:     os.Stdin,
		Stdout:    os.Stderr,
	})
	if err != nil {
		return err
	}

	var report *engine.Report
	switch operation {
	case engine.OpUpgrade:
		report, err = eng.Upgrade(ctx, opts.source)
	default:
		report, err = eng.Install(ctx, opts.source)
	}
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}

func printReport(report *engine.Report) {
	if jsonOutput {
		printJSON(report)
		return
	}
	fmt.Printf("%s completed: %s@%s\n", report.Operation, report.Version, report.Digest)
	fmt.Printf("  run:     %s\n", report.RunID)
	fmt.Printf("  history: %v\n", report.History)
	for _, w := range report.Warnings {
		log.Warn().Msg(w)
	}
}
