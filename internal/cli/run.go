package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/luckyPipewrench/nodewarden/internal/agent"
	"github.com/luckyPipewrench/nodewarden/internal/audit"
	"github.com/luckyPipewrench/nodewarden/internal/capability"
	"github.com/luckyPipewrench/nodewarden/internal/config"
	"github.com/luckyPipewrench/nodewarden/internal/credstore"
	"github.com/luckyPipewrench/nodewarden/internal/dispatch"
	"github.com/luckyPipewrench/nodewarden/internal/emit"
	"github.com/luckyPipewrench/nodewarden/internal/metrics"
	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
	"github.com/luckyPipewrench/nodewarden/internal/syncer"
)

func runCmd() *cobra.Command {
	var configFile string
	var apiURL string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the monitoring agent",
		Long: `Start the agent: fetch configuration from the API, run collection cycles,
and ship metric payloads.

With --dry-run the agent runs a single collection cycle against the current
configuration, prints the payload as JSON, and exits without contacting the
API.

Examples:
  nodewarden run --config /etc/nodewarden/nodewarden.yaml
  nodewarden run --api-url https://api.example.net
  nodewarden run --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("api-url") {
				cfg.APIURL = apiURL
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid config: %w", err)
				}
			}

			logger, err := audit.New(cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File)
			if err != nil {
				return fmt.Errorf("creating audit logger: %w", err)
			}
			defer logger.Close()
			if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
				logger.SetLevel(level)
			}

			m := metrics.New()
			emitter := buildEmitter(cfg)
			defer func() { _ = emitter.Close() }()

			prober := capability.NewProber(logger)
			prober.OnChange(func(name string, available bool) {
				emitter.Emit(context.Background(), "capability_change",
					map[string]any{"capability": name, "available": available})
			})
			registry := dispatch.New(logger, m, prober, &http.Client{})
			validator := remoteconfig.New(logger,
				remoteconfig.WithObserver(func(field, decision string) {
					m.RecordValidatorDecision(field, decision)
					switch decision {
					case remoteconfig.DecisionDisabled:
						emitter.Emit(context.Background(), "collector_disabled",
							map[string]any{"collector": field})
					case remoteconfig.DecisionForced:
						emitter.Emit(context.Background(), "unsafe_flag_forced",
							map[string]any{"field": field})
					case remoteconfig.DecisionClamped:
						emitter.Emit(context.Background(), "field_clamped",
							map[string]any{"field": field})
					case remoteconfig.DecisionDropped:
						emitter.Emit(context.Background(), "field_dropped",
							map[string]any{"field": field})
					}
				}))
			store := remoteconfig.NewStore(remoteconfig.Bootstrap())
			queue := syncer.NewQueue(cfg.QueueDepth, logger, m, emitter)
			ag := agent.New(registry, store, queue, logger, m)

			if dryRun {
				return runDry(ag, store, validator)
			}

			creds, err := credstore.Load(cfg.TokenFile, logger)
			if err != nil {
				if errors.Is(err, credstore.ErrMissingCredential) {
					return fmt.Errorf("no API token: set %s or provision %s", credstore.EnvVar, cfg.TokenFile)
				}
				return err
			}

			client := syncer.NewClient(cfg.APIURL, &http.Client{}, creds.Current, logger, m, emitter)
			sync := syncer.New(queue, client, store, validator, creds, logger, m, emitter)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger.LogStartup(Version, cfg.APIURL)
			emitter.Emit(ctx, "startup", map[string]any{"version": Version})

			// SIGHUP re-probes capabilities; the config reloader watches the
			// same signal for local file changes.
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for range hup {
					prober.ForceRefresh()
					registry.ResetBanner()
				}
			}()

			if configFile != "" {
				reloader := config.NewReloader(configFile)
				defer reloader.Close()
				go func() { _ = reloader.Start(ctx) }()
				go func() {
					for next := range reloader.Changes() {
						if level, err := zerolog.ParseLevel(next.Logging.Level); err == nil {
							logger.SetLevel(level)
						}
						old := emitter.ReloadSinks(buildSinks(next))
						for _, s := range old {
							_ = s.Close()
						}
						registry.ResetBanner()
						logger.LogLocalReload("applied", "log level and emit sinks rebuilt")
					}
				}()
			}

			srv := startSelfMetrics(cfg.Listen, m)
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			// Initial config fetch; failure is not fatal — the sync loop
			// carries configuration with every exchange.
			bootCtx, bootCancel := context.WithTimeout(ctx, 30*time.Second)
			if err := sync.Bootstrap(bootCtx); err != nil {
				fmt.Fprintf(os.Stderr, "nodewarden: initial config fetch failed, using bootstrap defaults: %v\n", err)
			}
			bootCancel()

			go sync.Run(ctx)
			ag.Run(ctx)

			logger.LogShutdown("signal received")
			emitter.Emit(context.Background(), "shutdown", nil)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "override the collection API base URL")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run one collection cycle, print the payload, and exit")

	return cmd
}

func loadConfig(configFile string) (*config.Config, error) {
	if configFile == "" {
		return config.Defaults(), nil
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// runDry executes a single cycle with every collector flag switched on, so
// operators can see everything this host is able to report.
func runDry(ag *agent.Agent, store *remoteconfig.Store, validator *remoteconfig.Validator) error {
	everything := remoteconfig.Remote{
		"enabled": true,
		"cpu":     true, "memory": true, "network": true, "partitions": true,
		"io": true, "processes": true, "temperatures": true, "fans": true,
		"smart_storage_health": true, "raid_storage_health": true,
		"fail2ban": true, "ipv4": true, "ipv6": true,
		"packages": map[string]any{"scan": true},
	}
	store.Swap(validator.Validate(everything))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	res := ag.CollectOnce(ctx)

	out := map[string]any{"data": res.Data, "statuses": res.Statuses}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func buildEmitter(cfg *config.Config) *emit.Emitter {
	return emit.NewEmitter(emit.DefaultHost(), buildSinks(cfg)...)
}

func buildSinks(cfg *config.Config) []emit.Sink {
	var sinks []emit.Sink
	if cfg.Emit.Webhook.Enabled {
		opts := []emit.WebhookOption{emit.WithWebhookTimeout(cfg.WebhookTimeout())}
		if cfg.Emit.Webhook.Token != "" {
			opts = append(opts, emit.WithBearerToken(cfg.Emit.Webhook.Token))
		}
		sinks = append(sinks, emit.NewWebhookSink(cfg.Emit.Webhook.URL, opts...))
	}
	if cfg.Emit.Syslog.Enabled {
		if s, err := emit.NewSyslogSink(cfg.Emit.Syslog.Tag); err == nil {
			sinks = append(sinks, s)
		} else {
			fmt.Fprintf(os.Stderr, "nodewarden: syslog sink unavailable: %v\n", err)
		}
	}
	return sinks
}

func startSelfMetrics(listen string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.PrometheusHandler())
	mux.HandleFunc("/healthz", m.HealthHandler())
	mux.HandleFunc("/stats", m.StatsHandler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "nodewarden: self-metrics listener failed: %v\n", err)
		}
	}()
	return srv
}
