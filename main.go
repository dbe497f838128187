package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "callwatch/internal/api/http"
	"callwatch/internal/auth"
	"callwatch/internal/calls/application"
	calls "callwatch/internal/calls/domain"
	"callwatch/internal/calls/infrastructure/memory"
	"callwatch/internal/calls/infrastructure/sqlstore"
	"callwatch/internal/calls/interfaces/panel"
	"callwatch/internal/calls/metrics"
	"callwatch/internal/calls/notify"
	"callwatch/internal/config"
	"callwatch/internal/db"
	"callwatch/internal/db/migrate"
	"callwatch/internal/logging"
	storemetrics "callwatch/internal/observability/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "callwatch",
		Short:         "Watch the reception call panel and announce new calls",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./callwatch.yml)")

	root.AddCommand(runCmd(&configPath))
	root.AddCommand(migrateCmd(&configPath))
	root.AddCommand(parseCmd(&configPath))
	root.AddCommand(tokenCmd(&configPath))
	return root
}

func runCmd(configPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the panel, reconcile calls and publish notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := cfg.ValidateCapture(); err != nil {
				logger.Error().Err(err).Msg("invalid config")
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg, logger, dryRun); err != nil {
				logger.Error().Err(err).Msg("callwatch stopped")
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "keep calls in memory and only log notifications")
	return cmd
}

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	for _, direction := range []string{"up", "down"} {
		cmd.AddCommand(&cobra.Command{
			Use:   direction,
			Short: "Migrate the call store " + direction,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, logger, err := load(*configPath, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				if err := migrate.Run(cfg.Database.Driver, cfg.Database.DSN, direction); err != nil {
					logger.Error().Err(err).Msg("migration failed")
					return err
				}
				logger.Info().Str("driver", cfg.Database.Driver).Str("direction", direction).Msg("migrations applied")
				return nil
			},
		})
	}
	return cmd
}

func parseCmd(configPath *string) *cobra.Command {
	var patient string
	cmd := &cobra.Command{
		Use:   "parse <label>",
		Short: "Show how a panel room label resolves against the branch table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load(*configPath, io.Discard)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			return printParse(cmd.OutOrStdout(), cfg, args[0], patient, time.Now().In(loc))
		},
	}
	cmd.Flags().StringVar(&patient, "patient", "", "patient name, to also print the call id")
	return cmd
}

func tokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for the call API and the live feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load(*configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.HTTP.AuthSecret == "" {
				return errors.New("config: http.auth_secret is required to issue tokens")
			}
			token, err := auth.IssueJWT([]byte(cfg.HTTP.AuthSecret), subject, auth.Role(role), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "display", "token subject, e.g. the display name")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "viewer or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

func printParse(out io.Writer, cfg *config.Config, label, patient string, now time.Time) error {
	parser := cfg.Parser()
	event, err := parser.Observe(calls.RawItem{Patient: patient, RoomLabel: label})
	if err != nil && !errors.Is(err, calls.ErrEmptyPatient) {
		return err
	}
	if errors.Is(err, calls.ErrEmptyPatient) {
		parsed := calls.ParseLabel(parser.Annotations.Strip(label), parser.Fallback, parser.Table)
		event = calls.ObservedEvent{Room: parsed.Room, Branch: parsed.Branch}
	}
	fmt.Fprintf(out, "room:   %s\n", event.Room)
	fmt.Fprintf(out, "branch: %s\n", event.Branch)
	fmt.Fprintf(out, "mode:   %s\n", calls.ModeOf(event.Room, cfg.Reconcile.RepeatPhrase))
	if patient != "" {
		fmt.Fprintf(out, "id:     %s\n", calls.BuildID(event.Patient, event.Room, event.Branch, now))
	}
	return nil
}

func load(path string, stderr io.Writer) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return nil, zerolog.Nop(), err
	}
	logger, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(stderr, "logging error: %v\n", err)
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

type callStore interface {
	application.CallRepository
	apihttp.CallLister
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, dryRun bool) error {
	var (
		repo   callStore
		health apihttp.Pinger
		conn   *sql.DB
	)
	if dryRun {
		repo = memory.NewCallRepository()
		logger.Warn().Msg("dry run: calls are kept in memory")
	} else {
		if cfg.Database.MigrateOnStart {
			if err := migrate.Run(cfg.Database.Driver, cfg.Database.DSN, "up"); err != nil {
				return err
			}
		}
		var err error
		conn, err = db.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer conn.Close()
		store, err := sqlstore.NewCallRepository(conn, sqlstore.Dialect(cfg.Database.Driver))
		if err != nil {
			return err
		}
		repo, health = store, store
		logger.Info().Str("driver", cfg.Database.Driver).Msg("connected to call store")
	}

	resolver := notify.NewTopicResolver(cfg.Branches, cfg.Notify.TopicSuffix)
	hub := notify.NewHub(resolver, logger, notify.WithAllowedOrigins(cfg.HTTP.AllowedOrigins...))
	publisher, closePublishers, err := buildPublisher(cfg, resolver, hub, logger, dryRun)
	if err != nil {
		return err
	}
	defer closePublishers()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	if conn != nil {
		storemetrics.RegisterStoreMetrics(reg, conn, cfg.Database.Driver, func() string {
			return time.Now().In(loc).Format(calls.DateLayout)
		}, logger)
	}
	reconciler, err := application.NewReconciler(repo, publisher,
		application.WithClock(systemClock{}),
		application.WithLocation(loc),
		application.WithRepeatPhrase(cfg.Reconcile.RepeatPhrase),
		application.WithDefaultCaller(cfg.Reconcile.DefaultCaller),
		application.WithConcurrency(cfg.Poll.Concurrency),
		application.WithRecorder(m),
		application.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	poller, err := application.NewPoller(reconciler, cfg.Parser(),
		application.WithInterval(cfg.Poll.Interval),
		application.WithWaitTimeout(cfg.Poll.WaitTimeout),
		application.WithPollerRecorder(m),
		application.WithPollerLogger(logger),
	)
	if err != nil {
		return err
	}
	factory, err := panel.NewSessionFactory(panel.Config{
		URL: cfg.Panel.URL,
		Selectors: panel.Selectors{
			Card:     cfg.Panel.Selectors.Card,
			Patient:  cfg.Panel.Selectors.Patient,
			Provider: cfg.Panel.Selectors.Provider,
			Room:     cfg.Panel.Selectors.Room,
		},
		Headless:        cfg.Panel.Headless,
		ExecPath:        cfg.Panel.ExecPath,
		NavigateTimeout: cfg.Panel.NavigateTimeout,
	}, logger)
	if err != nil {
		return err
	}
	supervisor, err := application.NewSupervisor(factory, poller, cfg.Poll.Cooldown, m, logger)
	if err != nil {
		return err
	}
	server, err := apihttp.NewServer(repo, health, apihttp.Options{
		Gatherer:   reg,
		Stream:     hub.HandleConnect,
		AuthSecret: []byte(cfg.HTTP.AuthSecret),
	}, logger)
	if err != nil {
		return err
	}

	logger.Info().
		Int("branches", len(cfg.Branches)).
		Str("fallback_branch", cfg.FallbackBranch()).
		Dur("interval", cfg.Poll.Interval).
		Msg("callwatch started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, cfg.HTTP.Addr)
	})
	g.Go(func() error {
		supervisor.Start(gctx)
		return nil
	})
	return g.Wait()
}

func buildPublisher(cfg *config.Config, resolver notify.TopicResolver, hub *notify.Hub, logger zerolog.Logger, dryRun bool) (application.Publisher, func(), error) {
	publishers := []application.Publisher{hub}
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("publisher close")
			}
		}
	}

	if cfg.Notify.Log || dryRun {
		publishers = append(publishers, notify.NewLoggingPublisher(logger, resolver))
	}
	if dryRun {
		return notify.NewMultiPublisher(publishers...), closeAll, nil
	}

	if cfg.Notify.MQTT.Enabled {
		p, err := notify.NewMQTTPublisher(notify.MQTTConfig{
			Broker:   cfg.Notify.MQTT.Broker,
			ClientID: cfg.Notify.MQTT.ClientID,
			Username: cfg.Notify.MQTT.Username,
			Password: cfg.Notify.MQTT.Password,
			QoS:      byte(cfg.Notify.MQTT.QoS),
			Retained: cfg.Notify.MQTT.Retained,
		}, resolver, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		publishers = append(publishers, p)
		closers = append(closers, p.Close)
	}
	if cfg.Notify.Kafka.Enabled {
		p, err := notify.NewKafkaPublisher(cfg.Notify.Kafka.Brokers, cfg.Notify.Kafka.Topic, resolver)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		publishers = append(publishers, p)
		closers = append(closers, p.Close)
	}
	if cfg.Notify.Webhook.URL != "" {
		p, err := notify.NewWebhookPublisher(cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Timeout, resolver)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		publishers = append(publishers, p)
	}
	multi := notify.NewMultiPublisher(publishers...)
	logger.Info().Int("sinks", multi.Len()).Msg("notification sinks ready")
	return multi, closeAll, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
