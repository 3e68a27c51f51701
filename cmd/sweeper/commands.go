package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sweeper/internal/falcon"
	"sweeper/internal/platform/config"
	"sweeper/internal/platform/logger"
	"sweeper/internal/platform/metrics"
	"sweeper/internal/platform/tracer"
	"sweeper/internal/purge"
	"sweeper/internal/resolver"
	"sweeper/internal/tenant"
	dErrors "sweeper/pkg/domain-errors"
)

// app holds the persistent flags shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	action      string
	sslVerify   bool
	debug       bool
	envFile     string
	parentName  string
	metricsFile string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "sweeper",
		Short:         "Purge stale users and hosts across Falcon tenants",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.action, "action", string(purge.ModeSimulate), "simulate reports matches only, delete removes them")
	flags.BoolVar(&a.sslVerify, "ssl-verify", true, "verify the API's TLS certificate")
	flags.BoolVar(&a.debug, "debug", false, "log every API request and response body")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file holding CLIENT_ID and CLIENT_SECRET")
	flags.StringVar(&a.parentName, "parent-name", "", "display name of the parent tenant (default $FALCON_PARENT_NAME)")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file at exit")

	root.AddCommand(a.usersCmd(), a.hostsCmd())
	return root
}

func (a *app) usersCmd() *cobra.Command {
	var (
		file         string
		connectChild bool
	)
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Delete console users listed one email per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			emails, err := readEmailFile(file)
			if err != nil {
				return &exitError{code: exitSetupFailure, err: err}
			}
			return a.sweep(cmd.Context(), connectChild, func(ctx context.Context, s *purge.Sweeper) purge.Summary {
				return s.Users(ctx, emails)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "users.txt", "file with one email address per line")
	cmd.Flags().BoolVar(&connectChild, "connect-child", true, "also search child tenants")
	return cmd
}

func (a *app) hostsCmd() *cobra.Command {
	var (
		hosts        string
		connectChild bool
	)
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Hide hosts given as a comma-delimited list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list := purge.ParseHosts(hosts)
			if len(list) == 0 {
				return &exitError{code: exitSetupFailure, err: dErrors.New(dErrors.CodeValidation, "hosts must not be blank")}
			}
			return a.sweep(cmd.Context(), connectChild, func(ctx context.Context, s *purge.Sweeper) purge.Summary {
				return s.Hosts(ctx, list)
			})
		},
	}
	cmd.Flags().StringVar(&hosts, "hosts", "", "comma-delimited hostnames")
	cmd.Flags().BoolVar(&connectChild, "connect-child", false, "also search child tenants")
	_ = cmd.MarkFlagRequired("hosts")
	return cmd
}

func readEmailFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "could not open "+path)
	}
	defer f.Close()
	return purge.ReadEmails(f)
}

// sweep wires configuration, logging, metrics and the tenant registry, logs
// in, and hands a Sweeper to run.
func (a *app) sweep(ctx context.Context, connectChildren bool, run func(context.Context, *purge.Sweeper) purge.Summary) (err error) {
	mode, err := purge.ParseMode(a.action)
	if err != nil {
		return &exitError{code: exitSetupFailure, err: err}
	}
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return &exitError{code: exitSetupFailure, err: err}
	}

	level := cfg.LogLevel
	if a.debug {
		level = "debug"
	}
	log, err := logger.New(a.stderr, level, cfg.LogFormat)
	if err != nil {
		return &exitError{code: exitSetupFailure, err: err}
	}
	log = log.With(zap.String("run_id", uuid.NewString()))
	defer func() { _ = log.Sync() }()

	m := metrics.New()
	if a.metricsFile != "" {
		defer func() {
			if werr := m.WriteTextfile(a.metricsFile); werr != nil {
				log.Warn("could not write metrics file", zap.String("path", a.metricsFile), zap.Error(werr))
			}
		}()
	}
	tr := tracer.NewOTel()

	factory := tenant.NewClientFactory(falcon.Config{
		BaseURL:    cfg.APIBaseURL(),
		Timeout:    cfg.Timeout,
		RateLimit:  rate.Limit(cfg.RateLimitRPS),
		Burst:      cfg.RateLimitBurst,
		MaxRetries: cfg.MaxRetries,
	}, falcon.WithLogger(log), falcon.WithMetrics(m))

	registry := tenant.NewRegistry(factory,
		tenant.WithLogger(log),
		tenant.WithMetrics(m),
		tenant.WithTracer(tr),
	)
	registry.Configure(cfg.ClientID, cfg.ClientSecret,
		tenant.WithTLSVerify(a.sslVerify),
		tenant.WithDebug(a.debug),
	)

	parentName := a.parentName
	if parentName == "" {
		parentName = cfg.ParentName
	}
	if err := registry.Login(ctx, connectChildren, parentName); err != nil {
		log.Error("login failed", zap.Error(err))
		return &exitError{code: exitSetupFailure, err: err}
	}

	res := resolver.New(registry,
		resolver.WithLogger(log),
		resolver.WithMetrics(m),
		resolver.WithTracer(tr),
	)
	sum := run(ctx, purge.New(res, mode, a.stdout, purge.WithLogger(log)))

	log.Info("sweep finished",
		zap.String("mode", string(mode)),
		zap.Int("processed", sum.Processed),
		zap.Int("simulated", sum.Simulated),
		zap.Int("deleted", sum.Deleted),
		zap.Int("not_found", sum.NotFound),
		zap.Int("failed", sum.Failed),
	)
	if sum.Failed > 0 {
		return &exitError{
			code: exitKeyFailures,
			err:  fmt.Errorf("%d of %d keys failed: %w", sum.Failed, sum.Processed, multierr.Errors(sum.Err)[0]),
		}
	}
	return nil
}
