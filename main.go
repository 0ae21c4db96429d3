// Package main provides a domain monitoring tool that watches domains for registration changes
// and upcoming expiry, sending notifications when a domain becomes available or is about to expire.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mallocator/domain-watch/pkg/config"
	"github.com/mallocator/domain-watch/pkg/dns"
	"github.com/mallocator/domain-watch/pkg/domain"
	"github.com/mallocator/domain-watch/pkg/logger"
	"github.com/mallocator/domain-watch/pkg/metrics"
	"github.com/mallocator/domain-watch/pkg/notify"
	"github.com/mallocator/domain-watch/pkg/scheduler"
	"github.com/mallocator/domain-watch/pkg/state"
	"github.com/mallocator/domain-watch/pkg/web"
	"github.com/mallocator/domain-watch/pkg/whois"
)

var (
	configPath string
	envFile    string
	debug      bool

	log = logger.New()
)

var rootCmd = &cobra.Command{
	Use:           "domain-watch",
	Short:         "Watch domains for availability and expiry and send notifications",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check all domains now and then at every interval until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check [domains...]",
	Short: "Run a single pass over the given or configured domains",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), args)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the stored state of every domain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store state.Store) error {
			records, err := store.List(ctx)
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), records, time.Now())
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <domain>",
	Short: "Print the recent checks of a domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store state.Store) error {
			name := config.NormalizeDomain(args[0])
			rec, err := store.Get(ctx, name)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no history for %s", name)
			}
			return printHistory(cmd.OutOrStdout(), rec)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_FILE"), "Path to a YAML, JSON or TOML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Env file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("%v", err)
	}
}

// loadConfig builds the configuration from defaults, env file, config file, environment
// and flags, in that order. domains replace the configured list when given.
func loadConfig(domains []string, requireDomains bool) (*config.Config, error) {
	cfg := config.New(log)

	if err := cfg.LoadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	cfg.LoadFromEnv()

	if debug {
		cfg.Debug = true
	}
	if len(domains) > 0 {
		cfg.Domains = domains
	}
	log.SetDebug(cfg.Debug)

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		if requireDomains || !errors.Is(err, config.ErrNoDomains) {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return cfg, nil
}

type watcher struct {
	processor *domain.Processor
	store     state.Store
	metrics   *metrics.Metrics
}

func newWatcher(ctx context.Context, cfg *config.Config) (*watcher, error) {
	store, err := state.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	notifier, err := notify.New(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	m := metrics.New()
	p := domain.New(cfg, log, whois.New(cfg, log), dns.New(cfg, log), notifier, store, m)
	return &watcher{processor: p, store: store, metrics: m}, nil
}

func runDaemon(ctx context.Context) error {
	cfg, err := loadConfig(nil, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := newWatcher(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.store.Close(); err != nil {
			log.Warnf("Closing store failed: %v", err)
		}
	}()

	if err := w.store.Cleanup(ctx, cfg.Domains); err != nil {
		log.Warnf("Removing stale records failed: %v", err)
	}

	if cfg.ListenAddr != "" {
		srv := web.New(cfg.ListenAddr, w.store, w.metrics, log)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warnf("Web viewer shutdown failed: %v", err)
			}
		}()
	}

	log.Infof("Starting domain watcher with %d domains", len(cfg.Domains))
	return scheduler.New(w.processor, cfg.Domains, cfg.CheckInterval, log).Run(ctx)
}

func runOnce(ctx context.Context, domains []string) error {
	cfg, err := loadConfig(domains, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := newWatcher(ctx, cfg)
	if err != nil {
		return err
	}
	defer w.store.Close()

	scheduler.New(w.processor, cfg.Domains, cfg.CheckInterval, log).Pass(ctx)
	log.Infof("Domain checking completed")
	return nil
}

func withStore(ctx context.Context, fn func(context.Context, state.Store) error) error {
	cfg, err := loadConfig(nil, false)
	if err != nil {
		return err
	}
	store, err := state.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

// printStatus writes one line per record
func printStatus(out io.Writer, records []*state.Record, now time.Time) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tSTATUS\tEXPIRES\tDAYS\tREGISTRAR\tLAST CHECK")
	for _, rec := range records {
		expires, days := "-", "-"
		if rec.ExpiryDate != nil {
			expires = rec.ExpiryDate.Format("2006-01-02")
		}
		if d, ok := rec.DaysUntilExpiry(now); ok {
			days = fmt.Sprint(d)
		}
		registrar := rec.Registrar
		if registrar == "" {
			registrar = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", rec.Domain, rec.LastStatus, expires, days, registrar,
			rec.LastCheckedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

// printHistory writes the trailing log of a record, oldest first
func printHistory(out io.Writer, rec *state.Record) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s (%s)\n", rec.Domain, rec.LastStatus)
	for _, s := range rec.History {
		notified := s.Notified
		if notified == "" {
			notified = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.CheckedAt.UTC().Format(time.RFC3339), s.Status, notified, s.Details)
	}
	return tw.Flush()
}
