// Command holdctl runs operator tasks against the reservations database:
// a one-off sweep and the hold TTL setting.
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

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/app"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/clock"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/config"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/events"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/logging"
	"github.com/cimillas/ultimate-ticket/services/reservations/internal/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var errUsage = errors.New("usage")

type sweepRunner interface {
	ExpireAndPromote(ctx context.Context) (int, error)
}

type ttlAdmin interface {
	ReadTTLMinutes(ctx context.Context) (int, error)
	UpdateDefaultTTLMinutes(ctx context.Context, minutes int, adminID string) (domain.HoldSettings, error)
	History(ctx context.Context, limit int) ([]domain.SettingsChange, error)
}

type commands struct {
	sweeper  sweepRunner
	settings ttlAdmin
	out      io.Writer
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			printHelp(os.Stderr)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printHelp(os.Stdout)
		return nil
	}

	if _, err := config.LoadEnvFile(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Store != config.StorePostgres {
		return fmt.Errorf("holdctl needs STORE=%s, got %q", config.StorePostgres, cfg.Store)
	}
	logger, err := logging.New(cfg.Env, "warn")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(connectCtx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Warn("close kafka writer", zap.Error(err))
			}
		}()
		publisher = kp
	}

	clk := clock.NewSystem()
	settings := app.NewSettingsService(postgres.NewSettingsRepository(pool), clk, cfg.HoldTTLMinutes, logger)
	sweeper := newSweeper(
		postgres.NewHoldRepository(pool, postgres.WithLockTimeout(cfg.ZoneLockTimeout)),
		settings, clk, publisher, logger,
	)

	return commands{sweeper: sweeper, settings: settings, out: os.Stdout}.execute(ctx, args)
}

// newSweeper builds the sweeper behind "holdctl sweep". Its expirations and
// promotions go to the same topic as the service's own sweeps. It runs
// without the sweep lease: a sweep is safe next to a running service because
// every zone is swept under its own lock.
func newSweeper(repo app.HoldStore, settings app.TTLSource, clk clock.Clock, publisher events.Publisher, logger *zap.Logger) *app.Sweeper {
	return app.NewSweeper(repo, settings, clk,
		app.WithSweepLogger(logger),
		app.WithSweepPublisher(publisher),
	)
}

func (c commands) execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "sweep":
		return c.sweep(ctx, args[1:])
	case "ttl":
		if len(args) < 2 {
			return errUsage
		}
		switch args[1] {
		case "get":
			return c.ttlGet(ctx, args[2:])
		case "set":
			return c.ttlSet(ctx, args[2:])
		}
		return fmt.Errorf("%w: unknown ttl command %q", errUsage, args[1])
	case "history":
		return c.history(ctx, args[1:])
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func (c commands) sweep(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	changed, err := c.sweeper.ExpireAndPromote(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(c.out, "changed %d holds\n", changed)
	return nil
}

func (c commands) ttlGet(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("ttl get", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	minutes, err := c.settings.ReadTTLMinutes(ctx)
	if err != nil {
		return fmt.Errorf("read ttl: %w", err)
	}
	fmt.Fprintf(c.out, "%d\n", minutes)
	return nil
}

func (c commands) ttlSet(ctx context.Context, args []string) error {
	var minutes int
	var admin string
	flagSet := pflag.NewFlagSet("ttl set", pflag.ContinueOnError)
	flagSet.IntVar(&minutes, "minutes", 0, "new hold ttl in minutes")
	flagSet.StringVar(&admin, "admin", "", "admin id recorded in the audit trail")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	settings, err := c.settings.UpdateDefaultTTLMinutes(ctx, minutes, admin)
	if err != nil {
		return fmt.Errorf("update ttl: %w", err)
	}
	fmt.Fprintf(c.out, "hold ttl set to %d minutes by %s\n", settings.TTLMinutes, settings.UpdatedBy)
	return nil
}

func (c commands) history(ctx context.Context, args []string) error {
	var limit int
	flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
	flagSet.IntVarP(&limit, "limit", "n", 20, "number of changes to show")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	changes, err := c.settings.History(ctx, limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANGED AT\tMINUTES\tBY")
	for _, ch := range changes {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", ch.ChangedAt.Format(time.RFC3339), ch.TTLMinutes, ch.ChangedBy)
	}
	return tw.Flush()
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `holdctl - operator tasks for the reservations service.

Reads DATABASE_URL and the other service settings from the environment
or the nearest .env file.

Usage:
  holdctl sweep                                  expire overdue holds and promote waiters once
  holdctl ttl get                                print the current hold ttl
  holdctl ttl set --minutes N --admin ID         change the hold ttl
  holdctl history [--limit N]                    show recent ttl changes
`)
}
