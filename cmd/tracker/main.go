// Command tracker runs one reconciliation pass over all open shipments and
// prints a summary. With -lookup it queries a single tracking number instead,
// needing no database or Redis.
//
//	tracker
//	tracker -lookup 1Z999AA10123456784
//	tracker -lookup -carrier afs MGS12345
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/parcelhub/backend-tracking/internal/app"
	"github.com/parcelhub/backend-tracking/internal/batch"
	"github.com/parcelhub/backend-tracking/internal/carrier"
	"github.com/parcelhub/backend-tracking/internal/config"
	"github.com/parcelhub/backend-tracking/internal/events"
	"github.com/parcelhub/backend-tracking/internal/lock"
	"github.com/parcelhub/backend-tracking/internal/obs"
	"github.com/parcelhub/backend-tracking/internal/ratelimit"
	"github.com/parcelhub/backend-tracking/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	lookup := flag.Bool("lookup", false, "query a single tracking number instead of running the batch")
	carrierFlag := flag.String("carrier", "", "carrier tag for -lookup (ups, dhl, fedex, gls, afs, royal); detected from the number when omitted")
	logLevel := flag.String("log-level", "warn", "log verbosity")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [-lookup TRACKING_NUMBER]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *lookup {
		return runLookup(*carrierFlag, *logLevel)
	}
	if flag.NArg() != 0 {
		flag.Usage()
		return 2
	}
	return runBatch(*logLevel)
}

func runBatch(logLevel string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		return 1
	}
	logger := obs.NewLogger("console", logLevel)
	obs.MustRegisterDomainMetrics("tracking", nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		return 1
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse redis url: %v\n", err)
		return 1
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "ping redis: %v\n", err)
		return 1
	}

	shipments := store.NewPostgres(pool)
	tracker := &batch.Tracker{
		Store:    shipments,
		Registry: app.BuildCarriers(cfg, logger).Registry,
		Bus: &events.Bus{
			Store:     shipments,
			Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}},
		},
		Locker: lock.Locker{R: redisClient},
		Budget: ratelimit.CarrierBudget{
			Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "carrier:budget:"},
			Window:  cfg.CarrierRateWindow,
			Max:     cfg.CarrierRateMax,
		},
		PerCarrier:  cfg.BatchPerCarrier,
		CallTimeout: cfg.CarrierTimeout,
		LockTTL:     cfg.BatchLockTTL,
		Logger:      logger,
	}

	report, err := tracker.Run(ctx)
	if err != nil {
		if errors.Is(err, batch.ErrRunInProgress) {
			fmt.Fprintln(os.Stderr, "another batch run is already in progress")
			return 1
		}
		fmt.Fprintf(os.Stderr, "batch run: %v\n", err)
		return 1
	}

	printReport(os.Stdout, report)
	return 0
}

func printReport(w io.Writer, report batch.Report) {
	duration := report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)
	fmt.Fprintf(w, "Reconciled %d shipment(s) in %s\n", report.Total, duration)
	fmt.Fprintf(w, "  processed: %d\n", report.Processed)
	fmt.Fprintf(w, "  updated:   %d\n", report.Updated)
	fmt.Fprintf(w, "  unchanged: %d\n", report.Unchanged)
	fmt.Fprintf(w, "  not found: %d\n", report.NotFound)
	fmt.Fprintf(w, "  failed:    %d\n", report.Failed)
	fmt.Fprintf(w, "  skipped:   %d\n", report.Skipped)
	for _, runErr := range report.Errors {
		fmt.Fprintf(w, "  error: %s (%s): %s\n", runErr.TrackingNumber, runErr.Carrier, runErr.Message)
	}
}

func runLookup(carrierFlag, logLevel string) int {
	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}
	number := strings.TrimSpace(flag.Arg(0))

	cfg, err := config.LoadCarriers()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		return 1
	}
	logger := obs.NewLogger("console", logLevel)
	carriers := app.BuildCarriers(cfg, logger)

	var tag carrier.Tag
	if carrierFlag != "" {
		parsed, ok := carrier.ParseTag(carrierFlag)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown carrier %q, supported: %v\n", carrierFlag, carriers.Registry.Supported())
			return 2
		}
		tag = parsed
	} else {
		tag = carrier.Detect(number)
		if tag == carrier.TagUnknown {
			fmt.Fprintf(os.Stderr, "could not detect a carrier for %q, pass -carrier explicitly\n", number)
			return 2
		}
	}

	client, err := carriers.Registry.Resolve(tag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve carrier: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CarrierTimeout)
	defer cancel()

	result, err := client.Track(ctx, number)
	if err != nil {
		fmt.Fprintf(os.Stderr, "track %s via %s: %v\n", number, tag, err)
		return 1
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		return 1
	}
	return 0
}

func openDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "tracking-cli"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
