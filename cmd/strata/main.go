// strata runs the time-series ingestion chain over a configured collection
// backend and moves documents in and out of collections.
//
//	strata run     -config strata.yaml < points.jsonl
//	strata dump    -config strata.yaml -collection hosts [-filter oql] > hosts.dump
//	strata restore -config strata.yaml -collection hosts < hosts.dump
//	strata archive -dir /var/lib/strata/archive -resolution 1m [-from ms] [-to ms]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/strata/config"
	"github.com/xtxerr/strata/internal/collection"
	"github.com/xtxerr/strata/internal/collection/factory"
	serrors "github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/filter"
	"github.com/xtxerr/strata/internal/logging"
	"github.com/xtxerr/strata/internal/metrics"
	"github.com/xtxerr/strata/internal/oql"
	"github.com/xtxerr/strata/internal/timeseries"
	"github.com/xtxerr/strata/internal/timeseries/archive"
	"github.com/xtxerr/strata/internal/timeseries/journal"
	"github.com/xtxerr/strata/internal/timeseries/retention"
)

// Version is set at build time via ldflags
var Version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, "usage: strata <run|dump|restore|archive> [flags]\n")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = run(os.Args[2:])
	case "dump":
		err = dump(os.Args[2:])
	case "restore":
		err = restore(os.Args[2:])
	case "archive":
		err = summarize(os.Args[2:])
	case "version":
		fmt.Println(Version)
	default:
		usage()
	}
	if err != nil {
		slog.Error("strata failed", "command", os.Args[1], "error", err,
			"retriable", serrors.IsRetriable(err))
		os.Exit(exitCode(err))
	}
}

// exitCode maps err onto the sysexits codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case serrors.IsConfigError(err):
		return 78 // EX_CONFIG
	case serrors.IsQueryError(err):
		return 65 // EX_DATAERR
	case serrors.IsRetriable(err):
		return 75 // EX_TEMPFAIL
	}
	return 1
}

// loadConfig reads path, falling back to the defaults when it does not
// exist, and initializes logging from it.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = config.DefaultConfig()
	}
	// Logs go to stderr; dump writes its frames to stdout.
	logging.InitWriter(os.Stderr, logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	return cfg, nil
}

func run(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "strata.yaml", "config file path")
	metricsListen := fs.String("metrics", "", "metrics listen address (overrides config)")
	fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *metricsListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *metricsListen
	}

	log := logging.Component("strata")
	log.Info("starting", "version", Version, "backend", cfg.Collections.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	f, err := factory.Open(ctx, cfg.Collections)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}

	pipeline := timeseries.Config{
		FlushPeriod:    cfg.TimeSeries.FlushPeriod,
		FlushOffset:    cfg.TimeSeries.FlushOffset,
		PclPrecision:   cfg.TimeSeries.PclPrecision,
		SketchAccuracy: cfg.TimeSeries.SketchAccuracy,
	}

	var srv *http.Server
	if cfg.Metrics.Enabled {
		pipeline.Metrics = metrics.New(prometheus.DefaultRegisterer)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("serving metrics", "listen", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	opts := timeseries.Options{
		Collection:       cfg.TimeSeries.Collection,
		Resolutions:      cfg.TimeSeries.Resolutions,
		Pipeline:         pipeline,
		JournalDir:       cfg.TimeSeries.JournalDir,
		Journal:          journal.Options{Sync: journal.SyncMode(cfg.TimeSeries.JournalSync)},
		CheckpointPeriod: cfg.TimeSeries.CheckpointPeriod,
	}
	var arch *archive.Writer
	if cfg.TimeSeries.ArchiveDir != "" {
		archOpts := archive.DefaultOptions()
		archOpts.Compression = archive.ParseCompressionType(cfg.TimeSeries.ArchiveCompression)
		arch = archive.NewWriter(cfg.TimeSeries.ArchiveDir, archOpts)
		opts.Listeners = append(opts.Listeners, arch)
		log.Info("archiving flushes", "dir", cfg.TimeSeries.ArchiveDir)
	}

	ts, err := timeseries.Open(ctx, f, opts)
	if err != nil {
		f.Close(context.Background())
		return fmt.Errorf("open time series: %w", err)
	}

	if rc := cfg.TimeSeries.Retention; rc.Period > 0 && (len(rc.Rules) > 0 || rc.Archive > 0) {
		policy := retention.Policy{
			Buckets:    make(map[time.Duration]time.Duration, len(rc.Rules)),
			ArchiveDir: cfg.TimeSeries.ArchiveDir,
			Archive:    rc.Archive,
		}
		for _, r := range rc.Rules {
			policy.Buckets[r.Resolution] = r.Keep
		}
		go retention.ForTimeSeries(ts, policy).Run(ctx, rc.Period)
	}

	ingested, ingestErr := ingest(ctx, os.Stdin, ts)
	log.Info("input finished", "points", ingested, "error", ingestErr)

	// Final flush and backend close run on a fresh deadline; ctx may
	// already be cancelled by a signal.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
	defer cancel()

	var errs []error
	if ingestErr != nil && !errors.Is(ingestErr, context.Canceled) {
		errs = append(errs, ingestErr)
	}
	if err := ts.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close time series: %w", err))
	}
	if arch != nil {
		files, rows := arch.Stats()
		log.Info("archive closed", "files", files, "buckets", rows)
		arch.Close()
	}
	if err := f.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	log.Info("stopped")
	return errors.Join(errs...)
}

// openCollection opens the backend of cfgPath and the named collection.
func openCollection(ctx context.Context, cfgPath, name string) (collection.Factory, collection.DocumentCollection, error) {
	if name == "" {
		return nil, nil, errors.New("-collection is required")
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	f, err := factory.Open(ctx, cfg.Collections)
	if err != nil {
		return nil, nil, fmt.Errorf("open backend: %w", err)
	}
	c, err := f.GetCollection(ctx, name)
	if err != nil {
		f.Close(ctx)
		return nil, nil, err
	}
	return f, c, nil
}

func dump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	cfgPath := fs.String("config", "strata.yaml", "config file path")
	name := fs.String("collection", "", "collection to dump")
	query := fs.String("filter", "", "OQL filter (default: everything)")
	fs.Parse(args)

	var flt filter.Filter
	if *query != "" {
		var err error
		if flt, err = oql.Parse(*query); err != nil {
			return err
		}
	}

	ctx := context.Background()
	f, c, err := openCollection(ctx, *cfgPath, *name)
	if err != nil {
		return err
	}
	defer f.Close(ctx)

	n, err := collection.Dump(ctx, c, collection.OrEmpty(flt), os.Stdout)
	logging.Component("strata").Info("dumped", "collection", c.Name(), "documents", n)
	return err
}

func restore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	cfgPath := fs.String("config", "strata.yaml", "config file path")
	name := fs.String("collection", "", "collection to restore into")
	batch := fs.Int("batch", config.DefaultBatchSize, "documents per save")
	fs.Parse(args)

	ctx := context.Background()
	f, c, err := openCollection(ctx, *cfgPath, *name)
	if err != nil {
		return err
	}
	defer f.Close(ctx)

	n, err := collection.Restore(ctx, c, os.Stdin, *batch)
	logging.Component("strata").Info("restored", "collection", c.Name(), "documents", n)
	return err
}

func summarize(args []string) error {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	dir := fs.String("dir", "", "archive directory")
	resolution := fs.Duration("resolution", time.Minute, "bucket resolution")
	from := fs.Int64("from", 0, "first bucket begin (epoch ms)")
	to := fs.Int64("to", time.Now().UnixMilli(), "last bucket begin (epoch ms)")
	fs.Parse(args)

	if *dir == "" {
		return errors.New("-dir is required")
	}
	logging.InitWriter(os.Stderr, slog.LevelInfo, false)

	ctx := context.Background()
	q, err := archive.NewQuerier(ctx, *dir)
	if err != nil {
		return err
	}
	defer q.Close()

	summaries, err := q.Summarize(ctx, *resolution, *from, *to)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		mean := 0.0
		if s.Count > 0 {
			mean = s.Sum / float64(s.Count)
		}
		fmt.Printf("%-40s buckets=%d count=%d min=%g max=%g mean=%g first=%s last=%s\n",
			s.Series, s.Buckets, s.Count, s.Min, s.Max, mean,
			time.UnixMilli(s.First).UTC().Format(time.RFC3339), time.UnixMilli(s.Last).UTC().Format(time.RFC3339))
	}
	return nil
}
