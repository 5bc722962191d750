// Command promo-ingest bulk-imports promo codes from gzip-compressed files.
//
// Each line holds CODE;TYPE;VALUE[;MAX_USES]. Codes already stored, or seen
// earlier in the run, are skipped and counted as duplicates.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/cookieshop/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		expected    uint
		fpr         float64
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&expected, "expected-codes", 1_000_000, "expected number of new codes, sizes the bloom filter")
	flag.Float64Var(&fpr, "fpr", 0.001, "bloom filter false positive rate")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: promo-ingest [flags] file.gz [file.gz ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, expected, fpr); err != nil {
		slog.Error("promo ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, expected uint, fpr float64) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	ing, err := newIngester(ctx, postgres.NewPromoRepository(pool), expected, fpr)
	if err != nil {
		return errors.Wrap(err, "prepare ingest")
	}

	stats, err := ing.ingestFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "ingest files")
	}

	slog.Info("ingest totals",
		slog.Int64("inserted", stats.Inserted),
		slog.Int64("duplicates", stats.Duplicates),
		slog.Int64("invalid", stats.Invalid),
	)
	return nil
}
