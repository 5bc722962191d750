package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cookieshop/internal/domain/promo"
)

const (
	minBloomCapacity = 1 << 16
	progressEvery    = 100_000
)

// promoStore is the persistence the ingester needs.
type promoStore interface {
	Codes(ctx context.Context) ([]string, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, p *promo.Promo) error
}

// record is one parsed input line.
type record struct {
	Code    string
	Type    promo.Type
	Value   decimal.Decimal
	MaxUses *int
}

// parseLine parses CODE;TYPE;VALUE[;MAX_USES]. ok is false for blank and
// comment lines.
func parseLine(line string) (rec record, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return record{}, false, nil
	}

	fields := strings.Split(line, ";")
	if len(fields) < 3 || len(fields) > 4 {
		return record{}, false, errors.Errorf("want 3 or 4 fields, got %d", len(fields))
	}

	rec.Code = promo.NormalizeCode(fields[0])
	if rec.Code == "" {
		return record{}, false, errors.New("empty code")
	}

	rec.Type = promo.Type(strings.ToUpper(strings.TrimSpace(fields[1])))
	switch {
	case !rec.Type.Valid():
		return record{}, false, errors.Errorf("unknown type %q", fields[1])
	case rec.Type == promo.TypeProductPercent:
		return record{}, false, errors.New("PRODUCT_PERCENT needs a product link, create it through the admin API")
	}

	value, err := decimal.NewFromString(strings.TrimSpace(fields[2]))
	if err != nil {
		return record{}, false, errors.Wrapf(err, "parse value %q", fields[2])
	}
	if value.IsNegative() {
		return record{}, false, errors.New("value must not be negative")
	}
	if rec.Type == promo.TypeOrderPercent && value.GreaterThan(decimal.NewFromInt(100)) {
		return record{}, false, errors.New("percentage must not exceed 100")
	}
	rec.Value = value

	if len(fields) == 4 {
		if raw := strings.TrimSpace(fields[3]); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return record{}, false, errors.Errorf("invalid max uses %q", fields[3])
			}
			rec.MaxUses = &n
		}
	}
	return rec, true, nil
}

// Stats counts the outcome of an ingest run.
type Stats struct {
	Inserted   int64
	Duplicates int64
	Invalid    int64
}

type ingester struct {
	store promoStore
	now   func() time.Time

	mu     sync.Mutex
	filter *bloom.BloomFilter
	// claimed holds codes accepted during this run.
	claimed map[string]struct{}

	inserted, duplicates, invalid atomic.Int64
}

// newIngester preloads a bloom filter with every stored code so most new
// codes skip the database existence check.
func newIngester(ctx context.Context, store promoStore, expected uint, fpr float64) (*ingester, error) {
	existing, err := store.Codes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load existing codes")
	}

	capacity := max(uint(len(existing))+expected, minBloomCapacity)
	filter := bloom.NewWithEstimates(capacity, fpr)
	for _, code := range existing {
		filter.AddString(promo.NormalizeCode(code))
	}
	slog.Info("bloom filter ready",
		slog.Int("existing_codes", len(existing)),
		slog.Uint64("capacity", uint64(capacity)),
	)

	return &ingester{
		store:   store,
		now:     time.Now,
		filter:  filter,
		claimed: make(map[string]struct{}),
	}, nil
}

// ingestFiles streams every file concurrently.
func (ing *ingester) ingestFiles(ctx context.Context, files []string) (Stats, error) {
	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			return ing.ingestFile(ctx, path)
		})
	}
	if err := g.Wait(); err != nil {
		return ing.stats(), err
	}
	return ing.stats(), nil
}

func (ing *ingester) stats() Stats {
	return Stats{
		Inserted:   ing.inserted.Load(),
		Duplicates: ing.duplicates.Load(),
		Invalid:    ing.invalid.Load(),
	}
}

func (ing *ingester) ingestFile(ctx context.Context, path string) error {
	var lineNo, count uint64
	err := streamGzFile(ctx, path, func(line string) error {
		lineNo++
		rec, ok, err := parseLine(line)
		if err != nil {
			ing.invalid.Add(1)
			slog.Warn("skipping invalid line",
				slog.String("file", path),
				slog.Uint64("line", lineNo),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if !ok {
			return nil
		}
		if err := ing.insert(ctx, rec); err != nil {
			return errors.Wrapf(err, "%s:%d", path, lineNo)
		}
		count++
		if count%progressEvery == 0 {
			slog.Info("ingest progress", slog.String("file", path), slog.Uint64("records", count))
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "ingest %s", path)
	}

	slog.Info("file complete", slog.String("file", path), slog.Uint64("records", count))
	return nil
}

// insert stores rec unless its code is already known.
func (ing *ingester) insert(ctx context.Context, rec record) error {
	fresh, err := ing.claim(ctx, rec.Code)
	if err != nil {
		return err
	}
	if !fresh {
		ing.duplicates.Add(1)
		return nil
	}

	now := ing.now()
	p := &promo.Promo{
		ID:        uuid.NewString(),
		Code:      rec.Code,
		Type:      rec.Type,
		Value:     rec.Value,
		MaxUses:   rec.MaxUses,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ing.store.Create(ctx, p); err != nil {
		// Lost a race with a concurrent writer outside this run.
		if errors.Is(err, promo.ErrCodeTaken) {
			ing.duplicates.Add(1)
			return nil
		}
		return errors.Wrapf(err, "create %s", rec.Code)
	}
	ing.inserted.Add(1)
	return nil
}

// claim reports whether code is new, reserving it for the caller. Only bloom
// positives that were not claimed in this run are checked in the database.
func (ing *ingester) claim(ctx context.Context, code string) (bool, error) {
	ing.mu.Lock()
	defer ing.mu.Unlock()

	if _, ok := ing.claimed[code]; ok {
		return false, nil
	}
	if ing.filter.TestString(code) {
		exists, err := ing.store.CodeExists(ctx, code)
		if err != nil {
			return false, errors.Wrapf(err, "check %s", code)
		}
		if exists {
			return false, nil
		}
	}
	ing.filter.AddString(code)
	ing.claimed[code] = struct{}{}
	return true, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
