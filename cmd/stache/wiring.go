package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	_ "github.com/lib/pq"   // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kaizencorps/stache/pkg/artifacts"
	"github.com/kaizencorps/stache/pkg/config"
	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/keychain"
	"github.com/kaizencorps/stache/pkg/observability"
	"github.com/kaizencorps/stache/pkg/receipts"
	"github.com/kaizencorps/stache/pkg/scheduler"
	"github.com/kaizencorps/stache/pkg/service"
	"github.com/kaizencorps/stache/pkg/store"
	"github.com/kaizencorps/stache/pkg/token"
)

// stack is a fully wired service and the resources it holds.
type stack struct {
	svc     *service.Service
	runner  *scheduler.Runner
	obs     *observability.Provider
	closers []func() error
}

func (s *stack) Close(ctx context.Context) {
	if s.obs != nil {
		_ = s.obs.Shutdown(ctx)
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// databases caches one *sql.DB per driver and DSN.
type databases struct {
	open    map[string]*sql.DB
	closers *[]func() error
}

func (d *databases) get(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	key := driver + "|" + dsn
	if db, ok := d.open[key]; ok {
		return db, nil
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	d.open[key] = db
	*d.closers = append(*d.closers, db.Close)
	return db, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, dbs *databases) (store.Store, error) {
	if cfg.Driver == "memory" {
		return store.NewMemoryStore(), nil
	}
	db, err := dbs.get(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s, err := store.NewSQLStore(db, store.Dialect(cfg.Driver))
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func openLedger(ctx context.Context, cfg config.LedgerConfig, dbs *databases) (custody.Ledger, error) {
	if cfg.Driver == "memory" {
		return token.NewMemoryLedger(), nil
	}
	db, err := dbs.get(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	l := token.NewPostgresLedger(db)
	if err := l.Migrate(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func openReceipts(ctx context.Context, cfg config.ReceiptsConfig, dbs *databases) (receipts.Store, error) {
	var rs receipts.Store
	if cfg.Driver == "memory" {
		rs = receipts.NewMemoryStore()
	} else {
		db, err := dbs.get(ctx, "sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("receipts: %w", err)
		}
		sqlite, err := receipts.NewSQLiteStore(db)
		if err != nil {
			return nil, err
		}
		rs = sqlite
	}
	if cfg.Archive.Backend == "" {
		return rs, nil
	}
	archive, err := artifacts.Open(ctx, artifacts.Config{
		Backend:  artifacts.Backend(cfg.Archive.Backend),
		Dir:      cfg.Archive.Dir,
		Bucket:   cfg.Archive.Bucket,
		Prefix:   cfg.Archive.Prefix,
		Region:   cfg.Archive.Region,
		Endpoint: cfg.Archive.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("receipt archive: %w", err)
	}
	return receipts.NewArchiver(rs, archive), nil
}

// openStack wires every component named by cfg. Tables are created as each
// SQL-backed component is opened.
func openStack(ctx context.Context, cfg config.Config, directory custody.Directory, logger *slog.Logger) (_ *stack, err error) {
	st := &stack{}
	defer func() {
		if err != nil {
			st.Close(ctx)
		}
	}()
	dbs := &databases{open: make(map[string]*sql.DB), closers: &st.closers}

	records, err := openStore(ctx, cfg.Store, dbs)
	if err != nil {
		return nil, err
	}
	ledger, err := openLedger(ctx, cfg.Ledger, dbs)
	if err != nil {
		return nil, err
	}
	rs, err := openReceipts(ctx, cfg.Receipts, dbs)
	if err != nil {
		return nil, err
	}

	var locker scheduler.Locker
	if cfg.Scheduler.RedisAddr != "" {
		rl := scheduler.NewRedisLockerFromAddr(cfg.Scheduler.RedisAddr, cfg.Scheduler.RedisPassword, cfg.Scheduler.RedisDB)
		st.closers = append(st.closers, rl.Close)
		locker = rl
	}
	st.runner = scheduler.NewRunner(scheduler.Options{
		Interval:       cfg.Scheduler.Interval,
		FiresPerSecond: cfg.Scheduler.FiresPerSecond,
		Burst:          cfg.Scheduler.Burst,
		LockTTL:        cfg.Scheduler.LockTTL,
		Locker:         locker,
		Logger:         logger,
	})

	st.obs, err = observability.New(ctx, observability.Config{
		ServiceName:    "stache",
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
		Insecure:       cfg.Telemetry.Insecure,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return nil, err
	}

	if directory == nil {
		directory = keychain.NewMemory()
	}
	st.svc, err = service.New(service.Options{
		Store:         records,
		Directory:     directory,
		Ledger:        ledger,
		Scheduler:     st.runner,
		Receipts:      rs,
		Observability: st.obs,
		ActionTTL:     cfg.ActionTTL,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}
