// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
	"github.com/JakeFAU/appgallery-ingest/internal/store"
)

var (
	selectInfoSQL = "SELECT " + infoColumns + " FROM app_info WHERE app_id = $1"

	selectMetricSQL = "SELECT " + metricColumns + ` FROM app_metrics WHERE app_id = $1
	ORDER BY created_at DESC, id DESC LIMIT 1`

	selectRatingSQL = "SELECT " + ratingColumns + ` FROM app_rating WHERE app_id = $1
	ORDER BY created_at DESC, id DESC LIMIT 1`

	upsertInfoSQL = "INSERT INTO app_info (" + infoColumns + ") VALUES (" + placeholders(43) + `)
ON CONFLICT (app_id) DO UPDATE SET
	alliance_app_id = EXCLUDED.alliance_app_id,
	name = EXCLUDED.name,
	pkg_name = EXCLUDED.pkg_name,
	dev_id = EXCLUDED.dev_id,
	developer_name = EXCLUDED.developer_name,
	dev_en_name = EXCLUDED.dev_en_name,
	supplier = EXCLUDED.supplier,
	kind_id = EXCLUDED.kind_id,
	kind_name = EXCLUDED.kind_name,
	tag_name = EXCLUDED.tag_name,
	kind_type_id = EXCLUDED.kind_type_id,
	kind_type_name = EXCLUDED.kind_type_name,
	icon_url = EXCLUDED.icon_url,
	brief_desc = EXCLUDED.brief_desc,
	description = EXCLUDED.description,
	privacy_url = EXCLUDED.privacy_url,
	ctype = EXCLUDED.ctype,
	detail_id = EXCLUDED.detail_id,
	app_level = EXCLUDED.app_level,
	jocat_id = EXCLUDED.jocat_id,
	iap = EXCLUDED.iap,
	hms = EXCLUDED.hms,
	tariff_type = EXCLUDED.tariff_type,
	packing_type = EXCLUDED.packing_type,
	order_app = EXCLUDED.order_app,
	denpend_gms = EXCLUDED.denpend_gms,
	denpend_hms = EXCLUDED.denpend_hms,
	force_update = EXCLUDED.force_update,
	img_tag = EXCLUDED.img_tag,
	is_pay = EXCLUDED.is_pay,
	is_disciplined = EXCLUDED.is_disciplined,
	is_shelves = EXCLUDED.is_shelves,
	submit_type = EXCLUDED.submit_type,
	delete_archive = EXCLUDED.delete_archive,
	charging = EXCLUDED.charging,
	button_grey = EXCLUDED.button_grey,
	app_gift = EXCLUDED.app_gift,
	free_days = EXCLUDED.free_days,
	pay_install_type = EXCLUDED.pay_install_type,
	listed_at = EXCLUDED.listed_at,
	comment = EXCLUDED.comment`

	insertMetricSQL = "INSERT INTO app_metrics (" + metricColumns + ") VALUES (" + placeholders(18) + ")"
	insertRatingSQL = "INSERT INTO app_rating (" + ratingColumns + ") VALUES (" + placeholders(13) + ")"
)

const (
	selectRawDataSQL = `SELECT raw_json_data FROM app_raw WHERE app_id = $1
	ORDER BY created_at DESC, id DESC LIMIT 1`

	selectRawStarSQL = `SELECT raw_json_star FROM app_raw WHERE app_id = $1 AND raw_json_star <> '{}'::jsonb
	ORDER BY created_at DESC, id DESC LIMIT 1`

	insertRawSQL = `INSERT INTO app_raw (app_id, raw_json_data, raw_json_star, created_at)
VALUES ($1, $2, $3, $4)`

	selectAppIDByPackageSQL = `SELECT app_id FROM app_info WHERE pkg_name = $1 ORDER BY app_id LIMIT 1`
	selectKnownAppIDsSQL    = `SELECT DISTINCT app_id FROM app_info ORDER BY app_id`
	selectKnownPackagesSQL  = `SELECT DISTINCT pkg_name FROM app_info WHERE pkg_name <> '' ORDER BY pkg_name`
)

// Config controls the Postgres connection pool. MaxConns must cover the
// scheduler's batch size since every candidate in a batch holds a connection.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.ChangeAwareStore and store.RunRepository on Postgres.
type Store struct {
	pool  pgxPool
	clock catalog.Clock
}

var (
	_ store.ChangeAwareStore = (*Store)(nil)
	_ store.RunRepository    = (*Store)(nil)
)

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config, clock catalog.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, clock: clock}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, clock catalog.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Ingest implements store.ChangeAwareStore. Reads and writes share one transaction.
func (s *Store) Ingest(
	ctx context.Context,
	doc *catalog.RawDocument,
	rating *catalog.RatingDocument,
	opts store.IngestOptions,
) (store.IngestResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.IngestResult{}, &catalog.StoreError{Op: "begin", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	base, err := loadBaseline(ctx, tx, doc.AppID)
	if err != nil {
		return store.IngestResult{}, err
	}

	plan := store.Decide(base, doc, rating, opts, s.clock.Now())
	res := plan.Result

	if res.InfoChanged {
		if _, err := tx.Exec(ctx, upsertInfoSQL, infoValues(plan.Info)...); err != nil {
			return store.IngestResult{}, &catalog.StoreError{Op: "upsert info", Err: err}
		}
	}
	if res.MetricChanged {
		if _, err := tx.Exec(ctx, insertMetricSQL, metricValues(plan.Metric)...); err != nil {
			return store.IngestResult{}, &catalog.StoreError{Op: "insert metric", Err: err}
		}
	}
	if res.RatingChanged {
		if _, err := tx.Exec(ctx, insertRatingSQL, ratingValues(plan.Rating)...); err != nil {
			return store.IngestResult{}, &catalog.StoreError{Op: "insert rating", Err: err}
		}
	}
	if plan.WriteSnapshot() {
		snap := plan.Snapshot
		if _, err := tx.Exec(ctx, insertRawSQL,
			snap.AppID, []byte(snap.Data), []byte(snap.Star), snap.CreatedAt,
		); err != nil {
			return store.IngestResult{}, &catalog.StoreError{Op: "insert raw", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return store.IngestResult{}, &catalog.StoreError{Op: "commit", Err: err}
	}
	committed = true
	return res, nil
}

func loadBaseline(ctx context.Context, q rowQuerier, appID string) (store.Baseline, error) {
	var base store.Baseline

	info, found, err := loadInfo(ctx, q, appID)
	if err != nil {
		return base, err
	}
	base.Found = found
	base.Info = info

	if base.Metric, err = loadMetric(ctx, q, appID); err != nil {
		return base, err
	}
	if base.Rating, err = loadRating(ctx, q, appID); err != nil {
		return base, err
	}
	if base.Data, err = loadRaw(ctx, q, selectRawDataSQL, appID); err != nil {
		return base, &catalog.StoreError{Op: "select raw data", Err: err}
	}
	if base.Star, err = loadRaw(ctx, q, selectRawStarSQL, appID); err != nil {
		return base, &catalog.StoreError{Op: "select raw star", Err: err}
	}
	return base, nil
}

func loadInfo(ctx context.Context, q rowQuerier, appID string) (catalog.EntityInfo, bool, error) {
	var info catalog.EntityInfo
	var comment []byte
	err := q.QueryRow(ctx, selectInfoSQL, appID).Scan(infoTargets(&info, &comment)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.EntityInfo{}, false, nil
	}
	if err != nil {
		return catalog.EntityInfo{}, false, &catalog.StoreError{Op: "select info", Err: err}
	}
	if !catalog.EmptyJSON(comment) {
		info.Comment = comment
	}
	return info, true, nil
}

func loadMetric(ctx context.Context, q rowQuerier, appID string) (*catalog.EntityMetric, error) {
	var m catalog.EntityMetric
	err := q.QueryRow(ctx, selectMetricSQL, appID).Scan(metricTargets(&m)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &catalog.StoreError{Op: "select metric", Err: err}
	}
	return &m, nil
}

func loadRating(ctx context.Context, q rowQuerier, appID string) (*catalog.EntityRating, error) {
	var r catalog.EntityRating
	err := q.QueryRow(ctx, selectRatingSQL, appID).Scan(ratingTargets(&r)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &catalog.StoreError{Op: "select rating", Err: err}
	}
	return &r, nil
}

func loadRaw(ctx context.Context, q rowQuerier, query, appID string) ([]byte, error) {
	var raw []byte
	err := q.QueryRow(ctx, query, appID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Lookup implements store.ChangeAwareStore.
func (s *Store) Lookup(ctx context.Context, key catalog.EntityKey) (store.EntityView, error) {
	appID := key.Value
	if key.Kind == catalog.KindPackage {
		err := s.pool.QueryRow(ctx, selectAppIDByPackageSQL, key.Value).Scan(&appID)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.EntityView{}, store.ErrNotFound
		}
		if err != nil {
			return store.EntityView{}, &catalog.StoreError{Op: "resolve package", Err: err}
		}
	}

	info, found, err := loadInfo(ctx, s.pool, appID)
	if err != nil {
		return store.EntityView{}, err
	}
	if !found {
		return store.EntityView{}, store.ErrNotFound
	}
	view := store.EntityView{Info: info}
	if view.Metric, err = loadMetric(ctx, s.pool, appID); err != nil {
		return store.EntityView{}, err
	}
	if view.Rating, err = loadRating(ctx, s.pool, appID); err != nil {
		return store.EntityView{}, err
	}
	return view, nil
}

// KnownAppIDs implements store.ChangeAwareStore.
func (s *Store) KnownAppIDs(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, selectKnownAppIDsSQL)
}

// KnownPackages implements store.ChangeAwareStore.
func (s *Store) KnownPackages(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, selectKnownPackagesSQL)
}

func (s *Store) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, &catalog.StoreError{Op: "list keys", Err: err}
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, &catalog.StoreError{Op: "list keys", Err: err}
	}
	return values, nil
}
