package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS app_info (
	app_id TEXT PRIMARY KEY,
	alliance_app_id TEXT NOT NULL,
	name TEXT NOT NULL,
	pkg_name TEXT NOT NULL,
	dev_id TEXT NOT NULL,
	developer_name TEXT NOT NULL,
	dev_en_name TEXT NOT NULL,
	supplier TEXT NOT NULL,
	kind_id BIGINT NOT NULL,
	kind_name TEXT NOT NULL,
	tag_name TEXT,
	kind_type_id BIGINT NOT NULL,
	kind_type_name TEXT NOT NULL,
	icon_url TEXT NOT NULL,
	brief_desc TEXT NOT NULL,
	description TEXT NOT NULL,
	privacy_url TEXT NOT NULL,
	ctype BIGINT NOT NULL,
	detail_id TEXT NOT NULL,
	app_level BIGINT NOT NULL,
	jocat_id BIGINT NOT NULL,
	iap BOOLEAN NOT NULL,
	hms BOOLEAN NOT NULL,
	tariff_type TEXT NOT NULL,
	packing_type BIGINT NOT NULL,
	order_app BOOLEAN NOT NULL,
	denpend_gms BOOLEAN NOT NULL,
	denpend_hms BOOLEAN NOT NULL,
	force_update BOOLEAN NOT NULL,
	img_tag TEXT NOT NULL,
	is_pay BOOLEAN NOT NULL,
	is_disciplined BOOLEAN NOT NULL,
	is_shelves BOOLEAN NOT NULL,
	submit_type BIGINT NOT NULL,
	delete_archive BOOLEAN NOT NULL,
	charging BOOLEAN NOT NULL,
	button_grey BOOLEAN NOT NULL,
	app_gift BOOLEAN NOT NULL,
	free_days BIGINT NOT NULL,
	pay_install_type BIGINT NOT NULL,
	listed_at TIMESTAMPTZ,
	comment JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS app_info_pkg_name_idx ON app_info (pkg_name);

CREATE TABLE IF NOT EXISTS app_metrics (
	id BIGSERIAL PRIMARY KEY,
	app_id TEXT NOT NULL REFERENCES app_info (app_id),
	version TEXT NOT NULL,
	version_code BIGINT NOT NULL,
	size_bytes BIGINT NOT NULL,
	sha256 TEXT NOT NULL,
	info_score DOUBLE PRECISION NOT NULL,
	info_rate_count BIGINT NOT NULL,
	download_count BIGINT NOT NULL,
	price TEXT NOT NULL,
	release_date BIGINT NOT NULL,
	new_features TEXT NOT NULL,
	upgrade_msg TEXT NOT NULL,
	target_sdk BIGINT NOT NULL,
	minsdk BIGINT NOT NULL,
	compile_sdk_version BIGINT NOT NULL,
	min_hmos_api_level BIGINT NOT NULL,
	api_release_type TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS app_metrics_app_created_idx ON app_metrics (app_id, created_at DESC);

CREATE TABLE IF NOT EXISTS app_rating (
	id BIGSERIAL PRIMARY KEY,
	app_id TEXT NOT NULL REFERENCES app_info (app_id),
	average_rating DOUBLE PRECISION NOT NULL,
	star_1_rating_count BIGINT NOT NULL,
	star_2_rating_count BIGINT NOT NULL,
	star_3_rating_count BIGINT NOT NULL,
	star_4_rating_count BIGINT NOT NULL,
	star_5_rating_count BIGINT NOT NULL,
	my_star_rating BIGINT NOT NULL,
	total_star_rating_count BIGINT NOT NULL,
	only_star_count BIGINT NOT NULL,
	full_average_rating DOUBLE PRECISION NOT NULL,
	source_type TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS app_rating_app_created_idx ON app_rating (app_id, created_at DESC);

CREATE TABLE IF NOT EXISTS app_raw (
	id BIGSERIAL PRIMARY KEY,
	app_id TEXT NOT NULL REFERENCES app_info (app_id),
	raw_json_data JSONB NOT NULL,
	raw_json_star JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS app_raw_app_created_idx ON app_raw (app_id, created_at DESC);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	processed BIGINT NOT NULL,
	inserted BIGINT NOT NULL,
	skipped BIGINT NOT NULL,
	failed BIGINT NOT NULL,
	batches BIGINT NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);
`

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
