package postgres

const schema = `
CREATE TABLE IF NOT EXISTS competitors (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	website         TEXT NOT NULL,
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	monitor_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS scans (
	id            TEXT PRIMARY KEY,
	competitor_id TEXT NOT NULL REFERENCES competitors(id) ON DELETE CASCADE,
	status        TEXT NOT NULL,
	max_pages     INTEGER NOT NULL DEFAULT 0,
	progress      INTEGER NOT NULL DEFAULT 0,
	current_url   TEXT NOT NULL DEFAULT '',
	pages_crawled INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS scan_pages (
	id            TEXT PRIMARY KEY,
	scan_id       TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	competitor_id TEXT NOT NULL,
	url           TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	depth         INTEGER NOT NULL,
	tier          TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	simhash       TEXT NOT NULL,
	phrase_hash   TEXT NOT NULL DEFAULT '',
	word_count    INTEGER NOT NULL,
	load_time_ms  BIGINT NOT NULL,
	blob_uri      TEXT NOT NULL DEFAULT '',
	fetched_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS content (
	id            TEXT PRIMARY KEY,
	competitor_id TEXT NOT NULL,
	url           TEXT NOT NULL,
	title         TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL,
	body          TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	simhash       TEXT NOT NULL,
	word_count    INTEGER NOT NULL,
	readability   DOUBLE PRECISION NOT NULL,
	keywords      TEXT[] NOT NULL DEFAULT '{}',
	first_seen    TIMESTAMPTZ NOT NULL,
	last_checked  TIMESTAMPTZ NOT NULL,
	last_changed  TIMESTAMPTZ NOT NULL,
	UNIQUE (competitor_id, url)
);

CREATE TABLE IF NOT EXISTS content_changes (
	id               TEXT PRIMARY KEY,
	content_id       TEXT NOT NULL,
	competitor_id    TEXT NOT NULL,
	url              TEXT NOT NULL,
	old_hash         TEXT NOT NULL,
	new_hash         TEXT NOT NULL,
	similarity       DOUBLE PRECISION NOT NULL,
	word_count_delta INTEGER NOT NULL,
	detected_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id               TEXT PRIMARY KEY,
	competitor_id    TEXT NOT NULL,
	scan_id          TEXT NOT NULL DEFAULT '',
	product_name     TEXT NOT NULL,
	url              TEXT NOT NULL,
	price            DOUBLE PRECISION NOT NULL,
	currency         TEXT NOT NULL,
	original_price   DOUBLE PRECISION,
	discount_percent DOUBLE PRECISION,
	observed_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS price_history_key ON price_history (competitor_id, product_name, observed_at DESC);

CREATE TABLE IF NOT EXISTS price_changes (
	id             TEXT PRIMARY KEY,
	competitor_id  TEXT NOT NULL,
	product_name   TEXT NOT NULL,
	url            TEXT NOT NULL,
	old_price      DOUBLE PRECISION NOT NULL,
	new_price      DOUBLE PRECISION NOT NULL,
	currency       TEXT NOT NULL,
	change_type    TEXT NOT NULL,
	change_percent DOUBLE PRECISION NOT NULL,
	detected_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id               TEXT PRIMARY KEY,
	competitor_id    TEXT NOT NULL,
	name             TEXT NOT NULL,
	url              TEXT NOT NULL DEFAULT '',
	image_url        TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	description_hash TEXT NOT NULL,
	category         TEXT NOT NULL DEFAULT '',
	available        BOOLEAN NOT NULL,
	first_seen       TIMESTAMPTZ NOT NULL,
	last_checked     TIMESTAMPTZ NOT NULL,
	last_changed     TIMESTAMPTZ NOT NULL,
	UNIQUE (competitor_id, name)
);

CREATE TABLE IF NOT EXISTS product_features (
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	name       TEXT NOT NULL,
	value      TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT 'general',
	PRIMARY KEY (product_id, position)
);

CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	competitor_id TEXT NOT NULL,
	scan_id       TEXT NOT NULL DEFAULT '',
	alert_type    TEXT NOT NULL,
	severity      TEXT NOT NULL,
	title         TEXT NOT NULL,
	message       TEXT NOT NULL,
	url           TEXT NOT NULL DEFAULT '',
	entity_id     TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS alerts_competitor ON alerts (competitor_id, created_at DESC);

ALTER TABLE scan_pages ADD COLUMN IF NOT EXISTS phrase_hash TEXT NOT NULL DEFAULT '';
`
