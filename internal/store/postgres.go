package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-intel/internal/db"
	"github.com/sells-group/opportunity-intel/internal/match"
	"github.com/sells-group/opportunity-intel/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id                        BIGSERIAL PRIMARY KEY,
	name                      TEXT NOT NULL,
	name_key                  TEXT NOT NULL,
	locality                  TEXT NOT NULL,
	locality_key              TEXT NOT NULL,
	address                   TEXT NOT NULL DEFAULT '',
	existing_units            INTEGER NOT NULL DEFAULT 0,
	planned_units             INTEGER NOT NULL DEFAULT 0,
	developer                 TEXT NOT NULL DEFAULT '',
	plan_number               TEXT NOT NULL DEFAULT '',
	planning_status           TEXT NOT NULL DEFAULT '',
	stage_text                TEXT NOT NULL DEFAULT '',
	developer_strength        TEXT NOT NULL DEFAULT '',
	developer_risk            TEXT NOT NULL DEFAULT '',
	news_sentiment            TEXT NOT NULL DEFAULT '',
	negative_news             BOOLEAN NOT NULL DEFAULT false,
	theoretical_premium_pct   DOUBLE PRECISION,
	actual_premium_pct        DOUBLE PRECISION,
	signature_pct             DOUBLE PRECISION,
	transactions              INTEGER NOT NULL DEFAULT 0,
	enforcement               BOOLEAN NOT NULL DEFAULT false,
	receivership              BOOLEAN NOT NULL DEFAULT false,
	bankruptcy                BOOLEAN NOT NULL DEFAULT false,
	local_approved_at         TIMESTAMPTZ,
	district_approved_at      TIMESTAMPTZ,
	national_approved_at      TIMESTAMPTZ,
	certainty_factor          DOUBLE PRECISION NOT NULL DEFAULT 1.0 CHECK (certainty_factor <= 2.0),
	committee_checked_at      TIMESTAMPTZ,
	priority_score            DOUBLE PRECISION NOT NULL DEFAULT 0,
	priority_components       JSONB,
	attractiveness_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	attractiveness_components JSONB,
	max_stress                DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_stress                DOUBLE PRECISION NOT NULL DEFAULT 0,
	tier                      TEXT NOT NULL DEFAULT '',
	scored_at                 TIMESTAMPTZ,
	source                    TEXT NOT NULL DEFAULT '',
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	enriched_at               TIMESTAMPTZ,
	UNIQUE (name_key, locality_key)
);

CREATE INDEX IF NOT EXISTS idx_entities_locality_key ON entities(locality_key);
CREATE INDEX IF NOT EXISTS idx_entities_rank ON entities(priority_score DESC, attractiveness_score DESC, id);

CREATE TABLE IF NOT EXISTS listings (
	id             BIGSERIAL PRIMARY KEY,
	entity_id      BIGINT NOT NULL REFERENCES entities(id),
	external_id    TEXT NOT NULL,
	platform       TEXT NOT NULL,
	price          DOUBLE PRECISION NOT NULL DEFAULT 0,
	area_sqm       DOUBLE PRECISION NOT NULL DEFAULT 0,
	rooms          DOUBLE PRECISION NOT NULL DEFAULT 0,
	floor          INTEGER NOT NULL DEFAULT 0,
	days_on_market INTEGER NOT NULL DEFAULT 0,
	price_drops    INTEGER NOT NULL DEFAULT 0,
	price_drop_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	description    TEXT NOT NULL DEFAULT '',
	active         BOOLEAN NOT NULL DEFAULT true,
	stress_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (platform, external_id)
);

CREATE INDEX IF NOT EXISTS idx_listings_entity_id ON listings(entity_id);

CREATE TABLE IF NOT EXISTS alerts (
	id         BIGSERIAL PRIMARY KEY,
	entity_id  BIGINT NOT NULL REFERENCES entities(id),
	type       TEXT NOT NULL,
	severity   TEXT NOT NULL DEFAULT 'info',
	title      TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	payload    JSONB,
	dedup_key  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	read       BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(entity_id, type, dedup_key, created_at DESC);

CREATE TABLE IF NOT EXISTS hearings (
	entity_id    BIGINT NOT NULL REFERENCES entities(id),
	level        TEXT NOT NULL,
	hearing_date DATE NOT NULL,
	subject      TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (entity_id, level, hearing_date)
);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ExistingNames(ctx context.Context, locality string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name FROM entities WHERE locality_key = $1 ORDER BY id`,
		match.NormalizeName(locality),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: existing names in %s", locality)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan name")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "postgres: existing names iterate")
}

// InsertEntity inserts e and sets its ID. It returns false without error
// when an entity with the same normalized name and locality already exists.
func (s *PostgresStore) InsertEntity(ctx context.Context, e *model.Entity) (bool, error) {
	if err := validateEntity(e); err != nil {
		return false, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO entities (name, name_key, locality, locality_key, address, existing_units,
			planned_units, developer, plan_number, planning_status, stage_text, certainty_factor,
			source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (name_key, locality_key) DO NOTHING
		RETURNING id`,
		insertEntityArgs(e)...,
	).Scan(&e.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert entity %q", e.Name)
	}
	return true, nil
}

func (s *PostgresStore) GetEntity(ctx context.Context, id int64) (*model.Entity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: entity %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get entity %d", id)
	}
	return e, nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Locality != "" {
		where = append(where, "locality_key = "+arg(match.NormalizeName(filter.Locality)))
	}
	if filter.Tier != "" {
		where = append(where, "tier = "+arg(string(filter.Tier)))
	}
	if filter.MinAttractiveness > 0 {
		where = append(where, "attractiveness_score >= "+arg(filter.MinAttractiveness))
	}
	if filter.EnrichedBefore != nil {
		where = append(where, "(enriched_at IS NULL OR enriched_at < "+arg(*filter.EnrichedBefore)+")")
	}
	if filter.CheckedBefore != nil {
		where = append(where, "(committee_checked_at IS NULL OR committee_checked_at < "+arg(*filter.CheckedBefore)+")")
	}
	if filter.PendingApproval {
		where = append(where, "national_approved_at IS NULL")
	}

	query := `SELECT ` + entityColumns + ` FROM entities`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY priority_score DESC, attractiveness_score DESC, id ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entities iterate")
}

// ApplyPatch applies an enrichment patch under a row lock and stamps
// enriched_at. It returns the updated entity.
func (s *PostgresStore) ApplyPatch(ctx context.Context, id int64, patch model.EntityPatch, at time.Time) (*model.Entity, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin patch")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	e, err := s.lockEntity(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(e)
	enriched := at
	e.EnrichedAt = &enriched

	if _, err := tx.Exec(ctx,
		`UPDATE entities SET address = $1, existing_units = $2, planned_units = $3,
			developer = $4, plan_number = $5, planning_status = $6, stage_text = $7,
			developer_strength = $8, developer_risk = $9, news_sentiment = $10,
			negative_news = $11, theoretical_premium_pct = $12, actual_premium_pct = $13,
			signature_pct = $14, transactions = $15, enforcement = $16, receivership = $17,
			bankruptcy = $18, enriched_at = $19
		WHERE id = $20`,
		enrichmentArgs(e)...,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: apply patch to %d", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit patch")
	}
	return e, nil
}

func (s *PostgresStore) UpdateScores(ctx context.Context, id int64, scores model.Scores) error {
	args, err := scoreArgs(id, scores)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE entities SET priority_score = $1, priority_components = $2,
			attractiveness_score = $3, attractiveness_components = $4, max_stress = $5,
			avg_stress = $6, tier = $7, scored_at = $8
		WHERE id = $9`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update scores for %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: entity %d", id)
	}
	return nil
}

// ApplyCommitteeUpdate runs fn against the locked committee state of an
// entity and persists the result. Nothing is written when fn fails.
func (s *PostgresStore) ApplyCommitteeUpdate(ctx context.Context, id int64, at time.Time, fn CommitteeFunc) (*model.Entity, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin committee update")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	e, err := s.lockEntity(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	next, err := applyCommittee(e.Committee, at, fn)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: committee update for %d", id)
	}
	e.Committee = next

	if _, err := tx.Exec(ctx,
		`UPDATE entities SET local_approved_at = $1, district_approved_at = $2,
			national_approved_at = $3, certainty_factor = $4, committee_checked_at = $5
		WHERE id = $6`,
		committeeArgs(id, next)...,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: write committee state for %d", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit committee update")
	}
	return e, nil
}

func (s *PostgresStore) lockEntity(ctx context.Context, tx pgx.Tx, id int64) (*model.Entity, error) {
	e, err := scanEntity(tx.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: entity %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lock entity %d", id)
	}
	return e, nil
}

func (s *PostgresStore) ListListings(ctx context.Context, entityID int64) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE entity_id = $1 ORDER BY id`, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list listings for %d", entityID)
	}
	defer rows.Close()

	var out []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list listings iterate")
}

// UpsertListings bulk-loads listings keyed by (platform, external_id). A
// re-imported listing is rewritten only when its market fields changed.
func (s *PostgresStore) UpsertListings(ctx context.Context, listings []model.Listing) (int64, error) {
	rows := make([][]any, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, listingRow(l))
	}
	n, err := db.MergeRows(ctx, s.pool, db.Merge{
		Table:   "listings",
		Columns: listingUpsertColumns,
		Keys:    []string{"platform", "external_id"},
		Compare: listingCompareColumns,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert listings")
	}
	return n, nil
}

func (s *PostgresStore) UpdateListingStress(ctx context.Context, listingID int64, score float64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE listings SET stress_score = $1 WHERE id = $2`, score, listingID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update stress for listing %d", listingID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: listing %d", listingID)
	}
	return nil
}

// InsertAlert stores a unless an alert with the same entity, type and dedup
// key exists within window of now. An advisory lock on that key serializes
// concurrent writers.
func (s *PostgresStore) InsertAlert(ctx context.Context, a *model.Alert, window time.Duration, now time.Time) (bool, error) {
	payload, err := encodeJSON(a.Payload)
	if err != nil {
		return false, err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	if window <= 0 {
		err := s.pool.QueryRow(ctx,
			`INSERT INTO alerts (entity_id, type, severity, title, message, payload, dedup_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			a.EntityID, string(a.Type), string(a.Severity), a.Title, a.Message, payload, a.DedupKey, a.CreatedAt,
		).Scan(&a.ID)
		if err != nil {
			return false, eris.Wrap(err, "postgres: insert alert")
		}
		return true, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: begin alert insert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		fmt.Sprintf("alert:%d:%s:%s", a.EntityID, a.Type, a.DedupKey),
	); err != nil {
		return false, eris.Wrap(err, "postgres: lock alert key")
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO alerts (entity_id, type, severity, title, message, payload, dedup_key, created_at)
		SELECT $1::bigint, $2::text, $3::text, $4::text, $5::text, $6::jsonb, $7::text, $8::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM alerts
			WHERE entity_id = $1 AND type = $2 AND dedup_key = $7 AND created_at > $9
		)
		RETURNING id`,
		a.EntityID, string(a.Type), string(a.Severity), a.Title, a.Message, payload, a.DedupKey,
		a.CreatedAt, now.Add(-window),
	).Scan(&a.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert alert")
	}
	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: commit alert insert")
	}
	return true, nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.EntityID > 0 {
		where = append(where, "entity_id = "+arg(filter.EntityID))
	}
	if filter.Type != "" {
		where = append(where, "type = "+arg(string(filter.Type)))
	}
	if filter.UnreadOnly {
		where = append(where, "read = false")
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + arg(alertLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list alerts iterate")
}

// InsertHearing records a hearing. It returns false when the hearing is
// already known.
func (s *PostgresStore) InsertHearing(ctx context.Context, h model.Hearing) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO hearings (entity_id, level, hearing_date, subject)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (entity_id, level, hearing_date) DO NOTHING`,
		h.EntityID, string(h.Level), h.Date.UTC().Truncate(24*time.Hour), h.Subject,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert hearing for %d", h.EntityID)
	}
	return tag.RowsAffected() == 1, nil
}
