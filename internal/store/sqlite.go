package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/opportunity-intel/internal/match"
	"github.com/sells-group/opportunity-intel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is meant for
// local runs and tests; all access goes through a single connection.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "_time_format") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	id                        INTEGER PRIMARY KEY AUTOINCREMENT,
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
	negative_news             BOOLEAN NOT NULL DEFAULT 0,
	theoretical_premium_pct   REAL,
	actual_premium_pct        REAL,
	signature_pct             REAL,
	transactions              INTEGER NOT NULL DEFAULT 0,
	enforcement               BOOLEAN NOT NULL DEFAULT 0,
	receivership              BOOLEAN NOT NULL DEFAULT 0,
	bankruptcy                BOOLEAN NOT NULL DEFAULT 0,
	local_approved_at         DATETIME,
	district_approved_at      DATETIME,
	national_approved_at      DATETIME,
	certainty_factor          REAL NOT NULL DEFAULT 1.0 CHECK (certainty_factor <= 2.0),
	committee_checked_at      DATETIME,
	priority_score            REAL NOT NULL DEFAULT 0,
	priority_components       TEXT,
	attractiveness_score      REAL NOT NULL DEFAULT 0,
	attractiveness_components TEXT,
	max_stress                REAL NOT NULL DEFAULT 0,
	avg_stress                REAL NOT NULL DEFAULT 0,
	tier                      TEXT NOT NULL DEFAULT '',
	scored_at                 DATETIME,
	source                    TEXT NOT NULL DEFAULT '',
	created_at                DATETIME NOT NULL,
	enriched_at               DATETIME,
	UNIQUE (name_key, locality_key)
);

CREATE INDEX IF NOT EXISTS idx_entities_locality_key ON entities(locality_key);

CREATE TABLE IF NOT EXISTS listings (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id      INTEGER NOT NULL REFERENCES entities(id),
	external_id    TEXT NOT NULL,
	platform       TEXT NOT NULL,
	price          REAL NOT NULL DEFAULT 0,
	area_sqm       REAL NOT NULL DEFAULT 0,
	rooms          REAL NOT NULL DEFAULT 0,
	floor          INTEGER NOT NULL DEFAULT 0,
	days_on_market INTEGER NOT NULL DEFAULT 0,
	price_drops    INTEGER NOT NULL DEFAULT 0,
	price_drop_pct REAL NOT NULL DEFAULT 0,
	description    TEXT NOT NULL DEFAULT '',
	active         BOOLEAN NOT NULL DEFAULT 1,
	stress_score   REAL NOT NULL DEFAULT 0,
	updated_at     DATETIME NOT NULL,
	UNIQUE (platform, external_id)
);

CREATE INDEX IF NOT EXISTS idx_listings_entity_id ON listings(entity_id);

CREATE TABLE IF NOT EXISTS alerts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id  INTEGER NOT NULL REFERENCES entities(id),
	type       TEXT NOT NULL,
	severity   TEXT NOT NULL DEFAULT 'info',
	title      TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	payload    TEXT,
	dedup_key  TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	read       BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(entity_id, type, dedup_key, created_at);

CREATE TABLE IF NOT EXISTS hearings (
	entity_id    INTEGER NOT NULL REFERENCES entities(id),
	level        TEXT NOT NULL,
	hearing_date TEXT NOT NULL,
	subject      TEXT NOT NULL DEFAULT '',
	UNIQUE (entity_id, level, hearing_date)
);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ExistingNames(ctx context.Context, locality string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM entities WHERE locality_key = ? ORDER BY id`,
		match.NormalizeName(locality),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: existing names in %s", locality)
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan name")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "sqlite: existing names iterate")
}

// InsertEntity inserts e and sets its ID. It returns false without error
// when an entity with the same normalized name and locality already exists.
func (s *SQLiteStore) InsertEntity(ctx context.Context, e *model.Entity) (bool, error) {
	if err := validateEntity(e); err != nil {
		return false, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO entities (name, name_key, locality, locality_key, address, existing_units,
			planned_units, developer, plan_number, planning_status, stage_text, certainty_factor,
			source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name_key, locality_key) DO NOTHING
		RETURNING id`,
		insertEntityArgs(e)...,
	).Scan(&e.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert entity %q", e.Name)
	}
	return true, nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id int64) (*model.Entity, error) {
	return getEntitySQL(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEntitySQL(ctx context.Context, q queryRower, id int64) (*model.Entity, error) {
	e, err := scanEntity(q.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: entity %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get entity %d", id)
	}
	return e, nil
}

func (s *SQLiteStore) ListEntities(ctx context.Context, filter EntityFilter) ([]model.Entity, error) {
	var (
		where []string
		args  []any
	)
	if filter.Locality != "" {
		where = append(where, "locality_key = ?")
		args = append(args, match.NormalizeName(filter.Locality))
	}
	if filter.Tier != "" {
		where = append(where, "tier = ?")
		args = append(args, string(filter.Tier))
	}
	if filter.MinAttractiveness > 0 {
		where = append(where, "attractiveness_score >= ?")
		args = append(args, filter.MinAttractiveness)
	}
	if filter.EnrichedBefore != nil {
		where = append(where, "(enriched_at IS NULL OR enriched_at < ?)")
		args = append(args, filter.EnrichedBefore.UTC())
	}
	if filter.CheckedBefore != nil {
		where = append(where, "(committee_checked_at IS NULL OR committee_checked_at < ?)")
		args = append(args, filter.CheckedBefore.UTC())
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
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entities iterate")
}

// ApplyPatch applies an enrichment patch and stamps enriched_at.
func (s *SQLiteStore) ApplyPatch(ctx context.Context, id int64, patch model.EntityPatch, at time.Time) (*model.Entity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin patch")
	}
	defer tx.Rollback() //nolint:errcheck

	e, err := getEntitySQL(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(e)
	enriched := at.UTC()
	e.EnrichedAt = &enriched

	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET address = ?, existing_units = ?, planned_units = ?,
			developer = ?, plan_number = ?, planning_status = ?, stage_text = ?,
			developer_strength = ?, developer_risk = ?, news_sentiment = ?,
			negative_news = ?, theoretical_premium_pct = ?, actual_premium_pct = ?,
			signature_pct = ?, transactions = ?, enforcement = ?, receivership = ?,
			bankruptcy = ?, enriched_at = ?
		WHERE id = ?`,
		enrichmentArgs(e)...,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: apply patch to %d", id)
	}
	return e, eris.Wrap(tx.Commit(), "sqlite: commit patch")
}

func (s *SQLiteStore) UpdateScores(ctx context.Context, id int64, scores model.Scores) error {
	args, err := scoreArgs(id, scores)
	if err != nil {
		return err
	}
	args[1], args[3] = textOrNil(args[1]), textOrNil(args[3])
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET priority_score = ?, priority_components = ?,
			attractiveness_score = ?, attractiveness_components = ?, max_stress = ?,
			avg_stress = ?, tier = ?, scored_at = ?
		WHERE id = ?`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update scores for %d", id)
	}
	return checkRowsAffected(res, "entity", id)
}

// ApplyCommitteeUpdate runs fn against the committee state of an entity and
// persists the result. Nothing is written when fn fails.
func (s *SQLiteStore) ApplyCommitteeUpdate(ctx context.Context, id int64, at time.Time, fn CommitteeFunc) (*model.Entity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin committee update")
	}
	defer tx.Rollback() //nolint:errcheck

	e, err := getEntitySQL(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	next, err := applyCommittee(e.Committee, at.UTC(), fn)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: committee update for %d", id)
	}
	e.Committee = next

	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET local_approved_at = ?, district_approved_at = ?,
			national_approved_at = ?, certainty_factor = ?, committee_checked_at = ?
		WHERE id = ?`,
		committeeArgs(id, next)...,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: write committee state for %d", id)
	}
	return e, eris.Wrap(tx.Commit(), "sqlite: commit committee update")
}

func (s *SQLiteStore) ListListings(ctx context.Context, entityID int64) ([]model.Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE entity_id = ? ORDER BY id`, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list listings for %d", entityID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing")
		}
		out = append(out, *l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list listings iterate")
}

// UpsertListings inserts or refreshes listings keyed by (platform, external_id).
// Unchanged listings are not rewritten and do not count.
func (s *SQLiteStore) UpsertListings(ctx context.Context, listings []model.Listing) (int64, error) {
	if len(listings) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert listings")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, l := range listings {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO listings (entity_id, external_id, platform, price, area_sqm, rooms, floor,
				days_on_market, price_drops, price_drop_pct, description, active, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (platform, external_id) DO UPDATE SET
				entity_id = excluded.entity_id, price = excluded.price, area_sqm = excluded.area_sqm,
				rooms = excluded.rooms, floor = excluded.floor, days_on_market = excluded.days_on_market,
				price_drops = excluded.price_drops, price_drop_pct = excluded.price_drop_pct,
				description = excluded.description, active = excluded.active,
				updated_at = excluded.updated_at
			WHERE (listings.entity_id, listings.price, listings.area_sqm, listings.rooms, listings.floor,
				listings.days_on_market, listings.price_drops, listings.price_drop_pct, listings.description, listings.active)
				IS NOT (excluded.entity_id, excluded.price, excluded.area_sqm, excluded.rooms, excluded.floor,
				excluded.days_on_market, excluded.price_drops, excluded.price_drop_pct, excluded.description, excluded.active)`,
			listingRow(l)...,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert listing %s/%s", l.Platform, l.ExternalID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: commit upsert listings")
}

func (s *SQLiteStore) UpdateListingStress(ctx context.Context, listingID int64, score float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE listings SET stress_score = ? WHERE id = ?`, score, listingID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update stress for listing %d", listingID)
	}
	return checkRowsAffected(res, "listing", listingID)
}

// InsertAlert stores a unless an alert with the same entity, type and dedup
// key exists within window of now.
func (s *SQLiteStore) InsertAlert(ctx context.Context, a *model.Alert, window time.Duration, now time.Time) (bool, error) {
	payload, err := encodeJSON(a.Payload)
	if err != nil {
		return false, err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.CreatedAt = a.CreatedAt.UTC()

	args := []any{
		a.EntityID, string(a.Type), string(a.Severity), a.Title, a.Message,
		textOrNil(payload), a.DedupKey, a.CreatedAt,
	}
	query := `INSERT INTO alerts (entity_id, type, severity, title, message, payload, dedup_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`
	if window > 0 {
		query = `INSERT INTO alerts (entity_id, type, severity, title, message, payload, dedup_key, created_at)
			SELECT ?, ?, ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (
				SELECT 1 FROM alerts
				WHERE entity_id = ? AND type = ? AND dedup_key = ? AND created_at > ?
			)
			RETURNING id`
		args = append(args, a.EntityID, string(a.Type), a.DedupKey, now.Add(-window).UTC())
	}

	err = s.db.QueryRowContext(ctx, query, args...).Scan(&a.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert alert")
	}
	return true, nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error) {
	var (
		where []string
		args  []any
	)
	if filter.EntityID > 0 {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.UnreadOnly {
		where = append(where, "read = 0")
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, alertLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alerts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list alerts iterate")
}

// InsertHearing records a hearing. It returns false when the hearing is
// already known.
func (s *SQLiteStore) InsertHearing(ctx context.Context, h model.Hearing) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO hearings (entity_id, level, hearing_date, subject)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_id, level, hearing_date) DO NOTHING`,
		h.EntityID, string(h.Level), h.Date.UTC().Format(time.DateOnly), h.Subject,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert hearing for %d", h.EntityID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %d", entity, id)
	}
	return nil
}

// textOrNil stores JSON as TEXT so it stays readable in the sqlite shell.
func textOrNil(v any) any {
	b, ok := v.([]byte)
	if !ok || b == nil {
		return nil
	}
	return string(b)
}
