package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Merge describes a keyed bulk write staged through a temp table.
type Merge struct {
	Table   string   // target table, optionally schema-qualified
	Columns []string // columns carried by every row, in row order
	Keys    []string // columns of the unique constraint rows are matched on

	// Update lists the columns rewritten on conflict. Nil means every
	// non-key column.
	Update []string

	// Compare lists the columns whose change justifies rewriting an existing
	// row. Conflicting rows with equal compared values are left untouched
	// and are not counted. Empty rewrites every conflict.
	Compare []string
}

func (m Merge) check() error {
	switch {
	case m.Table == "":
		return eris.New("db: merge: no table specified")
	case len(m.Columns) == 0:
		return eris.New("db: merge: no columns specified")
	case len(m.Keys) == 0:
		return eris.New("db: merge: no conflict keys specified")
	}
	for _, k := range append(slices.Clone(m.Keys), m.Compare...) {
		if !slices.Contains(m.Columns, k) {
			return eris.Errorf("db: merge: column %q is not loaded", k)
		}
	}
	return nil
}

func (m Merge) updateColumns() []string {
	if m.Update != nil {
		return m.Update
	}
	var out []string
	for _, c := range m.Columns {
		if !slices.Contains(m.Keys, c) {
			out = append(out, c)
		}
	}
	return out
}

func (m Merge) stageTable() string {
	return "_stage_" + strings.ReplaceAll(m.Table, ".", "_")
}

// insertSQL renders the statement moving staged rows into the target.
func (m Merge) insertSQL() string {
	cols := quoteAndJoin(m.Columns)
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s AS t (%s) SELECT %s FROM %s ON CONFLICT (%s) ",
		sanitizeTable(m.Table), cols, cols, pgx.Identifier{m.stageTable()}.Sanitize(), quoteAndJoin(m.Keys))

	update := m.updateColumns()
	if len(update) == 0 {
		b.WriteString("DO NOTHING")
		return b.String()
	}
	sets := make([]string, len(update))
	for i, c := range update {
		q := pgx.Identifier{c}.Sanitize()
		sets[i] = q + " = EXCLUDED." + q
	}
	b.WriteString("DO UPDATE SET " + strings.Join(sets, ", "))

	if len(m.Compare) > 0 {
		cur := make([]string, len(m.Compare))
		next := make([]string, len(m.Compare))
		for i, c := range m.Compare {
			q := pgx.Identifier{c}.Sanitize()
			cur[i] = "t." + q
			next[i] = "EXCLUDED." + q
		}
		fmt.Fprintf(&b, " WHERE (%s) IS DISTINCT FROM (%s)", strings.Join(cur, ", "), strings.Join(next, ", "))
	}
	return b.String()
}

// MergeRows COPYs rows into a transaction-scoped temp table shaped like the
// target, then merges them with INSERT ... ON CONFLICT in the same
// transaction. It returns the number of rows inserted or rewritten.
func MergeRows(ctx context.Context, pool Pool, m Merge, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := m.check(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: merge: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stage := pgx.Identifier{m.stageTable()}
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		stage.Sanitize(), sanitizeTable(m.Table))
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "db: merge: stage %s", m.Table)
	}
	if _, err := tx.CopyFrom(ctx, stage, m.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: merge: copy %d rows for %s", len(rows), m.Table)
	}

	tag, err := tx.Exec(ctx, m.insertSQL())
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge: insert into %s", m.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: merge: commit tx")
	}
	return tag.RowsAffected(), nil
}

// sanitizeTable quotes a table name, splitting an optional schema prefix.
func sanitizeTable(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
