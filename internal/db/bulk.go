package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ConflictPolicy controls what an ingest does when a row already exists.
type ConflictPolicy int

const (
	// ConflictIgnore leaves the existing row untouched.
	ConflictIgnore ConflictPolicy = iota
	// ConflictUpdate overwrites the non-key columns of the existing row.
	ConflictUpdate
)

// BulkInsertConfig describes one COPY-then-merge ingest.
type BulkInsertConfig struct {
	Table        string
	Columns      []string
	ConflictKeys []string
	Policy       ConflictPolicy
}

// BulkInsert loads rows through a temp table with COPY, then merges them into
// the target table in a single INSERT. It returns the number of rows that
// made it into the target, which under ConflictIgnore is the count of rows
// that did not already exist.
func BulkInsert(ctx context.Context, pool Pool, cfg BulkInsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if cfg.Table == "" || len(cfg.Columns) == 0 || len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: bulk insert config is incomplete")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: begin bulk insert")
	}
	defer tx.Rollback(ctx)

	tempTable := fmt.Sprintf("bulk_%s_tmp", cfg.Table)
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		tempTable, cfg.Table,
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: copy into temp table for %s", cfg.Table)
	}

	cols := strings.Join(cfg.Columns, ", ")
	keys := strings.Join(cfg.ConflictKeys, ", ")
	var mergeSQL string
	switch cfg.Policy {
	case ConflictUpdate:
		sets := make([]string, 0, len(cfg.Columns))
		for _, col := range cfg.Columns {
			if isConflictKey(col, cfg.ConflictKeys) {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
		mergeSQL = fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
			cfg.Table, cols, cols, tempTable, keys, strings.Join(sets, ", "),
		)
	default:
		mergeSQL = fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO NOTHING",
			cfg.Table, cols, cols, tempTable, keys,
		)
	}

	tag, err := tx.Exec(ctx, mergeSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: merge into %s", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: commit bulk insert into %s", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func isConflictKey(col string, keys []string) bool {
	for _, k := range keys {
		if k == col {
			return true
		}
	}
	return false
}
