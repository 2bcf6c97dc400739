package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// stagingTablePrefix is shared by every job's staging table.
const stagingTablePrefix = "staging_products_"

// maxIdentifierLen is Postgres' NAMEDATALEN - 1.
const maxIdentifierLen = 63

// maxCleanedLen bounds the readable part of a staging table name so that the
// prefix, digest and index suffix all fit in one identifier.
const maxCleanedLen = maxIdentifierLen - len(stagingTablePrefix) - len("_0123456789abcdef") - len(stagingIndexSuffix)

const stagingIndexSuffix = "_key_idx"

// StagingColumns are the columns filled by the bulk copy, in source order.
var StagingColumns = []string{"seq", "sku", "name", "description", "price"}

// PgxConn is the subset of *pgxpool.Pool the staging repository needs.
type PgxConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresStagingRepository runs the bulk import statements against Postgres.
// Each job gets its own UNLOGGED staging table, so concurrent jobs never
// share staging rows.
type PostgresStagingRepository struct {
	db PgxConn
}

func NewPostgresStagingRepository(db PgxConn) *PostgresStagingRepository {
	return &PostgresStagingRepository{db: db}
}

// StagingTableName maps a job id onto a safe, bounded table name. The cleaned
// id is kept for readability; the fnv-64a suffix of the raw id keeps distinct
// ids on distinct tables. Names leave room for the index suffix.
func StagingTableName(jobID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(jobID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-':
			// uuids lose their dashes
		default:
			b.WriteByte('_')
		}
	}
	cleaned := b.String()
	if len(cleaned) > maxCleanedLen {
		cleaned = cleaned[:maxCleanedLen]
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(jobID))
	return fmt.Sprintf("%s%s_%016x", stagingTablePrefix, cleaned, h.Sum64())
}

func stagingIndexName(table string) string {
	if len(table)+len(stagingIndexSuffix) > maxIdentifierLen {
		table = table[:maxIdentifierLen-len(stagingIndexSuffix)]
	}
	return table + stagingIndexSuffix
}

func quoted(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (r *PostgresStagingRepository) Prepare(ctx context.Context, jobID string) error {
	table := quoted(StagingTableName(jobID))

	create := fmt.Sprintf(`CREATE UNLOGGED TABLE IF NOT EXISTS %s (
	seq bigint NOT NULL,
	sku text,
	name text,
	description text,
	price text,
	sku_normalized text
)`, table)
	if _, err := r.db.Exec(ctx, create); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}
	if _, err := r.db.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
		return fmt.Errorf("failed to truncate staging table: %w", err)
	}
	return nil
}

func (r *PostgresStagingRepository) Load(ctx context.Context, jobID string, rows pgx.CopyFromSource) (int64, error) {
	n, err := r.db.CopyFrom(ctx, pgx.Identifier{StagingTableName(jobID)}, StagingColumns, rows)
	if err != nil {
		return n, fmt.Errorf("copy into staging failed: %w", err)
	}
	return n, nil
}

func (r *PostgresStagingRepository) Deduplicate(ctx context.Context, jobID string) (int64, error) {
	name := StagingTableName(jobID)
	table := quoted(name)

	statements := []string{
		fmt.Sprintf("UPDATE %s SET sku_normalized = lower(sku)", table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (sku_normalized, seq)", quoted(stagingIndexName(name)), table),
	}
	deleteDuplicates := fmt.Sprintf(`DELETE FROM %s a
USING %s b
WHERE a.sku_normalized = b.sku_normalized
  AND a.seq < b.seq`, table, table)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin dedup transaction: %w", err)
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return 0, fmt.Errorf("failed to normalize staging rows: %w", err)
		}
	}
	tag, err := tx.Exec(ctx, deleteDuplicates)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, fmt.Errorf("failed to delete duplicate staging rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit dedup: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresStagingRepository) Upsert(ctx context.Context, jobID string, active bool) (int64, error) {
	upsert := fmt.Sprintf(`INSERT INTO products (sku, sku_normalized, name, description, price, active, metadata, created_at, updated_at)
SELECT sku, sku_normalized, name, description, price, $1, '{}'::jsonb, now(), now()
FROM %s
ON CONFLICT (sku_normalized) DO UPDATE SET
	sku         = EXCLUDED.sku,
	name        = EXCLUDED.name,
	description = EXCLUDED.description,
	price       = EXCLUDED.price,
	active      = EXCLUDED.active,
	metadata    = EXCLUDED.metadata,
	updated_at  = EXCLUDED.updated_at`, quoted(StagingTableName(jobID)))

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	tag, err := tx.Exec(ctx, upsert, active)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, fmt.Errorf("upsert into products failed: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresStagingRepository) Release(ctx context.Context, jobID string) error {
	if _, err := r.db.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoted(StagingTableName(jobID)))); err != nil {
		return fmt.Errorf("failed to drop staging table: %w", err)
	}
	return nil
}
