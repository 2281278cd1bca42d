package library

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// PostgresStore keeps libraries in the skill_library table, one row per
// skill, keyed by library name.
type PostgresStore struct {
	db      *pgxpool.Pool
	library string
	logger  *zap.Logger
}

// NewPostgresStore connects to PostgreSQL. library names the row set this
// store reads and replaces, usually the library file name of the mode.
func NewPostgresStore(ctx context.Context, dsn, library string, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected", zap.String("library", library))
	return &PostgresStore{db: pool, library: library, logger: logger}, nil
}

// Migrate executes the embedded .up.sql migrations in name order.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migrate(ctx, s.db, migrations, "migrations", s.logger)
}

func migrate(ctx context.Context, db *pgxpool.Pool, fsys fs.FS, dir string, logger *zap.Logger) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := fs.ReadFile(fsys, dir+"/"+f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Load returns the library's records in their saved order.
func (s *PostgresStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT name, embedding, code, code_hash FROM skill_library
		 WHERE library = $1 ORDER BY position`, s.library)
	if err != nil {
		return nil, fmt.Errorf("query skill library: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Name, &r.Embedding, &r.Code, &r.CodeHash); err != nil {
			return nil, fmt.Errorf("%w: scan skill row: %v", ErrDecode, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skill library: %w", err)
	}
	return records, nil
}

// Save replaces the whole library inside one transaction.
func (s *PostgresStore) Save(ctx context.Context, records []Record) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM skill_library WHERE library = $1`, s.library); err != nil {
		return fmt.Errorf("clear skill library: %w", err)
	}

	records = dedupe(records)
	batch := &pgx.Batch{}
	for i, r := range records {
		emb := r.Embedding
		if emb == nil {
			emb = []float32{}
		}
		batch.Queue(`INSERT INTO skill_library (library, position, name, embedding, code, code_hash)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			s.library, i, r.Name, emb, r.Code, r.CodeHash)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert skill library: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit skill library: %w", err)
	}
	s.logger.Debug("skill library saved", zap.String("library", s.library), zap.Int("skills", len(records)))
	return nil
}

// Close shuts down the connection pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}
