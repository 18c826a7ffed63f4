package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a VectorStore backed by the pgvector extension. It is the
// single-node, persistent alternative to Qdrant: no extra service to run,
// at the cost of scaling only as far as one Postgres instance does.
type Postgres struct {
	pool   *pgxpool.Pool
	dim    int
	metric Metric
}

// NewPostgres connects to dsn, ensures the vector extension and the backing
// table exist, and returns a ready-to-use Postgres VectorStore.
func NewPostgres(ctx context.Context, dsn string, dim int, metric Metric) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect: %w", err)
	}

	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, fmt.Errorf("vectorstore: create extension: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_embeddings (
		id TEXT PRIMARY KEY,
		vec vector(%d) NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb
	)`, dim)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("vectorstore: create table: %w", err)
	}

	if metric == "" {
		metric = MetricCosine
	}
	return &Postgres{pool: pool, dim: dim, metric: metric}, nil
}

func (p *Postgres) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error {
	md, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("vectorstore: marshal metadata: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO chunk_embeddings (id, vec, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET vec = EXCLUDED.vec, metadata = EXCLUDED.metadata
	`, id, toVectorLiteral(vec), md)
	return err
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM chunk_embeddings WHERE id = $1`, id)
	return err
}

func (p *Postgres) SimilaritySearch(ctx context.Context, query []float32, topK int, filter map[string]string) ([]Result, error) {
	op := distanceOperator(p.metric)

	var where strings.Builder
	args := []any{toVectorLiteral(query)}
	if len(filter) > 0 {
		md, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: marshal filter: %w", err)
		}
		args = append(args, md)
		where.WriteString(fmt.Sprintf(" WHERE metadata @> $%d", len(args)))
	}

	if topK <= 0 {
		topK = 10
	}
	args = append(args, topK)

	query_ := fmt.Sprintf(`
		SELECT id, metadata, (vec %s $1) AS distance
		FROM chunk_embeddings
		%s
		ORDER BY vec %s $1
		LIMIT $%d
	`, op, where.String(), op, len(args))

	rows, err := p.pool.Query(ctx, query_, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var id string
		var md []byte
		var distance float64
		if err := rows.Scan(&id, &md, &distance); err != nil {
			return nil, fmt.Errorf("vectorstore: scan: %w", err)
		}
		metadata := map[string]string{}
		_ = json.Unmarshal(md, &metadata)
		out = append(out, Result{ID: id, Score: distanceToScore(p.metric, distance), Metadata: metadata})
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func distanceOperator(m Metric) string {
	switch m {
	case MetricL2:
		return "<->"
	case MetricDot:
		return "<#>"
	default:
		return "<=>"
	}
}

// distanceToScore converts a pgvector distance (lower is closer) into a
// score where higher is better, matching the convention of Result.Score
// across every VectorStore implementation.
func distanceToScore(m Metric, distance float64) float64 {
	switch m {
	case MetricDot:
		return -distance
	default:
		return 1 - distance
	}
}

func toVectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

var _ VectorStore = (*Postgres)(nil)
