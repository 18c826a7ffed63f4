package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField stores the caller-provided id, since Qdrant point IDs must
// be either an unsigned integer or a UUID.
const payloadIDField = "_original_id"

// Qdrant is a VectorStore backed by a networked Qdrant collection, suitable
// for deployments that need horizontal scale-out beyond one Postgres node.
type Qdrant struct {
	client     *qdrant.Client
	collection string
}

// NewQdrant parses dsn ("host:port" or "host:port?api_key=...") and ensures
// the named collection exists with the given dimension and distance metric.
func NewQdrant(ctx context.Context, dsn, collection string, dim int, metric Metric) (*Qdrant, error) {
	host, port, apiKey, err := parseQdrantDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse dsn: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect: %w", err)
	}

	q := &Qdrant{client: client, collection: collection}
	if err := q.ensureCollection(ctx, dim, metric); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context, dim int, metric Metric) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection: %w", err)
	}
	if exists {
		return nil
	}

	var dist qdrant.Distance
	switch metric {
	case MetricL2:
		dist = qdrant.Distance_Euclid
	case MetricDot:
		dist = qdrant.Distance_Dot
	default:
		dist = qdrant.Distance_Cosine
	}

	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: dist,
		}),
	})
}

func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func (q *Qdrant) Upsert(ctx context.Context, id string, vec []float32, metadata map[string]string) error {
	payload := map[string]any{payloadIDField: id}
	for k, v := range metadata {
		payload[k] = v
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      pointID(id),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

func (q *Qdrant) Delete(ctx context.Context, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointID(id)),
	})
	return err
}

func (q *Qdrant) SimilaritySearch(ctx context.Context, vec []float32, topK int, filter map[string]string) ([]Result, error) {
	if topK <= 0 {
		topK = 10
	}

	var qf *qdrant.Filter
	if len(filter) > 0 {
		conds := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			conds = append(conds, qdrant.NewMatch(k, v))
		}
		qf = &qdrant.Filter{Must: conds}
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Filter:         qf,
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}

	out := make([]Result, 0, len(points))
	for _, p := range points {
		md := map[string]string{}
		id := ""
		for k, v := range p.GetPayload() {
			s := v.GetStringValue()
			if k == payloadIDField {
				id = s
				continue
			}
			md[k] = s
		}
		if id == "" {
			id = p.GetId().String()
		}
		out = append(out, Result{ID: id, Score: float64(p.GetScore()), Metadata: md})
	}
	return out, nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

func parseQdrantDSN(dsn string) (host string, port int, apiKey string, err error) {
	if !strings.Contains(dsn, "://") {
		dsn = "qdrant://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", 0, "", err
	}
	host = u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port = 6334
	if p := u.Port(); p != "" {
		if n, perr := strconv.Atoi(p); perr == nil {
			port = n
		}
	}
	apiKey = u.Query().Get("api_key")
	return host, port, apiKey, nil
}

var _ VectorStore = (*Qdrant)(nil)
