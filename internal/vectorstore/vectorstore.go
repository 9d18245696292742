// Package vectorstore is the Qdrant-backed similarity index over
// closed-case documents (spec.md C3). It holds a derived projection of
// internal/storage's Case rows, keyed by case_id, and must stay in
// sync with them via the reconciler.
package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"supportbot/internal/model"
)

// PayloadIDField stores the caller-supplied case ID on the point's
// payload, since Qdrant only accepts UUIDs or integers as point IDs.
const PayloadIDField = "_original_id"

// Result is a single similarity hit, decoded back into model terms.
type Result struct {
	CaseID   string
	Score    float64
	Metadata model.VectorMetadata
}

// Store is the narrow contract the respond worker and reconciler need
// from the vector index.
type Store interface {
	Upsert(ctx context.Context, caseID string, vector []float32, meta model.VectorMetadata) error
	Delete(ctx context.Context, caseID string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, groupID string) ([]Result, error)
	ListIDs(ctx context.Context) ([]string, error)
	Dimension() int
	Close() error
}

type qdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// Open connects to Qdrant and ensures the configured collection exists
// with the requested vector size and distance metric, creating it on
// first use.
func Open(dsn, collection string, dimensions int, metric string) (Store, error) {
	if collection == "" {
		return nil, fmt.Errorf("vectorstore: collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: invalid port in dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create client: %w", err)
	}
	qs := &qdrantStore{
		client:     client,
		collection: collection,
		dimension:  dimensions,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}
	if err := qs.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("vectorstore: ensure collection: %w", err)
	}
	return qs, nil
}

func (q *qdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if q.dimension <= 0 {
		return fmt.Errorf("dimensions must be > 0")
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default:
		distance = qdrant.Distance_Cosine
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
}

func pointIDFor(caseID string) string {
	if _, err := uuid.Parse(caseID); err == nil {
		return caseID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(caseID)).String()
}

func (q *qdrantStore) Upsert(ctx context.Context, caseID string, vector []float32, meta model.VectorMetadata) error {
	pointUUID := pointIDFor(caseID)
	payload := map[string]any{
		"group_id":     meta.GroupID,
		"status":       meta.Status,
		"created_at":   meta.CreatedAt,
		"evidence_ids": meta.EvidenceIDs,
	}
	if pointUUID != caseID {
		payload[PayloadIDField] = caseID
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointUUID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert case %s: %w", caseID, err)
	}
	return nil
}

func (q *qdrantStore) Delete(ctx context.Context, caseID string) error {
	pointUUID := pointIDFor(caseID)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointUUID)),
	})
	if err != nil {
		return fmt.Errorf("delete case %s: %w", caseID, err)
	}
	return nil
}

// SimilaritySearch returns the k closest cases, optionally scoped to
// groupID (spec.md §4.4: "retrieval is scoped to the requesting
// group's cases only").
func (q *qdrantStore) SimilaritySearch(ctx context.Context, vector []float32, k int, groupID string) ([]Result, error) {
	if k <= 0 {
		k = 5
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	var filter *qdrant.Filter
	if groupID != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("group_id", groupID)}}
	}
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		caseID := hit.Id.GetUuid()
		var meta model.VectorMetadata
		if hit.Payload != nil {
			if orig, ok := hit.Payload[PayloadIDField]; ok {
				caseID = orig.GetStringValue()
			}
			if v, ok := hit.Payload["group_id"]; ok {
				meta.GroupID = v.GetStringValue()
			}
			if v, ok := hit.Payload["status"]; ok {
				meta.Status = v.GetStringValue()
			}
			if v, ok := hit.Payload["created_at"]; ok {
				meta.CreatedAt = v.GetStringValue()
			}
			if v, ok := hit.Payload["evidence_ids"]; ok {
				for _, item := range v.GetListValue().GetValues() {
					meta.EvidenceIDs = append(meta.EvidenceIDs, item.GetStringValue())
				}
			}
		}
		out = append(out, Result{CaseID: caseID, Score: float64(hit.Score), Metadata: meta})
	}
	return out, nil
}

// ListIDs enumerates every point's case_id via the scroll API, used by
// the reconciler to find orphaned vectors with no matching case row.
func (q *qdrantStore) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var offset *qdrant.PointId
	limit := uint32(256)
	for {
		points, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			Limit:          &limit,
		})
		if err != nil {
			return nil, fmt.Errorf("scroll collection: %w", err)
		}
		if len(points) == 0 {
			break
		}
		for _, pt := range points {
			caseID := pt.Id.GetUuid()
			if pt.Payload != nil {
				if orig, ok := pt.Payload[PayloadIDField]; ok {
					caseID = orig.GetStringValue()
				}
			}
			ids = append(ids, caseID)
		}
		if len(points) < int(limit) {
			break
		}
		offset = points[len(points)-1].Id
	}
	return ids, nil
}

func (q *qdrantStore) Dimension() int { return q.dimension }

func (q *qdrantStore) Close() error { return q.client.Close() }
