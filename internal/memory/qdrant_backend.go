package memory

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// anchorPayloadIDField: Qdrant only accepts UUIDs or positive integers as
// point ids, so non-UUID anchor names are hashed into a deterministic UUID
// and the original name is kept in the payload for round-tripping.
const anchorPayloadIDField = "_original_id"

func deterministicPointID(id string) *qdrant.PointId {
	uuidStr := id
	if _, err := uuid.Parse(id); err != nil {
		uuidStr = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
	}
	return qdrant.NewIDUUID(uuidStr)
}

// qdrantBackend is a VectorBackend over a networked Qdrant collection: a
// gRPC client, deterministic-UUID-from-string-id points, and cosine-default
// collection bootstrap, trimmed of a generic filter-by-arbitrary-metadata
// search path (anchors never filter).
type qdrantBackend struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

func newQdrantBackend(dsn, collection string, dimensions int) (VectorBackend, error) {
	if collection == "" {
		return nil, fmt.Errorf("memory: qdrant backend requires a collection name")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: parse qdrant dsn: %w", err)
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
		return nil, fmt.Errorf("memory: invalid qdrant port: %w", err)
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
		return nil, fmt.Errorf("memory: create qdrant client: %w", err)
	}
	b := &qdrantBackend{client: client, collection: collection, dimension: dimensions}
	if err := b.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("memory: ensure qdrant collection: %w", err)
	}
	return b, nil
}

func (b *qdrantBackend) ensureCollection(ctx context.Context) error {
	exists, err := b.client.CollectionExists(ctx, b.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if b.dimension <= 0 {
		return fmt.Errorf("qdrant requires dimensions > 0")
	}
	return b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(b.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (b *qdrantBackend) Upsert(ctx context.Context, p VectorPoint) error {
	metadataAny := make(map[string]any, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		metadataAny[k] = v
	}
	metadataAny[anchorPayloadIDField] = p.ID
	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)
	points := []*qdrant.PointStruct{{
		Id:      deterministicPointID(p.ID),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(metadataAny),
	}}
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: b.collection, Points: points})
	return err
}

func (b *qdrantBackend) Delete(ctx context.Context, id string) error {
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: b.collection,
		Points:         qdrant.NewPointsSelector(deterministicPointID(id)),
	})
	return err
}

func (b *qdrantBackend) Search(ctx context.Context, vector []float32, k int) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	hits, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: b.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]VectorResult, 0, len(hits))
	for _, hit := range hits {
		metadata := make(map[string]string)
		var originalID string
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == anchorPayloadIDField {
					originalID = v.GetStringValue()
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		id := originalID
		if id == "" {
			id = hit.Id.GetUuid()
		}
		out = append(out, VectorResult{ID: id, Score: float64(hit.Score), Metadata: metadata})
	}
	return out, nil
}

func (b *qdrantBackend) List(ctx context.Context) ([]VectorPoint, error) {
	var points []VectorPoint
	offset := (*qdrant.PointId)(nil)
	for {
		limit := uint32(256)
		resp, err := b.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: b.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, err
		}
		if len(resp) == 0 {
			break
		}
		for _, pt := range resp {
			id := pt.Id.GetUuid()
			metadata := make(map[string]string)
			if pt.Payload != nil {
				for k, v := range pt.Payload {
					if k == anchorPayloadIDField {
						id = v.GetStringValue()
						continue
					}
					metadata[k] = v.GetStringValue()
				}
			}
			points = append(points, VectorPoint{ID: id, Metadata: metadata})
		}
		if len(resp) < int(limit) {
			break
		}
		offset = resp[len(resp)-1].Id
	}
	return points, nil
}

func (b *qdrantBackend) Close() error {
	return b.client.Close()
}
