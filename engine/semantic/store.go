// Package semantic is the sole owner of all Qdrant operations: the cosine
// collection holding one point per canonical question plus one per
// paraphrase variant.
package semantic

import (
	"context"
	"fmt"

	"github.com/shamgpt/shamgpt/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// pointsAPI is the slice of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the slice of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore wraps the Qdrant gRPC clients for a single collection with a
// fixed embedding dimension.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dims        int
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
// dims is the embedding dimension every vector must match.
func New(addr, collection string, dims int) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
	}, nil
}

// NewWithClients builds a VectorStore around pre-built clients. Used by
// tests.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, dims int) *VectorStore {
	return &VectorStore{
		points:      points,
		collections: collections,
		collection:  collection,
		dims:        dims,
	}
}

// Close closes the underlying gRPC connection, if any.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Dims returns the fixed embedding dimension.
func (v *VectorStore) Dims() int { return v.dims }

// EnsureCollection creates the cosine collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(v.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// DeleteCollection drops the collection. Used by maintenance and tests.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores a single record. Idempotent on the point id; last writer
// wins.
func (v *VectorStore) Upsert(ctx context.Context, record VectorRecord) error {
	return v.UpsertBatch(ctx, []VectorRecord{record})
}

// UpsertBatch stores records atomically at the batch level. Every vector
// must match the collection dimension.
func (v *VectorStore) UpsertBatch(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		if len(r.Embedding) != v.dims {
			return fmt.Errorf("semantic: point %s has %d dims, collection has %d: %w",
				r.ID, len(r.Embedding), v.dims, domain.ErrDimensionMismatch)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: encodePayload(r.Payload),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search performs cosine top-k search returning hits with score >= minScore,
// best first. filter is an optional payload equality predicate.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int, minScore float32, filter map[string]any) ([]SearchHit, error) {
	if len(embedding) != v.dims {
		return nil, fmt.Errorf("semantic: query has %d dims, collection has %d: %w",
			len(embedding), v.dims, domain.ErrDimensionMismatch)
	}

	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		ScoreThreshold: &minScore,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filter) > 0 {
		must := make([]*pb.Condition, 0, len(filter))
		for k, val := range filter {
			must = append(must, fieldMatch(k, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]SearchHit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = decodeHit(r)
	}
	return hits, nil
}

// DeleteByOrigin removes all variant points pointing back at the given
// canonical pair. Used by maintenance.
func (v *VectorStore) DeleteByOrigin(ctx context.Context, qaID string) error {
	return v.deleteByFilter(ctx, &pb.Filter{Must: []*pb.Condition{
		fieldMatch(KeyOriginQAID, qaID),
	}})
}

// DeleteByQAID removes every point (canonical and variants) carrying the
// given qa_id.
func (v *VectorStore) DeleteByQAID(ctx context.Context, qaID string) error {
	return v.deleteByFilter(ctx, &pb.Filter{Must: []*pb.Condition{
		fieldMatch(KeyQAID, qaID),
	}})
}

func (v *VectorStore) deleteByFilter(ctx context.Context, filter *pb.Filter) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete by filter: %w", err)
	}
	return nil
}

// CollectionStats reports the point count and connectivity for health checks.
func (v *VectorStore) CollectionStats(ctx context.Context) (Stats, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Exact:          &exact,
	})
	if err != nil {
		return Stats{Connected: false}, fmt.Errorf("semantic: count points: %w", err)
	}
	return Stats{PointsTotal: resp.GetResult().GetCount(), Connected: true}, nil
}

// encodePayload converts a generic payload map into Qdrant values.
func encodePayload(payload map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(payload))
	for k, val := range payload {
		switch tv := val.(type) {
		case string:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			out[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			out[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return out
}

// decodeHit maps a scored point back into a SearchHit.
func decodeHit(r *pb.ScoredPoint) SearchHit {
	hit := SearchHit{
		PointID: r.GetId().GetUuid(),
		Score:   r.GetScore(),
		Payload: make(map[string]any),
	}
	for k, val := range r.GetPayload() {
		switch k {
		case KeyQAID:
			hit.QAID = val.GetStringValue()
		case KeyQuestion:
			hit.Question = val.GetStringValue()
		case KeyIsVariant:
			hit.IsVariant = val.GetBoolValue()
		case KeyOriginQAID:
			hit.OriginQAID = val.GetStringValue()
		default:
			hit.Payload[k] = decodeValue(val)
		}
	}
	return hit
}

func decodeValue(val *pb.Value) any {
	switch kind := val.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	default:
		return val.String()
	}
}

func fieldMatch(key string, value any) *pb.Condition {
	var match *pb.Match
	switch tv := value.(type) {
	case bool:
		match = &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: tv}}
	case string:
		match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: tv}}
	default:
		match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: fmt.Sprint(tv)}}
	}
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Match: match},
		},
	}
}
