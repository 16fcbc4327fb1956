package semantic

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/marketpulse/signals/engine/domain"
)

// Payload keys holding the ref.
const (
	payloadRefKind = "ref_kind"
	payloadRefID   = "ref_id"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantIndex owns every Qdrant call.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// NewQdrant dials Qdrant's gRPC port.
func NewQdrant(addr, collection string) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewQdrantWithClients builds an index over existing clients.
func NewQdrantWithClients(points pointsAPI, collections collectionsAPI, collection string) *QdrantIndex {
	return &QdrantIndex{points: points, collections: collections, collection: collection}
}

func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// EnsureCollection creates a cosine collection of dims if it is missing.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dims int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: uint64(dims), Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", q.collection, err)
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Meta)+2)
		for k, v := range r.Meta {
			payload[k] = stringValue(v)
		}
		payload[payloadRefKind] = stringValue(string(r.Ref.Kind))
		payload[payloadRefID] = stringValue(r.Ref.ID)
		payload[MetaKind] = stringValue(string(r.Ref.Kind))

		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.Ref)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}}},
			Payload: payload,
		}
	}
	wait := true
	if _, err := q.points.Upsert(ctx, &pb.UpsertPoints{CollectionName: q.collection, Wait: &wait, Points: points}); err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Delete removes the points for refs.
func (q *QdrantIndex) Delete(ctx context.Context, refs ...domain.Ref) error {
	if len(refs) == 0 {
		return nil
	}
	ids := make([]*pb.PointId, len(refs))
	for i, r := range refs {
		ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r)}}
	}
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{Points: &pb.PointsIdsList{Ids: ids}},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete %d points: %w", len(refs), err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, topK int, filters Filters) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for _, k := range sortedKeys(filters) {
			must = append(must, fieldMatch(k, filters[k]))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		h := Hit{Score: p.GetScore(), Meta: make(map[string]string)}
		for k, v := range p.GetPayload() {
			switch k {
			case payloadRefKind:
				h.Ref.Kind = domain.Kind(v.GetStringValue())
			case payloadRefID:
				h.Ref.ID = v.GetStringValue()
			default:
				h.Meta[k] = v.GetStringValue()
			}
		}
		if h.Ref.Kind == "" || h.Ref.ID == "" {
			continue
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}
