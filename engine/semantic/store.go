package semantic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
)

// pointsAPI is the slice of the Qdrant points service the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the slice of the Qdrant collections service the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store mirrors document chunks into one Qdrant collection, partitioned by a
// doc_id payload field. The file-backed index stays the source of truth; the
// mirror serves cross-document and operational search.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New connects to Qdrant over gRPC.
func New(addr, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients wires explicit service clients. Used by tests.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *Store {
	return &Store{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (s *Store) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", s.collection, err)
	}
	return nil
}

// PointID derives the deterministic UUID for one chunk of one document.
// Re-ingesting the same content overwrites rather than duplicates.
func PointID(id domain.Identity, chunkID uint32) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", id, chunkID))).String()
}

// UpsertChunks mirrors the chunks of one document with their vectors.
func (s *Store) UpsertChunks(ctx context.Context, id domain.Identity, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("semantic: upsert: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(chunks))
	for i, ch := range chunks {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id, ch.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vectors[i]},
				},
			},
			Payload: map[string]*pb.Value{
				"doc_id":   {Kind: &pb.Value_StringValue{StringValue: id.String()}},
				"chunk_id": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(ch.ID)}},
				"content":  {Kind: &pb.Value_StringValue{StringValue: ch.Text}},
				"start":    {Kind: &pb.Value_IntegerValue{IntegerValue: int64(ch.Start)}},
				"end":      {Kind: &pb.Value_IntegerValue{IntegerValue: int64(ch.End)}},
				"page":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(ch.Page)}},
				"section":  {Kind: &pb.Value_StringValue{StringValue: ch.Section}},
			},
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(points), err)
	}
	return nil
}

// SearchByDoc runs k-NN search restricted to one document's chunks.
func (s *Store) SearchByDoc(ctx context.Context, id domain.Identity, vector []float32, topK int) ([]domain.ScoredChunk, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter: &pb.Filter{
			Must: []*pb.Condition{fieldMatch("doc_id", id.String())},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search doc %s: %w", id.Short(), err)
	}

	results := make([]domain.ScoredChunk, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		payload := r.GetPayload()
		results[i] = domain.ScoredChunk{
			Score: r.GetScore(),
			Chunk: domain.Chunk{
				ID:      uint32(payload["chunk_id"].GetIntegerValue()),
				Text:    payload["content"].GetStringValue(),
				Start:   int(payload["start"].GetIntegerValue()),
				End:     int(payload["end"].GetIntegerValue()),
				Page:    int(payload["page"].GetIntegerValue()),
				Section: payload["section"].GetStringValue(),
			},
		}
	}
	return results, nil
}

// DeleteByDoc removes every point of one document. Used before re-mirroring.
func (s *Store) DeleteByDoc(ctx context.Context, id domain.Identity) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{fieldMatch("doc_id", id.String())},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete doc %s: %w", id.Short(), err)
	}
	return nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
