// Package vectorstore mirrors skill embeddings into a Qdrant collection so
// other services can search the skill library.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Collection string `json:"collection" yaml:"collection"`
}

// skillNamespace scopes point IDs derived from skill names.
var skillNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e3f-9a01-2c4d6e8f0a1b")

// PointID returns the stable point ID for a skill name.
func PointID(name string) string {
	return uuid.NewSHA1(skillNamespace, []byte(name)).String()
}

// Index is a Qdrant collection holding one point per skill.
type Index struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string
}

// NewIndex dials the Qdrant gRPC endpoint.
func NewIndex(cfg QdrantConfig) (*Index, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	coll := cfg.Collection
	if coll == "" {
		coll = "skills"
	}
	return &Index{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		collection:  coll,
	}, nil
}

// Ensure creates the collection with cosine distance if it does not exist.
func (ix *Index) Ensure(ctx context.Context, dimension uint64) error {
	_, err := ix.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: ix.collection})
	if err == nil {
		return nil
	}
	_, err = ix.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: ix.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", ix.collection, err)
	}
	return nil
}

// Upsert stores a skill's embedding with string metadata.
func (ix *Index) Upsert(ctx context.Context, name string, vector []float32, meta map[string]string) error {
	payload := make(map[string]*pb.Value, len(meta)+1)
	for k, v := range meta {
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	payload["name"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: name}}
	_, err := ix.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: ix.collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(name)}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert skill %s: %w", name, err)
	}
	return nil
}

// Delete removes a skill's point.
func (ix *Index) Delete(ctx context.Context, name string) error {
	_, err := ix.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: ix.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(name)}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete skill %s: %w", name, err)
	}
	return nil
}

// Hit is one search result.
type Hit struct {
	Name  string
	Score float32
}

// Search returns the topK skills nearest to vector.
func (ix *Index) Search(ctx context.Context, vector []float32, topK uint64) ([]Hit, error) {
	resp, err := ix.points.Search(ctx, &pb.SearchPoints{
		CollectionName: ix.collection,
		Vector:         vector,
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", ix.collection, err)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		name := r.Id.GetUuid()
		if v, ok := r.Payload["name"]; ok {
			if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
				name = sv.StringValue
			}
		}
		hits = append(hits, Hit{Name: name, Score: r.Score})
	}
	return hits, nil
}

// Close tears down the underlying gRPC connection.
func (ix *Index) Close() error {
	return ix.conn.Close()
}
