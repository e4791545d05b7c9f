// Package vectorstore mirrors episodic memory vectors into Qdrant so they can
// be queried by tools outside the turn loop.
package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/nidhogg/limbic-flow/internal/memory"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// Client wraps gRPC connections to Qdrant's collections and points services
// and implements memory.Mirror.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string

	ensured map[int]bool // dimensions whose collection is known to exist
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg QdrantConfig, logger *zap.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	c := newClient(pb.NewCollectionsClient(conn), pb.NewPointsClient(conn), cfg.Collection, logger)
	c.conn = conn
	return c, nil
}

func newClient(cols pb.CollectionsClient, pts pb.PointsClient, collection string, logger *zap.Logger) *Client {
	if collection == "" {
		collection = "limbic_memories"
	}
	return &Client{
		collections: cols,
		points:      pts,
		collection:  collection,
		ensured:     make(map[int]bool),
		logger:      logger,
	}
}

// EnsureCollection creates the collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: c.collection})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: c.collection,
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
		return fmt.Errorf("create collection %s: %w", c.collection, err)
	}
	c.logger.Info("Qdrant collection created",
		zap.String("collection", c.collection),
		zap.Uint64("dimension", dimension))
	return nil
}

// Upsert mirrors one memory record. The point id is the record id.
// Records without a vector are skipped.
func (c *Client) Upsert(ctx context.Context, rec memory.Record) error {
	if len(rec.Vector) == 0 {
		return nil
	}
	if err := c.ensure(ctx, len(rec.Vector)); err != nil {
		return err
	}

	payload := map[string]*pb.Value{
		"user_utterance": stringValue(rec.UserUtterance),
		"system_reply":   stringValue(rec.SystemReply),
		"narrative":      stringValue(rec.Narrative),
		"timestamp":      {Kind: &pb.Value_IntegerValue{IntegerValue: rec.Timestamp.Unix()}},
		"pleasure":       doubleValue(rec.Affect.Pleasure),
		"arousal":        doubleValue(rec.Affect.Arousal),
		"dominance":      doubleValue(rec.Affect.Dominance),
	}
	for k, v := range rec.UserInfo {
		payload["user_"+k] = stringValue(v)
	}

	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(rec.ID)}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: rec.Vector}}},
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert memory %d: %w", rec.ID, err)
	}
	return nil
}

// Search performs a nearest-neighbor search and returns the top-K hits.
func (c *Client) Search(ctx context.Context, vector []float32, topK uint64) ([]SearchResult, error) {
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: c.collection,
		Vector:         vector,
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.collection, err)
	}
	results := make([]SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		payload := make(map[string]string)
		for k, v := range r.Payload {
			if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
				payload[k] = sv.StringValue
			}
		}
		results = append(results, SearchResult{
			MemoryID: int64(r.Id.GetNum()),
			Score:    r.Score,
			Payload:  payload,
		})
	}
	return results, nil
}

// SearchResult holds a single vector search hit.
type SearchResult struct {
	MemoryID int64
	Score    float32
	Payload  map[string]string
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) ensure(ctx context.Context, dim int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ensured[dim] {
		return nil
	}
	if err := c.EnsureCollection(ctx, uint64(dim)); err != nil {
		return err
	}
	c.ensured[dim] = true
	return nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func doubleValue(f float64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: f}}
}

var _ memory.Mirror = (*Client)(nil)
