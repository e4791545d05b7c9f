package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/limbic-flow/internal/cognition"
	"github.com/nidhogg/limbic-flow/internal/memory"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type fakeCollections struct {
	pb.CollectionsClient
	exists  bool
	created []*pb.CreateCollection
}

func (f *fakeCollections) Get(ctx context.Context, in *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	if f.exists {
		return &pb.GetCollectionInfoResponse{}, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeCollections) Create(ctx context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.created = append(f.created, in)
	f.exists = true
	return &pb.CollectionOperationResponse{Result: true}, nil
}

type fakePoints struct {
	pb.PointsClient
	upserts []*pb.UpsertPoints
}

func (f *fakePoints) Upsert(ctx context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f.upserts = append(f.upserts, in)
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Search(ctx context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	return &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: 7}},
			Score:   0.9,
			Payload: map[string]*pb.Value{"narrative": stringValue("hello")},
		},
	}}, nil
}

func TestUpsertMirrorsRecord(t *testing.T) {
	cols := &fakeCollections{}
	pts := &fakePoints{}
	c := newClient(cols, pts, "", zap.NewNop())
	ctx := context.Background()

	rec := memory.Record{
		ID:            3,
		Vector:        []float32{0.1, 0.2, 0.3},
		Affect:        cognition.Affect{Pleasure: 0.5},
		Timestamp:     time.Unix(1700000000, 0),
		UserUtterance: "你好",
		UserInfo:      map[string]string{"name": "小明"},
	}
	if err := c.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := c.Upsert(ctx, rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if len(cols.created) != 1 {
		t.Fatalf("created %d collections, want 1", len(cols.created))
	}
	if got := cols.created[0].GetVectorsConfig().GetParams().GetSize(); got != 3 {
		t.Errorf("collection size = %d, want 3", got)
	}
	if len(pts.upserts) != 2 {
		t.Fatalf("got %d upserts, want 2", len(pts.upserts))
	}
	p := pts.upserts[0].Points[0]
	if p.Id.GetNum() != 3 {
		t.Errorf("point id = %d, want 3", p.Id.GetNum())
	}
	if p.Payload["user_name"].GetStringValue() != "小明" {
		t.Errorf("user_name payload = %v", p.Payload["user_name"])
	}
	if p.Payload["pleasure"].GetDoubleValue() != 0.5 {
		t.Errorf("pleasure payload = %v", p.Payload["pleasure"])
	}
	if pts.upserts[0].CollectionName != "limbic_memories" {
		t.Errorf("collection = %q", pts.upserts[0].CollectionName)
	}
}

func TestUpsertSkipsEmptyVector(t *testing.T) {
	pts := &fakePoints{}
	c := newClient(&fakeCollections{}, pts, "mem", zap.NewNop())
	if err := c.Upsert(context.Background(), memory.Record{ID: 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(pts.upserts) != 0 {
		t.Errorf("expected no upsert for empty vector")
	}
}

func TestSearch(t *testing.T) {
	c := newClient(&fakeCollections{exists: true}, &fakePoints{}, "mem", zap.NewNop())
	hits, err := c.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].MemoryID != 7 || hits[0].Payload["narrative"] != "hello" {
		t.Errorf("unexpected hits: %+v", hits)
	}
}

func TestStoreMirrorsThroughClient(t *testing.T) {
	pts := &fakePoints{}
	c := newClient(&fakeCollections{}, pts, "mem", zap.NewNop())
	s := memory.NewStore("", zap.NewNop())
	s.SetMirror(c)

	if _, err := s.Put(context.Background(), memory.Record{Vector: []float32{1, 2}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(pts.upserts) != 1 {
		t.Errorf("got %d upserts, want 1", len(pts.upserts))
	}
}
