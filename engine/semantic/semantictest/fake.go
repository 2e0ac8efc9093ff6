// Package semantictest provides an in-memory Qdrant double for tests of
// code built on semantic.VectorIndex.
package semantictest

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type point struct {
	vector  []float32
	payload map[string]*pb.Value
}

type collection struct {
	size   uint64
	points map[string]point
}

// Fake implements semantic.PointsAPI and semantic.CollectionsAPI in memory.
// The exported error fields inject failures; hooks run under no lock.
type Fake struct {
	mu          sync.Mutex
	collections map[string]*collection

	CreateCalls atomic.Int32
	UpsertCalls atomic.Int32
	DeleteCalls atomic.Int32

	// ListDelay slows List so concurrent initializers overlap.
	ListDelay time.Duration

	ListErr   error
	CreateErr error
	SearchErr error
	DeleteErr error
	GetErr    error
	// UpsertErr, when set, decides per call (1-based) whether Upsert fails.
	UpsertErr func(call int) error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{collections: map[string]*collection{}}
}

// Count returns the number of points in a collection.
func (f *Fake) Count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.collections[name]; ok {
		return len(c.points)
	}
	return 0
}

// Payload returns a decoded copy of the string fields stored for a point.
func (f *Fake) Payload(name, pointID string) (map[string]*pb.Value, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[name]
	if !ok {
		return nil, false
	}
	p, ok := c.points[pointID]
	return p.payload, ok
}

// --- CollectionsAPI ---

func (f *Fake) List(ctx context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	if f.ListDelay > 0 {
		select {
		case <-time.After(f.ListDelay):
		case <-ctx.Done():
			return nil, status.FromContextError(ctx.Err()).Err()
		}
	}
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &pb.ListCollectionsResponse{}
	for name := range f.collections {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: name})
	}
	return resp, nil
}

func (f *Fake) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.CreateCalls.Add(1)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[in.GetCollectionName()]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "collection %s already exists", in.GetCollectionName())
	}
	f.collections[in.GetCollectionName()] = &collection{
		size:   in.GetVectorsConfig().GetParams().GetSize(),
		points: map[string]point{},
	}
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func (f *Fake) Get(_ context.Context, in *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[in.GetCollectionName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "collection %s not found", in.GetCollectionName())
	}
	n := uint64(len(c.points))
	return &pb.GetCollectionInfoResponse{Result: &pb.CollectionInfo{PointsCount: &n}}, nil
}

func (f *Fake) Delete(_ context.Context, in *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.collections, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

// Points returns a PointsAPI view of the fake. Collections and points share
// method names, so the two APIs are exposed as separate values.
func (f *Fake) Points() *Points { return &Points{f: f} }

// Points implements semantic.PointsAPI over a Fake.
type Points struct{ f *Fake }

func (p *Points) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f := p.f
	call := int(f.UpsertCalls.Add(1))
	if f.UpsertErr != nil {
		if err := f.UpsertErr(call); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[in.GetCollectionName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "collection %s not found", in.GetCollectionName())
	}
	for _, pt := range in.GetPoints() {
		vec := pt.GetVectors().GetVector().GetData()
		if c.size > 0 && uint64(len(vec)) != c.size {
			return nil, status.Errorf(codes.InvalidArgument, "wrong vector size %d", len(vec))
		}
		c.points[pt.GetId().GetUuid()] = point{vector: vec, payload: pt.GetPayload()}
	}
	return &pb.PointsOperationResponse{Result: &pb.UpdateResult{Status: pb.UpdateStatus_Completed}}, nil
}

func (p *Points) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	f := p.f
	f.DeleteCalls.Add(1)
	if f.DeleteErr != nil {
		return nil, f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[in.GetCollectionName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "collection %s not found", in.GetCollectionName())
	}
	filter := in.GetPoints().GetFilter()
	for id, pt := range c.points {
		if matches(filter, pt.payload) {
			delete(c.points, id)
		}
	}
	return &pb.PointsOperationResponse{Result: &pb.UpdateResult{Status: pb.UpdateStatus_Completed}}, nil
}

func (p *Points) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	f := p.f
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[in.GetCollectionName()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "collection %s not found", in.GetCollectionName())
	}
	var hits []*pb.ScoredPoint
	for id, pt := range c.points {
		if !matches(in.GetFilter(), pt.payload) {
			continue
		}
		hits = append(hits, &pb.ScoredPoint{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
			Score:   cosine(in.GetVector(), pt.vector),
			Payload: pt.payload,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].GetId().GetUuid() < hits[j].GetId().GetUuid()
	})
	if limit := int(in.GetLimit()); limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return &pb.SearchResponse{Result: hits}, nil
}

func matches(filter *pb.Filter, payload map[string]*pb.Value) bool {
	for _, cond := range filter.GetMust() {
		field := cond.GetField()
		if field == nil {
			return false
		}
		if !matchValue(payload[field.GetKey()], field.GetMatch()) {
			return false
		}
	}
	return true
}

func matchValue(v *pb.Value, m *pb.Match) bool {
	if v == nil {
		return false
	}
	if list := v.GetListValue(); list != nil {
		for _, item := range list.GetValues() {
			if matchValue(item, m) {
				return true
			}
		}
		return false
	}
	switch mv := m.GetMatchValue().(type) {
	case *pb.Match_Keyword:
		s, ok := v.GetKind().(*pb.Value_StringValue)
		return ok && s.StringValue == mv.Keyword
	case *pb.Match_Integer:
		i, ok := v.GetKind().(*pb.Value_IntegerValue)
		return ok && i.IntegerValue == mv.Integer
	case *pb.Match_Boolean:
		b, ok := v.GetKind().(*pb.Value_BoolValue)
		return ok && b.BoolValue == mv.Boolean
	case *pb.Match_Keywords:
		s, ok := v.GetKind().(*pb.Value_StringValue)
		if !ok {
			return false
		}
		for _, k := range mv.Keywords.GetStrings() {
			if k == s.StringValue {
				return true
			}
		}
	}
	return false
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
