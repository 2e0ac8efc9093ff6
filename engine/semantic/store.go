// Package semantic owns every vector index operation. The index is backed by
// a Qdrant collection reached over gRPC.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/pkg/fn"
)

// Defaults for Options.
const (
	DefaultCollection    = "robindocs"
	DefaultDimension     = 768
	DefaultBatchSize     = 100
	DefaultBatchInterval = 200 * time.Millisecond
	DefaultInitTimeout   = 30 * time.Second
)

// PointsAPI is the subset of pb.PointsClient the index uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// CollectionsAPI is the subset of pb.CollectionsClient the index uses.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Options configures a VectorIndex.
type Options struct {
	Collection string
	Dimension  int
	BatchSize  int
	// BatchInterval is the minimum spacing between upsert batches.
	BatchInterval time.Duration
	// Capacity is the point count treated as full; 0 leaves Fullness at 0.
	Capacity    uint64
	InitTimeout time.Duration
	// APIKey is sent as the api-key header when set.
	APIKey string
	// Region is informational; Qdrant has no region concept.
	Region string
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Collection == "" {
		o.Collection = DefaultCollection
	}
	if o.Dimension <= 0 {
		o.Dimension = DefaultDimension
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchInterval < 0 {
		o.BatchInterval = 0
	}
	if o.InitTimeout <= 0 {
		o.InitTimeout = DefaultInitTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// VectorIndex is an owned handle to one collection. Initialization is lazy
// and shared: concurrent EnsureReady callers wait on the same attempt and
// see the same cached result.
type VectorIndex struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	opts        Options
	log         *slog.Logger
	limiter     *rate.Limiter

	mu       sync.Mutex
	status   Status
	initDone chan struct{} // nil until the first EnsureReady
	initErr  error
}

// New dials Qdrant at addr. It never fails: if the client cannot be built the
// returned handle is disabled and every call is a no-op.
func New(addr string, opts Options) *VectorIndex {
	opts = opts.withDefaults()
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if opts.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
	}
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		v := newIndex(nil, nil, opts)
		v.disable(fmt.Errorf("semantic: dial qdrant %s: %w: %w", addr, domain.ErrIndexUnavailable, err))
		return v
	}
	v := newIndex(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), opts)
	v.conn = conn
	return v
}

// NewWithClients builds a handle over already constructed clients.
func NewWithClients(points PointsAPI, collections CollectionsAPI, opts Options) *VectorIndex {
	return newIndex(points, collections, opts.withDefaults())
}

func newIndex(points PointsAPI, collections CollectionsAPI, opts Options) *VectorIndex {
	limit := rate.Inf
	if opts.BatchInterval > 0 {
		limit = rate.Every(opts.BatchInterval)
	}
	return &VectorIndex{
		points:      points,
		collections: collections,
		opts:        opts,
		log:         opts.Logger.With("collection", opts.Collection),
		limiter:     rate.NewLimiter(limit, 1),
	}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(metadata.AppendToOutgoingContext(ctx, "api-key", key), method, req, reply, cc, opts...)
	}
}

func (v *VectorIndex) disable(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = StatusDisabled
	v.initErr = err
	v.initDone = make(chan struct{})
	close(v.initDone)
}

// Close closes the underlying gRPC connection.
func (v *VectorIndex) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Status reports the handle's lifecycle state.
func (v *VectorIndex) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Available is false once the handle has been disabled.
func (v *VectorIndex) Available() bool { return v.Status() != StatusDisabled }

// Dimension returns the configured vector length.
func (v *VectorIndex) Dimension() int { return v.opts.Dimension }

// Collection returns the collection name.
func (v *VectorIndex) Collection() string { return v.opts.Collection }

// EnsureReady lists collections and creates the target one if absent. Only
// one attempt ever runs; its outcome is cached. A failure disables the
// handle and matches domain.ErrIndexUnavailable. ctx bounds only this
// caller's wait, not the shared attempt.
func (v *VectorIndex) EnsureReady(ctx context.Context) error {
	v.mu.Lock()
	if v.initDone == nil {
		v.initDone = make(chan struct{})
		go v.initialize(context.WithoutCancel(ctx))
	}
	done := v.initDone
	v.mu.Unlock()

	select {
	case <-done:
		v.mu.Lock()
		defer v.mu.Unlock()
		return v.initErr
	case <-ctx.Done():
		return fmt.Errorf("semantic: ensure ready: %w", ctx.Err())
	}
}

func (v *VectorIndex) initialize(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.InitTimeout)
	defer cancel()

	err := v.ensureCollection(ctx)

	v.mu.Lock()
	if err != nil {
		v.status = StatusDisabled
		v.initErr = fmt.Errorf("semantic: ensure ready: %w: %w", domain.ErrIndexUnavailable, err)
	} else {
		v.status = StatusReady
	}
	close(v.initDone)
	v.mu.Unlock()

	if err != nil {
		v.log.Error("semantic: index unavailable, running disabled", "error", err)
		return
	}
	v.log.Info("semantic: index ready", "dimension", v.opts.Dimension, "region", v.opts.Region)
}

func (v *VectorIndex) ensureCollection(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.opts.Collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.opts.Collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(v.opts.Dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", v.opts.Collection, err)
	}
	v.log.Info("semantic: created collection", "dimension", v.opts.Dimension, "metric", "cosine")
	return nil
}

// Upsert writes records in fixed-size batches, one batch at a time, paced by
// BatchInterval. Records with the wrong vector length are rejected before
// sending. A failed batch is logged and counted and the next batch still
// runs. The error is non-nil only when the index is unavailable or ctx ends.
func (v *VectorIndex) Upsert(ctx context.Context, records []domain.IndexRecord) (UpsertResult, error) {
	var res UpsertResult
	if len(records) == 0 {
		return res, nil
	}
	if err := v.EnsureReady(ctx); err != nil {
		res.Failed = len(records)
		return res, err
	}

	valid := make([]domain.IndexRecord, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			v.log.Warn("semantic: rejecting record without id")
			res.Failed++
			continue
		}
		if err := domain.CheckDimension(r.Vector, v.opts.Dimension); err != nil {
			v.log.Warn("semantic: rejecting record", "record_id", r.ID, "error", err)
			res.Failed++
			continue
		}
		valid = append(valid, r)
	}

	wait := true
	batches := fn.Chunk(valid, v.opts.BatchSize)
	for i, batch := range batches {
		if err := v.limiter.Wait(ctx); err != nil {
			for _, rest := range batches[i:] {
				res.Failed += len(rest)
			}
			return res, fmt.Errorf("semantic: upsert: %w", err)
		}
		res.Batches++

		points := fn.Map(batch, toPoint)
		_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: v.opts.Collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			res.FailedBatches++
			res.Failed += len(batch)
			v.log.Warn("semantic: upsert batch failed", "batch", i+1, "size", len(batch), "error", err)
			continue
		}
		res.Upserted += len(batch)
		v.log.Debug("semantic: upserted batch", "batch", i+1, "size", len(batch))
	}
	return res, nil
}

// Query returns up to topK nearest records matching filter. Any failure,
// including an unavailable index, yields an empty result.
func (v *VectorIndex) Query(ctx context.Context, vec domain.EmbeddingVector, topK int, filter map[string]any) []Match {
	if topK <= 0 {
		return nil
	}
	if err := v.EnsureReady(ctx); err != nil {
		v.log.Debug("semantic: query skipped", "error", err)
		return nil
	}
	if err := domain.CheckDimension(vec, v.opts.Dimension); err != nil {
		v.log.Warn("semantic: query rejected", "error", err)
		return nil
	}

	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.opts.Collection,
		Vector:         vec,
		Limit:          uint64(topK),
		Filter:         buildFilter(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		v.log.Warn("semantic: search failed", "error", err)
		return nil
	}

	matches := make([]Match, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		md := fromPayload(r.GetPayload())
		id, _ := md[domain.MetaRecordKey].(string)
		delete(md, domain.MetaRecordKey)
		matches = append(matches, Match{
			ID:       id,
			PointID:  r.GetId().GetUuid(),
			Score:    r.GetScore(),
			Metadata: md,
		})
	}
	return matches
}

// Delete removes every record matching filter. An empty filter is refused.
func (v *VectorIndex) Delete(ctx context.Context, filter map[string]any) error {
	if len(filter) == 0 {
		return fmt.Errorf("semantic: delete: %w", domain.ErrEmptyFilter)
	}
	if err := v.EnsureReady(ctx); err != nil {
		return err
	}
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.opts.Collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: buildFilter(filter)},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete %v: %w", filter, err)
	}
	v.log.Info("semantic: deleted by filter", "filter", filter)
	return nil
}

// Stats reports the point count, configured dimension and fullness.
func (v *VectorIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	stats := domain.IndexStats{Dimension: v.opts.Dimension}
	if err := v.EnsureReady(ctx); err != nil {
		return stats, err
	}
	info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.opts.Collection})
	if err != nil {
		return stats, fmt.Errorf("semantic: stats: %w", err)
	}
	stats.TotalVectorCount = info.GetResult().GetPointsCount()
	if v.opts.Capacity > 0 {
		stats.Fullness = float64(stats.TotalVectorCount) / float64(v.opts.Capacity)
	}
	return stats, nil
}

// Drop deletes the whole collection and resets the handle so the next call
// recreates it.
func (v *VectorIndex) Drop(ctx context.Context) error {
	if err := v.EnsureReady(ctx); err != nil {
		return err
	}
	if _, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.opts.Collection}); err != nil {
		return fmt.Errorf("semantic: drop %s: %w", v.opts.Collection, err)
	}
	v.mu.Lock()
	v.status = StatusPending
	v.initDone = nil
	v.initErr = nil
	v.mu.Unlock()
	v.log.Warn("semantic: dropped collection")
	return nil
}

// IsUnavailable reports whether err means the index could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrIndexUnavailable)
}
