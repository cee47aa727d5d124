package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"notesrag/internal/domain"
)

// pointNamespace seeds the deterministic point IDs derived from
// document name and sequence.
var pointNamespace = uuid.MustParse("6f1c1b9e-3a52-4f0e-9d8e-2f64b8f0c1a7")

// QdrantOptions configures the qdrant backend.
type QdrantOptions struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	Collection     string
	MaxMessageSize int
}

// QdrantStore keeps records in a qdrant collection over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	configured int

	mu          sync.RWMutex
	dimension   int
	fingerprint string
}

// NewQdrantStore connects to qdrant. The collection is created with cosine
// distance on first upsert when dimension is unknown up front.
func NewQdrantStore(ctx context.Context, opts QdrantOptions, dimension int) (*QdrantStore, error) {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 6334
	}
	if opts.Collection == "" {
		opts.Collection = "notes"
	}
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = 50 * 1024 * 1024
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMessageSize),
				grpc.MaxCallSendMsgSize(opts.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("failed to connect to qdrant: %w", err))
	}

	s := &QdrantStore{client: client, collection: opts.Collection, configured: dimension, dimension: dimension}
	if err := s.loadDimension(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) loadDimension(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return mapQdrantError("checking collection", err)
	}
	if !exists {
		return nil
	}
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return mapQdrantError("reading collection info", err)
	}
	size := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	if size == 0 {
		return nil
	}
	if s.dimension != 0 && size != s.dimension {
		return domain.IntegrityError("qdrant collection %s has dimension %d, configured dimension is %d", s.collection, size, s.dimension)
	}
	s.dimension = size
	return nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return mapQdrantError("checking collection", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return mapQdrantError("creating collection", err)
	}
	return nil
}

func pointID(document string, sequence int) string {
	return uuid.NewSHA1(pointNamespace, []byte(chromemID(document, sequence))).String()
}

func (s *QdrantStore) Upsert(ctx context.Context, records []domain.IndexRecord) error {
	if len(records) == 0 {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(ctx, records)
}

// ReplaceDocument upserts records first and then deletes the document's
// points at or past the first unused sequence.
func (s *QdrantStore) ReplaceDocument(ctx context.Context, document string, records []domain.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkReplacement(document, records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := 0
	if len(records) > 0 {
		if err := s.upsert(ctx, records); err != nil {
			return err
		}
		for _, r := range records {
			if r.Sequence >= next {
				next = r.Sequence + 1
			}
		}
	}
	if s.dimension == 0 {
		return nil
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(metaDocument, document),
				qdrant.NewRange(metaSequence, &qdrant.Range{Gte: qdrant.PtrOf(float64(next))}),
			},
		}),
	})
	return mapQdrantError("deleting stale points of "+document, err)
}

func (s *QdrantStore) upsert(ctx context.Context, records []domain.IndexRecord) error {
	dimension := s.dimension
	if err := validateRecords(records, "", &dimension); err != nil {
		return err
	}
	if err := s.ensureCollection(ctx, dimension); err != nil {
		return err
	}

	ids := make([]*qdrant.PointId, len(records))
	for i, r := range records {
		ids[i] = qdrant.NewIDUUID(pointID(r.Document, r.Sequence))
	}
	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return mapQdrantError("reading existing points", err)
	}
	orders := make(map[string]uint64, len(existing))
	for _, p := range existing {
		if v, ok := p.GetPayload()[metaInsertSeq]; ok {
			orders[p.GetId().GetUuid()] = uint64(v.GetIntegerValue())
		}
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		id := ids[i].GetUuid()
		order, ok := orders[id]
		if !ok {
			order = nextInsertOrder()
		}
		points[i] = &qdrant.PointStruct{
			Id:      ids[i],
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"content":     r.Content,
				metaDocument:  r.Document,
				metaSequence:  int64(r.Sequence),
				metaInsertSeq: int64(order),
			}),
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return mapQdrantError("upserting points", err)
	}
	s.dimension = dimension
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, query []float32, k int, threshold float64) ([]domain.RetrievalMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := checkQueryDimension(query, s.dimension); err != nil {
		return nil, err
	}
	if k <= 0 || s.dimension == 0 {
		return nil, nil
	}
	total, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.collection, Exact: qdrant.PtrOf(true)})
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, mapQdrantError("counting points", err)
	}
	if total == 0 {
		return nil, nil
	}

	// The whole above-threshold set is fetched so ties can be ordered by
	// insertion before truncating to k.
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(total),
		ScoreThreshold: qdrant.PtrOf(float32(threshold)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, mapQdrantError("searching collection", err)
	}

	matches := make([]domain.RetrievalMatch, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		matches = append(matches, domain.RetrievalMatch{
			Content:     payload["content"].GetStringValue(),
			Similarity:  float64(p.GetScore()),
			Document:    payload[metaDocument].GetStringValue(),
			Sequence:    int(payload[metaSequence].GetIntegerValue()),
			InsertOrder: uint64(payload[metaInsertSeq].GetIntegerValue()),
		})
	}
	return rankMatches(matches, k, threshold), nil
}

func (s *QdrantStore) DeleteDocument(ctx context.Context, document string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return nil
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(metaDocument, document)},
		}),
	})
	return mapQdrantError("deleting document "+document, err)
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil || !exists {
		return 0, mapQdrantError("checking collection", err)
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.collection, Exact: qdrant.PtrOf(true)})
	if err != nil {
		return 0, mapQdrantError("counting points", err)
	}
	return int(n), nil
}

func (s *QdrantStore) Fingerprint(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint, nil
}

func (s *QdrantStore) SetFingerprint(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprint = fingerprint
	return nil
}

func (s *QdrantStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return mapQdrantError("checking collection", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
			return mapQdrantError("deleting collection", err)
		}
	}
	s.dimension = s.configured
	s.fingerprint = ""
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// mapQdrantError classifies gRPC status codes into retryable and
// integrity failures. A nil err maps to nil.
func mapQdrantError(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("qdrant %s: %w", op, err)
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return domain.Transient(wrapped)
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%w: %v", domain.ErrDataIntegrity, wrapped)
	default:
		return wrapped
	}
}
