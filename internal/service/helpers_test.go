package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/code-batch-engine/internal/codegen"
	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"github.com/kursadbilgin/code-batch-engine/internal/queue"
	"github.com/kursadbilgin/code-batch-engine/internal/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testRepos struct {
	batches *repository.GormBatchRepo
	codes   *repository.GormCodeRepo
	audits  *repository.GormExportAuditRepo
}

func newTestRepos(t *testing.T) testRepos {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB() error = %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&repository.BatchModel{}, &repository.CodeModel{}, &repository.ExportAuditModel{}); err != nil {
		t.Fatalf("AutoMigrate() error = %v", err)
	}

	return testRepos{
		batches: repository.NewGormBatchRepo(db),
		codes:   repository.NewGormCodeRepo(db),
		audits:  repository.NewGormExportAuditRepo(db),
	}
}

func createGeneratingBatch(t *testing.T, batches repository.BatchRepository, id string, prefix string, quantity int) *domain.Batch {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	batch := &domain.Batch{
		ID:         id,
		Name:       "batch " + id,
		Prefix:     prefix,
		CodeLength: 6,
		Quantity:   quantity,
		Status:     domain.BatchStatusGenerating,
		Strategy:   domain.StrategyInline,
		CreatedBy:  "admin-1",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := batches.Create(context.Background(), batch); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return batch
}

func seedCodes(t *testing.T, codes repository.CodeRepository, batchID string, ids ...string) {
	t.Helper()

	rows := make([]domain.Code, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, domain.Code{
			ID:        id,
			BatchID:   batchID,
			Status:    domain.CodeStatusAvailable,
			CreatedAt: time.Now().UTC(),
		})
	}
	for start := 0; start < len(rows); start += 500 {
		end := min(start+500, len(rows))
		if err := codes.CreateChunk(context.Background(), rows[start:end]); err != nil {
			t.Fatalf("CreateChunk() error = %v", err)
		}
	}
}

// sequentialCodes returns n distinct well-formed codes under prefix.
func sequentialCodes(prefix string, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		suffix := []byte("AAAAAA")
		v := i
		for pos := len(suffix) - 1; pos >= 0 && v > 0; pos-- {
			suffix[pos] = codegen.Alphabet[v%len(codegen.Alphabet)]
			v /= len(codegen.Alphabet)
		}
		ids = append(ids, codegen.Format(prefix, string(suffix)))
	}
	return ids
}

func newTestPipeline(batches repository.BatchRepository, codes repository.CodeRepository, leaser Leaser, log *zap.Logger) *Pipeline {
	return NewPipeline(
		batches,
		NewScanner(codes, 10000, log),
		codegen.NewGenerator(),
		NewChunkedWriter(codes, batches),
		leaser,
		log,
	)
}

type fakeBatchRepo struct {
	repository.BatchRepository

	getByIDFn       func(ctx context.Context, id string) (*domain.Batch, error)
	incrementFn     func(ctx context.Context, id string, delta int) error
	markCompletedFn func(ctx context.Context, id string, quantity int, completedAt time.Time) error
	markFailedFn    func(ctx context.Context, id string, reason string) error
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return f.BatchRepository.GetByID(ctx, id)
}

func (f *fakeBatchRepo) IncrementGeneratedCount(ctx context.Context, id string, delta int) error {
	if f.incrementFn != nil {
		return f.incrementFn(ctx, id, delta)
	}
	return f.BatchRepository.IncrementGeneratedCount(ctx, id, delta)
}

func (f *fakeBatchRepo) MarkCompleted(ctx context.Context, id string, quantity int, completedAt time.Time) error {
	if f.markCompletedFn != nil {
		return f.markCompletedFn(ctx, id, quantity, completedAt)
	}
	return f.BatchRepository.MarkCompleted(ctx, id, quantity, completedAt)
}

func (f *fakeBatchRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, reason)
	}
	return f.BatchRepository.MarkFailed(ctx, id, reason)
}

type fakeCodeRepo struct {
	repository.CodeRepository

	createChunkFn        func(ctx context.Context, codes []domain.Code) error
	scanRangeFn          func(ctx context.Context, lower string, upper string, limit int) ([]string, error)
	deleteChunkByBatchFn func(ctx context.Context, batchID string, limit int) (int64, error)
}

func (f *fakeCodeRepo) CreateChunk(ctx context.Context, codes []domain.Code) error {
	if f.createChunkFn != nil {
		return f.createChunkFn(ctx, codes)
	}
	return f.CodeRepository.CreateChunk(ctx, codes)
}

func (f *fakeCodeRepo) ScanRange(ctx context.Context, lower string, upper string, limit int) ([]string, error) {
	if f.scanRangeFn != nil {
		return f.scanRangeFn(ctx, lower, upper, limit)
	}
	return f.CodeRepository.ScanRange(ctx, lower, upper, limit)
}

func (f *fakeCodeRepo) DeleteChunkByBatch(ctx context.Context, batchID string, limit int) (int64, error) {
	if f.deleteChunkByBatchFn != nil {
		return f.deleteChunkByBatchFn(ctx, batchID, limit)
	}
	return f.CodeRepository.DeleteChunkByBatch(ctx, batchID, limit)
}

type fakeAuditRepo struct {
	repository.ExportAuditRepository

	createFn func(ctx context.Context, a *domain.ExportAudit) error
}

func (f *fakeAuditRepo) Create(ctx context.Context, a *domain.ExportAudit) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return f.ExportAuditRepository.Create(ctx, a)
}

type fakeGenerator struct {
	generateFn func(prefix string, length int, count int, avoid map[string]struct{}) ([]string, error)
}

func (f *fakeGenerator) Generate(prefix string, length int, count int, avoid map[string]struct{}) ([]string, error) {
	return f.generateFn(prefix, length, count, avoid)
}

type fakeRunner struct {
	runFn func(ctx context.Context, batchID string, chunkSize int) error
}

func (f *fakeRunner) Run(ctx context.Context, batchID string, chunkSize int) error {
	if f.runFn != nil {
		return f.runFn(ctx, batchID, chunkSize)
	}
	return nil
}

type fakeStrategy struct {
	name       domain.Strategy
	chunkSize  int
	dispatchFn func(ctx context.Context, batch *domain.Batch) error
}

func (f *fakeStrategy) Name() domain.Strategy { return f.name }
func (f *fakeStrategy) ChunkSize() int        { return f.chunkSize }

func (f *fakeStrategy) Dispatch(ctx context.Context, batch *domain.Batch) error {
	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, batch)
	}
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, msg queue.GenerationMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.GenerationMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type storedObject struct {
	body        []byte
	contentType string
}

type fakeBlobStore struct {
	mu       sync.Mutex
	objects  map[string]storedObject
	writeErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string]storedObject)}
}

func (f *fakeBlobStore) Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if f.writeErr != nil {
		return f.writeErr
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = storedObject{body: buf.Bytes(), contentType: contentType}
	return nil
}

func (f *fakeBlobStore) GetURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://blobs.test/%s?expires=%d", key, int(expires.Seconds())), nil
}

func (f *fakeBlobStore) object(key string) (storedObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj, ok
}
