package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"github.com/kursadbilgin/code-batch-engine/internal/service"
	"github.com/kursadbilgin/code-batch-engine/internal/transport"
	"go.uber.org/zap"
)

const testPrincipal = "admin-1"

func TestBatchIntegration_CreateBatch(t *testing.T) {
	t.Parallel()

	var got service.CreateBatchParams
	batches := &stubBatchService{
		createBatchFn: func(ctx context.Context, params service.CreateBatchParams) (*domain.Batch, error) {
			got = params
			return &domain.Batch{ID: "b-1", Status: domain.BatchStatusGenerating}, nil
		},
	}
	app := newBatchTestApp(t, batches, &stubExportService{}, &stubDeletionService{}, RouteGuards{})

	body := `{"name":"Spring","prefix":"IFL-","codeLength":6,"quantity":10,"productType":"gift","cost":"12.50"}`
	resp, raw := performRequest(t, app, http.MethodPost, "/v1/batches", body, testPrincipal)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, raw)
	}

	var accepted map[string]any
	if err := json.Unmarshal(raw, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["batchId"] != "b-1" || accepted["status"] != "generating" {
		t.Fatalf("response = %v", accepted)
	}

	if got.CreatedBy != testPrincipal || got.Prefix != "IFL-" || got.CodeLength != 6 || got.Quantity != 10 {
		t.Fatalf("params = %+v", got)
	}
	if got.ProductType == nil || *got.ProductType != "gift" {
		t.Fatalf("productType = %v", got.ProductType)
	}
	if got.Cost == nil || got.Cost.String() != "12.5" {
		t.Fatalf("cost = %v", got.Cost)
	}
}

func TestBatchIntegration_CreateBatchValidation(t *testing.T) {
	t.Parallel()

	called := false
	batches := &stubBatchService{
		createBatchFn: func(ctx context.Context, params service.CreateBatchParams) (*domain.Batch, error) {
			called = true
			return nil, fmt.Errorf("%w: prefix must be 1-32 characters", domain.ErrValidation)
		},
	}
	app := newBatchTestApp(t, batches, &stubExportService{}, &stubDeletionService{}, RouteGuards{})

	tests := []struct {
		name        string
		body        string
		wantService bool
	}{
		{name: "malformed json", body: `{"prefix":`},
		{name: "missing quantity", body: `{"prefix":"IFL-","codeLength":6}`},
		{name: "missing prefix", body: `{"codeLength":6,"quantity":10}`},
		{name: "code length too short", body: `{"prefix":"IFL-","codeLength":2,"quantity":10}`},
		{name: "product type too long", body: `{"prefix":"IFL-","codeLength":6,"quantity":10,"productType":"` + strings.Repeat("p", 65) + `"}`},
		{name: "distribution channel too long", body: `{"prefix":"IFL-","codeLength":6,"quantity":10,"distributionChannel":"` + strings.Repeat("c", 65) + `"}`},
		{name: "service rejects prefix", body: `{"prefix":"IF L","codeLength":6,"quantity":10}`, wantService: true},
	}

	for _, tt := range tests {
		called = false
		resp, raw := performRequest(t, app, http.MethodPost, "/v1/batches", tt.body, testPrincipal)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400, body=%s", tt.name, resp.StatusCode, raw)
		}
		if called != tt.wantService {
			t.Fatalf("%s: service called = %v, want %v", tt.name, called, tt.wantService)
		}
	}
}

func TestBatchIntegration_RequiresPrincipal(t *testing.T) {
	t.Parallel()

	app := newBatchTestApp(t, &stubBatchService{}, &stubExportService{}, &stubDeletionService{}, RouteGuards{
		Auth: PrincipalMiddleware(NewStaticPermissions([]string{testPrincipal})),
	})

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/batches/b-1", "", "")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401, body=%s", resp.StatusCode, raw)
	}

	resp, raw = performRequest(t, app, http.MethodGet, "/v1/batches/b-1", "", "intruder")
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403, body=%s", resp.StatusCode, raw)
	}

	resp, raw = performRequest(t, app, http.MethodGet, "/v1/batches/b-1", "", testPrincipal)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 from the stub service, body=%s", resp.StatusCode, raw)
	}
}

func TestBatchIntegration_RateLimitsMutations(t *testing.T) {
	t.Parallel()

	var scopes []string
	limiter := &stubRateLimiter{
		allowFn: func(ctx context.Context, scope string) (bool, error) {
			scopes = append(scopes, scope)
			return false, nil
		},
	}
	batches := &stubBatchService{
		getBatchFn: func(ctx context.Context, batchID string) (*domain.Batch, error) {
			return &domain.Batch{ID: batchID, Status: domain.BatchStatusGenerating}, nil
		},
	}
	app := newBatchTestApp(t, batches, &stubExportService{}, &stubDeletionService{}, RouteGuards{
		Auth:  PrincipalMiddleware(nil),
		Limit: RateLimitMiddleware(limiter, zap.NewNop()),
	})

	resp, raw := performRequest(t, app, http.MethodPost, "/v1/batches", `{"prefix":"IFL-","codeLength":6,"quantity":10}`, testPrincipal)
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429, body=%s", resp.StatusCode, raw)
	}
	if len(scopes) != 1 || scopes[0] != "principal:"+testPrincipal {
		t.Fatalf("scopes = %v", scopes)
	}

	// Reads are not throttled.
	resp, raw = performRequest(t, app, http.MethodGet, "/v1/batches/b-1", "", testPrincipal)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, raw)
	}
	if len(scopes) != 1 {
		t.Fatalf("limiter consulted for a read: %v", scopes)
	}
}

func TestBatchIntegration_RateLimiterOutageFailsOpen(t *testing.T) {
	t.Parallel()

	limiter := &stubRateLimiter{
		allowFn: func(ctx context.Context, scope string) (bool, error) {
			return false, errors.New("redis down")
		},
	}
	deletion := &stubDeletionService{
		deleteFn: func(ctx context.Context, batchID string) (*service.DeleteResult, error) {
			return &service.DeleteResult{BatchID: batchID, Message: "batch deleted (no codes)"}, nil
		},
	}
	app := newBatchTestApp(t, &stubBatchService{}, &stubExportService{}, deletion, RouteGuards{
		Auth:  PrincipalMiddleware(nil),
		Limit: RateLimitMiddleware(limiter, nil),
	})

	resp, raw := performRequest(t, app, http.MethodDelete, "/v1/batches/b-1", "", testPrincipal)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, raw)
	}
}

func TestBatchIntegration_GetBatch(t *testing.T) {
	t.Parallel()

	completedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	batches := &stubBatchService{
		getBatchFn: func(ctx context.Context, batchID string) (*domain.Batch, error) {
			if batchID != "b-1" {
				return nil, domain.ErrNotFound
			}
			return &domain.Batch{
				ID:             "b-1",
				Name:           "Spring",
				Prefix:         "IFL-",
				CodeLength:     6,
				Quantity:       10,
				GeneratedCount: 10,
				Status:         domain.BatchStatusCompleted,
				Strategy:       domain.StrategyInline,
				CreatedBy:      testPrincipal,
				CompletedAt:    &completedAt,
				CreatedAt:      completedAt.Add(-time.Minute),
				UpdatedAt:      completedAt,
			}, nil
		},
	}
	app := newBatchTestApp(t, batches, &stubExportService{}, &stubDeletionService{}, RouteGuards{})

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/batches/b-1", "", testPrincipal)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, raw)
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["status"] != "completed" || parsed["generatedCount"] != float64(10) || parsed["completedAt"] != "2026-03-01T10:00:00Z" {
		t.Fatalf("response = %v", parsed)
	}
	if _, ok := parsed["failureReason"]; ok {
		t.Fatal("failureReason should be omitted for a completed batch")
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/missing", "", testPrincipal)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBatchIntegration_RetryGeneration(t *testing.T) {
	t.Parallel()

	batches := &stubBatchService{
		retryFn: func(ctx context.Context, batchID string) (*domain.Batch, error) {
			if batchID == "done" {
				return nil, fmt.Errorf("%w: batch done is already completed", domain.ErrFailedPrecondition)
			}
			return &domain.Batch{ID: batchID, Status: domain.BatchStatusGenerating}, nil
		},
	}
	app := newBatchTestApp(t, batches, &stubExportService{}, &stubDeletionService{}, RouteGuards{})

	resp, raw := performRequest(t, app, http.MethodPost, "/v1/batches/stuck/generate", "", testPrincipal)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, raw)
	}

	resp, raw = performRequest(t, app, http.MethodPost, "/v1/batches/done/generate", "", testPrincipal)
	if resp.StatusCode != fiber.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412, body=%s", resp.StatusCode, raw)
	}
}

func TestBatchIntegration_ListBatches(t *testing.T) {
	t.Parallel()

	var got service.ListBatchesParams
	batches := &stubBatchService{
		listBatchesFn: func(ctx context.Context, params service.ListBatchesParams) (*service.BatchPage, error) {
			got = params
			return &service.BatchPage{
				Batches:    []domain.Batch{{ID: "b-2", Status: domain.BatchStatusGenerating}},
				HasMore:    true,
				NextCursor: "next-page",
			}, nil
		},
	}
	app := newBatchTestApp(t, batches, &stubExportService{}, &stubDeletionService{}, RouteGuards{})

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/batches?pageSize=1&status=generating&createdBy=admin-2&cursor=abc", "", testPrincipal)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, raw)
	}
	if got.PageSize != 1 || got.Cursor != "abc" || got.Status == nil || *got.Status != domain.BatchStatusGenerating ||
		got.CreatedBy == nil || *got.CreatedBy != "admin-2" {
		t.Fatalf("params = %+v", got)
	}

	var page struct {
		Batches []map[string]any `json:"batches"`
		HasMore bool             `json:"hasMore"`
		Cursor  string           `json:"cursor"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(page.Batches) != 1 || !page.HasMore || page.Cursor != "next-page" {
		t.Fatalf("page = %+v", page)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches?status=archived", "", testPrincipal)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown status", resp.StatusCode)
	}
}

func TestBatchIntegration_ListCodesAndCounts(t *testing.T) {
	t.Parallel()

	batches := &stubBatchService{
		listCodesFn: func(ctx context.Context, params service.ListCodesParams) (*service.CodePage, error) {
			if params.Status == nil || *params.Status != domain.CodeStatusAvailable {
				t.Errorf("status filter = %v", params.Status)
			}
			return &service.CodePage{Codes: []domain.Code{
				{ID: "IFL-AAAAAA", BatchID: params.BatchID, Status: domain.CodeStatusAvailable},
			}}, nil
		},
		countsFn: func(ctx context.Context, batchID string) (domain.CodeCounts, error) {
			return domain.CodeCounts{Available: 7, Assigned: 2, Disabled: 1, Total: 10}, nil
		},
	}
	app := newBatchTestApp(t, batches, &stubExportService{}, &stubDeletionService{}, RouteGuards{})

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/batches/b-1/codes?status=available", "", testPrincipal)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, raw)
	}
	if !strings.Contains(string(raw), `"code":"IFL-AAAAAA"`) || !strings.Contains(string(raw), `"hasMore":false`) {
		t.Fatalf("body = %s", raw)
	}

	resp, raw = performRequest(t, app, http.MethodGet, "/v1/batches/b-1/counts", "", testPrincipal)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, raw)
	}
	var counts codeCountsResponse
	if err := json.Unmarshal(raw, &counts); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if counts != (codeCountsResponse{BatchID: "b-1", Available: 7, Assigned: 2, Disabled: 1, Total: 10}) {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestBatchIntegration_ExportCodes(t *testing.T) {
	t.Parallel()

	exports := &stubExportService{
		exportFn: func(ctx context.Context, params service.ExportParams) (*service.ExportResult, error) {
			if params.UserID != testPrincipal || params.BatchID != "b-1" || !params.IncludeStatus {
				t.Errorf("params = %+v", params)
			}
			if params.Format == "excel" {
				return nil, fmt.Errorf("%w: unsupported export format %q", domain.ErrValidation, params.Format)
			}
			return &service.ExportResult{
				DownloadURL: "https://blobs.test/exports/admin-1/codes.csv",
				FileName:    "codes.csv",
				CodeCount:   3,
			}, nil
		},
	}
	app := newBatchTestApp(t, &stubBatchService{}, exports, &stubDeletionService{}, RouteGuards{})

	resp, raw := performRequest(t, app, http.MethodPost, "/v1/batches/b-1/exports", `{"format":"csv","includeStatus":true}`, testPrincipal)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, raw)
	}
	var result exportResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if result.CodeCount != 3 || result.FileName != "codes.csv" || result.DownloadURL == "" {
		t.Fatalf("result = %+v", result)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches/b-1/exports", `{"format":"excel","includeStatus":true}`, testPrincipal)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for excel", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches/b-1/exports", `{}`, testPrincipal)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing format", resp.StatusCode)
	}
}

func TestBatchIntegration_DeleteBatch(t *testing.T) {
	t.Parallel()

	deletion := &stubDeletionService{
		deleteFn: func(ctx context.Context, batchID string) (*service.DeleteResult, error) {
			if batchID == "missing" {
				return nil, domain.ErrNotFound
			}
			return &service.DeleteResult{BatchID: batchID, CodesDeleted: 1200, Message: "batch and 1200 codes deleted"}, nil
		},
	}
	app := newBatchTestApp(t, &stubBatchService{}, &stubExportService{}, deletion, RouteGuards{})

	resp, raw := performRequest(t, app, http.MethodDelete, "/v1/batches/b-1", "", testPrincipal)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, raw)
	}
	var result deleteResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if !result.Success || result.Message != "batch and 1200 codes deleted" || result.CodesDeleted != 1200 {
		t.Fatalf("result = %+v", result)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/batches/missing", "", testPrincipal)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestToHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{err: domain.ErrValidation, want: fiber.StatusBadRequest},
		{err: domain.ErrUnauthenticated, want: fiber.StatusUnauthorized},
		{err: domain.ErrPermissionDenied, want: fiber.StatusForbidden},
		{err: domain.ErrNotFound, want: fiber.StatusNotFound},
		{err: domain.ErrConflict, want: fiber.StatusConflict},
		{err: domain.ErrFailedPrecondition, want: fiber.StatusPreconditionFailed},
		{err: domain.ErrRateLimited, want: fiber.StatusTooManyRequests},
	}

	for _, tt := range tests {
		var fe *fiber.Error
		if !errors.As(toHTTPError(fmt.Errorf("%w: detail", tt.err)), &fe) || fe.Code != tt.want {
			t.Fatalf("toHTTPError(%v) = %v, want status %d", tt.err, fe, tt.want)
		}
	}

	plain := errors.New("database unavailable")
	if got := toHTTPError(plain); got != plain {
		t.Fatalf("toHTTPError(plain) = %v, want the original error", got)
	}
}

type stubBatchService struct {
	createBatchFn func(ctx context.Context, params service.CreateBatchParams) (*domain.Batch, error)
	retryFn       func(ctx context.Context, batchID string) (*domain.Batch, error)
	getBatchFn    func(ctx context.Context, batchID string) (*domain.Batch, error)
	listBatchesFn func(ctx context.Context, params service.ListBatchesParams) (*service.BatchPage, error)
	listCodesFn   func(ctx context.Context, params service.ListCodesParams) (*service.CodePage, error)
	countsFn      func(ctx context.Context, batchID string) (domain.CodeCounts, error)
}

func (s *stubBatchService) CreateBatch(ctx context.Context, params service.CreateBatchParams) (*domain.Batch, error) {
	if s.createBatchFn != nil {
		return s.createBatchFn(ctx, params)
	}
	return nil, errors.New("not implemented")
}

func (s *stubBatchService) RetryGeneration(ctx context.Context, batchID string) (*domain.Batch, error) {
	if s.retryFn != nil {
		return s.retryFn(ctx, batchID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubBatchService) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	if s.getBatchFn != nil {
		return s.getBatchFn(ctx, batchID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubBatchService) ListBatches(ctx context.Context, params service.ListBatchesParams) (*service.BatchPage, error) {
	if s.listBatchesFn != nil {
		return s.listBatchesFn(ctx, params)
	}
	return &service.BatchPage{}, nil
}

func (s *stubBatchService) ListCodes(ctx context.Context, params service.ListCodesParams) (*service.CodePage, error) {
	if s.listCodesFn != nil {
		return s.listCodesFn(ctx, params)
	}
	return &service.CodePage{}, nil
}

func (s *stubBatchService) GetCodeCounts(ctx context.Context, batchID string) (domain.CodeCounts, error) {
	if s.countsFn != nil {
		return s.countsFn(ctx, batchID)
	}
	return domain.CodeCounts{}, domain.ErrNotFound
}

type stubExportService struct {
	exportFn func(ctx context.Context, params service.ExportParams) (*service.ExportResult, error)
}

func (s *stubExportService) Export(ctx context.Context, params service.ExportParams) (*service.ExportResult, error) {
	if s.exportFn != nil {
		return s.exportFn(ctx, params)
	}
	return nil, errors.New("not implemented")
}

type stubDeletionService struct {
	deleteFn func(ctx context.Context, batchID string) (*service.DeleteResult, error)
}

func (s *stubDeletionService) DeleteBatch(ctx context.Context, batchID string) (*service.DeleteResult, error) {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, batchID)
	}
	return nil, domain.ErrNotFound
}

type stubRateLimiter struct {
	allowFn func(ctx context.Context, scope string) (bool, error)
}

func (s *stubRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	return s.allowFn(ctx, scope)
}

// newBatchTestApp mounts the batch routes. Without an Auth guard it fakes the
// principal middleware so handlers still see a caller id.
func newBatchTestApp(t *testing.T, batches BatchService, exports ExportService, deletion DeletionService, guards RouteGuards) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	h, err := NewBatchHandler(batches, exports, deletion)
	if err != nil {
		t.Fatalf("NewBatchHandler() error = %v", err)
	}
	if guards.Auth == nil {
		guards.Auth = PrincipalMiddleware(nil)
	}
	if err := RegisterBatchRoutes(app, h, guards); err != nil {
		t.Fatalf("RegisterBatchRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string, principal string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if principal != "" {
		req.Header.Set(PrincipalHeader, principal)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}
