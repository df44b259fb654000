package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"github.com/kursadbilgin/code-batch-engine/internal/service"
	"github.com/shopspring/decimal"
)

type BatchService interface {
	CreateBatch(ctx context.Context, params service.CreateBatchParams) (*domain.Batch, error)
	RetryGeneration(ctx context.Context, batchID string) (*domain.Batch, error)
	GetBatch(ctx context.Context, batchID string) (*domain.Batch, error)
	ListBatches(ctx context.Context, params service.ListBatchesParams) (*service.BatchPage, error)
	ListCodes(ctx context.Context, params service.ListCodesParams) (*service.CodePage, error)
	GetCodeCounts(ctx context.Context, batchID string) (domain.CodeCounts, error)
}

type ExportService interface {
	Export(ctx context.Context, params service.ExportParams) (*service.ExportResult, error)
}

type DeletionService interface {
	DeleteBatch(ctx context.Context, batchID string) (*service.DeleteResult, error)
}

type BatchHandler struct {
	batches  BatchService
	exports  ExportService
	deletion DeletionService
}

func NewBatchHandler(batches BatchService, exports ExportService, deletion DeletionService) (*BatchHandler, error) {
	if batches == nil || exports == nil || deletion == nil {
		return nil, fmt.Errorf("batch, export and deletion services are required")
	}
	return &BatchHandler{batches: batches, exports: exports, deletion: deletion}, nil
}

// RouteGuards are the middlewares in front of the batch routes. Limit only
// wraps mutating routes.
type RouteGuards struct {
	Auth  fiber.Handler
	Limit fiber.Handler
}

func RegisterBatchRoutes(router fiber.Router, h *BatchHandler, guards RouteGuards) error {
	if h == nil {
		return fmt.Errorf("batch handler is required")
	}

	v1 := router.Group("/v1")
	if guards.Auth != nil {
		v1.Use(guards.Auth)
	}

	limit := guards.Limit
	if limit == nil {
		limit = func(c *fiber.Ctx) error { return c.Next() }
	}

	v1.Post("/batches", limit, h.CreateBatch)
	v1.Get("/batches", h.ListBatches)
	v1.Get("/batches/:batchId", h.GetBatch)
	v1.Post("/batches/:batchId/generate", limit, h.RetryGeneration)
	v1.Delete("/batches/:batchId", limit, h.DeleteBatch)
	v1.Get("/batches/:batchId/codes", h.ListCodes)
	v1.Get("/batches/:batchId/counts", h.GetCodeCounts)
	v1.Post("/batches/:batchId/exports", limit, h.ExportCodes)

	return nil
}

type createBatchRequest struct {
	Name                string           `json:"name" validate:"max=255"`
	Description         string           `json:"description" validate:"max=2000"`
	Prefix              string           `json:"prefix" validate:"required,max=32"`
	CodeLength          int              `json:"codeLength" validate:"required,min=4,max=32"`
	Quantity            int              `json:"quantity" validate:"required,min=1"`
	ProductType         *string          `json:"productType,omitempty" validate:"omitempty,max=64"`
	DistributionChannel *string          `json:"distributionChannel,omitempty" validate:"omitempty,max=64"`
	Cost                *decimal.Decimal `json:"cost,omitempty"`
	ExpiresAt           *time.Time       `json:"expiresAt,omitempty"`
}

type exportRequest struct {
	Format        string `json:"format" validate:"required"`
	IncludeStatus bool   `json:"includeStatus"`
}

type createBatchResponse struct {
	BatchID string `json:"batchId"`
	Status  string `json:"status"`
}

type batchResponse struct {
	ID                  string           `json:"id"`
	Name                string           `json:"name"`
	Description         string           `json:"description,omitempty"`
	Prefix              string           `json:"prefix"`
	CodeLength          int              `json:"codeLength"`
	Quantity            int              `json:"quantity"`
	Status              string           `json:"status"`
	Strategy            string           `json:"strategy"`
	GeneratedCount      int              `json:"generatedCount"`
	CreatedBy           string           `json:"createdBy"`
	ProductType         *string          `json:"productType,omitempty"`
	DistributionChannel *string          `json:"distributionChannel,omitempty"`
	Cost                *decimal.Decimal `json:"cost,omitempty"`
	ExpiresAt           *time.Time       `json:"expiresAt,omitempty"`
	FailureReason       *string          `json:"failureReason,omitempty"`
	CompletedAt         *time.Time       `json:"completedAt,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

type listBatchesResponse struct {
	Batches []batchResponse `json:"batches"`
	HasMore bool            `json:"hasMore"`
	Cursor  string          `json:"cursor,omitempty"`
}

type codeResponse struct {
	Code        string     `json:"code"`
	BatchID     string     `json:"batchId"`
	Status      string     `json:"status"`
	AssignedAt  *time.Time `json:"assignedAt,omitempty"`
	AssignedTo  *string    `json:"assignedTo,omitempty"`
	ProductType *string    `json:"productType,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type listCodesResponse struct {
	Codes   []codeResponse `json:"codes"`
	HasMore bool           `json:"hasMore"`
	Cursor  string         `json:"cursor,omitempty"`
}

type codeCountsResponse struct {
	BatchID   string `json:"batchId"`
	Available int    `json:"available"`
	Assigned  int    `json:"assigned"`
	Disabled  int    `json:"disabled"`
	Total     int    `json:"total"`
}

type exportResponse struct {
	DownloadURL string `json:"downloadUrl"`
	FileName    string `json:"fileName"`
	CodeCount   int    `json:"codeCount"`
}

type deleteResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	CodesDeleted int64  `json:"codesDeleted"`
}

func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := bindAndValidate(c, &req); err != nil {
		return toHTTPError(err)
	}

	batch, err := h.batches.CreateBatch(c.UserContext(), service.CreateBatchParams{
		Name:                req.Name,
		Description:         req.Description,
		Prefix:              req.Prefix,
		CodeLength:          req.CodeLength,
		Quantity:            req.Quantity,
		CreatedBy:           principalID(c),
		ProductType:         req.ProductType,
		DistributionChannel: req.DistributionChannel,
		Cost:                req.Cost,
		ExpiresAt:           req.ExpiresAt,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(createBatchResponse{
		BatchID: batch.ID,
		Status:  batch.Status.String(),
	})
}

func (h *BatchHandler) RetryGeneration(c *fiber.Ctx) error {
	batch, err := h.batches.RetryGeneration(c.UserContext(), batchIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(createBatchResponse{
		BatchID: batch.ID,
		Status:  batch.Status.String(),
	})
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	batch, err := h.batches.GetBatch(c.UserContext(), batchIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	params := service.ListBatchesParams{
		PageSize: c.QueryInt("pageSize", 0),
		Cursor:   c.Query("cursor"),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseBatchStatusFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		params.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("createdBy")); raw != "" {
		params.CreatedBy = &raw
	}

	page, err := h.batches.ListBatches(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]batchResponse, 0, len(page.Batches))
	for i := range page.Batches {
		items = append(items, toBatchResponse(&page.Batches[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listBatchesResponse{
		Batches: items,
		HasMore: page.HasMore,
		Cursor:  page.NextCursor,
	})
}

func (h *BatchHandler) ListCodes(c *fiber.Ctx) error {
	params := service.ListCodesParams{
		BatchID:  batchIDParam(c),
		PageSize: c.QueryInt("pageSize", 0),
		Cursor:   c.Query("cursor"),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseCodeStatusFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		params.Status = &status
	}

	page, err := h.batches.ListCodes(c.UserContext(), params)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]codeResponse, 0, len(page.Codes))
	for i := range page.Codes {
		items = append(items, toCodeResponse(&page.Codes[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listCodesResponse{
		Codes:   items,
		HasMore: page.HasMore,
		Cursor:  page.NextCursor,
	})
}

func (h *BatchHandler) GetCodeCounts(c *fiber.Ctx) error {
	batchID := batchIDParam(c)
	counts, err := h.batches.GetCodeCounts(c.UserContext(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(codeCountsResponse{
		BatchID:   batchID,
		Available: counts.Available,
		Assigned:  counts.Assigned,
		Disabled:  counts.Disabled,
		Total:     counts.Total,
	})
}

func (h *BatchHandler) ExportCodes(c *fiber.Ctx) error {
	var req exportRequest
	if err := bindAndValidate(c, &req); err != nil {
		return toHTTPError(err)
	}

	result, err := h.exports.Export(c.UserContext(), service.ExportParams{
		BatchID:       batchIDParam(c),
		Format:        req.Format,
		IncludeStatus: req.IncludeStatus,
		UserID:        principalID(c),
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(exportResponse{
		DownloadURL: result.DownloadURL,
		FileName:    result.FileName,
		CodeCount:   result.CodeCount,
	})
}

func (h *BatchHandler) DeleteBatch(c *fiber.Ctx) error {
	result, err := h.deletion.DeleteBatch(c.UserContext(), batchIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(deleteResponse{
		Success:      true,
		Message:      result.Message,
		CodesDeleted: result.CodesDeleted,
	})
}

func batchIDParam(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Params("batchId"))
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}

	return batchResponse{
		ID:                  b.ID,
		Name:                b.Name,
		Description:         b.Description,
		Prefix:              b.Prefix,
		CodeLength:          b.CodeLength,
		Quantity:            b.Quantity,
		Status:              b.Status.String(),
		Strategy:            b.Strategy.String(),
		GeneratedCount:      b.GeneratedCount,
		CreatedBy:           b.CreatedBy,
		ProductType:         b.ProductType,
		DistributionChannel: b.DistributionChannel,
		Cost:                b.Cost,
		ExpiresAt:           b.ExpiresAt,
		FailureReason:       b.FailureReason,
		CompletedAt:         b.CompletedAt,
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
	}
}

func toCodeResponse(code *domain.Code) codeResponse {
	return codeResponse{
		Code:        code.ID,
		BatchID:     code.BatchID,
		Status:      code.Status.String(),
		AssignedAt:  code.AssignedAt,
		AssignedTo:  code.AssignedTo,
		ProductType: code.ProductType,
		ExpiresAt:   code.ExpiresAt,
		CreatedAt:   code.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrPermissionDenied):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrFailedPrecondition):
		return fiber.NewError(fiber.StatusPreconditionFailed, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	default:
		return err
	}
}
