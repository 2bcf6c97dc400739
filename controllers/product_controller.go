package controllers

import (
	"errors"
	"net/http"

	apperrors "product-importer/errors"
	"product-importer/logger"
	"product-importer/repository"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ListQuery holds the pagination parameters of GET /api/products.
type ListQuery struct {
	Page     int `form:"page" validate:"min=1"`
	PageSize int `form:"page_size" validate:"min=1,max=1000"`
}

type ProductController struct {
	repo     repository.ProductRepository
	validate *validator.Validate
}

func NewProductController(repo repository.ProductRepository) *ProductController {
	return &ProductController{repo: repo, validate: validator.New()}
}

func (h *ProductController) List(c *gin.Context) {
	q := ListQuery{Page: 1, PageSize: 20}
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(apperrors.New(http.StatusBadRequest, "invalid pagination", err))
		return
	}
	if err := h.validate.Struct(q); err != nil {
		_ = c.Error(apperrors.New(http.StatusBadRequest, "invalid pagination", err))
		return
	}

	items, total, err := h.repo.List(c.Request.Context(), q.Page, q.PageSize)
	if err != nil {
		logger.FromContext(c).Error("failed to list products", zap.Error(err))
		_ = c.Error(apperrors.ErrInternalServer.Wrap(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":     items,
		"total":     total,
		"page":      q.Page,
		"page_size": q.PageSize,
	})
}

func (h *ProductController) Get(c *gin.Context) {
	product, err := h.repo.FindBySKU(c.Request.Context(), c.Param("sku"))
	if errors.Is(err, repository.ErrProductNotFound) {
		_ = c.Error(apperrors.New(http.StatusNotFound, "Product not found", err))
		return
	}
	if err != nil {
		_ = c.Error(apperrors.ErrInternalServer.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, product)
}

// DeleteAll removes the whole catalogue.
func (h *ProductController) DeleteAll(c *gin.Context) {
	n, err := h.repo.DeleteAll(c.Request.Context())
	if err != nil {
		logger.FromContext(c).Error("failed to delete products", zap.Error(err))
		_ = c.Error(apperrors.ErrInternalServer.Wrap(err))
		return
	}
	logger.FromContext(c).Warn("all products deleted", zap.Int64("deleted", n))
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
