package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/unit-linkage/app/models"
	"github.com/unit-linkage/app/requests"
	"github.com/unit-linkage/app/responses"
	"github.com/unit-linkage/app/services"
)

// AssociationController controller cho enhanced association 1:N.
type AssociationController struct {
	assocService *services.AssociationService
	logger       *zap.Logger
}

// NewAssociationController tạo mới AssociationController.
func NewAssociationController(assocService *services.AssociationService, logger *zap.Logger) *AssociationController {
	return &AssociationController{assocService: assocService, logger: logger}
}

// StartEnhancedAssociation chạy lại aggregation cho một strategy.
func (ac *AssociationController) StartEnhancedAssociation(c *gin.Context) {
	var req requests.StartAssociationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, responses.ErrorResponse{
			Error:   "INVALID_REQUEST",
			Message: "Request không hợp lệ: " + err.Error(),
		})
		return
	}

	strategy := models.AssociationStrategy(req.Strategy)
	if req.Strategy == "" {
		strategy = models.StrategyHybrid
	}

	count, err := ac.assocService.Regenerate(c.Request.Context(), strategy, req.ClearExisting)
	if err != nil {
		ac.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, responses.AssociationRunResponse{
		OK:       true,
		Strategy: string(strategy),
		Count:    count,
		Message:  "Enhanced association đã được tạo lại",
	})
}

// GetAssociation đọc association của một primary unit.
func (ac *AssociationController) GetAssociation(c *gin.Context) {
	primaryID := c.Param("primaryID")

	assoc, err := ac.assocService.Get(c.Request.Context(), primaryID)
	if err != nil {
		ac.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assoc)
}

// ListAssociations trả về một trang association documents.
func (ac *AssociationController) ListAssociations(c *gin.Context) {
	var q requests.ListAssociationsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, responses.ErrorResponse{
			Error:   "INVALID_REQUEST",
			Message: "Query không hợp lệ: " + err.Error(),
		})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = 20
	}

	assocs, total, err := ac.assocService.List(c.Request.Context(), q.Page, q.PageSize)
	if err != nil {
		ac.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, responses.AssociationListResponse{
		Associations: assocs,
		Total:        total,
		Page:         q.Page,
		PageSize:     q.PageSize,
	})
}

func (ac *AssociationController) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidStrategy):
		c.JSON(http.StatusBadRequest, responses.ErrorResponse{
			Error: "INVALID_STRATEGY", Message: err.Error(),
		})
	case errors.Is(err, services.ErrAggregationFailed):
		ac.logger.Error("association aggregation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, responses.ErrorResponse{
			Error: "AGGREGATION_FAILED", Message: err.Error(),
		})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, responses.ErrorResponse{
			Error: "NOT_FOUND", Message: err.Error(),
		})
	default:
		ac.logger.Error("association operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, responses.ErrorResponse{
			Error: "INTERNAL_ERROR", Message: err.Error(),
		})
	}
}
