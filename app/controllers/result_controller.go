package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/unit-linkage/app/requests"
	"github.com/unit-linkage/app/responses"
	"github.com/unit-linkage/app/services"
	"github.com/unit-linkage/internal/store"
)

// ResultController controller cho linkage results và human review.
type ResultController struct {
	resultService *services.ResultService
	logger        *zap.Logger
}

// NewResultController tạo mới ResultController.
func NewResultController(resultService *services.ResultService, logger *zap.Logger) *ResultController {
	return &ResultController{resultService: resultService, logger: logger}
}

// ListResults trả về một trang kết quả theo bộ lọc.
func (rc *ResultController) ListResults(c *gin.Context) {
	var q requests.ListResultsQuery
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

	results, total, err := rc.resultService.List(c.Request.Context(), store.ResultListFilter{
		MatchType:    q.MatchType,
		ReviewStatus: q.ReviewStatus,
		NameQuery:    q.NameQuery,
		Page:         q.Page,
		PageSize:     q.PageSize,
	})
	if err != nil {
		rc.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, responses.ResultListResponse{
		Results:  results,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	})
}

// GetResult đọc một kết quả theo primary_id hoặc match_id.
func (rc *ResultController) GetResult(c *gin.Context) {
	id := c.Param("id")

	result, err := rc.resultService.Get(c.Request.Context(), id)
	if err != nil {
		rc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SetReviewStatus cập nhật trạng thái review của một kết quả.
func (rc *ResultController) SetReviewStatus(c *gin.Context) {
	matchID := c.Param("matchID")

	var req requests.SetReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, responses.ErrorResponse{
			Error:   "INVALID_REQUEST",
			Message: "Request không hợp lệ: " + err.Error(),
		})
		return
	}

	updated, err := rc.resultService.SetReview(c.Request.Context(), matchID, req.Status, req.Notes, req.Reviewer)
	if err != nil {
		rc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// GetStatistics thống kê kết quả theo match_type / confidence / review_status.
func (rc *ResultController) GetStatistics(c *gin.Context) {
	stats, err := rc.resultService.Statistics(c.Request.Context())
	if err != nil {
		rc.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, responses.StatisticsResponse{Statistics: stats})
}

func (rc *ResultController) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, responses.ErrorResponse{
			Error: "NOT_FOUND", Message: err.Error(),
		})
	case errors.Is(err, services.ErrStaleReview):
		c.JSON(http.StatusConflict, responses.ErrorResponse{
			Error: "STALE_REVIEW", Message: err.Error(),
		})
	case errors.Is(err, services.ErrInvalidReviewStatus):
		c.JSON(http.StatusBadRequest, responses.ErrorResponse{
			Error: "INVALID_REVIEW_STATUS", Message: err.Error(),
		})
	case errors.Is(err, services.ErrInvalidFilter):
		c.JSON(http.StatusBadRequest, responses.ErrorResponse{
			Error: "INVALID_FILTER", Message: err.Error(),
		})
	default:
		rc.logger.Error("result operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, responses.ErrorResponse{
			Error: "INTERNAL_ERROR", Message: err.Error(),
		})
	}
}
