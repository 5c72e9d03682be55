package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/unit-linkage/app/models"
	"github.com/unit-linkage/app/requests"
	"github.com/unit-linkage/app/responses"
	"github.com/unit-linkage/app/services"
)

// MatchController controller điều khiển các matching task.
type MatchController struct {
	taskService *services.MatchTaskService
	logger      *zap.Logger
	startTime   time.Time
}

// NewMatchController tạo mới MatchController.
func NewMatchController(taskService *services.MatchTaskService, logger *zap.Logger) *MatchController {
	return &MatchController{
		taskService: taskService,
		logger:      logger,
		startTime:   time.Now(),
	}
}

// StartMatchTask khởi động một matching task mới.
func (mc *MatchController) StartMatchTask(c *gin.Context) {
	var req requests.StartMatchTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, responses.ErrorResponse{
			Error:   "INVALID_REQUEST",
			Message: "Request không hợp lệ: " + err.Error(),
		})
		return
	}

	strategies := make([]models.MatchType, 0, len(req.MatchStrategies))
	for _, st := range req.MatchStrategies {
		strategies = append(strategies, models.MatchType(st))
	}

	taskID, err := mc.taskService.StartTask(c.Request.Context(), services.StartTaskRequest{
		Mode:          models.TaskMode(req.Mode),
		BatchSize:     req.BatchSize,
		Strategies:    strategies,
		ClearExisting: req.ClearExisting,
		ResumeTaskID:  req.ResumeTaskID,
	})
	if err != nil {
		mc.respondTaskError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, responses.StartTaskResponse{
		TaskID:  taskID,
		Mode:    req.Mode,
		Message: "Task đã được khởi động",
	})
}

// GetTaskProgress trả về tiến độ của một task.
func (mc *MatchController) GetTaskProgress(c *gin.Context) {
	taskID := c.Param("taskID")

	progress, err := mc.taskService.Progress(taskID)
	if err != nil {
		mc.respondTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// StopTask yêu cầu dừng một task đang chạy.
func (mc *MatchController) StopTask(c *gin.Context) {
	taskID := c.Param("taskID")

	if err := mc.taskService.Stop(taskID); err != nil {
		mc.respondTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, responses.StopTaskResponse{OK: true, TaskID: taskID})
}

// ListTasks trả về lịch sử task của process hiện tại.
func (mc *MatchController) ListTasks(c *gin.Context) {
	tasks := mc.taskService.ListTasks()
	c.JSON(http.StatusOK, responses.TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// HealthCheck kiểm tra sức khỏe service.
func (mc *MatchController) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, responses.HealthCheckResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(mc.startTime).String(),
		Version:   "1.0.0",
		Services: map[string]string{
			"matching_engine": "healthy",
			"result_store":    "healthy",
		},
	})
}

func (mc *MatchController) respondTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTaskAlreadyRunning):
		c.JSON(http.StatusConflict, responses.ErrorResponse{
			Error: "TASK_ALREADY_RUNNING", Message: err.Error(),
		})
	case errors.Is(err, services.ErrInvalidMode):
		c.JSON(http.StatusBadRequest, responses.ErrorResponse{
			Error: "INVALID_MODE", Message: err.Error(),
		})
	case errors.Is(err, services.ErrInvalidMatchStrategy):
		c.JSON(http.StatusBadRequest, responses.ErrorResponse{
			Error: "INVALID_STRATEGY", Message: err.Error(),
		})
	case errors.Is(err, services.ErrEmptyPrimary):
		c.JSON(http.StatusBadRequest, responses.ErrorResponse{
			Error: "EMPTY_PRIMARY", Message: err.Error(),
		})
	case errors.Is(err, services.ErrUnknownTask):
		c.JSON(http.StatusNotFound, responses.ErrorResponse{
			Error: "UNKNOWN_TASK", Message: err.Error(),
		})
	case errors.Is(err, services.ErrTaskNotRunning):
		c.JSON(http.StatusConflict, responses.ErrorResponse{
			Error: "TASK_NOT_RUNNING", Message: err.Error(),
		})
	default:
		mc.logger.Error("task operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, responses.ErrorResponse{
			Error: "INTERNAL_ERROR", Message: err.Error(),
		})
	}
}
