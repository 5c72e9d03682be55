package responses

import (
	"github.com/unit-linkage/app/models"
	"github.com/unit-linkage/internal/store"
)

// StartTaskResponse response khởi động task.
type StartTaskResponse struct {
	TaskID  string `json:"task_id"`
	Mode    string `json:"mode"`
	Message string `json:"message"`
}

// StopTaskResponse response dừng task.
type StopTaskResponse struct {
	OK     bool   `json:"ok"`
	TaskID string `json:"task_id"`
}

// TaskListResponse lịch sử task.
type TaskListResponse struct {
	Tasks []*models.MatchTask `json:"tasks"`
	Total int                 `json:"total"`
}

// ResultListResponse một trang linkage results.
type ResultListResponse struct {
	Results  []*models.LinkageResult `json:"results"`
	Total    int64                   `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
}

// StatisticsResponse thống kê kết quả matching.
type StatisticsResponse struct {
	Statistics *store.MatchStatistics `json:"statistics"`
}

// AssociationRunResponse kết quả chạy enhanced association.
type AssociationRunResponse struct {
	OK       bool   `json:"ok"`
	Strategy string `json:"strategy"`
	Count    int64  `json:"count"`
	Message  string `json:"message"`
}

// AssociationListResponse một trang enhanced associations.
type AssociationListResponse struct {
	Associations []*models.EnhancedAssociation `json:"associations"`
	Total        int64                         `json:"total"`
	Page         int                           `json:"page"`
	PageSize     int                           `json:"page_size"`
}

// ErrorResponse response lỗi.
type ErrorResponse struct {
	Error   string `json:"error"`   // mã lỗi
	Message string `json:"message"` // thông báo lỗi
}

// HealthCheckResponse response kiểm tra sức khỏe.
type HealthCheckResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}
