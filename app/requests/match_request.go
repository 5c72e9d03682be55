package requests

// StartMatchTaskRequest request khởi động một matching task.
type StartMatchTaskRequest struct {
	Mode            string   `json:"mode" binding:"required"`    // incremental | update | full
	BatchSize       int      `json:"batch_size,omitempty"`       // PRIMARY records per page
	MatchStrategies []string `json:"match_strategies,omitempty"` // restrict matcher layers; empty = all
	ClearExisting   bool     `json:"clear_existing,omitempty"`   // wipe prior results before the run
	ResumeTaskID    string   `json:"resume_task_id,omitempty"`   // re-issue a task after restart
}

// SetReviewRequest request cập nhật trạng thái review của một kết quả.
type SetReviewRequest struct {
	Status   string `json:"status" binding:"required"`   // approved | rejected | pending
	Notes    string `json:"notes,omitempty"`             // ghi chú của người review
	Reviewer string `json:"reviewer" binding:"required"` // người review
}

// StartAssociationRequest request chạy lại enhanced association.
type StartAssociationRequest struct {
	Strategy      string `json:"strategy,omitempty"`       // building_based | unit_based | hybrid
	ClearExisting bool   `json:"clear_existing,omitempty"` // xóa kết quả cũ trước khi chạy
}

// ListResultsQuery các tham số lọc của danh sách kết quả.
type ListResultsQuery struct {
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
	MatchType    string `form:"match_type"`
	ReviewStatus string `form:"review_status"`
	NameQuery    string `form:"name_query"`
}

// ListAssociationsQuery phân trang cho danh sách association.
type ListAssociationsQuery struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}
