package model

// PublishExamRequest selects the cache operation for an exam: "publish" moves
// a draft to PUBLISHED and warms the cache, "refresh" re-warms an already
// published exam.
type PublishExamRequest struct {
	Mode string `json:"mode" binding:"required,oneof=publish refresh"`
}
