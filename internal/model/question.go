package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Option is one answer choice in its canonical normalized form.
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Question represents a single exam question as stored. Options is kept raw
// because upstream imports deliver several shapes; it is normalized once at
// ingestion (see the shuffle package) before anything else touches it.
type Question struct {
	ID          uuid.UUID       `json:"id"`
	ExamID      uuid.UUID       `json:"exam_id"`
	Text        string          `json:"text"`
	Options     json.RawMessage `json:"options"`
	CorrectKeys []string        `json:"correct_keys"`
	IsMulti     bool            `json:"is_multi"`
	Marks       float64         `json:"marks"`
	OrderNum    int             `json:"order_num"`
}
