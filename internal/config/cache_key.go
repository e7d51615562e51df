package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ProgressKey returns the cache key for a student's in-progress session
// record. Namespaced by exam and student so one exam's progress can never
// bleed into another's.
func (r *CacheKeyStruct) ProgressKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:progress", studentID, examID)
}

// ExamPayloadKey returns the cache key for an exam's published payload.
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamAnswerKey returns the cache key for an exam's answer key hash.
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// ExamMonitorChannel returns the Redis PubSub channel carrying integrity
// events for proctors watching an exam.
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// ExamMonitorPattern matches every exam's monitor channel; used by the
// proctor notifier's PSubscribe.
func (r *CacheKeyStruct) ExamMonitorPattern() string {
	return "exam:*:monitor"
}

var CacheKey = NewCacheKeyStruct()
