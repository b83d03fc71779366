// Package task defines the unit of work moved through the pools and its lifecycle hooks.
package task

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/crawl-pipeline/internal/id/uuid"
)

// ReasonRateLimit marks a task deferred because its instance hit the per-second limit.
const ReasonRateLimit = "REASON_RATE_LIMIT"

// Task identifies one unit of work for a logical instance.
//
// A Task is owned by the worker iteration that popped it until it is handed to exactly
// one pool for terminal storage.
type Task struct {
	ID              string `json:"id"`
	InstanceID      string `json:"instance_id"`
	FuncName        string `json:"func_name"`
	URL             string `json:"url"`
	SecondRateLimit int    `json:"second_rate_limit"`

	Reasons               []string `json:"reasons,omitempty"`
	CrawlErrorTraceback   string   `json:"crawl_error_traceback,omitempty"`
	ProcessErrorTraceback string   `json:"process_error_traceback,omitempty"`
	// PageRaw is the crawled payload kept for process failures. It is arbitrary bytes,
	// so the JSON form is base64.
	PageRaw               []byte   `json:"page_raw,omitempty"`
	CrawlSeconds          float64  `json:"crawl_seconds,omitempty"`
	ProcessSeconds        float64  `json:"process_seconds,omitempty"`
}

// New builds a task with a freshly generated short id.
func New(instanceID, funcName, url string, secondRateLimit int) *Task {
	return &Task{
		ID:              ids.NewShortID(),
		InstanceID:      instanceID,
		FuncName:        funcName,
		URL:             url,
		SecondRateLimit: secondRateLimit,
	}
}

var ids = uuid.New()

// AddReason records why the task was deferred. Repeated reasons are kept once.
func (t *Task) AddReason(reason string) {
	for _, r := range t.Reasons {
		if r == reason {
			return
		}
	}
	t.Reasons = append(t.Reasons, reason)
}

// HasReason reports whether reason was recorded.
func (t *Task) HasReason(reason string) bool {
	for _, r := range t.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// ToJSON serializes the task. Field order is fixed, so FromJSON followed by ToJSON
// reproduces any string produced here.
func (t *Task) ToJSON() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	return string(data), nil
}

// FromJSON parses a serialized task.
func FromJSON(raw string) (*Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	if t.ID == "" || t.InstanceID == "" {
		return nil, fmt.Errorf("unmarshal task: id and instance_id are required")
	}
	return &t, nil
}
