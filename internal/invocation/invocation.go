// Package invocation 负责工作流调用的排队、执行与结果留存。
package invocation

import (
	"encoding/json"
	stdErrors "errors"

	xerrors "flowforge/internal/errors"
)

// Status 表示调用在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Trigger 表示调用的来源。
type Trigger string

const (
	TriggerCron   Trigger = "cron"
	TriggerHTTP   Trigger = "http"
	TriggerManual Trigger = "manual"
)

// Invocation 描述一次工作流调用及其结果。
type Invocation struct {
	ID        string          `json:"id"`
	Workflow  string          `json:"workflow"`
	Trigger   Trigger         `json:"trigger"`
	Override  json.RawMessage `json:"override,omitempty"`
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
}

// Request 是提交调用时的参数。
type Request struct {
	// ID 可选，填写后重复提交返回同一条记录。
	ID       string
	Workflow string
	Trigger  Trigger
	Override json.RawMessage
}

// Done 表示调用已进入终态。
func (i *Invocation) Done() bool {
	return i != nil && (i.Status == StatusSucceeded || i.Status == StatusFailed)
}

var (
	// ErrNotFound 表示指定的调用不存在。
	ErrNotFound = xerrors.New(CodeNotFound, "invocation not found")
	// ErrConflict 表示调用在当前状态下无法进行所请求的操作。
	ErrConflict = xerrors.New(CodeConflict, "invocation conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrCompleted 表示调用已经结束，不会再次执行。
	ErrCompleted = xerrors.New(CodeCompleted, "invocation already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeNotFound   xerrors.Code = "INVOCATION_NOT_FOUND"
	CodeConflict   xerrors.Code = "INVOCATION_CONFLICT"
	CodeCompleted  xerrors.Code = "INVOCATION_COMPLETED"
	CodeValidation xerrors.Code = "INVOCATION_VALIDATION_FAILED"
	CodePublish    xerrors.Code = "INVOCATION_PUBLISH_FAILED"
	CodeExecution  xerrors.Code = "INVOCATION_EXECUTION_FAILED"
)

func init() {
	xerrors.Register(CodeNotFound, xerrors.Attributes{
		Message:  "invocation not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeConflict, xerrors.Attributes{
		Message:  "invocation conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeCompleted, xerrors.Attributes{
		Message:  "invocation already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeValidation, xerrors.Attributes{
		Message:  "invocation validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodePublish, xerrors.Attributes{
		Message:  "failed to publish invocation",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeExecution, xerrors.Attributes{
		Message:  "workflow execution failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// IsNotFound 判断错误是否表示调用不存在。
func IsNotFound(err error) bool {
	return stdErrors.Is(err, ErrNotFound)
}

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneInvocation(inv *Invocation) *Invocation {
	clone := *inv
	clone.Override = cloneRaw(inv.Override)
	clone.Result = cloneRaw(inv.Result)
	return &clone
}
