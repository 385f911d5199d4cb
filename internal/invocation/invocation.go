package invocation

import (
	"TokenAction-Chain/internal/action"
	xerrors "TokenAction-Chain/internal/errors"
)

// Status 表示调用在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome 保存成功调用的结果。
type Outcome struct {
	Text    string `json:"text"`
	Address string `json:"address,omitempty"`
	Balance string `json:"balance,omitempty"`
	TxHash  string `json:"tx_hash,omitempty"`
	Nonce   uint64 `json:"nonce,omitempty"`
}

// Invocation 描述一次排队执行的动作调用。
type Invocation struct {
	ID          string      `json:"id"`
	Action      string      `json:"action"`
	Kind        action.Kind `json:"kind"`
	Chain       string      `json:"chain,omitempty"`
	Reference   string      `json:"reference"`
	Amount      string      `json:"amount,omitempty"`
	RequestedBy string      `json:"requested_by,omitempty"`
	Message     string      `json:"message,omitempty"`
	Status      Status      `json:"status"`
	Outcome     *Outcome    `json:"outcome,omitempty"`
	ErrorCode   string      `json:"error_code,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	// Ambiguous 为 true 表示铸币交易可能已广播但结果未知，需人工核对。
	Ambiguous bool     `json:"ambiguous,omitempty"`
	Progress  []string `json:"progress,omitempty"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

// Terminal 判断调用是否已结束。
func (i *Invocation) Terminal() bool {
	return i != nil && (i.Status == StatusSucceeded || i.Status == StatusFailed)
}

// Failure 描述一次失败调用需要记录的信息。
type Failure struct {
	Code      xerrors.Code
	Message   string
	Ambiguous bool
	Progress  []string
}

const (
	CodeInvocationNotFound      xerrors.Code = "INVOCATION_NOT_FOUND"
	CodeInvocationConflict      xerrors.Code = "INVOCATION_CONFLICT"
	CodeInvocationCompleted     xerrors.Code = "INVOCATION_COMPLETED"
	CodeInvocationValidation    xerrors.Code = "INVOCATION_VALIDATION_FAILED"
	CodeInvocationPublish       xerrors.Code = "INVOCATION_PUBLISH_FAILED"
	CodeInvocationNotApplicable xerrors.Code = "INVOCATION_NOT_APPLICABLE"
	CodeInvocationFailed        xerrors.Code = "INVOCATION_FAILED"
)

var (
	// ErrNotFound 表示指定的调用不存在。
	ErrNotFound = xerrors.New(CodeInvocationNotFound, "invocation not found")
	// ErrConflict 表示调用在当前状态下无法进行所请求的操作。
	ErrConflict = xerrors.New(CodeInvocationConflict, "invocation conflict")
	// ErrCompleted 表示调用已经结束，不会再次执行。
	ErrCompleted = xerrors.New(CodeInvocationCompleted, "invocation already completed")
)

func init() {
	xerrors.Register(CodeInvocationNotFound, xerrors.Attributes{
		Message:  "invocation not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvocationConflict, xerrors.Attributes{
		Message:  "invocation conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeInvocationCompleted, xerrors.Attributes{
		Message:  "invocation already completed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvocationValidation, xerrors.Attributes{
		Message:  "invocation validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvocationPublish, xerrors.Attributes{
		Message:   "failed to publish invocation",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeInvocationNotApplicable, xerrors.Attributes{
		Message:  "action declined the message",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvocationFailed, xerrors.Attributes{
		Message:  "invocation failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
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

func cloneInvocation(in *Invocation) *Invocation {
	if in == nil {
		return nil
	}
	out := *in
	if in.Outcome != nil {
		outcome := *in.Outcome
		out.Outcome = &outcome
	}
	out.Progress = append([]string(nil), in.Progress...)
	return &out
}

func actionKind(s string) action.Kind {
	kind, err := action.ParseKind(s)
	if err != nil {
		return action.Kind(s)
	}
	return kind
}
