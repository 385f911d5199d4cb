package invocation

import "context"

// Store 抽象了调用记录的持久化接口。
//
// Claim 只会把 pending 状态的调用切换为 running，因此同一调用至多执行一次。
type Store interface {
	Create(ctx context.Context, inv *Invocation) error
	Get(ctx context.Context, id string) (*Invocation, error)
	Claim(ctx context.Context, id string) (*Invocation, error)
	MarkSucceeded(ctx context.Context, id string, outcome Outcome, progress []string) error
	MarkFailed(ctx context.Context, id string, failure Failure) error
	List(ctx context.Context, opts ListOptions) ([]*Invocation, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats 聚合了调用状态的统计信息。
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Ambiguous int `json:"ambiguous"`
}
