package invocation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "TokenAction-Chain/internal/errors"
)

// MemoryStore 以内存方式保存调用记录，用于测试与单机部署。
type MemoryStore struct {
	mu          sync.RWMutex
	invocations map[string]*Invocation
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invocations: make(map[string]*Invocation)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, inv *Invocation) error {
	if err := validateNew(inv); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invocations[inv.ID]; ok {
		return ErrConflict
	}
	now := time.Now().Unix()
	if inv.CreatedAt == 0 {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	m.invocations[inv.ID] = cloneInvocation(inv)
	return nil
}

// Get 返回调用记录。
func (m *MemoryStore) Get(_ context.Context, id string) (*Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invocations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInvocation(inv), nil
}

// Claim 将 pending 调用切换为 running。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Invocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invocations[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch inv.Status {
	case StatusSucceeded, StatusFailed:
		return cloneInvocation(inv), ErrCompleted
	case StatusRunning:
		return cloneInvocation(inv), ErrConflict
	}
	inv.Status = StatusRunning
	inv.UpdatedAt = time.Now().Unix()
	return cloneInvocation(inv), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, outcome Outcome, progress []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invocations[id]
	if !ok {
		return ErrNotFound
	}
	inv.Status = StatusSucceeded
	inv.Outcome = &outcome
	inv.Progress = append([]string(nil), progress...)
	inv.ErrorCode = ""
	inv.LastError = ""
	inv.Ambiguous = false
	inv.UpdatedAt = time.Now().Unix()
	return nil
}

// MarkFailed 标记调用失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, failure Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invocations[id]
	if !ok {
		return ErrNotFound
	}
	inv.Status = StatusFailed
	inv.ErrorCode = string(failure.Code)
	inv.LastError = failure.Message
	inv.Ambiguous = failure.Ambiguous
	inv.Progress = append([]string(nil), failure.Progress...)
	inv.UpdatedAt = time.Now().Unix()
	return nil
}

// List 返回符合条件的调用。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Invocation, error) {
	opts.applyDefaults()

	m.mu.RLock()
	results := make([]*Invocation, 0, len(m.invocations))
	for _, inv := range m.invocations {
		if matchesListFilters(inv, opts) {
			results = append(results, cloneInvocation(inv))
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID > b.ID
	})

	if opts.Offset >= len(results) {
		return []*Invocation{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的调用数量。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{}
	for _, inv := range m.invocations {
		if !matchesListFilters(inv, opts) {
			continue
		}
		stats.Total++
		switch inv.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if inv.Ambiguous {
			stats.Ambiguous++
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func validateNew(inv *Invocation) error {
	if inv == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "invocation 不能为空")
	}
	if strings.TrimSpace(inv.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "调用 ID 不能为空")
	}
	if strings.TrimSpace(inv.Action) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "动作名称不能为空")
	}
	return nil
}

func matchesListFilters(inv *Invocation, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if inv.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.Action != "" && !strings.EqualFold(inv.Action, opts.Action) {
		return false
	}
	if opts.Ambiguous != nil && inv.Ambiguous != *opts.Ambiguous {
		return false
	}
	if opts.Query != "" {
		fields := []string{inv.ID, inv.Reference, inv.Message, inv.LastError}
		if inv.Outcome != nil {
			fields = append(fields, inv.Outcome.Address, inv.Outcome.TxHash)
		}
		query := strings.ToLower(opts.Query)
		for _, field := range fields {
			if strings.Contains(strings.ToLower(field), query) {
				return true
			}
		}
		return false
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
