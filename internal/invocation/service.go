package invocation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"TokenAction-Chain/internal/action"
	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/token"
	"TokenAction-Chain/pkg/logger"
	"TokenAction-Chain/pkg/plugin"

	"github.com/google/uuid"
)

// Catalog resolves action names and similes to the action's canonical
// description. *plugin.Manager satisfies it.
type Catalog interface {
	ResolveAction(name string) (plugin.ActionInfo, error)
}

// Request 是提交一次调用所需的参数。
type Request struct {
	// ID 可选，相同 ID 的重复提交返回已有调用。
	ID        string `json:"id,omitempty"`
	Action    string `json:"action"`
	Reference string `json:"reference,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Chain     string `json:"chain,omitempty"`
	User      string `json:"user,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Service 负责调用的创建与查询。
type Service struct {
	store    Store
	producer Producer
	catalog  Catalog
}

// NewService 构造调用服务。
func NewService(store Store, producer Producer, catalog Catalog) *Service {
	return &Service{store: store, producer: producer, catalog: catalog}
}

// Resolve 返回名称或别名对应的动作描述。
func (s *Service) Resolve(name string) (plugin.ActionInfo, error) {
	if s.catalog == nil {
		return plugin.ActionInfo{}, xerrors.New(xerrors.CodeNotConfigured, "未配置动作目录")
	}
	info, err := s.catalog.ResolveAction(name)
	if err != nil {
		if errors.Is(err, plugin.ErrActionNotFound) {
			return plugin.ActionInfo{}, xerrors.Wrap(CodeInvocationValidation, err, "未知的动作",
				xerrors.WithMetadata("action", name))
		}
		return plugin.ActionInfo{}, err
	}
	return info, nil
}

// Submit 校验请求、持久化调用并推送到队列。
func (s *Service) Submit(ctx context.Context, req Request) (*Invocation, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "调用服务未初始化")
	}
	if strings.TrimSpace(req.Action) == "" {
		return nil, xerrors.New(CodeInvocationValidation, "动作名称不能为空")
	}
	info, err := s.Resolve(req.Action)
	if err != nil {
		return nil, err
	}

	kind := action.KindRead
	if info.Needs(plugin.CapabilitySigning) {
		kind = action.KindWrite
	}
	reference := strings.TrimSpace(req.Reference)
	amount := strings.TrimSpace(req.Amount)
	if kind == action.KindRead {
		if reference == "" && strings.TrimSpace(req.Message) == "" {
			return nil, xerrors.New(CodeInvocationValidation, "查询动作需要账户引用或消息文本")
		}
		amount = ""
	}
	if amount != "" {
		parsed, err := token.ParseAmount(amount)
		if err != nil {
			return nil, err
		}
		if parsed.Sign() <= 0 {
			return nil, xerrors.New(xerrors.CodeInvalidAmount, "数量必须为正整数")
		}
		amount = parsed.String()
	}

	id := strings.TrimSpace(req.ID)
	if id != "" {
		existing, err := s.store.Get(ctx, id)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	} else {
		id = uuid.NewString()
	}

	inv := &Invocation{
		ID:          id,
		Action:      info.Name,
		Kind:        kind,
		Chain:       strings.TrimSpace(req.Chain),
		Reference:   reference,
		Amount:      amount,
		RequestedBy: strings.TrimSpace(req.User),
		Message:     strings.TrimSpace(req.Message),
		Status:      StatusPending,
	}
	if err := s.store.Create(ctx, inv); err != nil {
		if errors.Is(err, ErrConflict) {
			if existing, getErr := s.store.Get(ctx, id); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, id); err != nil {
		logger.L().Error("调用入队失败", slog.Any("error", err), slog.String("invocation_id", id))
		wrapped := xerrors.Wrap(CodeInvocationPublish, err, "发布调用到队列失败")
		_ = s.store.MarkFailed(ctx, id, Failure{Code: CodeInvocationPublish, Message: wrapped.Error()})
		return nil, wrapped
	}
	logger.Audit().Info("调用入队成功",
		slog.String("invocation_id", id),
		slog.String("action", inv.Action),
		slog.String("kind", string(inv.Kind)),
		slog.String("chain", inv.Chain),
		slog.String("requested_by", inv.RequestedBy),
	)
	return inv, nil
}

// Get 返回指定调用的状态。
func (s *Service) Get(ctx context.Context, id string) (*Invocation, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "调用存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的调用列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Invocation, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "调用存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的调用统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeNotConfigured, "调用存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// WaitUntilCompleted 轮询直到调用结束或 ctx 取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Invocation, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		inv, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if inv.Terminal() {
			return inv, nil
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待调用完成超时",
				xerrors.WithMetadata("invocation_id", id))
		case <-ticker.C:
		}
	}
}

// Close 释放存储与队列资源。
func (s *Service) Close() error {
	var err error
	if s.store != nil {
		err = errors.Join(err, s.store.Close())
	}
	if s.producer != nil {
		err = errors.Join(err, s.producer.Close())
	}
	return err
}
