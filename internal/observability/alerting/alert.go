package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelWebhook Channel = "webhook"
	ChannelAudit   Channel = "audit"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code         xerrors.Code      `json:"code"`
	Message      string            `json:"message"`
	Severity     xerrors.Severity  `json:"severity"`
	InvocationID string            `json:"invocation_id,omitempty"`
	Action       string            `json:"action,omitempty"`
	Chain        string            `json:"chain,omitempty"`
	TxHash       string            `json:"tx_hash,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// EventFromError 根据统一错误构造告警事件，并带上错误的附加信息。
func EventFromError(err error) Event {
	code := xerrors.CodeOf(err)
	event := Event{
		Code:       code,
		Severity:   xerrors.SeverityOf(err),
		OccurredAt: time.Now(),
		Metadata:   xerrors.MetadataOf(err),
	}
	if err != nil {
		event.Message = err.Error()
	} else {
		event.Message = xerrors.AttributesOf(code).Message
	}
	if hash, ok := event.Metadata["tx_hash"]; ok {
		event.TxHash = hash
	}
	if chain, ok := event.Metadata["chain"]; ok {
		event.Chain = chain
	}
	return event
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
	observe   func(Event)
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// OnNotify 注册一个在每次广播前调用的回调，例如用于指标计数。
func (d *FanoutDispatcher) OnNotify(fn func(Event)) *FanoutDispatcher {
	if d != nil {
		d.observe = fn
	}
	return d
}

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	out := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if d.observe != nil {
		d.observe(event)
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// AuditNotifier 将告警写入审计日志。
type AuditNotifier struct {
	Logger *slog.Logger
}

// Channel 返回审计渠道。
func (n *AuditNotifier) Channel() Channel { return ChannelAudit }

// Notify 写入一条审计日志。
func (n *AuditNotifier) Notify(_ context.Context, event Event) error {
	log := logger.Audit()
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("message", event.Message),
	}
	if event.InvocationID != "" {
		attrs = append(attrs, slog.String("invocation_id", event.InvocationID))
	}
	if event.Action != "" {
		attrs = append(attrs, slog.String("action", event.Action))
	}
	if event.Chain != "" {
		attrs = append(attrs, slog.String("chain", event.Chain))
	}
	if event.TxHash != "" {
		attrs = append(attrs, slog.String("tx_hash", event.TxHash))
	}
	for _, key := range sortedKeys(event.Metadata) {
		attrs = append(attrs, slog.String("meta."+key, event.Metadata[key]))
	}
	log.Warn("告警事件", attrs...)
	return nil
}

// WebhookNotifier 以 JSON 形式将告警推送到 HTTP 回调地址。
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送一次 POST 请求，非 2xx 视为失败。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || strings.TrimSpace(n.URL) == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("invocation_id", event.InvocationID))
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("告警回调返回状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
