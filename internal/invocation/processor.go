package invocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"TokenAction-Chain/internal/action"
	xerrors "TokenAction-Chain/internal/errors"
	"TokenAction-Chain/internal/observability/alerting"
	"TokenAction-Chain/pkg/logger"
	"TokenAction-Chain/pkg/plugin"
)

// Message parameter keys understood by the token actions.
const (
	ParamReference = "reference"
	ParamAmount    = "amount"
	ParamChain     = "chain"
)

// Submission outcomes reported to the Observer.
const (
	SubmissionAccepted  = "accepted"
	SubmissionRejected  = "rejected"
	SubmissionAmbiguous = "ambiguous"
	SubmissionFailed    = "failed"
)

// Dispatcher runs a named action. *plugin.Manager satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, msg plugin.Message, report plugin.Reporter) (any, error)
}

// Observer receives execution measurements.
type Observer interface {
	ObserveAction(action, code string, duration time.Duration)
	ObserveSubmission(chain, outcome string)
}

// Processor consumes invocation ids and runs each claimed invocation once.
type Processor struct {
	dispatcher  Dispatcher
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	observer    Observer
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithObserver 配置指标观察者。
func WithObserver(observer Observer) ProcessorOption {
	return func(p *Processor) {
		p.observer = observer
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(dispatcher Dispatcher, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		dispatcher:  dispatcher,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("invocation")
	}
	return p
}

// Start 启动调用处理循环，直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeNotConfigured, "未配置调用消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle claims and runs one invocation. Failures are recorded on the
// invocation; the returned error only reports bookkeeping problems.
func (p *Processor) Handle(ctx context.Context, id string) error {
	if p.store == nil || p.dispatcher == nil {
		return xerrors.New(xerrors.CodeNotConfigured, "处理器未初始化")
	}
	inv, err := p.store.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCompleted) || errors.Is(err, ErrConflict) {
			p.logger.Debug("跳过调用", slog.String("invocation_id", id), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取调用失败", slog.Any("error", err), slog.String("invocation_id", id))
		return err
	}

	progress := &progressLog{}
	started := time.Now()
	result, execErr := p.dispatcher.Dispatch(ctx, inv.Action, messageFor(inv), progress.report)
	elapsed := time.Since(started)

	if execErr != nil {
		return p.fail(ctx, inv, execErr, progress.lines(), elapsed)
	}

	outcome := outcomeFrom(result)
	p.observe(inv, "OK", elapsed)
	if inv.Kind == action.KindWrite {
		p.observeSubmission(inv, chainOf(inv, result), SubmissionAccepted)
	}
	if err := p.store.MarkSucceeded(ctx, inv.ID, outcome, progress.lines()); err != nil {
		p.logger.Error("标记调用成功失败", slog.Any("error", err), slog.String("invocation_id", inv.ID))
		return err
	}
	logger.Audit().Info("调用执行成功",
		slog.String("invocation_id", inv.ID),
		slog.String("action", inv.Action),
		slog.String("address", outcome.Address),
		slog.String("tx_hash", outcome.TxHash),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, inv *Invocation, execErr error, progress []string, elapsed time.Duration) error {
	code := xerrors.CodeOf(execErr)
	switch {
	case errors.Is(execErr, plugin.ErrActionNotApplicable):
		code = CodeInvocationNotApplicable
		execErr = xerrors.Wrap(code, execErr, "动作不适用于该消息")
	case errors.Is(execErr, plugin.ErrActionNotFound):
		code = CodeInvocationValidation
		execErr = xerrors.Wrap(code, execErr, "动作已不可用")
	case code == xerrors.CodeUnknown:
		code = CodeInvocationFailed
		execErr = xerrors.Wrap(code, execErr, "调用执行失败")
	}
	ambiguous := xerrors.HasCode(execErr, xerrors.CodeSubmissionAmbiguous)

	p.observe(inv, string(code), elapsed)
	if inv.Kind == action.KindWrite {
		outcome := submissionOutcome(code)
		if ambiguous {
			outcome = SubmissionAmbiguous
		}
		p.observeSubmission(inv, inv.Chain, outcome)
	}

	failure := Failure{Code: code, Message: execErr.Error(), Ambiguous: ambiguous, Progress: progress}
	if err := p.store.MarkFailed(ctx, inv.ID, failure); err != nil {
		p.logger.Error("标记调用失败状态出错", slog.Any("error", err), slog.String("invocation_id", inv.ID))
		return err
	}

	attrs := []any{
		slog.String("invocation_id", inv.ID),
		slog.String("action", inv.Action),
		slog.String("error_code", string(code)),
		slog.String("error", execErr.Error()),
	}
	if hash := xerrors.MetadataOf(execErr)["tx_hash"]; hash != "" {
		attrs = append(attrs, slog.String("tx_hash", hash))
	}
	if ambiguous {
		logger.Audit().Warn("调用结果未知，需人工核对，不会自动重试", attrs...)
	} else {
		logger.Audit().Info("调用执行失败", attrs...)
	}

	if xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, inv, execErr)
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, inv *Invocation, cause error) {
	if p.alerter == nil {
		return
	}
	event := alerting.EventFromError(cause)
	event.InvocationID = inv.ID
	event.Action = inv.Action
	if event.Chain == "" {
		event.Chain = inv.Chain
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("invocation_id", inv.ID))
	}
}

func (p *Processor) observe(inv *Invocation, code string, elapsed time.Duration) {
	if p.observer != nil {
		p.observer.ObserveAction(inv.Action, code, elapsed)
	}
}

func (p *Processor) observeSubmission(inv *Invocation, chain, outcome string) {
	if p.observer == nil {
		return
	}
	if chain == "" {
		chain = "default"
	}
	p.observer.ObserveSubmission(chain, outcome)
}

func submissionOutcome(code xerrors.Code) string {
	switch code {
	case xerrors.CodeSubmissionAmbiguous:
		return SubmissionAmbiguous
	case xerrors.CodeSubmissionRejected:
		return SubmissionRejected
	default:
		return SubmissionFailed
	}
}

func messageFor(inv *Invocation) plugin.Message {
	params := map[string]string{}
	if inv.Reference != "" {
		params[ParamReference] = inv.Reference
	}
	if inv.Amount != "" {
		params[ParamAmount] = inv.Amount
	}
	if inv.Chain != "" {
		params[ParamChain] = inv.Chain
	}
	text := inv.Message
	if text == "" {
		text = inv.Reference
	}
	return plugin.Message{User: inv.RequestedBy, Text: text, Params: params}
}

func outcomeFrom(result any) Outcome {
	switch res := result.(type) {
	case nil:
		return Outcome{}
	case *action.Result:
		if res == nil {
			return Outcome{}
		}
		outcome := Outcome{Text: res.Text, Address: res.Address.Hex()}
		if res.Balance != nil && res.Balance.Amount != nil {
			outcome.Balance = res.Balance.Amount.String()
		}
		if res.Transaction != nil {
			outcome.TxHash = res.Transaction.Hash.Hex()
			outcome.Nonce = res.Transaction.Nonce
		}
		return outcome
	case string:
		return Outcome{Text: res}
	case fmt.Stringer:
		return Outcome{Text: res.String()}
	default:
		return Outcome{Text: fmt.Sprint(res)}
	}
}

func chainOf(inv *Invocation, result any) string {
	if res, ok := result.(*action.Result); ok && res != nil && res.Chain != "" {
		return res.Chain
	}
	return inv.Chain
}

type progressLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *progressLog) report(_ context.Context, text string) {
	l.mu.Lock()
	l.entries = append(l.entries, text)
	l.mu.Unlock()
}

func (l *progressLog) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}
