package invocation

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "flowforge/internal/errors"
	"flowforge/internal/observability/alerting"
	"flowforge/internal/observability/metrics"
	"flowforge/internal/workflow"
	"flowforge/pkg/logger"
)

// Executor 定义了处理器所需的工作流执行能力。
type Executor interface {
	Run(ctx context.Context, name string, override []byte) (workflow.Output, error)
}

// Processor 负责从队列消费调用并交给工作流引擎执行。每条调用只执行一次，
// 失败后不重试。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	now         func() time.Time
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

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
		now:         time.Now,
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

// Start 启动调用处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置调用消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, id string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	inv, err := p.store.Claim(ctx, id)
	if err != nil {
		if stdErrors.Is(err, ErrNotFound) || stdErrors.Is(err, ErrCompleted) || stdErrors.Is(err, ErrConflict) {
			p.logger.Debug("跳过调用", slog.String("invocation_id", id), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取调用失败", slog.Any("error", err), slog.String("invocation_id", id))
		return err
	}

	metrics.InvocationStarted()
	start := p.now()
	status := StatusSucceeded
	defer func() {
		metrics.ObserveInvocation(inv.Workflow, string(inv.Trigger), string(status), p.now().Sub(start))
	}()

	out, runErr := p.executor.Run(ctx, inv.Workflow, inv.Override)

	// 执行结束后即使 ctx 已取消也要落库。
	finalCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		status = StatusFailed
		return p.fail(finalCtx, inv, runErr, nil)
	}

	var result json.RawMessage
	if out.Value != nil {
		raw, err := out.JSON()
		if err != nil {
			status = StatusFailed
			return p.fail(finalCtx, inv, xerrors.Wrap(CodeExecution, err, "编码执行结果失败"), nil)
		}
		result = raw
	}
	if out.Err != nil {
		status = StatusFailed
		return p.fail(finalCtx, inv, out.Err, result)
	}

	if err := p.store.MarkSucceeded(finalCtx, inv.ID, result); err != nil {
		p.logger.Error("标记调用成功状态失败", slog.Any("error", err), slog.String("invocation_id", inv.ID))
		return err
	}
	logger.Audit().Info("调用执行成功",
		slog.String("invocation_id", inv.ID),
		slog.String("workflow", inv.Workflow),
		slog.String("trigger", string(inv.Trigger)),
	)
	return nil
}

func (p *Processor) fail(ctx context.Context, inv *Invocation, cause error, result json.RawMessage) error {
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = CodeExecution
	}
	message := xerrors.MessageOf(cause)
	if err := p.store.MarkFailed(ctx, inv.ID, code, message, result); err != nil {
		p.logger.Error("标记调用失败状态出错", slog.Any("error", err), slog.String("invocation_id", inv.ID))
		return err
	}
	logger.Audit().Warn("调用执行失败",
		slog.String("invocation_id", inv.ID),
		slog.String("workflow", inv.Workflow),
		slog.String("trigger", string(inv.Trigger)),
		slog.String("error", message),
		slog.String("error_code", string(code)),
	)
	p.emitAlert(ctx, inv, code, message)
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, inv *Invocation, code xerrors.Code, message string) {
	if p.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:         code,
		Message:      message,
		Severity:     attrs.Severity,
		InvocationID: inv.ID,
		Workflow:     inv.Workflow,
		Trigger:      string(inv.Trigger),
		OccurredAt:   p.now(),
	}
	if len(inv.Override) > 0 {
		event.Metadata = map[string]string{"override": string(inv.Override)}
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("invocation_id", inv.ID))
	}
}
