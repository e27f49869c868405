package alerting

import (
	"context"
	"log/slog"

	xerrors "flowforge/internal/errors"
	"flowforge/pkg/logger"
)

// LogNotifier 将告警写入审计日志，适合作为兜底渠道。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 按严重程度输出结构化日志。
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.Audit()
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	level := slog.LevelWarn
	switch event.Severity {
	case xerrors.SeverityCritical:
		level = slog.LevelError
	case xerrors.SeverityInfo:
		level = slog.LevelInfo
	}
	attrs := []slog.Attr{
		slog.String("code", string(event.Code)),
		slog.String("invocation_id", event.InvocationID),
		slog.String("workflow", event.Workflow),
		slog.String("message", event.Message),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	log.LogAttrs(ctx, level, "调用失败告警", attrs...)
	return nil
}
