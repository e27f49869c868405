package invocation

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "flowforge/internal/errors"
	"flowforge/pkg/logger"
)

// Catalog 判断工作流是否已注册。
type Catalog interface {
	Has(name string) bool
}

// Service 负责调用的创建与查询。
type Service struct {
	store    Store
	producer Producer
	catalog  Catalog
}

// NewService 构造调用服务。catalog 为空时不校验工作流名称。
func NewService(store Store, producer Producer, catalog Catalog) *Service {
	return &Service{store: store, producer: producer, catalog: catalog}
}

// Submit 创建一条 pending 调用并推送到队列。携带 ID 的重复提交返回已有记录。
func (s *Service) Submit(ctx context.Context, req Request) (*Invocation, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调用服务未初始化")
	}
	name := strings.TrimSpace(req.Workflow)
	if name == "" {
		return nil, xerrors.New(CodeValidation, "工作流名称不能为空")
	}
	if s.catalog != nil && !s.catalog.Has(name) {
		return nil, xerrors.New(CodeNotFound, "工作流不存在", xerrors.WithMetadata("workflow", name))
	}
	override, err := normalizeOverride(req.Override)
	if err != nil {
		return nil, err
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}

	id := strings.TrimSpace(req.ID)
	if id != "" {
		existing, err := s.store.Get(ctx, id)
		if err == nil {
			return sameWorkflow(existing, name)
		}
		if !IsNotFound(err) {
			return nil, err
		}
	} else {
		id = uuid.NewString()
	}

	inv := &Invocation{
		ID:       id,
		Workflow: name,
		Trigger:  trigger,
		Override: override,
		Status:   StatusPending,
	}
	if err := s.store.Create(ctx, inv); err != nil {
		if stdErrors.Is(err, ErrConflict) {
			if existing, getErr := s.store.Get(ctx, id); getErr == nil {
				return sameWorkflow(existing, name)
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, id); err != nil {
		logger.L().Error("调用入队失败", slog.Any("error", err), slog.String("invocation_id", id))
		wrapped := xerrors.Wrap(CodePublish, err, "发布调用到队列失败")
		_ = s.store.MarkFailed(ctx, id, CodePublish, wrapped.Message(), nil)
		return nil, wrapped
	}
	logger.Audit().Info("调用入队成功",
		slog.String("invocation_id", id),
		slog.String("workflow", name),
		slog.String("trigger", string(trigger)),
		slog.Bool("override", len(override) > 0),
	)
	return inv, nil
}

// sameWorkflow 只在幂等键对应同一工作流时复用已有记录。
func sameWorkflow(existing *Invocation, workflow string) (*Invocation, error) {
	if existing.Workflow != workflow {
		return nil, xerrors.New(CodeConflict, "幂等键已被其他工作流使用",
			xerrors.WithMetadata("invocation_id", existing.ID),
			xerrors.WithMetadata("workflow", existing.Workflow),
		)
	}
	return existing, nil
}

// Get 返回指定调用的状态。
func (s *Service) Get(ctx context.Context, id string) (*Invocation, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调用存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的调用列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Invocation, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "调用存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的调用统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "调用存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询调用状态直到进入终态或 ctx 结束。
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
		if inv.Done() {
			return inv, nil
		}
		select {
		case <-ctx.Done():
			return inv, ctx.Err()
		case <-ticker.C:
		}
	}
}

// normalizeOverride 要求覆盖参数为 JSON 对象，null 与空白视为未提供。
func normalizeOverride(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, xerrors.Wrap(CodeValidation, err, "覆盖参数必须是 JSON 对象")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, xerrors.Wrap(CodeValidation, err, "覆盖参数必须是 JSON 对象")
	}
	return buf.Bytes(), nil
}
