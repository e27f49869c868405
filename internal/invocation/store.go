package invocation

import (
	"context"
	"encoding/json"

	xerrors "flowforge/internal/errors"
)

// Store 抽象了调用记录的持久化接口。
type Store interface {
	Create(ctx context.Context, inv *Invocation) error
	Get(ctx context.Context, id string) (*Invocation, error)
	// Claim 将 pending 调用置为 running。调用只执行一次，终态记录返回 ErrCompleted。
	Claim(ctx context.Context, id string) (*Invocation, error)
	MarkSucceeded(ctx context.Context, id string, result json.RawMessage) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, result json.RawMessage) error
	List(ctx context.Context, opts ListOptions) ([]*Invocation, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
