// Package secrets 提供运行时密钥查找的实现，密钥从不写入源码或配置文件。
package secrets

import (
	"context"
	"os"
	"strings"

	xerrors "flowforge/internal/errors"
)

// EnvStore 从环境变量读取密钥，变量名为前缀加大写的密钥 ID。
type EnvStore struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvStore 创建基于进程环境变量的密钥存储。
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{Prefix: prefix, lookup: os.LookupEnv}
}

// VariableName 返回密钥 ID 对应的环境变量名。
func (s *EnvStore) VariableName(id string) string {
	name := strings.ToUpper(strings.TrimSpace(id))
	name = strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name)
	return s.Prefix + name
}

// GetSecret 实现 capability.SecretStore。
func (s *EnvStore) GetSecret(_ context.Context, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "secret id is empty")
	}
	lookup := s.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	name := s.VariableName(id)
	value, ok := lookup(name)
	if !ok || value == "" {
		return "", xerrors.New(xerrors.CodeNotFound, "secret "+id+" not set",
			xerrors.WithMetadata("variable", name))
	}
	return value, nil
}

// StaticStore 是内存中的密钥表，主要用于测试与本地调试。
type StaticStore map[string]string

// GetSecret 实现 capability.SecretStore。
func (s StaticStore) GetSecret(_ context.Context, id string) (string, error) {
	value, ok := s[id]
	if !ok || value == "" {
		return "", xerrors.New(xerrors.CodeNotFound, "secret "+id+" not set")
	}
	return value, nil
}
