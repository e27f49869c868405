package config

import (
	"bytes"
	"encoding/json"
	"fmt"

	xerrors "flowforge/internal/errors"
)

// MergeOverride 将 JSON 覆盖内容合并到 base 的副本上并返回新值，base 本身不变。
//
// 合并规则：覆盖中出现的键优先；对象逐层递归合并，未出现的兄弟字段保留；
// 数组与标量整体替换；值为 null 的键保留 base 中的原值。
// 覆盖内容为空或为 null 时直接返回 base。覆盖必须是 JSON 对象，
// 且不能包含目标类型未声明的字段。
func MergeOverride[T any](base T, override []byte) (T, error) {
	trimmed := bytes.TrimSpace(override)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return base, nil
	}

	var zero T
	overTree, err := decodeTree(trimmed)
	if err != nil {
		return zero, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析覆盖配置失败")
	}
	if _, ok := overTree.(map[string]any); !ok {
		return zero, xerrors.New(xerrors.CodeInvalidArgument, "覆盖配置必须是 JSON 对象")
	}

	baseRaw, err := json.Marshal(base)
	if err != nil {
		return zero, fmt.Errorf("序列化基础配置失败: %w", err)
	}
	baseTree, err := decodeTree(baseRaw)
	if err != nil {
		return zero, fmt.Errorf("解析基础配置失败: %w", err)
	}

	mergedRaw, err := json.Marshal(mergeTrees(baseTree, overTree))
	if err != nil {
		return zero, fmt.Errorf("序列化合并结果失败: %w", err)
	}

	var out T
	dec := json.NewDecoder(bytes.NewReader(mergedRaw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return zero, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "覆盖配置与目标结构不匹配")
	}
	return out, nil
}

func decodeTree(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("JSON 之后存在多余内容")
	}
	return tree, nil
}

func mergeTrees(base, over any) any {
	if over == nil {
		return base
	}
	overMap, ok := over.(map[string]any)
	if !ok {
		return over
	}
	baseMap, ok := base.(map[string]any)
	if !ok {
		baseMap = map[string]any{}
	}
	for key, value := range overMap {
		baseMap[key] = mergeTrees(baseMap[key], value)
	}
	return baseMap
}
