// Package auth 为工作流触发接口提供 Bearer 认证：静态访问令牌按 SHA-256
// 摘要匹配，或校验 HS256 JWT 的 scope 声明。
package auth
