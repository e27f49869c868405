package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"flowforge/internal/capability"
	"flowforge/internal/config"
	"flowforge/pkg/logger"
)

type apiToken struct {
	name        string
	digest      []byte
	permissions []string
}

type jwtVerifier struct {
	secret     []byte
	scopeClaim string
	parser     *jwt.Parser
}

// Service 负责触发接口的身份验证和授权。
type Service struct {
	mode   Mode
	tokens []apiToken
	jwt    *jwtVerifier
	audit  *slog.Logger
}

// NewService 构造身份认证服务实例。jwt 模式的签名密钥通过 secrets 读取，
// 不出现在配置文件中。
func NewService(ctx context.Context, cfg config.AuthConfig, secrets capability.SecretStore) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(cfg.Mode)))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeToken:
		if len(cfg.Tokens) == 0 {
			return nil, errors.New("token mode requires at least one token")
		}
		for _, tok := range cfg.Tokens {
			digest, err := hex.DecodeString(strings.TrimSpace(tok.SHA256))
			if err != nil || len(digest) != sha256.Size {
				return nil, fmt.Errorf("token %s: invalid sha256 digest", tok.Name)
			}
			svc.tokens = append(svc.tokens, apiToken{
				name:        tok.Name,
				digest:      digest,
				permissions: tok.Permissions,
			})
		}
	case ModeJWT:
		if secrets == nil {
			return nil, errors.New("jwt mode requires a secret store")
		}
		if ctx == nil {
			ctx = context.Background()
		}
		secret, err := secrets.GetSecret(ctx, cfg.JWT.SecretID)
		if err != nil {
			return nil, fmt.Errorf("load jwt secret: %w", err)
		}
		opts := []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(time.Duration(cfg.JWT.ClockSkewSeconds) * time.Second),
			jwt.WithExpirationRequired(),
		}
		if cfg.JWT.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(cfg.JWT.Issuer))
		}
		if cfg.JWT.Audience != "" {
			opts = append(opts, jwt.WithAudience(cfg.JWT.Audience))
		}
		scope := cfg.JWT.ScopeClaim
		if scope == "" {
			scope = "scope"
		}
		svc.jwt = &jwtVerifier{
			secret:     []byte(secret),
			scopeClaim: scope,
			parser:     jwt.NewParser(opts...),
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 验证传入请求的授权头，并返回相应的主体信息。
func (s *Service) AuthenticateRequest(_ context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	switch s.mode {
	case ModeToken:
		return s.verifyToken(token)
	case ModeJWT:
		return s.verifyJWT(token)
	default:
		return nil, ErrDisabled
	}
}

// verifyToken 比较令牌摘要，所有条目都参与比较。
func (s *Service) verifyToken(token string) (*Subject, error) {
	sum := sha256.Sum256([]byte(token))
	var match *apiToken
	for i := range s.tokens {
		if subtle.ConstantTimeCompare(sum[:], s.tokens[i].digest) == 1 && match == nil {
			match = &s.tokens[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	return newSubject(match.name, match.permissions), nil
}

// verifyJWT 验证 HS256 令牌并从 scope 声明中提取权限。
func (s *Service) verifyJWT(token string) (*Subject, error) {
	if s.jwt == nil {
		return nil, errors.New("jwt verifier not initialised")
	}
	claims := jwt.MapClaims{}
	parsed, err := s.jwt.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.jwt.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	name, _ := claims.GetSubject()
	if name == "" {
		return nil, fmt.Errorf("%w: sub claim is required", ErrInvalidToken)
	}
	return newSubject(name, scopesFromClaim(claims[s.jwt.scopeClaim])), nil
}

// scopesFromClaim 接受空格分隔的字符串或字符串数组。
func scopesFromClaim(raw any) []string {
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
