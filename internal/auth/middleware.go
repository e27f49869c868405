package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredPermissions 按 HTTP 方法声明所需权限，"*" 作为兜底。
	RequiredPermissions map[string][]string
	// AuditEvent 为空时使用请求路径。
	AuditEvent string
}

func (c MiddlewareConfig) required(method string) []string {
	if perms, ok := c.RequiredPermissions[method]; ok && len(perms) > 0 {
		return perms
	}
	return c.RequiredPermissions["*"]
}

// Middleware 返回认证与授权中间件；认证关闭时直接放行。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s == nil || s.mode == ModeDisabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err == nil {
				err = subject.Authorize(cfg.required(r.Method)...)
			}
			if err != nil {
				s.reject(w, r, subject, err)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(WithSubject(r.Context(), subject)))

			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.audit.Info("触发接口访问",
				slog.String("event", event),
				slog.String("method", r.Method),
				slog.Int("status", rec.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("subject", subject.Name),
			)
		})
	}
}

// reject 对认证失败返回 401，对权限不足返回 403。
func (s *Service) reject(w http.ResponseWriter, r *http.Request, subject *Subject, err error) {
	status := http.StatusUnauthorized
	name := ""
	if subject != nil {
		name = subject.Name
		if errors.Is(err, ErrPermissionDenied) {
			status = http.StatusForbidden
		}
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="flowforge"`)
	}
	http.Error(w, http.StatusText(status), status)
	s.audit.Warn("触发接口拒绝访问",
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.Int("status", status),
		slog.String("subject", name),
		slog.Any("error", err),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
