package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"flowforge/internal/auth"
	"flowforge/internal/invocation"
	"flowforge/internal/workflow"
	"flowforge/pkg/logger"
)

// InvocationService is the part of invocation.Service the handlers use.
type InvocationService interface {
	Submit(ctx context.Context, req invocation.Request) (*invocation.Invocation, error)
	Get(ctx context.Context, id string) (*invocation.Invocation, error)
	List(ctx context.Context, opts ...invocation.ListOption) ([]*invocation.Invocation, error)
	WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*invocation.Invocation, error)
}

// Catalog lists registered workflows.
type Catalog interface {
	Definitions() []workflow.Definition
}

// Options tune the HTTP surface.
type Options struct {
	RateLimitPerSecond float64
	Burst              int
	// WaitTimeout caps how long ?wait=true blocks before answering 202.
	WaitTimeout  time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
	// Auth guards /api/v1; nil leaves the API open.
	Auth *auth.Service
}

func (o *Options) applyDefaults() {
	if o.RateLimitPerSecond <= 0 {
		o.RateLimitPerSecond = 10
	}
	if o.Burst <= 0 {
		o.Burst = 20
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = logger.Named("api")
	}
}

// Server 负责暴露 REST 接口，供外部触发工作流并查询调用结果。
type Server struct {
	addr    string
	service InvocationService
	catalog Catalog
	opts    Options
	limiter *clientLimiter
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service InvocationService, catalog Catalog, opts Options) *Server {
	opts.applyDefaults()
	return &Server{
		addr:    addr,
		service: service,
		catalog: catalog,
		opts:    opts,
		limiter: newClientLimiter(opts.RateLimitPerSecond, opts.Burst),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.limiter.middleware)
		r.Use(s.opts.Auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{
				http.MethodGet:  {auth.PermWorkflowsRead},
				http.MethodPost: {auth.PermWorkflowsRun},
			},
		}))
		r.Get("/workflows", s.handleListWorkflows)
		r.Post("/workflows/{name}/runs", s.handleCreateRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.opts.Logger.Info("api listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
