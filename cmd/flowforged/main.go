package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"flowforge/internal/api"
	"flowforge/internal/auth"
	"flowforge/internal/capability"
	"flowforge/internal/config"
	"flowforge/internal/invocation"
	"flowforge/internal/observability/alerting"
	"flowforge/internal/observability/metrics"
	"flowforge/internal/scheduler"
	"flowforge/internal/secrets"
	"flowforge/internal/web3/ethereum"
	"flowforge/internal/web3/provider"
	"flowforge/internal/workflow"
	"flowforge/pkg/logger"
)

// main 是 flowforge 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("flowforged 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("FLOWFORGE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "flowforge.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("flowforged")

	// 提交密钥只从环境变量读取，缺失时以只读模式运行。
	var submitter *ecdsa.PrivateKey
	var signer capability.ReportSigner
	if raw := strings.TrimSpace(os.Getenv(cfg.Web3.SubmitterKeyEnv)); raw != "" {
		key, err := ethereum.KeyFromHex(raw)
		if err != nil {
			return fmt.Errorf("解析提交密钥失败: %w", err)
		}
		ks, err := ethereum.NewKeySigner(key)
		if err != nil {
			return err
		}
		submitter, signer = key, ks
		lg.Info("已加载报告提交账户", "address", ks.Address().Hex())
	} else {
		lg.Warn("未配置提交密钥，链上写入将不可用", "env", cfg.Web3.SubmitterKeyEnv)
	}

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3, submitter)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	secretStore := secrets.NewEnvStore(cfg.Secrets.EnvPrefix)
	engine, err := workflow.NewEngine(&workflow.Runtime{
		Contracts: chainRegistry,
		Signer:    signer,
		Writer:    chainRegistry,
		Secrets:   secretStore,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		Clock:     capability.SystemClock{},
		Logger:    logger.Named("workflow"),
	}, cfg.Workflows)
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	queue, err := openQueue(ctx, cfg.Queue)
	if err != nil {
		_ = store.Close()
		return err
	}

	service := invocation.NewService(store, queue, engine)
	defer func() {
		if err := service.Close(); err != nil {
			lg.Error("关闭调用服务失败", "error", err)
		}
	}()

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL,
			time.Duration(cfg.Alerting.TimeoutSeconds)*time.Second))
	}
	dispatcher := alerting.NewFanout(notifiers...)

	processor := invocation.NewProcessor(engine, store, queue,
		invocation.WithWorkerCount(cfg.Queue.Workers),
		invocation.WithProcessorLogger(logger.Named("processor")),
		invocation.WithAlertDispatcher(dispatcher),
	)

	sched := scheduler.New(service, scheduler.WithLogger(logger.Named("scheduler")))
	scheduled, err := sched.AddDefinitions(engine.Definitions())
	if err != nil {
		return err
	}

	authn, err := auth.NewService(ctx, cfg.Auth, secretStore)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, service, engine, api.Options{
		RateLimitPerSecond: cfg.Server.RateLimitPerSecond,
		Burst:              cfg.Server.Burst,
		WaitTimeout:        time.Duration(cfg.Server.WaitTimeoutSeconds) * time.Second,
		Logger:             logger.Named("api"),
		Auth:               authn,
	})

	lg.Info("flowforged 启动",
		"workflows", len(engine.Definitions()),
		"scheduled", scheduled,
		"chains", chainRegistry.Chains(),
		"storage", cfg.Storage.Driver,
		"queue", cfg.Queue.Driver,
		"alert_channels", dispatcher.Channels(),
		"auth", authn.Mode(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(processor.Start(gctx)) })
	g.Go(func() error { return ignoreCanceled(sched.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(server.Start(gctx)) })
	if cfg.Server.MetricsAddress != "" {
		g.Go(func() error { return ignoreCanceled(metrics.StartServer(gctx, cfg.Server.MetricsAddress)) })
	}
	err = g.Wait()
	lg.Info("flowforged 已退出")
	return err
}

func openStore(cfg config.StorageConfig) (invocation.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return invocation.NewMemoryStore(), nil
	case "mysql":
		return invocation.NewMySQLStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}

func openQueue(ctx context.Context, cfg config.QueueConfig) (invocation.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return invocation.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return invocation.NewRedisQueue(ctx, invocation.RedisQueueConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	case "rabbitmq":
		return invocation.NewRabbitMQQueue(invocation.RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: true,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
