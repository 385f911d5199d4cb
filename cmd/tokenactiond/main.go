package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"TokenAction-Chain/internal/api"
	"TokenAction-Chain/internal/app"
	"TokenAction-Chain/internal/auth"
	"TokenAction-Chain/internal/config"
	"TokenAction-Chain/internal/invocation"
	"TokenAction-Chain/internal/observability/alerting"
	"TokenAction-Chain/internal/observability/metrics"
	storagemysql "TokenAction-Chain/internal/storage/mysql"
	"TokenAction-Chain/pkg/logger"
)

const statsInterval = 15 * time.Second

// main 是 TokenAction 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("tokenactiond 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Service:     "tokenactiond",
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("tokenactiond")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	rt, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Close(stopCtx); err != nil {
			lg.Warn("停止插件失败", slog.Any("error", err))
		}
	}()

	store, err := newStore(ctx, cfg.Storage.Invocations)
	if err != nil {
		return err
	}
	queue, err := newQueue(ctx, cfg.Queue)
	if err != nil {
		_ = store.Close()
		return err
	}

	m := metrics.Default()
	service := invocation.NewService(store, queue, rt.Plugins)
	defer func() {
		if err := service.Close(); err != nil {
			lg.Warn("关闭调用服务失败", slog.Any("error", err))
		}
	}()

	processorOpts := []invocation.ProcessorOption{
		invocation.WithWorkerCount(cfg.Queue.Workers),
		invocation.WithObserver(m),
	}
	if alerter := newAlerter(cfg.Alerting, m); alerter != nil {
		processorOpts = append(processorOpts, invocation.WithAlertDispatcher(alerter))
	}
	processor := invocation.NewProcessor(rt.Plugins, store, queue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("调用处理器异常退出", slog.Any("error", err))
		}
	}()
	go reportStats(processorCtx, service, m)

	serverOpts := []api.Option{
		api.WithCatalog(rt.Plugins),
		api.WithChains(rt.Chains),
		api.WithMetrics(m),
	}
	if cfg.Auth.Enabled {
		authService, err := newAuthService(cfg.Auth)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, api.WithAuth(authService))
	}

	server := api.NewServer(cfg.Server.Address, service, serverOpts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newStore(ctx context.Context, cfg config.InvocationStoreConfig) (invocation.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return invocation.NewMemoryStore(), nil
	case "mysql":
		store, err := invocation.NewMySQLStore(ctx, storagemysql.Config{
			DSN:             cfg.ResolveDSN(),
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}

func newQueue(ctx context.Context, cfg config.QueueConfig) (invocation.Queue, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return invocation.NewMemoryQueue(cfg.Capacity), nil
	case "redis":
		queue, err := invocation.NewRedisQueue(ctx, invocation.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "rabbitmq":
		queue, err := invocation.NewRabbitMQQueue(invocation.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  cfg.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func newAlerter(cfg config.AlertingConfig, m *metrics.Metrics) alerting.Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	notifiers := []alerting.Notifier{&alerting.AuditNotifier{Logger: logger.Audit()}}
	if url := cfg.ResolveWebhookURL(); url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: url})
	}
	return alerting.NewFanout(notifiers...).OnNotify(func(event alerting.Event) {
		m.ObserveAlert(string(event.Code))
	})
}

func newAuthService(cfg config.AuthConfig) (*auth.Service, error) {
	seeds := make([]auth.Seed, 0, len(cfg.Users))
	for _, user := range cfg.Users {
		password := user.ResolvePassword()
		if password == "" && !user.Disabled {
			return nil, fmt.Errorf("账号 %s 未设置密码环境变量 %s", user.Username, user.PasswordEnv)
		}
		seeds = append(seeds, auth.Seed{
			Username:    user.Username,
			Password:    password,
			Permissions: user.Permissions,
			Disabled:    user.Disabled,
		})
	}
	return auth.NewService(auth.Config{
		Mode: auth.ModeJWT,
		JWT: auth.JWTOptions{
			Secret:     cfg.ResolveSecret(),
			Issuer:     cfg.Issuer,
			Audience:   cfg.Audience,
			AccessTTL:  cfg.TokenTTL(),
			RefreshTTL: cfg.RefreshTTL(),
		},
		Seeds: seeds,
	}, nil)
}

// reportStats 定期把调用状态计数同步到指标。
func reportStats(ctx context.Context, service *invocation.Service, m *metrics.Metrics) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		stats, err := service.Stats(ctx)
		if err == nil {
			m.SetInvocations(string(invocation.StatusPending), stats.Pending)
			m.SetInvocations(string(invocation.StatusRunning), stats.Running)
			m.SetInvocations(string(invocation.StatusSucceeded), stats.Succeeded)
			m.SetInvocations(string(invocation.StatusFailed), stats.Failed)
			m.SetInvocations("ambiguous", stats.Ambiguous)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
