package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"TravelAgent-Chain/internal/agent"
	"TravelAgent-Chain/internal/api"
	"TravelAgent-Chain/internal/config"
	"TravelAgent-Chain/internal/knowledge"
	"TravelAgent-Chain/internal/ledger"
	"TravelAgent-Chain/internal/llm"
	"TravelAgent-Chain/internal/llm/offline"
	"TravelAgent-Chain/internal/llm/openai"
	"TravelAgent-Chain/internal/observability/alerting"
	"TravelAgent-Chain/internal/observability/metrics"
	"TravelAgent-Chain/internal/observability/tracing"
	"TravelAgent-Chain/internal/payment"
	"TravelAgent-Chain/internal/referral"
	"TravelAgent-Chain/internal/storage/ipfs"
	"TravelAgent-Chain/internal/storage/mysql"
	redisstore "TravelAgent-Chain/internal/storage/redis"
	"TravelAgent-Chain/internal/task"
	"TravelAgent-Chain/internal/travel"
	"TravelAgent-Chain/internal/web3/provider"
	"TravelAgent-Chain/pkg/logger"
)

// app 持有守护进程的全部组件，按构造的逆序释放。
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	server    *api.Server
	processor *task.Processor
	closers   []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		AddSource:   cfg.Logging.AddSource,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.AuditPath != "",
			Path:       cfg.Logging.AuditPath,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		},
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	a = &app{cfg: cfg, log: logger.Named("travelagentd")}
	a.onClose(func() error { return logger.Sync() })
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("初始化链路追踪失败: %w", err)
	}
	a.onClose(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(shutdownCtx)
	})

	m := metrics.New()
	creds := cfg.Credentials

	repos, err := a.openRepositories(ctx)
	if err != nil {
		return nil, err
	}

	spend, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}

	content, err := a.openContentStore()
	if err != nil {
		return nil, err
	}

	alerts := a.buildAlerts()

	rail, balances, err := a.openChain(ctx)
	if err != nil {
		return nil, err
	}
	payments := payment.NewService(rail, payment.Config{
		Shares:          payment.Shares{Agent: cfg.Payment.AgentShare, Savings: cfg.Payment.SavingsShare},
		SavingsWallet:   cfg.Payment.SavingsWallet,
		DefaultToken:    cfg.Payment.DefaultToken,
		TransferTimeout: cfg.Payment.TransferTimeout(),
	}, alerts)
	wallet := payment.NewWallet(balances, cfg.Payment.BalanceTimeout())

	referrals := referral.NewService(content, repos.referrals, creds.ReferralIPFSHashes)

	var amadeus *travel.AmadeusClient
	if creds.AmadeusConfigured() {
		amadeus, err = travel.NewAmadeusClient(travel.AmadeusConfig{
			ClientID:     creds.AmadeusClientID,
			ClientSecret: creds.AmadeusClientSecret,
			BaseURL:      creds.AmadeusBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 Amadeus 客户端失败: %w", err)
		}
	}
	desk := travel.NewDesk(repos.bookings)
	plans := travel.NewPlanbook(repos.plans, content)

	registry, err := travel.NewRegistry(travel.Services{
		Weather:   travel.NewWeatherClient(travel.WeatherConfig{APIKey: creds.OpenWeatherAPIKey}),
		Search:    travel.NewSearch(amadeus),
		Desk:      desk,
		Payments:  payments,
		Wallet:    wallet,
		Content:   content,
		Referrals: referrals,
	})
	if err != nil {
		return nil, fmt.Errorf("注册工具失败: %w", err)
	}

	model, err := a.buildLLM()
	if err != nil {
		return nil, err
	}

	kb, err := knowledge.Load(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("加载知识库失败: %w", err)
	}

	pipeline, err := agent.New(agent.Deps{
		Registry:  registry,
		Ledger:    spend,
		LLM:       model,
		Content:   content,
		Referrals: referrals,
	}, agent.WithKnowledgeProvider(kb), agent.WithObserver(m))
	if err != nil {
		return nil, fmt.Errorf("初始化代理失败: %w", err)
	}

	queue, err := a.openQueue(ctx)
	if err != nil {
		return nil, err
	}
	runs := task.NewService(repos.runs, queue, cfg.TaskQueue.MaxAttempts)
	a.onClose(runs.Close)

	a.processor = task.NewProcessor(pipeline, repos.runs, queue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithRunTimeout(cfg.LLM.Timeout()),
		task.WithAlertDispatcher(alerts),
		task.WithEventObserver(m),
	)

	a.server, err = api.NewServer(cfg.Server, api.Deps{
		Pipeline:  pipeline,
		Registry:  registry,
		Ledger:    spend,
		Wallet:    wallet,
		Content:   content,
		Referrals: referrals,
		Plans:     plans,
		Bookings:  desk,
		Runs:      runs,
		Metrics:   m,
	})
	if err != nil {
		return nil, err
	}

	modes := registry.Modes()
	a.log.Info("守护进程初始化完成",
		slog.String("llm", cfg.LLMProvider()),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.TaskQueue.Driver),
		slog.String("ledger", cfg.Ledger.Driver),
		slog.String("content_storage", content.Mode()),
		slog.String("wallet", wallet.Mode()),
		slog.Any("tools", modes),
	)
	return a, nil
}

// Run 启动运行处理器与 HTTP 服务，直到上下文取消。
func (a *app) Run(ctx context.Context) error {
	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.processor.Start(procCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("运行处理器退出", slog.Any("error", err))
		}
	}()

	err := a.server.Start(ctx)
	cancel()
	<-done
	return err
}

// Close 逆序释放资源，并记录失败但不中断。
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.log != nil {
			a.log.Warn("释放资源失败", slog.Any("error", err))
		}
	}
	a.closers = nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

type repositories struct {
	bookings  mysql.BookingRepository
	plans     mysql.PlanRepository
	referrals mysql.ReferralIndex
	runs      task.Store
}

func (a *app) openRepositories(ctx context.Context) (*repositories, error) {
	cfg := a.cfg.Storage
	switch cfg.Driver {
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
		}
		a.onClose(db.Close)
		return a.sqlRepositories(db)
	default:
		dir := a.cfg.Runtime.DataDir
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
		bookings, err := mysql.NewMemoryBookingRepository(dir)
		if err != nil {
			return nil, err
		}
		plans, err := mysql.NewMemoryPlanRepository(dir)
		if err != nil {
			return nil, err
		}
		index, err := mysql.NewMemoryReferralIndex(dir)
		if err != nil {
			return nil, err
		}
		return &repositories{bookings: bookings, plans: plans, referrals: index, runs: task.NewMemoryStore()}, nil
	}
}

func (a *app) sqlRepositories(db *sql.DB) (*repositories, error) {
	runs, err := task.NewMySQLStore(db)
	if err != nil {
		return nil, err
	}
	return &repositories{
		bookings:  mysql.NewSQLBookingRepository(db),
		plans:     mysql.NewSQLPlanRepository(db),
		referrals: mysql.NewSQLReferralIndex(db),
		runs:      runs,
	}, nil
}

func (a *app) openLedger(ctx context.Context) (ledger.Ledger, error) {
	cfg := a.cfg.Ledger
	costs := ledger.Costs(cfg.Costs)
	if cfg.Driver != "redis" {
		return ledger.NewMemoryLedger(cfg.Cap, costs), nil
	}
	l, err := redisstore.NewLedger(ctx, redisstore.LedgerConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Key:      cfg.Redis.Key,
		Cap:      cfg.Cap,
		Costs:    costs,
	})
	if err != nil {
		return nil, fmt.Errorf("连接 Redis 账本失败: %w", err)
	}
	a.onClose(l.Close)
	return l, nil
}

func (a *app) openContentStore() (ipfs.Store, error) {
	jwt := a.cfg.Credentials.PinataJWT
	if strings.TrimSpace(jwt) == "" {
		a.log.Warn("未配置 PINATA_JWT，内容存储使用演示模式")
		return ipfs.NewMemoryStore(), nil
	}
	return ipfs.NewPinataStore(ipfs.PinataConfig{
		JWT:      jwt,
		Endpoint: a.cfg.IPFS.Endpoint,
		Gateway:  a.cfg.IPFS.Gateway,
		Timeout:  a.cfg.IPFS.Timeout(),
	})
}

func (a *app) buildAlerts() alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alert")}}
	if url := strings.TrimSpace(a.cfg.Alerting.WebhookURL); url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: url, Client: &http.Client{Timeout: 10 * time.Second}})
	}
	return alerting.NewFanout(notifiers...)
}

// openChain 在没有可用链或签名密钥时退回演示通道。
func (a *app) openChain(ctx context.Context) (payment.Rail, payment.BalanceSource, error) {
	creds := a.cfg.Credentials
	demo := func() (payment.Rail, payment.BalanceSource, error) {
		return &payment.DemoRail{}, payment.DemoBalances{Address: creds.AgentWalletAddress}, nil
	}

	chains, err := provider.NewRegistry(ctx, a.cfg.Web3, creds.WalletPrivateKey)
	if errors.Is(err, provider.ErrNoChains) {
		a.log.Warn("未配置链 RPC，支付使用演示模式")
		return demo()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("初始化链客户端失败: %w", err)
	}
	a.onClose(func() error { chains.Close(); return nil })

	client, err := chains.DefaultClient()
	if err != nil {
		return nil, nil, err
	}
	rail, err := payment.NewChainRail(client)
	if err != nil {
		a.log.Warn("链客户端缺少签名密钥，支付使用演示模式", slog.Any("error", err))
		return demo()
	}
	address := creds.AgentWalletAddress
	if account, ok := client.Account(); ok && address == "" {
		address = account.Hex()
	}
	balances, err := payment.NewChainBalances(client, address, []string{a.cfg.Payment.DefaultToken})
	if err != nil {
		return nil, nil, err
	}
	return rail, balances, nil
}

func (a *app) buildLLM() (llm.Client, error) {
	switch a.cfg.LLMProvider() {
	case "openai":
		client, err := openai.NewClient(openai.Config{
			APIKey:  a.cfg.Credentials.OpenAIAPIKey,
			BaseURL: a.cfg.LLM.BaseURL,
			Model:   a.cfg.LLM.Model,
			Timeout: a.cfg.LLM.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("初始化 OpenAI 客户端失败: %w", err)
		}
		return client, nil
	default:
		a.log.Warn("未配置 OPENAI_API_KEY，使用离线模型")
		return offline.New(), nil
	}
}

func (a *app) openQueue(ctx context.Context) (task.Queue, error) {
	cfg := a.cfg.TaskQueue
	switch cfg.Driver {
	case "redis":
		q, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Key,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("连接 Redis 队列失败: %w", err)
		}
		return q, nil
	case "rabbitmq":
		q, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
		}
		return q, nil
	default:
		return task.NewMemoryQueue(cfg.Buffer), nil
	}
}
