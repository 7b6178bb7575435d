package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/quicksilver/internal/cache"
	"github.com/any-hub/quicksilver/internal/config"
	"github.com/any-hub/quicksilver/internal/kv"
	"github.com/any-hub/quicksilver/internal/logging"
	"github.com/any-hub/quicksilver/internal/origin"
	"github.com/any-hub/quicksilver/internal/proxy"
	"github.com/any-hub/quicksilver/internal/server"
	"github.com/any-hub/quicksilver/internal/server/routes"
	"github.com/any-hub/quicksilver/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["result"] = "ok"
		logger.WithFields(fields).WithFields(storageFields(cfg)).Info("配置校验通过")
		return 0
	}

	// 启动顺序为“配置 → 存储 → 回源 → 网关 → Fiber server”，
	// 所有请求共享同一个网关实例与账本。
	svc, err := buildService(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}
	defer svc.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["bypass"] = cfg.Global.Bypass
	fields["version"] = version.Full()
	logger.WithFields(fields).WithFields(storageFields(cfg)).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc.startIdleMaintenance(ctx, cfg.Global.IdleInterval.DurationValue())

	if err := startHTTPServer(ctx, cfg, svc, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("quicksilver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 QUICKSILVER_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("QUICKSILVER_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func storageFields(cfg *config.Config) logrus.Fields {
	g := cfg.Global
	return logging.StorageFields(g.StorageDriver, g.StoragePath, g.MaxItems, g.PruneChunk)
}

// service 持有网关与其底层存储，Close 负责等待后台任务并释放存储。
type service struct {
	gateway *cache.Gateway
	bypass  *cache.Switch
	closers []io.Closer

	stopIdle context.CancelFunc
	idleDone chan struct{}
}

func buildService(cfg *config.Config, logger *logrus.Logger) (*service, error) {
	g := cfg.Global
	svc := &service{bypass: cache.NewSwitch(g.Bypass)}

	assets, err := kv.Open(kv.Options{Driver: g.StorageDriver, Path: g.StoragePath, Namespace: cache.StoreNamespace})
	if err != nil {
		return nil, fmt.Errorf("open asset store: %w", err)
	}
	svc.closers = append(svc.closers, assets)

	ledgerStore, err := kv.Open(kv.Options{Driver: g.StorageDriver, Path: g.StoragePath, Namespace: cache.LedgerNamespace})
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	svc.closers = append(svc.closers, ledgerStore)

	classifier, err := cache.NewClassifier(cfg.Classifier.CacheClassifier())
	if err != nil {
		svc.Close()
		return nil, err
	}

	fetcher := origin.NewFetcher(origin.Options{
		Timeout:        g.UpstreamTimeout.DurationValue(),
		MaxRetries:     g.MaxRetries,
		InitialBackoff: g.InitialBackoff.DurationValue(),
		Logger:         logger,
	})

	svc.gateway, err = cache.New(cache.Options{
		Fetcher:    fetcher,
		Store:      cache.NewStore(assets, logger),
		Ledger:     cache.NewLedger(context.Background(), ledgerStore, logger),
		Classifier: classifier,
		Validator:  cache.NewValidator(cfg.Validator.CacheValidator()),
		Bypass:     svc.bypass,
		Trigger:    cache.ProbabilityTrigger(g.MaintenanceProbability),
		Logger:     logger,
		MaxItems:   g.MaxItems,
		PruneChunk: g.PruneChunk,
	})
	if err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// startIdleMaintenance 启动空闲淘汰循环，Close 会先停止它再释放存储。
func (s *service) startIdleMaintenance(parent context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(parent)
	s.stopIdle = cancel
	s.idleDone = make(chan struct{})
	go func() {
		defer close(s.idleDone)
		s.gateway.RunIdleMaintenance(ctx, interval)
	}()
}

func (s *service) Close() error {
	if s.stopIdle != nil {
		s.stopIdle()
		<-s.idleDone
	}
	if s.gateway != nil {
		s.gateway.Wait()
	}
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// newApp 组装 Fiber 应用：转发处理器 + /-/cache 诊断路由。
func newApp(cfg *config.Config, svc *service, logger *logrus.Logger) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewHandler(svc.gateway, logger, cfg.Global.UpstreamScheme),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterCacheRoutes(app, svc.gateway, svc.bypass)
	return app, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, svc *service, logger *logrus.Logger) error {
	app, err := newApp(cfg, svc, logger)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号")
		_ = app.Shutdown()
	}()

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
