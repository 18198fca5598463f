package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"position-guard-go/config"
	"position-guard-go/engine"
	"position-guard-go/gateway"
	"position-guard-go/infrastructure/alert"
	"position-guard-go/infrastructure/logger"
	"position-guard-go/market"
	"position-guard-go/metrics"
	"position-guard-go/protect"
	"position-guard-go/reversal"
	"position-guard-go/riskcfg"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置文件；留空用配置")
	reloadCooldown := flag.Duration("reloadCooldown", 2*time.Second, "配置热更新去抖间隔")
	flag.Parse()

	// .env 缺失不算错误，凭证也可以直接放环境变量
	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()
	zlog := lg.WithFields(map[string]interface{}{"service": "guardian", "env": cfg.Env}).Logger

	if cfg.MetricsAddr != "" {
		metrics.StartMetricsServer(cfg.MetricsAddr)
		zlog.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
	}

	restClient := &gateway.OKXRESTClient{
		BaseURL:    cfg.Gateway.BaseURL,
		APIKey:     cfg.Gateway.APIKey,
		Secret:     cfg.Gateway.APISecret,
		Passphrase: cfg.Gateway.Passphrase,
		HTTPClient: gateway.NewDefaultHTTPClient(),
		Limiter:    gateway.NewTokenBucketLimiter(cfg.Gateway.RestRate, cfg.Gateway.RestBurst),
		Simulated:  cfg.Gateway.Simulated,
	}

	publicURL := cfg.Gateway.WSPublicURL
	if publicURL == "" {
		publicURL = gateway.OKXPublicWSEndpoint
	}
	privateURL := cfg.Gateway.WSPrivateURL
	if privateURL == "" {
		privateURL = gateway.OKXPrivateWSEndpoint
	}
	publicWS := gateway.NewOKXWSClient(publicURL, zlog.Named("ws-public"))
	privateWS := gateway.NewOKXWSClient(privateURL, zlog.Named("ws-private"))
	privateWS.APIKey = cfg.Gateway.APIKey
	privateWS.Secret = cfg.Gateway.APISecret
	privateWS.Passphrase = cfg.Gateway.Passphrase
	privateWS.SubscribePrivate()

	cache := market.NewCache()
	store := riskcfg.NewStore()
	marginMode := gateway.MarginMode(cfg.Protection.MarginMode)

	opts := protect.Options{
		DefaultStopLoss:   cfg.Protection.DefaultStopLoss,
		DefaultTakeProfit: cfg.Protection.DefaultTakeProfit,
		GlobalOffset:      cfg.Protection.GlobalOffset,
		MaxTakeProfit:     cfg.Protection.MaxTakeProfit,
		TriggerTakeProfit: cfg.Protection.TriggerTP(),
		CancelOnRefresh:   cfg.Protection.CancelTP(),
		MarginMode:        marginMode,
		CancelBatchPause:  100 * time.Millisecond,
	}
	alertChannels := []alert.Channel{alert.NewZapChannel("log", zlog.Named("alert"))}
	if cfg.Alerting.WebhookURL != "" {
		alertChannels = append(alertChannels, alert.NewWebhookChannel("webhook", cfg.Alerting.WebhookURL))
	}
	alerts := alert.NewManager(alertChannels,
		time.Duration(cfg.Alerting.ThrottleSeconds)*time.Second, zlog.Named("alert"))

	manager := protect.NewManager(opts, restClient, store, cache, publicWS, zlog.Named("protect"))
	manager.SetAlerter(alerts)
	watcher := reversal.NewWatcher(restClient, cache, marginMode, zlog.Named("reversal"))
	watcher.SetAlerter(alerts)

	eng := engine.New(engine.Components{
		Gateway:  restClient,
		Cache:    cache,
		Store:    store,
		Protect:  manager,
		Reversal: watcher,
		Logger:   zlog.Named("engine"),
	})

	applySymbols(cfg, store, eng, publicWS, marginMode, zlog)

	cfgWatcher, err := config.NewWatcher(*cfgPath, *reloadCooldown, func(next config.AppConfig) {
		zlog.Info("config reloaded", zap.String("path", *cfgPath))
		applySymbols(next, store, eng, publicWS, marginMode, zlog)
	}, zlog.Named("config"))
	if err != nil {
		zlog.Fatal("创建配置热更新器失败", zap.Error(err))
	}
	if err := cfgWatcher.Start(); err != nil {
		zlog.Fatal("启动配置热更新器失败", zap.Error(err))
	}
	defer cfgWatcher.Stop()

	go publicWS.RunWithReconnect(eng)
	go privateWS.RunWithReconnect(eng)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		zlog.Debug("sd_notify skipped", zap.Error(err))
	}
	zlog.Info("position guard started",
		zap.String("env", cfg.Env),
		zap.Int("symbols", len(cfg.Symbols)),
		zap.Bool("simulated", cfg.Gateway.Simulated))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zlog.Info("shutting down", zap.String("signal", sig.String()))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	publicWS.Stop()
	privateWS.Stop()
	eng.Close()
}

// applySymbols 把配置里的 symbol 条目灌进风控存储并订阅行情、设置杠杆。
// 启动和热更新共用；store 的 setter 会触发已持仓 symbol 的保护单重下。
func applySymbols(cfg config.AppConfig, store *riskcfg.Store, eng *engine.Engine,
	ws *gateway.OKXWSClient, mode gateway.MarginMode, zlog *zap.Logger) {
	for sym, sc := range cfg.Symbols {
		symbol := strings.ToUpper(sym)
		// 未填的字段回落到引擎默认值，避免半初始化的风控条目
		sl := sc.StopLoss
		if sl == 0 {
			sl = cfg.Protection.DefaultStopLoss
		}
		tp := sc.TakeProfit
		if tp == 0 {
			tp = cfg.Protection.DefaultTakeProfit
		}
		if cur, ok := store.Get(symbol); !ok || cur.StopLoss != sl {
			store.SetStopLoss(symbol, sl)
		}
		if cur, ok := store.Get(symbol); !ok || cur.TakeProfit != tp {
			store.SetTakeProfit(symbol, tp)
		}
		if err := ws.SubscribeTicker(symbol); err != nil {
			zlog.Warn("subscribe ticker failed", zap.String("symbol", symbol), zap.Error(err))
		}
		if sc.Leverage > 0 {
			if err := eng.SetLeverage(symbol, sc.Leverage, mode); err != nil {
				zlog.Warn("set leverage failed", zap.String("symbol", symbol), zap.Error(err))
			}
		}
	}
}
