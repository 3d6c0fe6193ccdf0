package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"grid-trader-go/config"
	"grid-trader-go/gateway"
	"grid-trader-go/infrastructure/logger"
	"grid-trader-go/internal/engine"
	"grid-trader-go/internal/store"
	"grid-trader-go/market"
	"grid-trader-go/metrics"
	"grid-trader-go/order"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbol := flag.String("symbol", "", "交易对，覆盖配置文件（例如 BTCUSDT）")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置文件")
	dryRun := flag.Bool("dryRun", false, "仅日志输出，不真正下单")
	paperBalance := flag.Float64("paperBalance", 1000, "dryRun 模式下的模拟计价资产余额")
	flag.Parse()

	// .env 仅用于本地开发注入密钥，缺失不算错误
	_ = godotenv.Load()

	if *dryRun {
		if os.Getenv("GRID_API_KEY") == "" {
			os.Setenv("GRID_API_KEY", "dry-run")
		}
		if os.Getenv("GRID_API_SECRET") == "" {
			os.Setenv("GRID_API_SECRET", "dry-run")
		}
	}

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *symbol != "" {
		cfg.Symbol = strings.ToUpper(*symbol)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Close()
	zlog := lg.WithSymbol(cfg.Symbol).Logger

	metrics.Serve(cfg.MetricsAddr)

	restClient := &gateway.BinanceRESTClient{
		BaseURL:       cfg.Gateway.BaseURL,
		APIKey:        cfg.Gateway.APIKey,
		Secret:        cfg.Gateway.APISecret,
		HTTPClient:    gateway.NewDefaultHTTPClient(),
		Limiter:       gateway.NewTokenBucketLimiter(cfg.Gateway.RestRate, cfg.Gateway.RestBurst),
		PriceDecimals: cfg.Gateway.PriceDecimals,
	}

	var exch order.Exchange = restClient
	var data engine.MarketData = restClient
	if *dryRun {
		zlog.Info("dry-run mode: orders are logged, not sent",
			zap.Float64("paperBalance", *paperBalance))
		exch = &dryRunExchange{log: zlog}
		data = &paperData{MarketData: restClient, quoteAsset: cfg.QuoteAsset, quoteFree: *paperBalance}
	}

	snap, err := store.NewFileStore(cfg.Ledger.SnapshotPath)
	if err != nil {
		zlog.Fatal("init snapshot store failed", zap.Error(err))
	}
	ledger := order.NewLedger(cfg.Symbol, exch, snap, zlog,
		time.Duration(cfg.Ledger.CallTimeoutSec)*time.Second)

	ctrl := engine.New(engine.Config{
		Symbol:     cfg.Symbol,
		BaseAsset:  cfg.BaseAsset,
		QuoteAsset: cfg.QuoteAsset,
		Bollinger: market.Bollinger{
			Window:     cfg.Grid.BBWindow,
			StdDevMult: cfg.Grid.BBStdDev,
		},
		CandleLimit:    cfg.Grid.CandleLimit,
		CandleInterval: cfg.Grid.CandleInterval,
		RefreshTicks:   cfg.Grid.RefreshTicks,
	}, data, ledger, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootCtx, bootCancel := context.WithTimeout(ctx, 2*time.Minute)
	err = ctrl.Bootstrap(bootCtx)
	bootCancel()
	if err != nil {
		zlog.Fatal("bootstrap failed", zap.Error(err))
	}

	stream := gateway.NewKlineStream(cfg.Symbol, cfg.Grid.TickInterval, zlog)
	if cfg.Gateway.WSEndpoint != "" {
		stream.Endpoint = cfg.Gateway.WSEndpoint
	}
	go func() {
		if err := stream.Run(ctx, ctrl.OnTick); err != nil && ctx.Err() == nil {
			zlog.Error("kline stream exited", zap.Error(err))
			cancel()
		}
	}()

	go func() {
		w := config.Watcher{Path: *cfgPath}
		err := w.Start(ctx, func(next config.AppConfig) {
			ctrl.UpdateParams(market.Bollinger{
				Window:     next.Grid.BBWindow,
				StdDevMult: next.Grid.BBStdDev,
			}, next.Grid.CandleLimit, next.Grid.RefreshTicks)
		})
		if err != nil && ctx.Err() == nil {
			zlog.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		zlog.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := ctrl.Run(ctx); err != nil && err != context.Canceled {
		zlog.Error("controller exited", zap.Error(err))
	}
}

// dryRunExchange 只记日志不触网。订单编号单调递增，状态永远 NEW，
// 因此对账永远不会看到成交。
type dryRunExchange struct {
	log    *zap.Logger
	nextID atomic.Int64
}

func (e *dryRunExchange) PlaceLimit(_ context.Context, symbol string, side order.Side, price float64, qty decimal.Decimal, clientID string) (order.LiveOrder, error) {
	id := fmt.Sprintf("dry-%d", e.nextID.Add(1))
	e.log.Info("order_place_dry_run",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.String("qty", qty.String()))
	return order.LiveOrder{
		OrderID:  id,
		ClientID: clientID,
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: qty.InexactFloat64(),
		Status:   order.StatusNew,
	}, nil
}

func (e *dryRunExchange) OrderStatus(context.Context, string, string) (order.Status, error) {
	return order.StatusNew, nil
}

func (e *dryRunExchange) CancelOrder(_ context.Context, _ string, orderID string) error {
	e.log.Info("order_cancel_dry_run", zap.String("orderId", orderID))
	return nil
}

func (e *dryRunExchange) OpenOrders(context.Context, string) ([]order.LiveOrder, error) {
	return nil, nil
}

// paperData 行情走真实公共接口，账户余额用固定纸面资金代替，
// 让 dryRun 不需要真实密钥也能跑完整周期。
type paperData struct {
	engine.MarketData
	quoteAsset string
	quoteFree  float64
}

func (d *paperData) GetBalance(_ context.Context, asset string) (gateway.Balance, error) {
	if strings.EqualFold(asset, d.quoteAsset) {
		return gateway.Balance{Free: d.quoteFree}, nil
	}
	return gateway.Balance{}, nil
}
