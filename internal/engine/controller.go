package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"grid-trader-go/gateway"
	"grid-trader-go/market"
	"grid-trader-go/metrics"
	"grid-trader-go/order"
	"grid-trader-go/strategy"
)

// MarketData 行情与交易对元数据协作方，由 gateway 的REST客户端实现。
type MarketData interface {
	GetBalance(ctx context.Context, asset string) (gateway.Balance, error)
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error)
	GetExchangeFilters(ctx context.Context, symbol string) (gateway.SymbolFilters, error)
}

// State 控制器状态机。
type State int32

const (
	StateBootstrapping State = iota
	StateSteady
	StateRecomputing
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateSteady:
		return "steady"
	case StateRecomputing:
		return "recomputing"
	case StateRefreshing:
		return "refreshing"
	}
	return "unknown"
}

// Config 控制器参数。Bollinger/CandleLimit/RefreshTicks 支持热更新。
type Config struct {
	Symbol         string
	BaseAsset      string
	QuoteAsset     string
	Bollinger      market.Bollinger
	CandleLimit    int
	CandleInterval string
	RefreshTicks   int
	// tick队列容量；周期忙碌时新tick挤掉最旧的一条。
	QueueSize int
}

// Controller 网格编排状态机。账本与当前规划只归它所有，
// 所有周期经由单worker队列串行执行，保证同一时刻至多一次对账。
type Controller struct {
	data   MarketData
	ledger *order.Ledger
	log    *zap.Logger

	paramMu sync.RWMutex
	cfg     Config

	// 以下字段仅被worker协程触碰。
	plan        strategy.Plan
	sizing      order.Sizing
	minNotional float64
	tickCount   int

	state atomic.Int32
	ticks chan float64
}

// New 创建控制器。Bootstrap 成功前不得投递tick。
func New(cfg Config, data MarketData, ledger *order.Ledger, log *zap.Logger) *Controller {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		data:   data,
		ledger: ledger,
		log:    log,
		cfg:    cfg,
		ticks:  make(chan float64, cfg.QueueSize),
	}
}

// State 当前状态（监控用）。
func (c *Controller) State() State { return State(c.state.Load()) }

// Plan 当前生效的网格规划（测试用）。
func (c *Controller) Plan() strategy.Plan { return c.plan }

// TickCount 已处理的收盘tick数。
func (c *Controller) TickCount() int { return c.tickCount }

// UpdateParams 热更新网格统计参数，下个周期生效。
func (c *Controller) UpdateParams(boll market.Bollinger, candleLimit, refreshTicks int) {
	c.paramMu.Lock()
	defer c.paramMu.Unlock()
	if candleLimit > boll.Window && refreshTicks > 0 {
		c.cfg.Bollinger = boll
		c.cfg.CandleLimit = candleLimit
		c.cfg.RefreshTicks = refreshTicks
		c.log.Info("grid params updated",
			zap.Int("bbWindow", boll.Window),
			zap.Float64("bbStdDev", boll.StdDevMult),
			zap.Int("refreshTicks", refreshTicks))
	}
}

func (c *Controller) params() Config {
	c.paramMu.RLock()
	defer c.paramMu.RUnlock()
	return c.cfg
}

// Bootstrap 启动序：缓存交易所精度约束，算出首个规划；
// 无历史快照时铺设初始网格。
func (c *Controller) Bootstrap(ctx context.Context) error {
	c.state.Store(int32(StateBootstrapping))
	cfg := c.params()

	filters, err := c.data.GetExchangeFilters(ctx, cfg.Symbol)
	if err != nil {
		return fmt.Errorf("fetch exchange filters: %w", err)
	}
	digits, err := order.StepSizeDigits(filters.StepSize)
	if err != nil {
		return fmt.Errorf("derive step size: %w", err)
	}
	c.minNotional = filters.MinNotional
	c.sizing.StepDigits = digits

	price, err := c.data.GetTickerPrice(ctx, cfg.Symbol)
	if err != nil {
		return fmt.Errorf("fetch ticker price: %w", err)
	}
	if err := c.recompute(ctx, price); err != nil {
		return fmt.Errorf("initial grid computation: %w", err)
	}

	present, err := c.ledger.Restore()
	if err != nil {
		return err
	}
	if present {
		c.log.Info("ledger restored from snapshot", zap.Int("orders", c.ledger.Len()))
	} else {
		c.log.Info("no snapshot found, seeding initial grid",
			zap.Int("levels", len(c.plan.Levels)),
			zap.Float64("price", price))
		outcomes := c.ledger.Seed(ctx, c.plan.Levels, price, c.sizing)
		c.logOutcomes(outcomes)
	}
	metrics.LiveOrders.Set(float64(c.ledger.Len()))
	c.state.Store(int32(StateSteady))
	return nil
}

// OnTick 接收K线事件。只有收盘tick入队；队列满则丢最旧的，
// 保证吞掉行情突发时最新价格仍然在队尾。
func (c *Controller) OnTick(tick gateway.KlineTick) {
	if !tick.IsFinal {
		return
	}
	for {
		select {
		case c.ticks <- tick.Close:
			return
		default:
		}
		select {
		case <-c.ticks:
			metrics.TicksDropped.Inc()
		default:
		}
	}
}

// Run 单worker循环，串行消费tick直到 ctx 取消。
// 单个周期失败只记日志，上一份规划继续生效。
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case price := <-c.ticks:
			if err := c.runCycle(ctx, price); err != nil {
				metrics.CycleErrors.Inc()
				c.log.Warn("cycle failed, keeping previous plan",
					zap.Float64("price", price), zap.Error(err))
			} else {
				metrics.CyclesTotal.Inc()
			}
			c.state.Store(int32(StateSteady))
		}
	}
}

// runCycle 一次完整周期：全量重算规划 → 对账 → 计数 →
// 达到重建周期则撤掉全部挂单按最新档位重铺。
func (c *Controller) runCycle(ctx context.Context, price float64) error {
	c.state.Store(int32(StateRecomputing))
	metrics.LastPrice.Set(price)

	if err := c.recompute(ctx, price); err != nil {
		return err
	}
	if err := c.ledger.Reconcile(ctx, c.plan.SpacingRatio, c.sizing); err != nil {
		return err
	}
	c.tickCount++

	cfg := c.params()
	if c.tickCount%cfg.RefreshTicks == 0 {
		c.state.Store(int32(StateRefreshing))
		c.log.Info("periodic grid refresh",
			zap.Int("tick", c.tickCount),
			zap.Int("levels", len(c.plan.Levels)))
		if err := c.ledger.Refresh(ctx, c.plan.Levels, price, c.sizing); err != nil {
			return err
		}
		metrics.Refreshes.Inc()
	}
	metrics.LiveOrders.Set(float64(c.ledger.Len()))
	return nil
}

// recompute 以当前价重算资金、区间与规划。任何一步失败都让
// 本周期作废，绝不带着残缺的区间继续往下算。
func (c *Controller) recompute(ctx context.Context, price float64) error {
	cfg := c.params()

	quote, err := c.data.GetBalance(ctx, cfg.QuoteAsset)
	if err != nil {
		return fmt.Errorf("fetch %s balance: %w", cfg.QuoteAsset, err)
	}
	base, err := c.data.GetBalance(ctx, cfg.BaseAsset)
	if err != nil {
		return fmt.Errorf("fetch %s balance: %w", cfg.BaseAsset, err)
	}
	total := quote.Free + quote.Locked + (base.Free+base.Locked)*price
	metrics.TotalInvestment.Set(total)

	candles, err := c.data.GetKlines(ctx, cfg.Symbol, cfg.CandleInterval, cfg.CandleLimit)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}
	band, floor, err := cfg.Bollinger.Compute(candles)
	if err != nil {
		return err
	}

	plan, err := strategy.BuildPlan(total, band, floor, c.minNotional)
	if err != nil {
		return err
	}
	c.plan = plan
	c.sizing.TradeAmount = plan.TradeAmount

	metrics.BandUpper.Set(band.Upper)
	metrics.BandLower.Set(band.Lower)
	metrics.SpacingRatio.Set(plan.SpacingRatio)
	c.log.Debug("plan recomputed",
		zap.Float64("investment", total),
		zap.Float64("upper", band.Upper),
		zap.Float64("lower", band.Lower),
		zap.Float64("ratio", plan.SpacingRatio),
		zap.Float64("tradeAmount", plan.TradeAmount),
		zap.Int("levels", len(plan.Levels)))
	return nil
}

func (c *Controller) logOutcomes(outcomes []order.PlaceOutcome) {
	placed, failed := 0, 0
	for _, oc := range outcomes {
		if oc.Err != nil {
			failed++
		} else {
			placed++
		}
	}
	c.log.Info("grid seeded", zap.Int("placed", placed), zap.Int("failed", failed))
}
