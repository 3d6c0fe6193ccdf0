package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"grid-trader-go/strategy"
)

// Exchange 交易所协作方，由 gateway 实现。
type Exchange interface {
	PlaceLimit(ctx context.Context, symbol string, side Side, price float64, qty decimal.Decimal, clientID string) (LiveOrder, error)
	OrderStatus(ctx context.Context, symbol, orderID string) (Status, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OpenOrders(ctx context.Context, symbol string) ([]LiveOrder, error)
}

// Snapshotter 账本快照持久化协作方。
type Snapshotter interface {
	Save(orders []LiveOrder) error
	Load() (orders []LiveOrder, present bool, err error)
}

// Sizing 每档下单规模：名义金额与交易所数量精度。
type Sizing struct {
	TradeAmount float64
	StepDigits  int32
}

// PlaceOutcome 单笔挂单尝试的结果。批量挂单逐笔收集结果并继续，
// 单笔失败不中断整批。
type PlaceOutcome struct {
	Side  Side
	Price float64
	Order LiveOrder
	Err   error
}

// Ledger 维护当前存活的网格挂单集合。所有变更操作结束时写入完整
// 快照；启动时从快照恢复，在下一次对账前以快照为准。
// 非并发安全：由 GridController 串行驱动。
type Ledger struct {
	symbol      string
	exch        Exchange
	snap        Snapshotter
	log         *zap.Logger
	callTimeout time.Duration

	orders []LiveOrder
}

// NewLedger 创建账本。callTimeout ≤ 0 时默认10秒。
func NewLedger(symbol string, exch Exchange, snap Snapshotter, log *zap.Logger, callTimeout time.Duration) *Ledger {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		symbol:      symbol,
		exch:        exch,
		snap:        snap,
		log:         log,
		callTimeout: callTimeout,
	}
}

// Restore 从快照恢复账本。快照不存在时账本为空，需要 Seed 建仓。
func (l *Ledger) Restore() (bool, error) {
	orders, present, err := l.snap.Load()
	if err != nil {
		return false, fmt.Errorf("load ledger snapshot: %w", err)
	}
	if present {
		l.orders = orders
	}
	return present, nil
}

// Orders 返回当前跟踪的挂单副本。
func (l *Ledger) Orders() []LiveOrder {
	out := make([]LiveOrder, len(l.orders))
	copy(out, l.orders)
	return out
}

// Len 当前跟踪的挂单数量。
func (l *Ledger) Len() int { return len(l.orders) }

// Place 下一笔限价单并登记入账本，成功后立即写快照。
func (l *Ledger) Place(ctx context.Context, side Side, price float64, sz Sizing) (LiveOrder, error) {
	o, err := l.submit(ctx, side, price, sz)
	if err != nil {
		return LiveOrder{}, err
	}
	l.orders = append(l.orders, o)
	l.persist()
	return o, nil
}

// Seed 按档位铺设初始网格：买价低于现价的档位在买价挂买单，
// 否则按现价买入建立基础仓位（该笔不入账本，成交即持仓）；
// 卖价高于现价的档位挂卖单，贴着市场的反向档位跳过。
func (l *Ledger) Seed(ctx context.Context, levels []strategy.Level, currentPrice float64, sz Sizing) []PlaceOutcome {
	outcomes := l.placeLevels(ctx, levels, currentPrice, sz, true)
	l.persist()
	return outcomes
}

// Reconcile 轮询每笔挂单状态，发现成交后在对侧挂出替换单：
// 买单成交 → 按 价格×ratio 挂卖单；卖单成交 → 按 价格÷ratio 挂买单。
// 成交单恰好移除一次；全部轮询结束后写一次快照。
func (l *Ledger) Reconcile(ctx context.Context, ratio float64, sz Sizing) error {
	if ratio <= 1 {
		return fmt.Errorf("reconcile requires spacing ratio > 1, got %.8f", ratio)
	}
	tracked := l.Orders()
	changed := false
	for _, o := range tracked {
		status, err := l.orderStatus(ctx, o.OrderID)
		if err != nil {
			// 单笔查询失败视作可重试，留到下个周期。
			l.log.Warn("order status poll failed",
				zap.String("orderId", o.OrderID), zap.Error(err))
			continue
		}
		if status != StatusFilled {
			continue
		}

		replSide := o.Side.Opposite()
		replPrice := o.Price * ratio
		if o.Side == SideSell {
			replPrice = o.Price / ratio
		}
		repl, err := l.submit(ctx, replSide, replPrice, sz)
		if err != nil {
			l.log.Warn("replacement order failed",
				zap.String("filledOrderId", o.OrderID),
				zap.String("side", string(replSide)),
				zap.Float64("price", replPrice),
				zap.Error(err))
		} else {
			l.orders = append(l.orders, repl)
			l.log.Info("filled order replaced",
				zap.String("filledOrderId", o.OrderID),
				zap.String("filledSide", string(o.Side)),
				zap.Float64("filledPrice", o.Price),
				zap.String("newOrderId", repl.OrderID),
				zap.Float64("newPrice", replPrice))
		}
		// 成交单已不在交易所，无论替换是否成功都要移除。
		l.remove(o.OrderID)
		changed = true
	}
	if changed {
		l.persist()
	}
	return nil
}

// Refresh 周期性全量重建：撤掉交易所侧该交易对的全部挂单，清空账本，
// 再按最新档位重新铺设。用于纠正逐笔替换累积出的几何漂移。
func (l *Ledger) Refresh(ctx context.Context, levels []strategy.Level, currentPrice float64, sz Sizing) error {
	open, err := l.openOrders(ctx)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}
	for _, o := range open {
		if err := l.cancel(ctx, o.OrderID); err != nil {
			l.log.Warn("cancel failed during refresh",
				zap.String("orderId", o.OrderID), zap.Error(err))
			continue
		}
		l.log.Info("order canceled", zap.String("orderId", o.OrderID))
	}
	l.orders = l.orders[:0]
	l.placeLevels(ctx, levels, currentPrice, sz, false)
	l.persist()
	return nil
}

// placeLevels 铺设档位；withBasePosition 控制是否对买价高于现价的
// 档位按现价买入基础仓位（仅初始建仓需要）。
func (l *Ledger) placeLevels(ctx context.Context, levels []strategy.Level, currentPrice float64, sz Sizing, withBasePosition bool) []PlaceOutcome {
	outcomes := make([]PlaceOutcome, 0, len(levels)*2)
	for _, lv := range levels {
		if lv.BuyPrice < currentPrice {
			outcomes = append(outcomes, l.tryPlace(ctx, SideBuy, lv.BuyPrice, sz, true))
		} else if withBasePosition {
			outcomes = append(outcomes, l.tryPlace(ctx, SideBuy, currentPrice, sz, false))
		}
		if lv.SellPrice > currentPrice {
			outcomes = append(outcomes, l.tryPlace(ctx, SideSell, lv.SellPrice, sz, true))
		}
	}
	return outcomes
}

func (l *Ledger) tryPlace(ctx context.Context, side Side, price float64, sz Sizing, track bool) PlaceOutcome {
	out := PlaceOutcome{Side: side, Price: price}
	o, err := l.submit(ctx, side, price, sz)
	if err != nil {
		out.Err = err
		l.log.Warn("order placement failed",
			zap.String("side", string(side)),
			zap.Float64("price", price),
			zap.Error(err))
		return out
	}
	out.Order = o
	if track {
		l.orders = append(l.orders, o)
	}
	l.log.Info("order placed",
		zap.String("orderId", o.OrderID),
		zap.String("side", string(side)),
		zap.Float64("price", price),
		zap.Float64("qty", o.Quantity),
		zap.Bool("tracked", track))
	return out
}

// submit 量化数量并调用交易所，不触碰账本。
func (l *Ledger) submit(ctx context.Context, side Side, price float64, sz Sizing) (LiveOrder, error) {
	qty, err := Quantize(sz.TradeAmount, price, sz.StepDigits)
	if err != nil {
		return LiveOrder{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()
	return l.exch.PlaceLimit(cctx, l.symbol, side, price, qty, "grid-"+uuid.NewString())
}

func (l *Ledger) orderStatus(ctx context.Context, orderID string) (Status, error) {
	cctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()
	return l.exch.OrderStatus(cctx, l.symbol, orderID)
}

func (l *Ledger) cancel(ctx context.Context, orderID string) error {
	cctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()
	return l.exch.CancelOrder(cctx, l.symbol, orderID)
}

func (l *Ledger) openOrders(ctx context.Context) ([]LiveOrder, error) {
	cctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()
	return l.exch.OpenOrders(cctx, l.symbol)
}

func (l *Ledger) remove(orderID string) {
	for i, o := range l.orders {
		if o.OrderID == orderID {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return
		}
	}
}

func (l *Ledger) persist() {
	if err := l.snap.Save(l.Orders()); err != nil {
		l.log.Error("ledger snapshot save failed", zap.Error(err))
	}
}
