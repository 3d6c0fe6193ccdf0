package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/gateway"
	"grid-trader-go/market"
	"grid-trader-go/order"
)

// fakeData serves deterministic balances, klines and filters.
type fakeData struct {
	quoteFree float64
	baseFree  float64
	price     float64
	candles   []market.Candle
	filters   gateway.SymbolFilters

	balanceErr error
	klinesErr  error
}

func (d *fakeData) GetBalance(_ context.Context, asset string) (gateway.Balance, error) {
	if d.balanceErr != nil {
		return gateway.Balance{}, d.balanceErr
	}
	if asset == "USDT" {
		return gateway.Balance{Free: d.quoteFree}, nil
	}
	return gateway.Balance{Free: d.baseFree}, nil
}

func (d *fakeData) GetTickerPrice(context.Context, string) (float64, error) {
	return d.price, nil
}

func (d *fakeData) GetKlines(context.Context, string, string, int) ([]market.Candle, error) {
	if d.klinesErr != nil {
		return nil, d.klinesErr
	}
	return d.candles, nil
}

func (d *fakeData) GetExchangeFilters(context.Context, string) (gateway.SymbolFilters, error) {
	return d.filters, nil
}

// fakeExchange records placements and cancellations.
type fakeExchange struct {
	nextID   int
	placed   []order.LiveOrder
	canceled []string
	statuses map[string]order.Status
}

func (e *fakeExchange) PlaceLimit(_ context.Context, symbol string, side order.Side, price float64, qty decimal.Decimal, clientID string) (order.LiveOrder, error) {
	e.nextID++
	o := order.LiveOrder{
		OrderID:  fmt.Sprintf("%d", e.nextID),
		ClientID: clientID,
		Symbol:   symbol,
		Side:     side,
		Price:    price,
		Quantity: qty.InexactFloat64(),
		Status:   order.StatusNew,
	}
	e.placed = append(e.placed, o)
	return o, nil
}

func (e *fakeExchange) OrderStatus(_ context.Context, _, orderID string) (order.Status, error) {
	if s, ok := e.statuses[orderID]; ok {
		return s, nil
	}
	return order.StatusNew, nil
}

func (e *fakeExchange) CancelOrder(_ context.Context, _, orderID string) error {
	e.canceled = append(e.canceled, orderID)
	return nil
}

func (e *fakeExchange) OpenOrders(context.Context, string) ([]order.LiveOrder, error) {
	var open []order.LiveOrder
	for _, o := range e.placed {
		cancelled := false
		for _, id := range e.canceled {
			if id == o.OrderID {
				cancelled = true
			}
		}
		if !cancelled && e.statuses[o.OrderID] != order.StatusFilled {
			open = append(open, o)
		}
	}
	return open, nil
}

type memSnapshot struct {
	orders  []order.LiveOrder
	present bool
	saves   int
}

func (m *memSnapshot) Save(orders []order.LiveOrder) error {
	m.orders = append([]order.LiveOrder(nil), orders...)
	m.present = true
	m.saves++
	return nil
}

func (m *memSnapshot) Load() ([]order.LiveOrder, bool, error) {
	return m.orders, m.present, nil
}

// alternating closes around 7500 give sigma 800 and a wide valid band.
func syntheticCandles(n int) []market.Candle {
	candles := make([]market.Candle, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		px := 6700.0
		if i%2 == 1 {
			px = 8300.0
		}
		candles[i] = market.Candle{OpenTime: base.AddDate(0, 0, i), Close: px}
	}
	return candles
}

func newTestController(data *fakeData, exch *fakeExchange, snap *memSnapshot) *Controller {
	ledger := order.NewLedger("BTCUSDT", exch, snap, nil, time.Second)
	cfg := Config{
		Symbol:         "BTCUSDT",
		BaseAsset:      "BTC",
		QuoteAsset:     "USDT",
		Bollinger:      market.Bollinger{Window: 20, StdDevMult: 10},
		CandleLimit:    21,
		CandleInterval: "1d",
		RefreshTicks:   2,
		QueueSize:      3,
	}
	return New(cfg, data, ledger, nil)
}

func defaultData() *fakeData {
	return &fakeData{
		quoteFree: 10000,
		price:     7500,
		candles:   syntheticCandles(21),
		filters:   gateway.SymbolFilters{StepSize: "0.00100000", MinNotional: 10},
	}
}

func TestBootstrapSeedsWhenNoSnapshot(t *testing.T) {
	data := defaultData()
	exch := &fakeExchange{statuses: map[string]order.Status{}}
	snap := &memSnapshot{}
	c := newTestController(data, exch, snap)

	require.NoError(t, c.Bootstrap(context.Background()))

	assert.Equal(t, StateSteady, c.State())
	assert.NotEmpty(t, exch.placed, "empty snapshot must trigger initial seeding")
	baseBuys := 0
	for _, lv := range c.Plan().Levels {
		if lv.BuyPrice >= data.price {
			baseBuys++
		}
	}
	assert.Equal(t, c.ledger.Len()+baseBuys, len(exch.placed),
		"base-position buys at market are placed but never tracked")
	assert.True(t, snap.present, "seeding must persist a snapshot")
	assert.Greater(t, c.Plan().SpacingRatio, 1.0)
}

func TestBootstrapRestoresExistingSnapshot(t *testing.T) {
	data := defaultData()
	exch := &fakeExchange{statuses: map[string]order.Status{}}
	snap := &memSnapshot{
		present: true,
		orders: []order.LiveOrder{
			{OrderID: "77", Symbol: "BTCUSDT", Side: order.SideBuy, Price: 7000, Quantity: 0.01, Status: order.StatusNew},
		},
	}
	c := newTestController(data, exch, snap)

	require.NoError(t, c.Bootstrap(context.Background()))

	assert.Empty(t, exch.placed, "a restored ledger must not be reseeded")
	assert.Equal(t, 1, c.ledger.Len())
}

func TestCycleRefreshesEveryNTicks(t *testing.T) {
	data := defaultData()
	exch := &fakeExchange{statuses: map[string]order.Status{}}
	snap := &memSnapshot{}
	c := newTestController(data, exch, snap)
	require.NoError(t, c.Bootstrap(context.Background()))

	seeded := len(exch.placed)

	// first cycle: reconcile only, RefreshTicks is 2
	require.NoError(t, c.runCycle(context.Background(), 7500))
	assert.Equal(t, 1, c.TickCount())
	assert.Empty(t, exch.canceled)

	// second cycle hits the refresh boundary: cancel everything, reseed
	require.NoError(t, c.runCycle(context.Background(), 7500))
	assert.Equal(t, 2, c.TickCount())
	assert.Equal(t, seeded, len(exch.canceled),
		"refresh cancels everything open on the symbol, tracked or not")
	assert.Greater(t, len(exch.placed), seeded, "refresh reseeds the grid")
	for _, o := range c.ledger.Orders() {
		for _, id := range exch.canceled {
			assert.NotEqual(t, id, o.OrderID, "ledger must only hold post-refresh orders")
		}
	}
}

func TestCycleErrorKeepsPreviousPlan(t *testing.T) {
	data := defaultData()
	exch := &fakeExchange{statuses: map[string]order.Status{}}
	snap := &memSnapshot{}
	c := newTestController(data, exch, snap)
	require.NoError(t, c.Bootstrap(context.Background()))

	prev := c.Plan()
	data.klinesErr = fmt.Errorf("exchange unavailable")

	err := c.runCycle(context.Background(), 7600)
	require.Error(t, err)
	assert.Equal(t, prev, c.Plan(), "failed cycle must not clobber the active plan")
	assert.Equal(t, 0, c.TickCount(), "failed cycle does not advance the refresh counter")
}

func TestFilledBuyRolledIntoSell(t *testing.T) {
	data := defaultData()
	exch := &fakeExchange{statuses: map[string]order.Status{}}
	snap := &memSnapshot{}
	c := newTestController(data, exch, snap)
	require.NoError(t, c.Bootstrap(context.Background()))

	before := map[string]bool{}
	var filled order.LiveOrder
	for _, o := range c.ledger.Orders() {
		before[o.OrderID] = true
		if o.Side == order.SideBuy {
			filled = o
		}
	}
	require.NotEmpty(t, filled.OrderID)
	exch.statuses[filled.OrderID] = order.StatusFilled

	require.NoError(t, c.runCycle(context.Background(), 7500))

	var repl order.LiveOrder
	for _, o := range c.ledger.Orders() {
		assert.NotEqual(t, filled.OrderID, o.OrderID, "filled order leaves the ledger")
		if !before[o.OrderID] {
			repl = o
		}
	}
	require.NotEmpty(t, repl.OrderID, "a fill must spawn a replacement order")
	assert.Equal(t, order.SideSell, repl.Side)
	assert.InDelta(t, filled.Price*c.Plan().SpacingRatio, repl.Price, filled.Price*1e-9,
		"replacement sell sits one spacing above the filled buy")
}

func TestOnTickDropsOldestWhenQueueFull(t *testing.T) {
	data := defaultData()
	exch := &fakeExchange{statuses: map[string]order.Status{}}
	c := newTestController(data, exch, &memSnapshot{})

	for i := 0; i < 5; i++ {
		c.OnTick(gateway.KlineTick{Symbol: "BTCUSDT", Close: 7000 + float64(i), IsFinal: true})
	}
	c.OnTick(gateway.KlineTick{Symbol: "BTCUSDT", Close: 6000, IsFinal: false})

	require.Len(t, c.ticks, 3, "queue is bounded and open-candle ticks are ignored")
	got := []float64{<-c.ticks, <-c.ticks, <-c.ticks}
	assert.Equal(t, []float64{7002, 7003, 7004}, got, "oldest ticks are shed first")
}
