package strategy_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/market"
	"grid-trader-go/strategy"
)

// TestBuildPlan_Scenario 验证 70000/63000 区间、1万USDT 资金下的规划结果。
func TestBuildPlan_Scenario(t *testing.T) {
	band := market.Band{Center: 66500, Upper: 70000, Lower: 63000}
	plan, err := strategy.BuildPlan(10000, band, 1.002, 10)
	require.NoError(t, err)

	r := plan.SpacingRatio
	assert.Greater(t, r, 1.0, "spacing ratio must exceed 1")
	assert.GreaterOrEqual(t, plan.TradeAmount, 10.0, "trade amount must cover min notional")
	assert.Less(t, plan.TradeAmount, 10000.0)

	require.NotEmpty(t, plan.Levels)
	n := len(plan.Levels)

	// 档位自上轨开始，买价跌破下轨即停。
	assert.InDelta(t, band.Upper, plan.Levels[0].BuyPrice, 1e-6)
	assert.LessOrEqual(t, plan.Levels[n-1].BuyPrice, band.Lower)
	if n > 1 {
		assert.Greater(t, plan.Levels[n-2].BuyPrice, band.Lower, "should stop at first crossing, not before")
	}

	// 买价严格递减，卖价严格递增。
	for i := 1; i < n; i++ {
		assert.Less(t, plan.Levels[i].BuyPrice, plan.Levels[i-1].BuyPrice)
		assert.Greater(t, plan.Levels[i].SellPrice, plan.Levels[i-1].SellPrice)
	}

	// 镜像配对下每档卖价至少高出买价一个间距比（往返利润 ≥ r-1）。
	for i := 0; i < n; i++ {
		buy := plan.Levels[n-1-i].BuyPrice
		sell := plan.Levels[i].SellPrice
		assert.GreaterOrEqual(t, sell, buy*r*(1-1e-9),
			"sell level %d should clear mirrored buy by ratio r", i)
	}
}

// TestBuildPlan_RatioAllocatesCapital r 应满足资金在区间内恰好按几何级数分配。
func TestBuildPlan_RatioAllocatesCapital(t *testing.T) {
	band := market.Band{Center: 3000, Upper: 3600, Lower: 2500}
	inv := 50000.0
	plan, err := strategy.BuildPlan(inv, band, 1.005, 10)
	require.NoError(t, err)

	want := math.Pow(band.Upper/band.Lower, plan.TradeAmount/inv)
	assert.InDelta(t, want, plan.SpacingRatio, 1e-12)
}

func TestBuildPlan_DegenerateBand(t *testing.T) {
	_, err := strategy.BuildPlan(10000, market.Band{Upper: 100, Lower: 100}, 1.002, 10)
	assert.Error(t, err)

	_, err = strategy.BuildPlan(10000, market.Band{Upper: 90, Lower: 100}, 1.002, 10)
	assert.Error(t, err)
}

// TestBuildPlan_MinNotionalDominates 资金太小时每档金额提升到最小名义，
// 若由此超过总资金则整个周期失败而不是死循环。
func TestBuildPlan_MinNotionalDominates(t *testing.T) {
	band := market.Band{Center: 66500, Upper: 70000, Lower: 63000}

	plan, err := strategy.BuildPlan(1000, band, 1.002, 25)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, plan.TradeAmount, 25.0)

	_, err = strategy.BuildPlan(8, band, 1.002, 10)
	assert.ErrorIs(t, err, strategy.ErrInvalidInvestment)
}

func TestBuildPlan_InvalidSpacingFloor(t *testing.T) {
	band := market.Band{Center: 66500, Upper: 70000, Lower: 63000}
	_, err := strategy.BuildPlan(10000, band, 1.0, 10)
	assert.ErrorIs(t, err, strategy.ErrInvalidSpacing)
}
