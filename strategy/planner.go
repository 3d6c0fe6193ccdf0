package strategy

import (
	"errors"
	"fmt"
	"math"

	"grid-trader-go/market"
)

// Level 单个网格档位。SellPrice > BuyPrice，差值即为单次往返的毛利。
type Level struct {
	BuyPrice  float64
	SellPrice float64
}

// Plan 一次完整的网格规划结果，整体重算、不做增量更新。
type Plan struct {
	Band         market.Band
	TradeAmount  float64 // 每档名义金额（计价货币）
	SpacingRatio float64 // 实际使用的几何间距比 r > 1
	Levels       []Level // 自上而下（价格递减）
}

var (
	// ErrInvalidInvestment 可用资金无法支撑至少两档。
	ErrInvalidInvestment = errors.New("trade amount exceeds total investment")
	// ErrInvalidSpacing 计算出的间距比不大于1，无法终止。
	ErrInvalidSpacing = errors.New("spacing ratio must be > 1")
)

// BuildPlan 由资金与价格区间推导每档金额、几何间距比和档位列表。
//
// tradeAmount = max(investment·ln(spacingFloor)/ln(U/L), minNotional)，
// 实际间距比 r = (U/L)^(tradeAmount/investment)，使资金在区间内按
// 几何级数恰好分配完。档位从上轨向下生成，直到买价跌破下轨。
func BuildPlan(totalInvestment float64, band market.Band, spacingFloor, minNotional float64) (Plan, error) {
	if band.Upper <= band.Lower || band.Lower <= 0 {
		return Plan{}, fmt.Errorf("%w: upper=%.8f lower=%.8f", market.ErrDegenerateBand, band.Upper, band.Lower)
	}
	if totalInvestment <= 0 {
		return Plan{}, fmt.Errorf("invalid total investment %.8f", totalInvestment)
	}
	if spacingFloor <= 1 {
		return Plan{}, fmt.Errorf("%w: floor %.8f", ErrInvalidSpacing, spacingFloor)
	}

	span := band.Upper / band.Lower
	tradeAmount := totalInvestment * math.Log(spacingFloor) / math.Log(span)
	if tradeAmount < minNotional {
		tradeAmount = minNotional
	}
	if tradeAmount >= totalInvestment {
		return Plan{}, fmt.Errorf("%w: amount=%.2f investment=%.2f", ErrInvalidInvestment, tradeAmount, totalInvestment)
	}

	ratio := math.Pow(span, tradeAmount/totalInvestment)
	if !(ratio > 1) || math.IsInf(ratio, 0) || math.IsNaN(ratio) {
		return Plan{}, fmt.Errorf("%w: r=%.8f", ErrInvalidSpacing, ratio)
	}

	levels := buildLevels(band, ratio)
	return Plan{
		Band:         band,
		TradeAmount:  tradeAmount,
		SpacingRatio: ratio,
		Levels:       levels,
	}, nil
}

// buildLevels 自上轨向下迭代：buy_i = U/r^i，sell_i = L·r^(i+1)，
// 买价跌破下轨即停。
func buildLevels(band market.Band, ratio float64) []Level {
	var levels []Level
	for i := 0; ; i++ {
		buy := band.Upper / math.Pow(ratio, float64(i))
		sell := band.Lower * math.Pow(ratio, float64(i+1))
		levels = append(levels, Level{BuyPrice: buy, SellPrice: sell})
		if buy <= band.Lower {
			break
		}
	}
	return levels
}
