package market

import (
	"errors"
	"fmt"
	"math"
)

// Band 网格价格区间，由布林带派生。
// 不变式：Upper > Center > Lower > 0。
type Band struct {
	Center float64
	Upper  float64
	Lower  float64
}

var (
	// ErrInsufficientCandles K线数量不足以计算统计量。
	ErrInsufficientCandles = errors.New("insufficient candles for band computation")
	// ErrDegenerateBand 波动率为零或区间塌缩，无法构建网格。
	ErrDegenerateBand = errors.New("degenerate band")
)

// MinSpacingFloor 间距下限，保证单次往返覆盖手续费。
const MinSpacingFloor = 1.002

// Bollinger 根据最近一段日线收盘价计算布林带区间与间距下限。
// Window 为统计窗口（默认20），StdDevMult 为带宽倍数（默认10，刻意放宽）。
type Bollinger struct {
	Window     int
	StdDevMult float64
}

// Compute 返回价格区间与基于离散度的间距下限。
// 取最近 Window 根收盘价计算均值与总体标准差；
// 下轨若不为正，按标准差逐步上移直至为正。
func (b Bollinger) Compute(candles []Candle) (Band, float64, error) {
	window := b.Window
	if window <= 0 {
		window = 20
	}
	if len(candles) < window {
		return Band{}, 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCandles, len(candles), window)
	}

	closes := Closes(candles)
	tail := closes[len(closes)-window:]
	lastClose := closes[len(closes)-1]
	if lastClose <= 0 {
		return Band{}, 0, fmt.Errorf("%w: last close %.8f", ErrDegenerateBand, lastClose)
	}

	sma := mean(tail)
	sigma := stdDev(tail, sma)
	if sigma <= 0 {
		return Band{}, 0, fmt.Errorf("%w: zero dispersion over window", ErrDegenerateBand)
	}

	floor := math.Max(sigma/6/lastClose+1, MinSpacingFloor)

	upper := sma + b.StdDevMult*sigma
	lower := sma - b.StdDevMult*sigma
	for lower <= 0 {
		lower += sigma
	}
	band := Band{Center: sma, Upper: upper, Lower: lower}
	if !(band.Upper > band.Center && band.Center > 0 && band.Lower > 0 && band.Upper > band.Lower) {
		return Band{}, 0, fmt.Errorf("%w: upper=%.8f center=%.8f lower=%.8f", ErrDegenerateBand, upper, sma, lower)
	}
	return band, floor, nil
}

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// stdDev 总体标准差（除以N）。
func stdDev(vals []float64, mean float64) float64 {
	var varSum float64
	for _, v := range vals {
		d := v - mean
		varSum += d * d
	}
	return math.Sqrt(varSum / float64(len(vals)))
}
