package market

import "time"

// Candle 单根K线，网格计算只使用收盘价。
type Candle struct {
	OpenTime time.Time
	Close    float64
}

// Closes 提取收盘价序列。
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
