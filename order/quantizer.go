package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// StepSizeDigits 从交易所 LOT_SIZE 的最小增量字符串推导数量小数位数。
// "1.00000000" → 0，"0.00100000" → 3；"10.00000000" 之类前导1的增量
// 得到负值，表示按十位取整。
func StepSizeDigits(increment string) (int32, error) {
	one := strings.Index(increment, "1")
	if one < 0 {
		return 0, fmt.Errorf("invalid step size increment %q", increment)
	}
	dot := strings.Index(increment, ".")
	if dot < 0 {
		dot = len(increment)
	}
	if one == 0 {
		return int32(1 - dot), nil
	}
	return int32(one - 1), nil
}

// Quantize 把目标名义金额换算成价格对应的下单数量，按 digits 位小数
// 向上取整。向上取整保证实际名义不低于目标金额，避免交易所以
// 低于最小名义拒单，代价是轻微超配。
func Quantize(notional, price float64, digits int32) (decimal.Decimal, error) {
	if price <= 0 {
		return decimal.Zero, fmt.Errorf("invalid price %.8f", price)
	}
	if notional <= 0 {
		return decimal.Zero, fmt.Errorf("invalid notional %.8f", notional)
	}
	qty := decimal.NewFromFloat(notional).
		Div(decimal.NewFromFloat(price)).
		RoundCeil(digits)
	return qty, nil
}
