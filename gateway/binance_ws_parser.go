package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// KlineTick K线事件的核心字段。只有 IsFinal 的tick才驱动一次网格周期。
type KlineTick struct {
	Symbol  string
	Close   float64
	IsFinal bool
}

// ErrNonKline 消息不是kline事件（订阅确认、ping等）。
var ErrNonKline = errors.New("not a kline event")

type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Kline     struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
		Final  bool   `json:"x"`
	} `json:"k"`
}

// ParseKlineTick 解析 <symbol>@kline_<interval> 流消息。
func ParseKlineTick(raw []byte) (KlineTick, error) {
	var ev klineEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return KlineTick{}, fmt.Errorf("parse kline event: %w", err)
	}
	if ev.EventType != "kline" {
		return KlineTick{}, ErrNonKline
	}
	closePrice, err := strconv.ParseFloat(ev.Kline.Close, 64)
	if err != nil {
		return KlineTick{}, fmt.Errorf("parse kline close %q: %w", ev.Kline.Close, err)
	}
	return KlineTick{
		Symbol:  ev.Kline.Symbol,
		Close:   closePrice,
		IsFinal: ev.Kline.Final,
	}, nil
}
