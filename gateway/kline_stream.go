package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"grid-trader-go/metrics"
)

// BinanceSpotWSEndpoint 现货K线流默认端点。
const BinanceSpotWSEndpoint = "wss://stream.binance.com:9443"

// KlineStream 订阅单个交易对的K线流，断开后按固定间隔重连，
// 重试不设上限；恢复后继续推送事件，调用方无需重新初始化。
type KlineStream struct {
	Endpoint string
	Symbol   string
	Interval string
	Backoff  time.Duration
	Dialer   *websocket.Dialer

	log *zap.Logger
}

// NewKlineStream 默认端点、5秒重连间隔。
func NewKlineStream(symbol, interval string, log *zap.Logger) *KlineStream {
	if log == nil {
		log = zap.NewNop()
	}
	return &KlineStream{
		Endpoint: BinanceSpotWSEndpoint,
		Symbol:   symbol,
		Interval: interval,
		Backoff:  5 * time.Second,
		Dialer:   websocket.DefaultDialer,
		log:      log,
	}
}

func (s *KlineStream) url() string {
	return fmt.Sprintf("%s/ws/%s@kline_%s", s.Endpoint, strings.ToLower(s.Symbol), s.Interval)
}

// Run 阻塞运行直到 ctx 取消。每条解析成功的kline事件回调 onTick；
// 回调在读循环内同步执行，乱序与并发由调用方的队列负责。
func (s *KlineStream) Run(ctx context.Context, onTick func(KlineTick)) error {
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	first := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !first {
			metrics.WSReconnects.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		first = false

		conn, _, err := s.Dialer.DialContext(ctx, s.url(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("kline stream dial failed",
				zap.String("url", s.url()), zap.Error(err))
			continue
		}
		metrics.WSConnects.Inc()
		s.log.Info("kline stream connected", zap.String("symbol", s.Symbol), zap.String("interval", s.Interval))

		s.readLoop(ctx, conn, onTick)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("kline stream disconnected, reconnecting",
			zap.Duration("backoff", backoff))
	}
}

func (s *KlineStream) readLoop(ctx context.Context, conn *websocket.Conn, onTick func(KlineTick)) {
	defer conn.Close()
	// ctx 取消时关闭连接解除 ReadMessage 阻塞。
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Minute))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Minute))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("kline stream read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Minute))

		tick, err := ParseKlineTick(msg)
		if err != nil {
			if !errors.Is(err, ErrNonKline) {
				s.log.Warn("kline parse failed", zap.Error(err))
			}
			continue
		}
		onTick(tick)
	}
}
