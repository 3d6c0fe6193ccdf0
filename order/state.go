package order

// Side of a limit order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the replacement side after a fill.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status represents the exchange-side order lifecycle.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// LiveOrder mirrors one exchange-side order tracked by the ledger.
/// The mirror is eventually consistent: it is refreshed by polling, not push.
type LiveOrder struct {
	OrderID  string  `json:"orderId"`
	ClientID string  `json:"clientOrderId,omitempty"`
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Status   Status  `json:"status"`
}
