package gateway

// Response is the StandX REST envelope.
type Response[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data T      `json:"data"`
}

// ResponsePlaceOrder is the payload of a placement acknowledgment.
type ResponsePlaceOrder struct {
	ClOrdID string `json:"cl_ord_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// ResponseCancelOrders is the payload of a cancel request.
type ResponseCancelOrders struct {
	Cancelled []string `json:"cancelled"`
	Failed    []string `json:"failed"`
}

// ResponseOrder is one open order row.
type ResponseOrder struct {
	ClOrdID string `json:"cl_ord_id"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Qty     string `json:"qty"`
	Status  string `json:"status"`
}

// ResponsePosition is one position row.
type ResponsePosition struct {
	Symbol string `json:"symbol"`
	Qty    string `json:"qty"`
	UPnL   string `json:"upnl"`
}

// ResponseRewards is the maker-campaign points payload. The venue reports
// points scaled by 1e6.
type ResponseRewards struct {
	MakerPoint int64 `json:"maker_point"`
}
