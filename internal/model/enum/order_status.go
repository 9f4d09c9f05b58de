package enum

// OrderStatus open, partial filled, filled, cancelled, rejected
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusOpen
	OrderStatusPartialFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

// IsTerminal reports whether the order left the venue book.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusOpen:
		return "open"
	case OrderStatusPartialFilled:
		return "partially_filled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ParseOrderStatus maps the venue's status string.
func ParseOrderStatus(s string) OrderStatus {
	switch s {
	case "open", "new":
		return OrderStatusOpen
	case "partially_filled":
		return OrderStatusPartialFilled
	case "filled":
		return OrderStatusFilled
	case "cancelled", "canceled":
		return OrderStatusCancelled
	case "rejected":
		return OrderStatusRejected
	default:
		return _order_status_beg
	}
}
